package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"OpenMCP-ChainManager/pkg/logger"
)

// Handler receives one event.
type Handler func(Event)

// Subscription identifies one registered handler. Cancel is idempotent.
type Subscription struct {
	id   string
	name string
	bus  *Bus
}

// ID returns the unique handle of the subscription.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// EventName returns the event the subscription listens to.
func (s *Subscription) EventName() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Cancel removes the handler from the bus.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Off(s)
}

type listener struct {
	sub     *Subscription
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Bus delivers events synchronously to subscribers in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
	logger    *slog.Logger
}

// Option customises a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{listeners: make(map[string][]*listener)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Named("events")
	}
	return b
}

// On registers handler for every event called name.
func (b *Bus) On(name string, handler Handler) *Subscription {
	return b.add(name, handler, false)
}

// Once registers handler for the next event called name only.
func (b *Bus) Once(name string, handler Handler) *Subscription {
	return b.add(name, handler, true)
}

func (b *Bus) add(name string, handler Handler, once bool) *Subscription {
	sub := &Subscription{id: uuid.NewString(), name: name, bus: b}
	if handler == nil {
		return sub
	}
	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], &listener{sub: sub, handler: handler, once: once})
	b.mu.Unlock()
	return sub
}

// Off removes a subscription. It reports whether anything was removed.
func (b *Bus) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[sub.name]
	for i, l := range list {
		if l.sub.id == sub.id {
			b.listeners[sub.name] = append(list[:i:i], list[i+1:]...)
			if len(b.listeners[sub.name]) == 0 {
				delete(b.listeners, sub.name)
			}
			return true
		}
	}
	return false
}

// Emit invokes every handler registered for the event's name before
// returning. Handlers run outside the bus lock so they may subscribe or
// unsubscribe. A panicking handler is logged and does not stop delivery.
func (b *Bus) Emit(event Event) {
	if event == nil {
		return
	}
	name := event.Name()

	b.mu.RLock()
	snapshot := append([]*listener(nil), b.listeners[name]...)
	b.mu.RUnlock()

	for _, l := range snapshot {
		if l.once {
			if !l.fired.CompareAndSwap(false, true) {
				continue
			}
			b.Off(l.sub)
		}
		b.invoke(name, l, event)
	}
}

func (b *Bus) invoke(name string, l *listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("事件处理函数异常",
				"event", name,
				"subscription", l.sub.id,
				"panic", fmt.Sprint(r))
		}
	}()
	l.handler(event)
}

// RemoveAllListeners drops the listeners of the given events, or of every
// event when no name is given.
func (b *Bus) RemoveAllListeners(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.listeners = make(map[string][]*listener)
		return
	}
	for _, name := range names {
		delete(b.listeners, name)
	}
}

// ListenerCount returns the number of handlers registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Listen subscribes a typed handler to the event variant T.
func Listen[T Event](b *Bus, handler func(T)) *Subscription {
	var zero T
	return b.On(zero.Name(), func(e Event) {
		if typed, ok := e.(T); ok {
			handler(typed)
		}
	})
}

// ListenOnce is the single-shot variant of Listen.
func ListenOnce[T Event](b *Bus, handler func(T)) *Subscription {
	var zero T
	return b.Once(zero.Name(), func(e Event) {
		if typed, ok := e.(T); ok {
			handler(typed)
		}
	})
}
