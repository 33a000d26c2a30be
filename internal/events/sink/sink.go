// Package sink forwards bus events to external systems: Redis pub/sub, a
// RabbitMQ exchange and a MySQL journal. Delivery is asynchronous so a slow
// broker never blocks an emitter.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/events"
	"OpenMCP-ChainManager/pkg/logger"
)

// Sink delivers serialised events to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env events.Envelope) error
	Close() error
}

const (
	defaultBuffer         = 256
	defaultPublishTimeout = 5 * time.Second
)

// Forwarder queues bus events and publishes them to every sink.
type Forwarder struct {
	sinks   []Sink
	queue   chan events.Envelope
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	bus  *events.Bus
	subs []*events.Subscription
}

// Option customises a Forwarder.
type Option func(*Forwarder)

// WithBuffer sets how many envelopes may wait for delivery. Events arriving
// while the buffer is full are dropped.
func WithBuffer(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = make(chan events.Envelope, n)
		}
	}
}

// WithPublishTimeout bounds each sink call.
func WithPublishTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewForwarder creates a forwarder over sinks.
func NewForwarder(sinks []Sink, opts ...Option) *Forwarder {
	f := &Forwarder{
		sinks:   sinks,
		queue:   make(chan events.Envelope, defaultBuffer),
		timeout: defaultPublishTimeout,
		logger:  logger.Named("sink"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach subscribes the forwarder to every event on bus.
func (f *Forwarder) Attach(bus *events.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bus = bus
	f.subs = append(f.subs, events.Forward(bus, f.enqueue)...)
}

// Detach cancels the bus subscriptions.
func (f *Forwarder) Detach() {
	f.mu.Lock()
	subs, bus := f.subs, f.bus
	f.subs = nil
	f.mu.Unlock()
	for _, sub := range subs {
		bus.Off(sub)
	}
}

func (f *Forwarder) enqueue(e events.Event) {
	env, err := events.NewEnvelope(e)
	if err != nil {
		f.logger.Error("事件序列化失败", "event", e.Name(), "error", err)
		return
	}
	select {
	case f.queue <- env:
	default:
		f.logger.Warn("事件队列已满，丢弃事件", "event", env.Name, "id", env.ID)
	}
}

// Run delivers queued envelopes until ctx is done, then detaches from the bus
// and flushes what is still queued.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.Detach()
			f.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case env := <-f.queue:
			_ = f.Deliver(ctx, env)
		}
	}
}

func (f *Forwarder) flush(ctx context.Context) {
	for {
		select {
		case env := <-f.queue:
			_ = f.Deliver(ctx, env)
		default:
			return
		}
	}
}

// Deliver publishes env to every sink. A failing sink does not stop the
// others; all failures are joined into the returned error.
func (f *Forwarder) Deliver(ctx context.Context, env events.Envelope) error {
	var errs []error
	for _, s := range f.sinks {
		pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Publish(pubCtx, env)
		cancel()
		if err != nil {
			f.logger.Warn("事件投递失败", "sink", s.Name(), "event", env.Name, "id", env.ID, "error", err)
			errs = append(errs, xerrors.Wrap(xerrors.CodeSinkFailure, err, "事件投递失败",
				xerrors.WithMetadata("sink", s.Name()),
				xerrors.WithMetadata("event", env.Name)))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Forwarder) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
