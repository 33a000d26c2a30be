package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/events"
	"OpenMCP-ChainManager/pkg/logger"
)

// Bridge turns networkError events whose error code asks for an alert into
// dispatcher notifications. Repeats of the same chain and code inside the
// cooldown are suppressed.
type Bridge struct {
	dispatcher Dispatcher
	cooldown   time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	sub  *events.Subscription
	bus  *events.Bus
}

// BridgeOption customises a Bridge.
type BridgeOption func(*Bridge)

// WithCooldown sets the suppression window for repeated alerts.
func WithCooldown(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.cooldown = d }
}

// WithClock replaces the clock used for cooldowns.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge creates a bridge that notifies dispatcher.
func NewBridge(dispatcher Dispatcher, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		dispatcher: dispatcher,
		cooldown:   time.Minute,
		timeout:    10 * time.Second,
		now:        time.Now,
		logger:     logger.Named("alerting"),
		last:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach subscribes the bridge to networkError on bus.
func (b *Bridge) Attach(bus *events.Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bus = bus
	b.sub = events.Listen(bus, b.Handle)
}

// Detach cancels the subscription.
func (b *Bridge) Detach() {
	b.mu.Lock()
	sub, bus := b.sub, b.bus
	b.sub = nil
	b.mu.Unlock()
	if sub != nil {
		bus.Off(sub)
	}
}

// Handle dispatches an alert for e when its error should alert.
func (b *Bridge) Handle(e events.NetworkError) {
	if e.Err == nil || !xerrors.ShouldAlert(e.Err) {
		return
	}
	code := xerrors.CodeOf(e.Err)
	if !b.admit(e.ChainID, code) {
		return
	}

	alert := Event{
		Code:       code,
		Message:    e.Err.Error(),
		Severity:   xerrors.SeverityOf(e.Err),
		ChainID:    e.ChainID,
		Fatal:      e.IsFatal,
		OccurredAt: e.Timestamp,
	}
	if coded, ok := xerrors.From(e.Err); ok {
		alert.Metadata = coded.Metadata()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.dispatcher.Notify(ctx, alert); err != nil {
		b.logger.Warn("告警发送失败", "chain_id", e.ChainID, "code", code, "error", err)
	}
}

func (b *Bridge) admit(chainID string, code xerrors.Code) bool {
	key := chainID + "|" + string(code)
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.last[key]; ok && now.Sub(last) < b.cooldown {
		return false
	}
	b.last[key] = now
	return true
}
