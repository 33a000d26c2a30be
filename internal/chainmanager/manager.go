package chainmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-ChainManager/internal/chain"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/events"
	"OpenMCP-ChainManager/internal/network"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/pkg/logger"
)

// Manager is the entry point for callers: it owns the chain registry, the
// active chain and the network clients, and reports changes on the bus.
type Manager struct {
	registry       *chain.Registry
	network        *network.Manager
	bus            *events.Bus
	logger         *slog.Logger
	now            func() time.Time
	defaultChainID string

	// switchMu serialises switches and removals so a removal cannot
	// interleave with a switch that already passed its health gate.
	switchMu sync.Mutex

	stateMu        sync.RWMutex
	currentChainID string
}

type options struct {
	chains         []chain.Config
	defaultChainID string
	network        *network.Manager
	networkOpts    []network.Option
	bus            *events.Bus
	logger         *slog.Logger
	now            func() time.Time
}

// Option customises a Manager.
type Option func(*options)

// WithChains sets the chains registered at start. The built-in set is used
// when none is given.
func WithChains(cfgs ...chain.Config) Option {
	return func(o *options) { o.chains = append(o.chains, cfgs...) }
}

// WithDefaultChain sets the default chain id. It must be registered.
func WithDefaultChain(chainID string) Option {
	return func(o *options) { o.defaultChainID = chainID }
}

// WithNetworkManager injects a preconfigured network manager.
func WithNetworkManager(m *network.Manager) Option {
	return func(o *options) { o.network = m }
}

// WithNetworkOptions configures the network manager created by New.
func WithNetworkOptions(opts ...network.Option) Option {
	return func(o *options) { o.networkOpts = append(o.networkOpts, opts...) }
}

// WithBus injects the event bus.
func WithBus(b *events.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New registers the configured chains, creates a client for each and makes
// the default chain active.
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.chains) == 0 {
		o.chains = chain.BuiltinChains()
	}
	if o.defaultChainID == "" {
		o.defaultChainID = chain.DefaultChainID
	}
	if o.logger == nil {
		o.logger = logger.Named("chainmanager")
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.bus == nil {
		o.bus = events.NewBus(events.WithLogger(o.logger))
	}
	if o.network == nil {
		o.network = network.NewManager(append([]network.Option{network.WithLogger(o.logger)}, o.networkOpts...)...)
	}

	registry, err := chain.NewRegistry(o.chains...)
	if err != nil {
		return nil, err
	}
	defaultID := chain.NormalizeChainID(o.defaultChainID)
	if !registry.Has(defaultID) {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "默认链未注册: "+defaultID)
	}

	for _, cfg := range registry.List() {
		if _, err := o.network.CreateClient(ctx, cfg); err != nil {
			o.network.ClearAll()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败",
				xerrors.WithMetadata("chain_id", cfg.ChainID))
		}
	}

	m := &Manager{
		registry:       registry,
		network:        o.network,
		bus:            o.bus,
		logger:         o.logger,
		now:            o.now,
		defaultChainID: defaultID,
		currentChainID: defaultID,
	}
	metrics.SetActiveChain("", defaultID)
	m.logger.Info("链管理器已初始化", "chains", registry.Len(), "default_chain", defaultID)
	return m, nil
}

// CurrentChainID returns the active chain id.
func (m *Manager) CurrentChainID() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.currentChainID
}

// CurrentChainConfig returns the config of the active chain.
func (m *Manager) CurrentChainConfig() (chain.Config, bool) {
	return m.registry.Get(m.CurrentChainID())
}

// DefaultChainID returns the configured default chain id.
func (m *Manager) DefaultChainID() string {
	return m.defaultChainID
}

// SupportedChains lists every registered chain.
func (m *Manager) SupportedChains() []chain.Config {
	return m.registry.List()
}

// ChainConfig returns the config registered for chainID.
func (m *Manager) ChainConfig(chainID string) (chain.Config, bool) {
	return m.registry.Get(chainID)
}

// IsChainSupported reports whether chainID is registered.
func (m *Manager) IsChainSupported(chainID string) bool {
	return m.registry.Has(chainID)
}

// Network exposes the network manager, e.g. for the background monitor.
func (m *Manager) Network() *network.Manager {
	return m.network
}

// Bus exposes the event bus, e.g. for sinks.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// SwitchChain makes chainID the active chain after a successful health
// check. Nothing changes and no event is emitted when the target is unknown,
// already active or unhealthy.
func (m *Manager) SwitchChain(ctx context.Context, chainID string) error {
	id := chain.NormalizeChainID(chainID)
	if !m.registry.Has(id) {
		return unsupported(chainID)
	}

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	previous := m.CurrentChainID()
	if previous == id {
		return nil
	}

	health := m.network.CheckHealth(ctx, id)
	if !health.IsHealthy {
		return xerrors.New(xerrors.CodeUnhealthyTarget, "目标网络不健康: "+id,
			xerrors.WithDetails(health.Error),
			xerrors.WithMetadata("chain_id", id))
	}

	cfg, ok := m.registry.Get(id)
	if !ok {
		return unsupported(chainID)
	}

	m.stateMu.Lock()
	m.currentChainID = id
	m.stateMu.Unlock()

	metrics.SetActiveChain(previous, id)
	logger.Audit().Info("链已切换", "previous", previous, "current", id)
	m.emit(events.ChainChanged{
		PreviousChainID: previous,
		CurrentChainID:  id,
		ChainConfig:     cfg,
		Timestamp:       m.now(),
		Reason:          events.ReasonUser,
	})
	return nil
}

// AddChain validates, sanitizes and registers cfg and creates its client.
// The registry is left unchanged on any failure. It holds the same lock as
// SwitchChain and RemoveChain so a chain is never removed while its client
// is still being dialed.
func (m *Manager) AddChain(ctx context.Context, cfg chain.Config) (chain.Config, error) {
	if err := chain.Validate(cfg).Err(); err != nil {
		return chain.Config{}, err
	}
	sanitized := chain.Sanitize(cfg)

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	stored, err := m.registry.Insert(sanitized)
	if err != nil {
		return chain.Config{}, err
	}
	if _, err := m.network.CreateClient(ctx, stored); err != nil {
		m.registry.Delete(stored.ChainID)
		return chain.Config{}, err
	}

	logger.Audit().Info("链已添加", "chain_id", stored.ChainID, "chain_name", stored.ChainName)
	m.emit(events.ChainAdded{
		ChainConfig: stored,
		Timestamp:   m.now(),
		Source:      events.SourceUser,
	})
	return stored, nil
}

// RemoveChain unregisters chainID and closes its client. The default and the
// active chain cannot be removed.
func (m *Manager) RemoveChain(chainID string) error {
	id := chain.NormalizeChainID(chainID)

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if id == m.defaultChainID {
		return xerrors.New(xerrors.CodeCannotRemoveDefault, "不能移除默认链: "+id)
	}
	if id == m.CurrentChainID() {
		return xerrors.New(xerrors.CodeCannotRemoveActive, "不能移除当前使用的链: "+id)
	}
	cfg, ok := m.registry.Get(id)
	if !ok {
		return unsupported(chainID)
	}

	m.registry.Delete(id)
	m.network.RemoveClient(id)
	metrics.ForgetChain(id)

	logger.Audit().Info("链已移除", "chain_id", id, "chain_name", cfg.ChainName)
	m.emit(events.ChainRemoved{
		ChainID:   id,
		ChainName: cfg.ChainName,
		Timestamp: m.now(),
		Reason:    events.ReasonUser,
	})
	return nil
}

// Destroy drops every subscription, client, cached health entry and
// registered chain.
func (m *Manager) Destroy() {
	m.bus.RemoveAllListeners()
	m.network.ClearAll()
	m.registry.Clear()
	m.logger.Info("链管理器已销毁")
}

func (m *Manager) emit(e events.Event) {
	metrics.ObserveEvent(e.Name())
	m.bus.Emit(e)
}

func unsupported(chainID string) error {
	return xerrors.New(xerrors.CodeUnsupportedChain, "不支持的链: "+chainID,
		xerrors.WithMetadata("chain_id", chainID))
}
