package network

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"OpenMCP-ChainManager/internal/chain"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/internal/web3"
	"OpenMCP-ChainManager/internal/web3/ethereum"
	"OpenMCP-ChainManager/pkg/logger"
)

// Defaults for network calls and confirmation polling.
const (
	DefaultHealthTimeout  = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultPollInterval   = time.Second
	DefaultPollAttempts   = 60
	HealthCacheTTL        = 300000 * time.Millisecond
)

// Manager owns one Client per chain and the health cache.
type Manager struct {
	dialer         web3.Dialer
	now            func() time.Time
	logger         *slog.Logger
	healthTimeout  time.Duration
	requestTimeout time.Duration
	pollInterval   time.Duration
	pollAttempts   int
	cacheTTL       time.Duration
	failover       bool
	verifyChainID  bool

	clientsMu sync.RWMutex
	clients   map[string]*Client

	healthMu sync.RWMutex
	health   map[string]Health
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer replaces the transport dialer.
func WithDialer(d web3.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClock replaces the clock used for timestamps and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHealthTimeout bounds each health check.
func WithHealthTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.healthTimeout = d
		}
	}
}

// WithRequestTimeout bounds each RPC call when the caller's context has no
// deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithPolling sets the receipt poll interval and attempt budget.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
		if attempts > 0 {
			m.pollAttempts = attempts
		}
	}
}

// WithHealthCacheTTL overrides how long cached health stays valid.
func WithHealthCacheTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cacheTTL = d
		}
	}
}

// WithFailover toggles rebinding to the next RPC URL after a failed health
// check.
func WithFailover(enabled bool) Option {
	return func(m *Manager) { m.failover = enabled }
}

// WithChainIDVerification makes health checks compare eth_chainId with the
// registered chain id.
func WithChainIDVerification(enabled bool) Option {
	return func(m *Manager) { m.verifyChainID = enabled }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dialer:         ethereum.Dial,
		now:            time.Now,
		healthTimeout:  DefaultHealthTimeout,
		requestTimeout: DefaultRequestTimeout,
		pollInterval:   DefaultPollInterval,
		pollAttempts:   DefaultPollAttempts,
		cacheTTL:       HealthCacheTTL,
		failover:       true,
		clients:        make(map[string]*Client),
		health:         make(map[string]Health),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Named("network")
	}
	return m
}

// CreateClient dials the first RPC URL of cfg and stores the client,
// replacing any client already bound to the chain.
func (m *Manager) CreateClient(ctx context.Context, cfg chain.Config) (*Client, error) {
	chainID := chain.NormalizeChainID(cfg.ChainID)
	if len(cfg.RPCURLs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链未配置 RPC 地址: "+chainID)
	}

	dialCtx, cancel := ensureTimeout(ctx, m.requestTimeout)
	defer cancel()
	transport, err := m.dialer(dialCtx, cfg.RPCURLs[0])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPC, err, "创建网络客户端失败",
			xerrors.WithMetadata("chain_id", chainID),
			xerrors.WithMetadata("rpc_url", cfg.RPCURLs[0]))
	}

	client := newClient(chainID, cfg.RPCURLs, transport, m.now())

	m.clientsMu.Lock()
	previous := m.clients[chainID]
	m.clients[chainID] = client
	m.clientsMu.Unlock()

	if previous != nil {
		previous.close()
		m.dropHealth(chainID)
	}
	m.logger.Info("网络客户端已创建", "chain_id", chainID, "rpc_url", cfg.RPCURLs[0])
	return client, nil
}

// Client returns the client of chainID and refreshes its LastActiveAt.
func (m *Manager) Client(chainID string) (*Client, bool) {
	m.clientsMu.RLock()
	client, ok := m.clients[chain.NormalizeChainID(chainID)]
	m.clientsMu.RUnlock()
	if !ok {
		return nil, false
	}
	client.touch(m.now())
	return client, true
}

// HasClient reports whether a client exists without touching it.
func (m *Manager) HasClient(chainID string) bool {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	_, ok := m.clients[chain.NormalizeChainID(chainID)]
	return ok
}

// RemoveClient closes and forgets the client and cached health of chainID.
func (m *Manager) RemoveClient(chainID string) {
	id := chain.NormalizeChainID(chainID)
	m.clientsMu.Lock()
	client, ok := m.clients[id]
	delete(m.clients, id)
	m.clientsMu.Unlock()

	m.dropHealth(id)
	if ok {
		client.close()
		m.logger.Info("网络客户端已移除", "chain_id", id)
	}
}

// Clients returns snapshots of every client sorted by chain id.
func (m *Manager) Clients() []ClientInfo {
	m.clientsMu.RLock()
	out := make([]ClientInfo, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c.Info())
	}
	m.clientsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// ChainIDs lists the chains with a client.
func (m *Manager) ChainIDs() []string {
	m.clientsMu.RLock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.clientsMu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ClearAll closes every client and empties the health cache.
func (m *Manager) ClearAll() {
	m.clientsMu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.clientsMu.Unlock()

	m.healthMu.Lock()
	m.health = make(map[string]Health)
	m.healthMu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// call runs fn against the transport of chainID with a bounded context and
// converts failures into coded errors.
func (m *Manager) call(ctx context.Context, chainID, operation string, fn func(context.Context, web3.Transport) error) error {
	id := chain.NormalizeChainID(chainID)
	client, ok := m.Client(id)
	if !ok {
		return clientNotFound(id)
	}
	transport := client.Transport()
	if transport == nil {
		return clientNotFound(id)
	}

	callCtx, cancel := ensureTimeout(ctx, m.requestTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx, transport)
	metrics.ObserveRPC(id, operation, err, time.Since(start))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return xerrors.Wrap(xerrors.CodeCanceled, err, "", xerrors.WithMetadata("chain_id", id))
	}
	return wrapRPC(id, operation, client.RPCURL(), err)
}

func clientNotFound(chainID string) error {
	return xerrors.New(xerrors.CodeClientNotFound, "未找到链客户端: "+chainID,
		xerrors.WithMetadata("chain_id", chainID))
}

// wrapRPC keeps protocol and transport failures distinguishable through
// error metadata.
func wrapRPC(chainID, operation, rpcURL string, err error) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("chain_id", chainID),
		xerrors.WithMetadata("operation", operation),
		xerrors.WithMetadata("rpc_url", rpcURL),
	}
	var protocolErr *web3.ProtocolError
	var transportErr *web3.TransportError
	switch {
	case errors.As(err, &protocolErr):
		opts = append(opts,
			xerrors.WithMetadata("kind", "protocol"),
			xerrors.WithMetadata("rpc_code", strconv.Itoa(protocolErr.Code)),
			xerrors.WithRetryable(false))
	case errors.As(err, &transportErr):
		opts = append(opts, xerrors.WithMetadata("kind", "transport"))
		if transportErr.StatusCode != 0 {
			opts = append(opts, xerrors.WithMetadata("http_status", strconv.Itoa(transportErr.StatusCode)))
		}
	default:
		opts = append(opts, xerrors.WithMetadata("kind", "request"), xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(xerrors.CodeRPC, err, operation+" 调用失败", opts...)
}

// ensureTimeout bounds ctx by d unless the caller already set a deadline.
func ensureTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
