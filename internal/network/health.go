package network

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"OpenMCP-ChainManager/internal/chain"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/internal/web3"
)

// Health is the result of one health check. Latency and BlockNumber are set
// only when healthy; Error only when not.
type Health struct {
	ChainID      string
	IsHealthy    bool
	Latency      time.Duration
	BlockNumber  uint64
	LastChecked  time.Time
	Error        string
	FailureCount int
	RPCURL       string
}

// MarshalJSON renders latency in milliseconds and lastChecked as a unix
// millisecond timestamp.
func (h Health) MarshalJSON() ([]byte, error) {
	type wire struct {
		ChainID      string  `json:"chainId"`
		IsHealthy    bool    `json:"isHealthy"`
		Latency      *int64  `json:"latency,omitempty"`
		BlockNumber  *uint64 `json:"blockNumber,omitempty"`
		LastChecked  int64   `json:"lastChecked"`
		Error        string  `json:"error,omitempty"`
		FailureCount int     `json:"failureCount"`
		RPCURL       string  `json:"rpcUrl,omitempty"`
	}
	out := wire{
		ChainID:      h.ChainID,
		IsHealthy:    h.IsHealthy,
		LastChecked:  h.LastChecked.UnixMilli(),
		Error:        h.Error,
		FailureCount: h.FailureCount,
		RPCURL:       h.RPCURL,
	}
	if h.IsHealthy {
		ms := h.Latency.Milliseconds()
		block := h.BlockNumber
		out.Latency, out.BlockNumber = &ms, &block
	}
	return json.Marshal(out)
}

// CheckHealth probes the latest block number of chainID. It never fails:
// problems are reported in the returned Health.
func (m *Manager) CheckHealth(ctx context.Context, chainID string) Health {
	id := chain.NormalizeChainID(chainID)
	client, ok := m.Client(id)
	if !ok {
		return Health{ChainID: id, IsHealthy: false, Error: "Client not found", LastChecked: m.now()}
	}
	cursor, rpcURL, transport := client.binding()
	if transport == nil {
		return Health{ChainID: id, IsHealthy: false, Error: "Client not found", LastChecked: m.now()}
	}
	checkCtx, cancel := ensureTimeout(ctx, m.healthTimeout)
	defer cancel()

	start := time.Now()
	block, err := transport.BlockNumber(checkCtx)
	latency := time.Since(start)
	if err == nil && m.verifyChainID {
		err = verifyChainID(checkCtx, id, transport)
	}
	metrics.ObserveRPC(id, "eth_blockNumber", err, latency)

	h := Health{ChainID: id, IsHealthy: err == nil, LastChecked: m.now(), RPCURL: rpcURL}
	if err != nil {
		h.Error = err.Error()
	} else {
		h.Latency, h.BlockNumber = latency, block
	}

	h, ok = m.storeHealth(client, h)
	if !ok {
		return h
	}
	metrics.ObserveHealth(id, h.IsHealthy, h.BlockNumber, h.FailureCount)

	if !h.IsHealthy {
		m.logger.Warn("健康检查失败",
			"chain_id", id,
			"rpc_url", rpcURL,
			"failure_count", h.FailureCount,
			"error", h.Error)
		m.failoverClient(ctx, client, cursor)
	}
	return h
}

func verifyChainID(ctx context.Context, expected string, transport web3.Transport) error {
	reported, err := transport.ChainID(ctx)
	if err != nil {
		return err
	}
	if got := chain.DecimalToHexChainID(reported.Uint64()); got != expected {
		return fmt.Errorf("链 ID 不匹配: 期望 %s, 节点返回 %s", expected, got)
	}
	return nil
}

// CachedHealth returns the cached health of chainID when it is younger than
// the cache TTL.
func (m *Manager) CachedHealth(chainID string) (Health, bool) {
	h, ok := m.lookupHealth(chain.NormalizeChainID(chainID))
	if !ok {
		return Health{}, false
	}
	if m.now().Sub(h.LastChecked) > m.cacheTTL {
		return Health{}, false
	}
	return h, true
}

// CheckAllHealth checks the given chains, or every chain with a client when
// none is given, running at most limit checks at a time.
func (m *Manager) CheckAllHealth(ctx context.Context, limit int, chainIDs ...string) map[string]Health {
	if len(chainIDs) == 0 {
		chainIDs = m.ChainIDs()
	}
	results := make([]Health, len(chainIDs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range chainIDs {
		g.Go(func() error {
			results[i] = m.CheckHealth(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Health, len(results))
	for _, h := range results {
		out[h.ChainID] = h
	}
	return out
}

func (m *Manager) lookupHealth(id string) (Health, bool) {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	h, ok := m.health[id]
	return h, ok
}

// storeHealth caches h unless client was removed or replaced meanwhile. A
// failed check extends the failure count of the cached entry; reading and
// writing the count happen under one lock so concurrent checks never lose an
// increment.
func (m *Manager) storeHealth(client *Client, h Health) (Health, bool) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	if m.clients[client.chainID] != client {
		return h, false
	}
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	if !h.IsHealthy {
		h.FailureCount = m.health[client.chainID].FailureCount + 1
	}
	m.health[client.chainID] = h
	return h, true
}

func (m *Manager) owns(client *Client) bool {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return m.clients[client.chainID] == client
}

func (m *Manager) dropHealth(id string) {
	m.healthMu.Lock()
	delete(m.health, id)
	m.healthMu.Unlock()
}

// failoverClient rebinds client to the next RPC URL that can be dialed,
// round-robin from start, the cursor the failed check ran against. Nothing
// happens when another failover already moved the client off start.
func (m *Manager) failoverClient(ctx context.Context, client *Client, start int) {
	urls := client.rpcURLs
	if !m.failover || len(urls) < 2 || client.cursor() != start {
		return
	}

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.healthTimeout)
	defer cancel()

	step := 0
	err := retry.Do(
		func() error {
			step++
			idx := (start + step) % len(urls)
			transport, err := m.dialer(dialCtx, urls[idx])
			if err != nil {
				return fmt.Errorf("%s: %w", urls[idx], err)
			}
			if !m.owns(client) {
				transport.Close()
				return retry.Unrecoverable(fmt.Errorf("链 %s 的客户端已移除", client.chainID))
			}
			if !client.rebind(start, idx, transport, m.requestTimeout) {
				transport.Close()
				m.logger.Debug("RPC 端点已被并发切换", "chain_id", client.chainID)
				return nil
			}
			m.logger.Info("RPC 端点已切换",
				"chain_id", client.chainID,
				"from", urls[start],
				"to", urls[idx])
			return nil
		},
		retry.Context(dialCtx),
		retry.Attempts(uint(len(urls)-1)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.logger.Error("RPC 端点切换失败", "chain_id", client.chainID, "error", err)
	}
}
