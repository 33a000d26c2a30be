package network

import (
	"sync"
	"time"

	"OpenMCP-ChainManager/internal/web3"
)

// Client binds one chain to one of its RPC URLs.
type Client struct {
	chainID   string
	rpcURLs   []string
	createdAt time.Time

	mu         sync.RWMutex
	urlIndex   int
	transport  web3.Transport
	lastActive time.Time
}

// ClientInfo is a read-only snapshot of a Client.
type ClientInfo struct {
	ChainID      string    `json:"chainId"`
	RPCURL       string    `json:"rpcUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func newClient(chainID string, rpcURLs []string, transport web3.Transport, now time.Time) *Client {
	c := &Client{
		chainID:   chainID,
		rpcURLs:   append([]string(nil), rpcURLs...),
		createdAt: now,
		transport: transport,
	}
	c.touch(now)
	return c
}

// ChainID returns the chain the client is bound to.
func (c *Client) ChainID() string { return c.chainID }

// RPCURL returns the URL the client is currently bound to.
func (c *Client) RPCURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpcURLs[c.urlIndex]
}

// CreatedAt returns when the client was created.
func (c *Client) CreatedAt() time.Time { return c.createdAt }

// LastActiveAt returns the last time the client was looked up.
func (c *Client) LastActiveAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Transport returns the currently bound transport.
func (c *Client) Transport() web3.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// Info returns a snapshot of the client.
func (c *Client) Info() ClientInfo {
	return ClientInfo{
		ChainID:      c.chainID,
		RPCURL:       c.RPCURL(),
		CreatedAt:    c.createdAt,
		LastActiveAt: c.LastActiveAt(),
	}
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastActive = now
	c.mu.Unlock()
}

func (c *Client) cursor() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urlIndex
}

// binding returns the cursor, URL and transport as one consistent snapshot.
func (c *Client) binding() (int, string, web3.Transport) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urlIndex, c.rpcURLs[c.urlIndex], c.transport
}

// rebind swaps in a transport for rpcURLs[idx] if the client is still bound
// to rpcURLs[from]. The old transport is closed after grace so calls that
// already hold it can finish. It reports false, leaving the client
// untouched, when another failover moved the cursor first.
func (c *Client) rebind(from, idx int, transport web3.Transport, grace time.Duration) bool {
	c.mu.Lock()
	if c.urlIndex != from || c.transport == nil {
		c.mu.Unlock()
		return false
	}
	old := c.transport
	c.transport = transport
	c.urlIndex = idx
	c.mu.Unlock()
	retire(old, grace)
	return true
}

func retire(t web3.Transport, grace time.Duration) {
	if t == nil {
		return
	}
	if grace <= 0 {
		t.Close()
		return
	}
	time.AfterFunc(grace, t.Close)
}

func (c *Client) close() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		t.Close()
	}
}
