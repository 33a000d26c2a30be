package network

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"OpenMCP-ChainManager/internal/chain"
	"OpenMCP-ChainManager/internal/web3"
)

type fakeTransport struct {
	url string

	mu           sync.Mutex
	blockErr     error
	block        uint64
	chainID      *big.Int
	hang         bool
	sendErr      error
	receiptAfter int32
	receiptErr   error

	receiptCalls atomic.Int32
	closed       atomic.Bool
}

func (f *fakeTransport) setBlockErr(err error) {
	f.mu.Lock()
	f.blockErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	hang, err, block := f.hang, f.blockErr, f.block
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return 0, &web3.TransportError{Err: ctx.Err()}
	}
	return block, err
}

func (f *fakeTransport) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeTransport) Balance(_ context.Context, address string) (*big.Int, error) {
	if address == "" {
		return nil, &web3.ProtocolError{Code: -32602, Message: "invalid params"}
	}
	return big.NewInt(42), nil
}

func (f *fakeTransport) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeTransport) EstimateGas(context.Context, web3.TransactionRequest) (uint64, error) {
	return 21000, nil
}

func (f *fakeTransport) SendTransaction(context.Context, web3.TransactionRequest) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xabc", nil
}

func (f *fakeTransport) TransactionReceipt(_ context.Context, hash string) (*web3.TransactionReceipt, error) {
	n := f.receiptCalls.Add(1)
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receiptAfter == 0 || n < f.receiptAfter {
		return nil, nil
	}
	return &web3.TransactionReceipt{TransactionHash: hash, BlockNumber: 7, GasUsed: 21000, Status: true}, nil
}

func (f *fakeTransport) Close() { f.closed.Store(true) }

// fakeNetwork hands out one fakeTransport per URL.
type fakeNetwork struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	dialErrs   map[string]error
	dials      []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{transports: map[string]*fakeTransport{}, dialErrs: map[string]error{}}
}

func (n *fakeNetwork) transport(url string) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[url]
	if !ok {
		t = &fakeTransport{url: url, block: 100, chainID: big.NewInt(1)}
		n.transports[url] = t
	}
	return t
}

func (n *fakeNetwork) dial(_ context.Context, url string) (web3.Transport, error) {
	n.mu.Lock()
	n.dials = append(n.dials, url)
	err := n.dialErrs[url]
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	t := n.transport(url)
	t.closed.Store(false)
	return t, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testChain(id string, urls ...string) chain.Config {
	if len(urls) == 0 {
		urls = []string{"https://" + id + ".example"}
	}
	return chain.Config{
		ChainID:        id,
		ChainName:      "chain " + id,
		NativeCurrency: chain.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		RPCURLs:        urls,
	}
}

var errNodeDown = errors.New("connection refused")
