package chainmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Sending a transaction waits for its receipt, so it is
// longer than a typical REST call.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with the chain manager REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NativeCurrency describes the gas token of a chain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Chain is a registered chain configuration.
type Chain struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
	IconURLs          []string       `json:"iconUrls,omitempty"`
}

// ChainList is the registry snapshot returned by ListChains.
type ChainList struct {
	CurrentChainID string  `json:"currentChainId"`
	DefaultChainID string  `json:"defaultChainId"`
	Chains         []Chain `json:"chains"`
}

// Health is the result of a network health check. Latency is in
// milliseconds and LastChecked in unix milliseconds.
type Health struct {
	ChainID      string `json:"chainId"`
	IsHealthy    bool   `json:"isHealthy"`
	Latency      int64  `json:"latency,omitempty"`
	BlockNumber  uint64 `json:"blockNumber,omitempty"`
	LastChecked  int64  `json:"lastChecked"`
	Error        string `json:"error,omitempty"`
	FailureCount int    `json:"failureCount"`
	RPCURL       string `json:"rpcUrl,omitempty"`
}

// Transaction carries the optional fields of a transaction. Numeric fields
// accept decimal or 0x-prefixed hex strings.
type Transaction struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       uint64 `json:"blockNumber"`
	BlockHash         string `json:"blockHash,omitempty"`
	GasUsed           uint64 `json:"gasUsed"`
	Status            bool   `json:"status"`
	From              string `json:"from,omitempty"`
	To                string `json:"to,omitempty"`
	ContractAddress   string `json:"contractAddress,omitempty"`
	EffectiveGasPrice string `json:"effectiveGasPrice,omitempty"`
}

// APIError represents server side validation or network errors.
type APIError struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainmgr api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainmgr api error (%d): %s", e.StatusCode, e.Message)
}

// CurrentChain addresses the active chain in per-chain calls.
const CurrentChain = "current"

// NewClient instantiates a client for the chain manager API. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListChains returns every registered chain and the active one.
func (c *Client) ListChains(ctx context.Context) (ChainList, error) {
	var list ChainList
	err := c.do(ctx, http.MethodGet, "/api/v1/chains", nil, &list)
	return list, err
}

// AddChain registers a chain and returns the stored configuration.
func (c *Client) AddChain(ctx context.Context, chain Chain) (Chain, error) {
	var stored Chain
	err := c.do(ctx, http.MethodPost, "/api/v1/chains", chain, &stored)
	return stored, err
}

// RemoveChain unregisters a chain.
func (c *Client) RemoveChain(ctx context.Context, chainID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/chains/"+url.PathEscape(chainID), nil, nil)
}

// SwitchChain makes chainID the active chain and returns its configuration.
func (c *Client) SwitchChain(ctx context.Context, chainID string) (Chain, error) {
	var current Chain
	err := c.do(ctx, http.MethodPost, "/api/v1/chains/switch", map[string]string{"chainId": chainID}, &current)
	return current, err
}

// Health returns the health of chainID; fresh bypasses the server cache.
func (c *Client) Health(ctx context.Context, chainID string, fresh bool) (Health, error) {
	endpoint := chainPath(chainID, "health")
	if fresh {
		endpoint += "?fresh=true"
	}
	var h Health
	err := c.do(ctx, http.MethodGet, endpoint, nil, &h)
	return h, err
}

// Balance returns the balance of address in wei.
func (c *Client) Balance(ctx context.Context, chainID, address string) (*big.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, chainPath(chainID, "balance", url.PathEscape(address)), nil, &out); err != nil {
		return nil, err
	}
	return parseWei(out.Balance)
}

// GasPrice returns the suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context, chainID string) (*big.Int, error) {
	var out struct {
		GasPrice string `json:"gasPrice"`
	}
	if err := c.do(ctx, http.MethodGet, chainPath(chainID, "gas-price"), nil, &out); err != nil {
		return nil, err
	}
	return parseWei(out.GasPrice)
}

// EstimateGas estimates the gas needed by tx.
func (c *Client) EstimateGas(ctx context.Context, chainID string, tx Transaction) (uint64, error) {
	var out struct {
		Gas uint64 `json:"gas"`
	}
	err := c.do(ctx, http.MethodPost, chainPath(chainID, "estimate-gas"), tx, &out)
	return out.Gas, err
}

// SendTransaction submits tx and blocks until the server reports its receipt.
func (c *Client) SendTransaction(ctx context.Context, chainID string, tx Transaction) (Receipt, error) {
	var receipt Receipt
	err := c.do(ctx, http.MethodPost, chainPath(chainID, "transactions"), tx, &receipt)
	return receipt, err
}

// SubmitTransaction submits tx without waiting and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, chainID string, tx Transaction) (string, error) {
	body := struct {
		Transaction
		Async bool `json:"async"`
	}{Transaction: tx, Async: true}
	var out struct {
		Hash string `json:"hash"`
	}
	err := c.do(ctx, http.MethodPost, chainPath(chainID, "transactions"), body, &out)
	return out.Hash, err
}

// Receipt fetches the receipt of hash. It returns nil while the transaction
// is pending.
func (c *Client) Receipt(ctx context.Context, chainID, hash string) (*Receipt, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, chainPath(chainID, "transactions", url.PathEscape(hash), "receipt"), nil, &raw); err != nil {
		return nil, err
	}
	var pending struct {
		Pending bool `json:"pending"`
	}
	if err := json.Unmarshal(raw, &pending); err == nil && pending.Pending {
		return nil, nil
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

func chainPath(chainID string, parts ...string) string {
	if chainID == "" {
		chainID = CurrentChain
	}
	return path.Join(append([]string{"/api/v1/chains", url.PathEscape(chainID)}, parts...)...)
}

func parseWei(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", raw)
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	ref, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
