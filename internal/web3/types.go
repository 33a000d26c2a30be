package web3

import (
	"context"
	"fmt"
	"math/big"
)

// Transport is the fixed set of JSON-RPC capabilities a network client needs.
// Implementations must be safe for concurrent use.
type Transport interface {
	// BlockNumber returns the latest block height (eth_blockNumber).
	BlockNumber(ctx context.Context) (uint64, error)
	// ChainID returns the chain id reported by the endpoint (eth_chainId).
	ChainID(ctx context.Context) (*big.Int, error)
	// Balance returns the latest balance of address in wei (eth_getBalance).
	Balance(ctx context.Context, address string) (*big.Int, error)
	// GasPrice returns the suggested gas price in wei (eth_gasPrice).
	GasPrice(ctx context.Context) (*big.Int, error)
	// EstimateGas estimates gas for tx (eth_estimateGas).
	EstimateGas(ctx context.Context, tx TransactionRequest) (uint64, error)
	// SendTransaction submits tx to a node-managed account and returns the
	// transaction hash (eth_sendTransaction).
	SendTransaction(ctx context.Context, tx TransactionRequest) (string, error)
	// TransactionReceipt returns nil without error while the transaction is
	// not yet mined (eth_getTransactionReceipt).
	TransactionReceipt(ctx context.Context, hash string) (*TransactionReceipt, error)
	Close()
}

// Dialer opens a Transport bound to one RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Transport, error)

// AccessListEntry is one element of an EIP-2930 access list.
type AccessListEntry struct {
	Address     string   `json:"address"`
	StorageKeys []string `json:"storageKeys"`
}

// TransactionRequest carries the optional fields of a transaction. Numeric
// quantities accept decimal or 0x-prefixed hex strings.
type TransactionRequest struct {
	From                 string            `json:"from,omitempty"`
	To                   string            `json:"to,omitempty"`
	Value                string            `json:"value,omitempty"`
	Data                 string            `json:"data,omitempty"`
	Gas                  string            `json:"gas,omitempty"`
	GasPrice             string            `json:"gasPrice,omitempty"`
	Nonce                string            `json:"nonce,omitempty"`
	MaxFeePerGas         string            `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string            `json:"maxPriorityFeePerGas,omitempty"`
	Type                 string            `json:"type,omitempty"`
	AccessList           []AccessListEntry `json:"accessList,omitempty"`
}

// Log is an event log entry of a receipt.
type Log struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      uint64   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex uint64   `json:"transactionIndex"`
	BlockHash        string   `json:"blockHash"`
	LogIndex         uint64   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// TransactionReceipt is the confirmed outcome of a transaction. Status is
// true on success.
type TransactionReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       uint64 `json:"blockNumber"`
	GasUsed           uint64 `json:"gasUsed"`
	Status            bool   `json:"status"`
	BlockHash         string `json:"blockHash,omitempty"`
	TransactionIndex  uint64 `json:"transactionIndex"`
	From              string `json:"from,omitempty"`
	To                string `json:"to,omitempty"`
	CumulativeGasUsed uint64 `json:"cumulativeGasUsed"`
	ContractAddress   string `json:"contractAddress,omitempty"`
	Logs              []Log  `json:"logs,omitempty"`
	LogsBloom         string `json:"logsBloom,omitempty"`
	EffectiveGasPrice string `json:"effectiveGasPrice,omitempty"`
	Type              uint64 `json:"type"`
}

// ProtocolError is a JSON-RPC error object returned by the endpoint.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransportError is a failure below the JSON-RPC layer: dialing, HTTP status,
// timeouts or malformed responses.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (http %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
