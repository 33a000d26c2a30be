package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OpenMCP-ChainManager/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client implements web3.Transport for EVM compatible endpoints over HTTP or
// WebSocket.
type Client struct {
	url       string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.Mutex
}

var _ web3.Transport = (*Client)(nil)

// Dial connects to rpcURL. It matches the web3.Dialer signature.
func Dial(ctx context.Context, rpcURL string) (web3.Transport, error) {
	return NewClient(ctx, rpcURL)
}

// NewClient dials the RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, &web3.TransportError{Err: fmt.Errorf("连接以太坊节点失败: %w", err)}
	}
	c := NewFromRPC(rpcClient)
	c.url = rpcURL
	return c, nil
}

// NewFromRPC wraps an existing go-ethereum RPC client, such as an in-process
// one.
func NewFromRPC(rpcClient *gethrpc.Client) *Client {
	return &Client{rpcClient: rpcClient, eth: ethclient.NewClient(rpcClient)}
}

// URL returns the endpoint the client was dialed with.
func (c *Client) URL() string {
	return c.url
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	c.rpcClient = nil
	c.eth = nil
}

func (c *Client) backend() (*gethrpc.Client, *ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient == nil {
		return nil, nil, &web3.TransportError{Err: errors.New("以太坊客户端已关闭")}
	}
	return c.rpcClient, c.eth, nil
}

// BlockNumber returns the most recent block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	_, eth, err := c.backend()
	if err != nil {
		return 0, err
	}
	n, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	_, eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return id, nil
}

// Balance returns the latest balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	addr, err := parseAddress("address", address)
	if err != nil {
		return nil, err
	}
	_, eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	balance, err := eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify(err)
	}
	return balance, nil
}

// GasPrice returns the suggested legacy gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	_, eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	price, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return price, nil
}

// EstimateGas estimates the gas needed to execute tx.
func (c *Client) EstimateGas(ctx context.Context, tx web3.TransactionRequest) (uint64, error) {
	args, err := toCallArgs(tx)
	if err != nil {
		return 0, err
	}
	rpcClient, _, err := c.backend()
	if err != nil {
		return 0, err
	}
	var gas hexutil.Uint64
	if err := rpcClient.CallContext(ctx, &gas, "eth_estimateGas", args); err != nil {
		return 0, classify(err)
	}
	return uint64(gas), nil
}

// SendTransaction submits tx for signing by the node and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx web3.TransactionRequest) (string, error) {
	args, err := toCallArgs(tx)
	if err != nil {
		return "", err
	}
	rpcClient, _, err := c.backend()
	if err != nil {
		return "", err
	}
	var hash common.Hash
	if err := rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return "", classify(err)
	}
	return hash.Hex(), nil
}

// TransactionReceipt fetches the receipt of hash. A pending transaction
// yields (nil, nil).
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*web3.TransactionReceipt, error) {
	if !isHash(hash) {
		return nil, fmt.Errorf("交易哈希格式无效: %q", hash)
	}
	rpcClient, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := rpcClient.CallContext(ctx, &raw, "eth_getTransactionReceipt", common.HexToHash(hash)); err != nil {
		return nil, classify(err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var receipt rpcReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, &web3.TransportError{Err: fmt.Errorf("解析交易回执失败: %w", err)}
	}
	return receipt.toReceipt(), nil
}

// classify splits go-ethereum errors into JSON-RPC protocol errors and
// transport failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		pe := &web3.ProtocolError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr gethrpc.DataError
		if errors.As(err, &dataErr) {
			pe.Data = dataErr.ErrorData()
		}
		return pe
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return &web3.TransportError{StatusCode: httpErr.StatusCode, Err: err}
	}
	return &web3.TransportError{Err: err}
}

type callArgs struct {
	From                 *common.Address       `json:"from,omitempty"`
	To                   *common.Address       `json:"to,omitempty"`
	Value                *hexutil.Big          `json:"value,omitempty"`
	Data                 *hexutil.Bytes        `json:"data,omitempty"`
	Gas                  *hexutil.Uint64       `json:"gas,omitempty"`
	GasPrice             *hexutil.Big          `json:"gasPrice,omitempty"`
	Nonce                *hexutil.Uint64       `json:"nonce,omitempty"`
	MaxFeePerGas         *hexutil.Big          `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big          `json:"maxPriorityFeePerGas,omitempty"`
	Type                 *hexutil.Uint64       `json:"type,omitempty"`
	AccessList           *coretypes.AccessList `json:"accessList,omitempty"`
}

func toCallArgs(tx web3.TransactionRequest) (callArgs, error) {
	var (
		args callArgs
		err  error
	)
	if args.From, err = optionalAddress("from", tx.From); err != nil {
		return callArgs{}, err
	}
	if args.To, err = optionalAddress("to", tx.To); err != nil {
		return callArgs{}, err
	}
	if args.Value, err = optionalBig("value", tx.Value); err != nil {
		return callArgs{}, err
	}
	if args.GasPrice, err = optionalBig("gasPrice", tx.GasPrice); err != nil {
		return callArgs{}, err
	}
	if args.MaxFeePerGas, err = optionalBig("maxFeePerGas", tx.MaxFeePerGas); err != nil {
		return callArgs{}, err
	}
	if args.MaxPriorityFeePerGas, err = optionalBig("maxPriorityFeePerGas", tx.MaxPriorityFeePerGas); err != nil {
		return callArgs{}, err
	}
	if args.Gas, err = optionalUint64("gas", tx.Gas); err != nil {
		return callArgs{}, err
	}
	if args.Nonce, err = optionalUint64("nonce", tx.Nonce); err != nil {
		return callArgs{}, err
	}
	if args.Type, err = optionalUint64("type", tx.Type); err != nil {
		return callArgs{}, err
	}
	if data := strings.TrimSpace(tx.Data); data != "" {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return callArgs{}, fmt.Errorf("字段 data 不是合法的十六进制: %w", err)
		}
		b := hexutil.Bytes(decoded)
		args.Data = &b
	}
	if len(tx.AccessList) > 0 {
		list := make(coretypes.AccessList, 0, len(tx.AccessList))
		for _, entry := range tx.AccessList {
			addr, err := parseAddress("accessList.address", entry.Address)
			if err != nil {
				return callArgs{}, err
			}
			tuple := coretypes.AccessTuple{Address: addr, StorageKeys: []common.Hash{}}
			for _, key := range entry.StorageKeys {
				if !isHash(key) {
					return callArgs{}, fmt.Errorf("字段 accessList.storageKeys 格式无效: %q", key)
				}
				tuple.StorageKeys = append(tuple.StorageKeys, common.HexToHash(key))
			}
			list = append(list, tuple)
		}
		args.AccessList = &list
	}
	return args, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("字段 %s 不是合法的地址: %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func optionalAddress(field, raw string) (*common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	addr, err := parseAddress(field, raw)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func optionalBig(field, raw string) (*hexutil.Big, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := math.ParseBig256(raw)
	if !ok {
		return nil, fmt.Errorf("字段 %s 不是合法的数值: %q", field, raw)
	}
	return (*hexutil.Big)(v), nil
}

func optionalUint64(field, raw string) (*hexutil.Uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := math.ParseUint64(raw)
	if !ok {
		return nil, fmt.Errorf("字段 %s 不是合法的数值: %q", field, raw)
	}
	q := hexutil.Uint64(v)
	return &q, nil
}

func isHash(raw string) bool {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	return err == nil && len(b) == common.HashLength
}
