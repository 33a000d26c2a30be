package network

import (
	"context"
	"math/big"

	"OpenMCP-ChainManager/internal/web3"
)

// Balance returns the latest balance of address on chainID in wei.
func (m *Manager) Balance(ctx context.Context, chainID, address string) (*big.Int, error) {
	var balance *big.Int
	err := m.call(ctx, chainID, "eth_getBalance", func(ctx context.Context, t web3.Transport) error {
		var err error
		balance, err = t.Balance(ctx, address)
		return err
	})
	return balance, err
}

// GasPrice returns the suggested gas price of chainID in wei.
func (m *Manager) GasPrice(ctx context.Context, chainID string) (*big.Int, error) {
	var price *big.Int
	err := m.call(ctx, chainID, "eth_gasPrice", func(ctx context.Context, t web3.Transport) error {
		var err error
		price, err = t.GasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas estimates gas for tx on chainID.
func (m *Manager) EstimateGas(ctx context.Context, chainID string, tx web3.TransactionRequest) (uint64, error) {
	var gas uint64
	err := m.call(ctx, chainID, "eth_estimateGas", func(ctx context.Context, t web3.Transport) error {
		var err error
		gas, err = t.EstimateGas(ctx, tx)
		return err
	})
	return gas, err
}

// SubmitTransaction sends tx and returns its hash without waiting.
func (m *Manager) SubmitTransaction(ctx context.Context, chainID string, tx web3.TransactionRequest) (string, error) {
	var hash string
	err := m.call(ctx, chainID, "eth_sendTransaction", func(ctx context.Context, t web3.Transport) error {
		var err error
		hash, err = t.SendTransaction(ctx, tx)
		return err
	})
	return hash, err
}

// TransactionReceipt fetches the receipt of hash. (nil, nil) means the
// transaction is not mined yet.
func (m *Manager) TransactionReceipt(ctx context.Context, chainID, hash string) (*web3.TransactionReceipt, error) {
	var receipt *web3.TransactionReceipt
	err := m.call(ctx, chainID, "eth_getTransactionReceipt", func(ctx context.Context, t web3.Transport) error {
		var err error
		receipt, err = t.TransactionReceipt(ctx, hash)
		return err
	})
	return receipt, err
}
