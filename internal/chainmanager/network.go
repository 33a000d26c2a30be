package chainmanager

import (
	"context"
	"math/big"

	"OpenMCP-ChainManager/internal/chain"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/events"
	"OpenMCP-ChainManager/internal/network"
	"OpenMCP-ChainManager/internal/web3"
	"OpenMCP-ChainManager/pkg/logger"
)

// target resolves an optional chain id to the active chain.
func (m *Manager) target(chainID string) string {
	if chainID == "" {
		return m.CurrentChainID()
	}
	return chain.NormalizeChainID(chainID)
}

// CheckNetworkHealth health checks chainID, or the active chain when empty.
func (m *Manager) CheckNetworkHealth(ctx context.Context, chainID string) network.Health {
	return m.network.CheckHealth(ctx, m.target(chainID))
}

// CachedNetworkHealth returns unexpired cached health.
func (m *Manager) CachedNetworkHealth(chainID string) (network.Health, bool) {
	return m.network.CachedHealth(m.target(chainID))
}

// CheckAllNetworkHealth health checks every registered chain.
func (m *Manager) CheckAllNetworkHealth(ctx context.Context, concurrency int) map[string]network.Health {
	return m.network.CheckAllHealth(ctx, concurrency)
}

// GetBalance returns the balance of address in wei.
func (m *Manager) GetBalance(ctx context.Context, chainID, address string) (*big.Int, error) {
	id := m.target(chainID)
	balance, err := m.network.Balance(ctx, id, address)
	return balance, m.reportError(id, err)
}

// GetGasPrice returns the suggested gas price in wei.
func (m *Manager) GetGasPrice(ctx context.Context, chainID string) (*big.Int, error) {
	id := m.target(chainID)
	price, err := m.network.GasPrice(ctx, id)
	return price, m.reportError(id, err)
}

// EstimateGas estimates the gas needed by tx.
func (m *Manager) EstimateGas(ctx context.Context, chainID string, tx web3.TransactionRequest) (uint64, error) {
	id := m.target(chainID)
	gas, err := m.network.EstimateGas(ctx, id, tx)
	return gas, m.reportError(id, err)
}

// SendTransaction submits tx and waits for its receipt.
func (m *Manager) SendTransaction(ctx context.Context, chainID string, tx web3.TransactionRequest) (*web3.TransactionReceipt, error) {
	id := m.target(chainID)
	receipt, err := m.network.SendTransaction(ctx, id, tx)
	return receipt, m.reportError(id, err)
}

// SendTransactionAsync submits tx and confirms it in the background. A
// failed confirmation is reported on the bus when it happens.
func (m *Manager) SendTransactionAsync(ctx context.Context, chainID string, tx web3.TransactionRequest) (*network.PendingTransaction, error) {
	id := m.target(chainID)
	pending, err := m.network.SendTransactionAsync(ctx, id, tx)
	if err != nil {
		return nil, m.reportError(id, err)
	}
	go func() {
		<-pending.Done()
		_, err := pending.Result()
		_ = m.reportError(id, err)
	}()
	return pending, nil
}

// GetTransactionReceipt fetches the receipt of hash; nil means pending.
func (m *Manager) GetTransactionReceipt(ctx context.Context, chainID, hash string) (*web3.TransactionReceipt, error) {
	id := m.target(chainID)
	receipt, err := m.network.TransactionReceipt(ctx, id, hash)
	return receipt, m.reportError(id, err)
}

// reportError emits networkError for err and returns it unchanged.
// Cancellation by the caller is not reported.
func (m *Manager) reportError(chainID string, err error) error {
	if err == nil || xerrors.CodeOf(err) == xerrors.CodeCanceled {
		return err
	}
	logger.ForChain(m.logger, chainID).Warn("网络操作失败", "error", err)
	m.emit(events.NetworkError{
		ChainID:   chainID,
		Err:       err,
		ErrorType: string(xerrors.CodeOf(err)),
		Timestamp: m.now(),
		IsFatal:   xerrors.IsFatal(err),
	})
	return err
}

// On subscribes handler to the named event.
func (m *Manager) On(name string, handler events.Handler) *events.Subscription {
	return m.bus.On(name, handler)
}

// Once subscribes handler to the next occurrence of the named event.
func (m *Manager) Once(name string, handler events.Handler) *events.Subscription {
	return m.bus.Once(name, handler)
}

// Off cancels a subscription.
func (m *Manager) Off(sub *events.Subscription) bool {
	return m.bus.Off(sub)
}

// OnChainChanged subscribes to chain switches.
func (m *Manager) OnChainChanged(fn func(events.ChainChanged)) *events.Subscription {
	return events.Listen(m.bus, fn)
}

// OnChainAdded subscribes to chain additions.
func (m *Manager) OnChainAdded(fn func(events.ChainAdded)) *events.Subscription {
	return events.Listen(m.bus, fn)
}

// OnChainRemoved subscribes to chain removals.
func (m *Manager) OnChainRemoved(fn func(events.ChainRemoved)) *events.Subscription {
	return events.Listen(m.bus, fn)
}

// OnNetworkError subscribes to failed network operations.
func (m *Manager) OnNetworkError(fn func(events.NetworkError)) *events.Subscription {
	return events.Listen(m.bus, fn)
}
