package network

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"OpenMCP-ChainManager/internal/chain"
	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/observability/metrics"
	"OpenMCP-ChainManager/internal/web3"
	"OpenMCP-ChainManager/pkg/logger"
)

var errReceiptPending = errors.New("交易尚未上链")

// SendTransaction submits tx and blocks until its receipt is available, the
// poll budget is exhausted or ctx is done.
func (m *Manager) SendTransaction(ctx context.Context, chainID string, tx web3.TransactionRequest) (*web3.TransactionReceipt, error) {
	hash, err := m.submit(ctx, chainID, tx)
	if err != nil {
		return nil, err
	}
	return m.WaitForReceipt(ctx, chainID, hash)
}

// SendTransactionAsync submits tx and confirms it on a separate goroutine.
// The poll outlives ctx; stop it with PendingTransaction.Cancel.
func (m *Manager) SendTransactionAsync(ctx context.Context, chainID string, tx web3.TransactionRequest) (*PendingTransaction, error) {
	hash, err := m.submit(ctx, chainID, tx)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &PendingTransaction{
		chainID: chain.NormalizeChainID(chainID),
		hash:    hash,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go func() {
		defer cancel()
		receipt, err := m.WaitForReceipt(pollCtx, chainID, hash)
		p.finish(receipt, err)
	}()
	return p, nil
}

func (m *Manager) submit(ctx context.Context, chainID string, tx web3.TransactionRequest) (string, error) {
	hash, err := m.SubmitTransaction(ctx, chainID, tx)
	if err != nil {
		return "", err
	}
	logger.Audit().Info("交易已提交",
		"chain_id", chain.NormalizeChainID(chainID),
		"hash", hash,
		"from", tx.From,
		"to", tx.To,
		"value", tx.Value)
	return hash, nil
}

// WaitForReceipt polls the receipt of hash every poll interval until it is
// mined. Exhausting the attempt budget yields TRANSACTION_TIMEOUT; a
// canceled ctx yields CANCELED. Polling only reads, so abandoning it leaves
// the manager untouched.
func (m *Manager) WaitForReceipt(ctx context.Context, chainID, hash string) (*web3.TransactionReceipt, error) {
	id := chain.NormalizeChainID(chainID)
	trace := uuid.NewString()
	log := m.logger.With("chain_id", id, "hash", hash, "trace_id", trace)

	var (
		receipt  *web3.TransactionReceipt
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			r, err := m.TransactionReceipt(ctx, id, hash)
			if err != nil {
				switch xerrors.CodeOf(err) {
				case xerrors.CodeClientNotFound, xerrors.CodeCanceled:
					return retry.Unrecoverable(err)
				}
				log.Debug("读取交易回执失败", "attempt", attempts, "error", err)
				return err
			}
			if r == nil {
				return errReceiptPending
			}
			receipt = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.pollAttempts)),
		retry.Delay(m.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)

	switch {
	case err == nil:
		metrics.ObserveConfirmation(id, "confirmed", attempts)
		log.Info("交易已确认", "attempts", attempts, "block", receipt.BlockNumber, "status", receipt.Status)
		return receipt, nil
	case errors.Is(ctx.Err(), context.Canceled):
		metrics.ObserveConfirmation(id, "canceled", attempts)
		return nil, xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "交易确认已取消",
			xerrors.WithMetadata("chain_id", id),
			xerrors.WithMetadata("hash", hash))
	}

	switch xerrors.CodeOf(err) {
	case xerrors.CodeClientNotFound, xerrors.CodeCanceled:
		metrics.ObserveConfirmation(id, "error", attempts)
		return nil, err
	}

	metrics.ObserveConfirmation(id, "timeout", attempts)
	log.Warn("交易确认超时", "attempts", attempts)
	cause := err
	if errors.Is(err, errReceiptPending) {
		cause = nil
	}
	return nil, xerrors.Wrap(xerrors.CodeTransactionTimeout, cause, "交易确认超时",
		xerrors.WithMetadata("chain_id", id),
		xerrors.WithMetadata("hash", hash),
		xerrors.WithMetadata("attempts", strconv.Itoa(attempts)))
}

// PendingTransaction is a submitted transaction whose confirmation runs in
// the background.
type PendingTransaction struct {
	chainID string
	hash    string
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	receipt *web3.TransactionReceipt
	err     error
}

// ChainID returns the chain the transaction was sent to.
func (p *PendingTransaction) ChainID() string { return p.chainID }

// Hash returns the transaction hash.
func (p *PendingTransaction) Hash() string { return p.hash }

// Done is closed once the confirmation finished.
func (p *PendingTransaction) Done() <-chan struct{} { return p.done }

// Cancel stops the confirmation poll. Wait then reports CANCELED.
func (p *PendingTransaction) Cancel() { p.cancel() }

// Result returns the outcome once Done is closed.
func (p *PendingTransaction) Result() (*web3.TransactionReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receipt, p.err
}

// Wait blocks until the confirmation finished or ctx is done. Giving up on
// ctx does not stop the poll.
func (p *PendingTransaction) Wait(ctx context.Context) (*web3.TransactionReceipt, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "停止等待交易确认",
			xerrors.WithMetadata("hash", p.hash))
	}
}

func (p *PendingTransaction) finish(receipt *web3.TransactionReceipt, err error) {
	p.mu.Lock()
	p.receipt, p.err = receipt, err
	p.mu.Unlock()
	close(p.done)
}
