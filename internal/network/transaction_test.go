package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/internal/web3"
)

var transferTx = web3.TransactionRequest{
	From:  "0x00000000000000000000000000000000000000aa",
	To:    "0x00000000000000000000000000000000000000bb",
	Value: "1000",
}

func TestSendTransactionWaitsForReceipt(t *testing.T) {
	m, net, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)
	ft := net.transport("https://0x1.example")
	ft.receiptAfter = 3

	receipt, err := m.SendTransaction(ctx, "0x1", transferTx)
	require.NoError(t, err)
	require.Equal(t, "0xabc", receipt.TransactionHash)
	require.True(t, receipt.Status)
	require.Equal(t, int32(3), ft.receiptCalls.Load())
}

func TestSendTransactionTimesOutAfterPollBudget(t *testing.T) {
	m, net, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)
	ft := net.transport("https://0x1.example")

	_, err = m.SendTransaction(ctx, "0x1", transferTx)
	require.Equal(t, xerrors.CodeTransactionTimeout, xerrors.CodeOf(err))
	require.Equal(t, int32(60), ft.receiptCalls.Load())

	coded, _ := xerrors.From(err)
	require.Equal(t, "60", coded.Metadata()["attempts"])
	require.Equal(t, "0xabc", coded.Metadata()["hash"])
}

func TestWaitForReceiptKeepsPollingThroughReadErrors(t *testing.T) {
	m, net, _ := newTestManager(t, WithPolling(time.Millisecond, 5))
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)
	ft := net.transport("https://0x1.example")
	ft.receiptErr = &web3.TransportError{StatusCode: 502, Err: errNodeDown}

	_, err = m.WaitForReceipt(ctx, "0x1", "0xabc")
	require.Equal(t, xerrors.CodeTransactionTimeout, xerrors.CodeOf(err))
	require.Equal(t, int32(5), ft.receiptCalls.Load())
	require.ErrorContains(t, err, "connection refused")
}

func TestSendTransactionSubmitFailure(t *testing.T) {
	m, net, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)
	ft := net.transport("https://0x1.example")
	ft.sendErr = &web3.ProtocolError{Code: -32000, Message: "insufficient funds"}

	_, err = m.SendTransaction(ctx, "0x1", transferTx)
	require.Equal(t, xerrors.CodeRPC, xerrors.CodeOf(err))
	require.Zero(t, ft.receiptCalls.Load())
}

func TestSendTransactionAsyncCompletes(t *testing.T) {
	m, net, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)
	net.transport("https://0x1.example").receiptAfter = 2

	reqCtx, cancelReq := context.WithCancel(ctx)
	pending, err := m.SendTransactionAsync(reqCtx, "0x1", transferTx)
	require.NoError(t, err)
	cancelReq()
	require.Equal(t, "0xabc", pending.Hash())
	require.Equal(t, "0x1", pending.ChainID())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	receipt, err := pending.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), receipt.BlockNumber)
}

func TestSendTransactionAsyncCancel(t *testing.T) {
	m, _, _ := newTestManager(t, WithPolling(time.Hour, 60))
	ctx := context.Background()
	_, err := m.CreateClient(ctx, testChain("0x1"))
	require.NoError(t, err)

	pending, err := m.SendTransactionAsync(ctx, "0x1", transferTx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(short)
	require.Equal(t, xerrors.CodeCanceled, xerrors.CodeOf(err))

	pending.Cancel()
	select {
	case <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation poll did not stop after Cancel")
	}
	_, err = pending.Result()
	require.Equal(t, xerrors.CodeCanceled, xerrors.CodeOf(err))
	require.True(t, m.HasClient("0x1"))
}

func TestWaitForReceiptStopsWhenClientRemoved(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.WaitForReceipt(context.Background(), "0x1", "0xabc")
	require.Equal(t, xerrors.CodeClientNotFound, xerrors.CodeOf(err))
}
