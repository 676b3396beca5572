package facilitator

import (
	"context"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/aibtcdev/sponsor-relay/internal/settlement"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
	"github.com/aibtcdev/sponsor-relay/internal/txwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNetwork = "testnet"

func newTestFacilitator() (*Facilitator, *chainclient.Mock) {
	mock := chainclient.NewMock()
	dedup := dedupstore.New(ttlstore.New())
	engine := settlement.New(mock, dedup)
	return New(engine, dedup, testNetwork), mock
}

func nativeTransferHex(t *testing.T, recipient, amount string) string {
	t.Helper()
	tx := &txwire.Tx{
		SenderAuth:  txwire.AuthCondition{Signer: "ST1SENDER", Nonce: 1, Signature: "sig"},
		PayloadKind: txwire.PayloadNativeTransfer,
		Native:      &txwire.NativeTransferPayload{Recipient: recipient, Amount: amount},
	}
	hex, err := txwire.Encode(tx)
	require.NoError(t, err)
	return hex
}

func validRequirements() PaymentRequirements {
	return PaymentRequirements{Scheme: "exact", Network: testNetwork, Amount: "100", Asset: "native", PayTo: "ST1RECIPIENT"}
}

func TestSupportedListsExactScheme(t *testing.T) {
	resp := Supported(testNetwork)
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, "exact", resp.Kinds[0].Scheme)
	assert.Equal(t, testNetwork, resp.Kinds[0].Network)
}

func TestVerifyRejectsWrongNetwork(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentRequirements: PaymentRequirements{Scheme: "exact", Network: "mainnet", Amount: "1", PayTo: "ST1"},
	}
	resp := f.Verify(req)
	assert.False(t, resp.IsValid)
	assert.Equal(t, relayerr.ReasonInvalidNetwork, resp.InvalidReason)
}

func TestVerifyRejectsUnsupportedScheme(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentRequirements: PaymentRequirements{Scheme: "upfront", Network: testNetwork, Amount: "1", PayTo: "ST1"},
	}
	resp := f.Verify(req)
	assert.False(t, resp.IsValid)
	assert.Equal(t, relayerr.ReasonUnsupportedScheme, resp.InvalidReason)
}

func TestVerifySucceeds(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp := f.Verify(req)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "ST1SENDER", resp.Payer)
}

func TestVerifyReportsRecipientMismatch(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1OTHER", "500")}},
	}
	resp := f.Verify(req)
	assert.False(t, resp.IsValid)
	assert.Equal(t, relayerr.ReasonRecipientMismatch, resp.InvalidReason)
}

func TestSettleRejectsEmptyTransaction(t *testing.T) {
	f, _ := newTestFacilitator()
	resp, conflict := f.Settle(context.Background(), SettleRequest{PaymentRequirements: validRequirements()})
	assert.False(t, conflict)
	assert.False(t, resp.Success)
	assert.Equal(t, relayerr.ReasonInvalidPayload, resp.ErrorReason)
}

func TestSettleSucceedsAndConfirms(t *testing.T) {
	f, mock := newTestFacilitator()
	height := uint64(10)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp, conflict := f.Settle(context.Background(), req)
	assert.False(t, conflict)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xMOCK", resp.Transaction)
}

func TestSettlePaymentIDReplayReturnsCachedResponse(t *testing.T) {
	f, mock := newTestFacilitator()
	height := uint64(10)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}
	req := SettleRequest{
		PaymentID:           "order-123-abcdefgh",
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	first, _ := f.Settle(context.Background(), req)
	require.True(t, first.Success)

	second, conflict := f.Settle(context.Background(), req)
	assert.False(t, conflict)
	assert.Equal(t, first.Transaction, second.Transaction)
	assert.Equal(t, 1, mock.BroadcastCalls, "replay must not re-broadcast")
}

func TestSettlePaymentIDConflictOnDifferentPayload(t *testing.T) {
	f, mock := newTestFacilitator()
	height := uint64(10)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}
	req := SettleRequest{
		PaymentID:           "order-123-abcdefgh",
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	_, _ = f.Settle(context.Background(), req)

	req2 := req
	req2.PaymentRequirements.Amount = "999"
	resp, conflict := f.Settle(context.Background(), req2)
	assert.True(t, conflict)
	assert.Equal(t, relayerr.ReasonPaymentIdentifierConflict, resp.ErrorReason)
}

func TestSettleRejectsMalformedPaymentID(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentID:           "too-short",
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp, conflict := f.Settle(context.Background(), req)
	assert.False(t, conflict)
	assert.False(t, resp.Success)
	assert.Equal(t, relayerr.ReasonInvalidPayload, resp.ErrorReason)
}

func TestVerifyRejectsMalformedPaymentID(t *testing.T) {
	f, _ := newTestFacilitator()
	req := SettleRequest{
		PaymentID:           "bad id with spaces!!",
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp := f.Verify(req)
	assert.False(t, resp.IsValid)
	assert.Equal(t, relayerr.ReasonInvalidPayload, resp.InvalidReason)
}

func TestSettleTxFingerprintDedupWithoutPaymentID(t *testing.T) {
	f, mock := newTestFacilitator()
	height := uint64(10)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	first, _ := f.Settle(context.Background(), req)
	require.True(t, first.Success)

	second, _ := f.Settle(context.Background(), req)
	assert.Equal(t, first.Transaction, second.Transaction)
	assert.Equal(t, 1, mock.BroadcastCalls, "retrying identical tx bytes must not re-broadcast")
}

func TestSettleReportsNonceConflict(t *testing.T) {
	f, mock := newTestFacilitator()
	mock.BroadcastFunc = func(ctx context.Context, txBytes []byte) (*chainclient.BroadcastResult, error) {
		return &chainclient.BroadcastResult{Rejected: true, Reason: "ConflictingNonceInMempool"}, nil
	}
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp, _ := f.Settle(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Equal(t, relayerr.ReasonConflictingNonce, resp.ErrorReason)
}

func TestSettleReportsTransactionFailedOnAbort(t *testing.T) {
	f, mock := newTestFacilitator()
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusAbort}, nil
	}
	req := SettleRequest{
		PaymentRequirements: validRequirements(),
		PaymentPayload:      PaymentPayload{Payload: TransactionPayload{Transaction: nativeTransferHex(t, "ST1RECIPIENT", "500")}},
	}
	resp, _ := f.Settle(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Equal(t, relayerr.ReasonTransactionFailed, resp.ErrorReason)
}
