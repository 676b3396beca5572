package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/facilitator"
	"github.com/aibtcdev/sponsor-relay/internal/settlement"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
	"github.com/aibtcdev/sponsor-relay/internal/txwire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServerForFacilitator(t *testing.T) (*Server, *chainclient.Mock) {
	t.Helper()
	mock := chainclient.NewMock()
	dedup := dedupstore.New(ttlstore.New())
	engine := settlement.New(mock, dedup)
	fac := facilitator.New(engine, dedup, "testnet")
	s := NewServer(nil, fac, nil, nil, nil, nil, "testnet", "", zerolog.Nop())
	return s, mock
}

func nativeTransferTxHex(t *testing.T) string {
	t.Helper()
	tx := &txwire.Tx{
		SenderAuth:  txwire.AuthCondition{Signer: "ST1SENDER", Nonce: 1, Signature: "sig"},
		PayloadKind: txwire.PayloadNativeTransfer,
		Native:      &txwire.NativeTransferPayload{Recipient: "ST1RECIPIENT", Amount: "500"},
	}
	hex, err := txwire.Encode(tx)
	require.NoError(t, err)
	return hex
}

func TestHandleSettleReturns400OnMalformedJSON(t *testing.T) {
	s, _ := newTestServerForFacilitator(t)
	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewBufferString("not-json"))
	rec := httptest.NewRecorder()

	s.HandleSettle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSettleReturns200OnSuccess(t *testing.T) {
	s, mock := newTestServerForFacilitator(t)
	height := uint64(5)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}

	body := facilitator.SettleRequest{
		PaymentRequirements: facilitator.PaymentRequirements{Scheme: "exact", Network: "testnet", Amount: "100", Asset: "native", PayTo: "ST1RECIPIENT"},
		PaymentPayload:      facilitator.PaymentPayload{Payload: facilitator.TransactionPayload{Transaction: nativeTransferTxHex(t)}},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.HandleSettle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp facilitator.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestHandleSettleReturns409OnPaymentIDConflict(t *testing.T) {
	s, mock := newTestServerForFacilitator(t)
	height := uint64(5)
	mock.StatusFunc = func(ctx context.Context, txid string) (*chainclient.TxStatusResult, error) {
		return &chainclient.TxStatusResult{Status: chainclient.StatusSuccess, BlockHeight: &height}, nil
	}

	body := facilitator.SettleRequest{
		PaymentID:           "order-1-abcdefghij",
		PaymentRequirements: facilitator.PaymentRequirements{Scheme: "exact", Network: "testnet", Amount: "100", Asset: "native", PayTo: "ST1RECIPIENT"},
		PaymentPayload:      facilitator.PaymentPayload{Payload: facilitator.TransactionPayload{Transaction: nativeTransferTxHex(t)}},
	}
	raw, _ := json.Marshal(body)
	s.HandleSettle(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(raw)))

	body.PaymentRequirements.Amount = "999"
	raw2, _ := json.Marshal(body)
	rec := httptest.NewRecorder()
	s.HandleSettle(rec, httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(raw2)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleVerifyReturns200WithIsValid(t *testing.T) {
	s, _ := newTestServerForFacilitator(t)
	body := facilitator.SettleRequest{
		PaymentRequirements: facilitator.PaymentRequirements{Scheme: "exact", Network: "testnet", Amount: "100", Asset: "native", PayTo: "ST1RECIPIENT"},
		PaymentPayload:      facilitator.PaymentPayload{Payload: facilitator.TransactionPayload{Transaction: nativeTransferTxHex(t)}},
	}
	raw, _ := json.Marshal(body)
	rec := httptest.NewRecorder()
	s.HandleVerify(rec, httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(raw)))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp facilitator.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
}

func TestHandleSupportedListsExactScheme(t *testing.T) {
	s, _ := newTestServerForFacilitator(t)
	rec := httptest.NewRecorder()
	s.HandleSupported(rec, httptest.NewRequest(http.MethodGet, "/supported", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp facilitator.SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, "exact", resp.Kinds[0].Scheme)
}
