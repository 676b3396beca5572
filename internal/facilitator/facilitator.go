// Package facilitator implements the spec-compliant x402-style surface
// (§6): /settle verifies and broadcasts a pre-sponsored transaction,
// /verify checks payment params without broadcasting, /supported lists
// the accepted scheme/network/extension combinations. Unlike the Sponsor
// Pipeline, the facilitator never attaches a sponsor signature — the
// transaction arrives already fully authorized. Grounded on the teacher's
// ChainAdapter.QueryStatus/Broadcast pairing, reused here through the
// Settlement Engine instead of a direct adapter call.
package facilitator

import (
	"context"

	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/settlement"
	"github.com/aibtcdev/sponsor-relay/internal/txwire"
)

const chainNamespace = "stacks"

// PaymentPayload is the facilitator request envelope's payload section.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version,omitempty"`
	Payload     TransactionPayload     `json:"payload"`
	Accepted    map[string]interface{} `json:"accepted,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

type TransactionPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentRequirements mirrors the x402 "exact" scheme requirements.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Amount            string `json:"amount"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// SettleRequest is the body of POST /settle and POST /verify.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version,omitempty"`
	PaymentID           string              `json:"paymentId,omitempty"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the body of POST /settle.
type SettleResponse struct {
	Success     bool                         `json:"success"`
	Payer       string                       `json:"payer,omitempty"`
	Transaction string                       `json:"transaction,omitempty"`
	Network     string                       `json:"network"`
	ErrorReason relayerr.FacilitatorReason   `json:"errorReason,omitempty"`
	Extensions  map[string]interface{}       `json:"extensions,omitempty"`
}

// VerifyResponse is the body of POST /verify.
type VerifyResponse struct {
	IsValid       bool                       `json:"isValid"`
	Payer         string                     `json:"payer,omitempty"`
	InvalidReason relayerr.FacilitatorReason `json:"invalidReason,omitempty"`
	Extensions    map[string]interface{}     `json:"extensions,omitempty"`
}

// SupportedKind is one entry of GET /supported's kinds array.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind        `json:"kinds"`
	Extensions []string               `json:"extensions"`
	Signers    map[string][]string    `json:"signers"`
}

func Supported(network string) SupportedResponse {
	return SupportedResponse{
		Kinds:      []SupportedKind{{X402Version: 1, Scheme: "exact", Network: network}},
		Extensions: []string{},
		Signers:    map[string][]string{chainNamespace + ":*": {}},
	}
}

type requirementsError struct {
	reason relayerr.FacilitatorReason
}

func (e *requirementsError) Error() string { return string(e.reason) }

// validateRequirements checks the requirements shape and returns the
// facilitator reason to report on failure.
func validateRequirements(req PaymentRequirements, network string) (relaymodel.SettleOptions, error) {
	if req.Scheme == "" {
		return relaymodel.SettleOptions{}, &requirementsError{relayerr.ReasonInvalidPaymentRequirements}
	}
	if req.Scheme != "exact" {
		return relaymodel.SettleOptions{}, &requirementsError{relayerr.ReasonUnsupportedScheme}
	}
	if req.Network != network {
		return relaymodel.SettleOptions{}, &requirementsError{relayerr.ReasonInvalidNetwork}
	}
	tokenType := relaymodel.TokenNative
	if req.Asset != "" && req.Asset != "native" {
		tokenType = relaymodel.TokenStablecoin
	}
	opts := relaymodel.SettleOptions{
		ExpectedRecipient: req.PayTo,
		MinAmount:         req.Amount,
		TokenType:         tokenType,
		MaxTimeoutSeconds: req.MaxTimeoutSeconds,
	}
	if err := settlement.ValidateSettleOptions(opts); err != nil {
		return relaymodel.SettleOptions{}, &requirementsError{relayerr.ReasonInvalidPaymentRequirements}
	}
	return opts, nil
}

// Facilitator handles /settle, /verify, /supported against the Settlement
// Engine and the payment-identifier namespace of the Dedup Store.
type Facilitator struct {
	engine  *settlement.Engine
	dedup   *dedupstore.Store
	network string
}

func New(engine *settlement.Engine, dedup *dedupstore.Store, network string) *Facilitator {
	return &Facilitator{engine: engine, dedup: dedup, network: network}
}

// Verify checks payment params without broadcasting.
func (f *Facilitator) Verify(req SettleRequest) VerifyResponse {
	if req.PaymentID != "" {
		if err := dedupstore.ValidatePaymentID(req.PaymentID); err != nil {
			return VerifyResponse{InvalidReason: relayerr.ReasonInvalidPayload}
		}
	}
	opts, err := validateRequirements(req.PaymentRequirements, f.network)
	if err != nil {
		return VerifyResponse{InvalidReason: err.(*requirementsError).reason}
	}
	verified, verr := f.engine.VerifyPaymentParams(req.PaymentPayload.Payload.Transaction, opts)
	if verr != nil {
		return VerifyResponse{InvalidReason: reasonForVerifyError(verr)}
	}
	return VerifyResponse{IsValid: true, Payer: verified.Sender}
}

// Settle verifies, checks the payment-identifier cache, broadcasts, and
// polls to confirmation. HTTP 400 is reserved for malformed requests (the
// caller maps that before invoking Settle); everything else, including
// on-chain failure, returns HTTP 200 with success:false.
func (f *Facilitator) Settle(ctx context.Context, req SettleRequest) (SettleResponse, bool) {
	txHex := req.PaymentPayload.Payload.Transaction
	if txHex == "" {
		return SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonInvalidPayload}, false
	}
	if req.PaymentID != "" {
		if err := dedupstore.ValidatePaymentID(req.PaymentID); err != nil {
			return SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonInvalidPayload}, false
		}
	}

	// Payment-identifier is checked first (survives retries that rebuild
	// different bytes); tx-fingerprint dedup is checked on miss (survives
	// retries that rebuild the same bytes). See §4.4.
	if req.PaymentID != "" {
		payloadHash := txwire.Fingerprint(txHex + "|" + req.PaymentRequirements.Amount + "|" + req.PaymentRequirements.PayTo)
		result, cached, _ := f.dedup.CheckPaymentID(req.PaymentID, payloadHash)
		switch result {
		case dedupstore.PaymentIDConflict:
			return SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonPaymentIdentifierConflict}, true
		case dedupstore.PaymentIDHit:
			if resp, ok := cached.CachedResponse.(SettleResponse); ok {
				return resp, false
			}
		}
	}
	if cached, hit, _ := f.engine.CheckDedup(txHex); hit {
		resp := SettleResponse{Success: cached.Txid != "", Payer: cached.Sender, Transaction: cached.Txid, Network: f.network}
		return resp, false
	}

	opts, err := validateRequirements(req.PaymentRequirements, f.network)
	if err != nil {
		return SettleResponse{Network: f.network, ErrorReason: err.(*requirementsError).reason}, false
	}

	verified, verr := f.engine.VerifyPaymentParams(txHex, opts)
	if verr != nil {
		resp := SettleResponse{Network: f.network, ErrorReason: reasonForVerifyError(verr)}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}

	maxPollMs := 55000
	if opts.MaxTimeoutSeconds > 0 {
		maxPollMs = (opts.MaxTimeoutSeconds - 5) * 1000
	}
	txBytes, err := txwire.RawBytes(txHex)
	if err != nil {
		resp := SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonInvalidPayload}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}
	outcome, berr := f.engine.BroadcastAndConfirm(ctx, txBytes, maxPollMs)
	if berr != nil {
		resp := SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonBroadcastFailed}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}
	if outcome.NonceConflict {
		resp := SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonConflictingNonce}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}
	if outcome.Retryable {
		resp := SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonBroadcastFailed}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}
	if outcome.FatalOnChain {
		resp := SettleResponse{Network: f.network, ErrorReason: relayerr.ReasonTransactionFailed}
		f.recordPaymentID(req, txHex, resp)
		return resp, false
	}

	resp := SettleResponse{Success: true, Payer: verified.Sender, Transaction: outcome.Txid, Network: f.network}
	f.recordPaymentID(req, txHex, resp)
	_ = f.engine.RecordDedup(txHex, relaymodel.DedupEntry{
		Txid:      outcome.Txid,
		Status:    string(outcome.Status),
		Sender:    verified.Sender,
		Recipient: verified.Recipient,
		Amount:    settlement.FormatAmount(verified.Amount),
	})
	return resp, false
}

func (f *Facilitator) recordPaymentID(req SettleRequest, txHex string, resp SettleResponse) {
	if req.PaymentID == "" {
		return
	}
	payloadHash := txwire.Fingerprint(txHex + "|" + req.PaymentRequirements.Amount + "|" + req.PaymentRequirements.PayTo)
	_ = f.dedup.RecordPaymentID(req.PaymentID, payloadHash, resp)
}

func reasonForVerifyError(err error) relayerr.FacilitatorReason {
	ve, ok := err.(*settlement.VerifyError)
	if !ok {
		return relayerr.ReasonInvalidTransactionState
	}
	switch ve.Reason {
	case "Token type mismatch":
		return relayerr.ReasonUnrecognizedAsset
	case "Recipient mismatch":
		return relayerr.ReasonRecipientMismatch
	case "Insufficient payment amount":
		return relayerr.ReasonAmountInsufficient
	case "Unsupported token contract":
		return relayerr.ReasonUnrecognizedAsset
	default:
		return relayerr.ReasonInvalidTransactionState
	}
}
