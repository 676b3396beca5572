package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

// envelope is the JSON response shape written by WriteSuccess and
// WriteError (/relay, /sponsor, and panics caught by Recovery):
// success/requestId on every response, error fields only on failure,
// retryAfter mirrored into a Retry-After header. The facilitator, /fees,
// receipt, admin, and rate-limit responses use their own shapes.
type envelope struct {
	Success     bool                    `json:"success"`
	RequestID   string                  `json:"requestId"`
	Txid        string                  `json:"txid,omitempty"`
	ExplorerURL string                  `json:"explorerUrl,omitempty"`
	Settlement  *relaymodel.Settlement  `json:"settlement,omitempty"`
	SponsoredTx string                  `json:"sponsoredTx,omitempty"`
	ReceiptID   string                  `json:"receiptId,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Code        relayerr.Code           `json:"code,omitempty"`
	Retryable   bool                    `json:"retryable,omitempty"`
	Details     string                  `json:"details,omitempty"`
	RetryAfter  float64                 `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a successful transaction-producing response.
func WriteSuccess(w http.ResponseWriter, requestID string, resp SuccessPayload) {
	writeJSON(w, http.StatusOK, envelope{
		Success:     true,
		RequestID:   requestID,
		Txid:        resp.Txid,
		ExplorerURL: resp.ExplorerURL,
		Settlement:  resp.Settlement,
		SponsoredTx: resp.SponsoredTx,
		ReceiptID:   resp.ReceiptID,
	})
}

// SuccessPayload is the transaction-producing fields of a success envelope.
type SuccessPayload struct {
	Txid        string
	ExplorerURL string
	Settlement  *relaymodel.Settlement
	SponsoredTx string
	ReceiptID   string
}

// WriteError writes a RelayError as its mapped HTTP status and mirrors
// RetryAfter into both the body and the Retry-After header.
func WriteError(w http.ResponseWriter, requestID string, err *relayerr.RelayError) {
	env := envelope{
		Success:   false,
		RequestID: requestID,
		Error:     err.Message,
		Code:      err.Code,
		Retryable: err.Classification == relayerr.Retryable,
	}
	if err.RetryAfter != nil {
		seconds := err.RetryAfter.Seconds()
		env.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(int(seconds+0.999)))
	}
	writeJSON(w, err.HTTPStatus(), env)
}

func internalError() *relayerr.RelayError {
	return relayerr.New(relayerr.CodeInternalError, "internal error", relayerr.Retryable, nil)
}
