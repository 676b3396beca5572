package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/sponsorpipeline"
)

type relayRequestBody struct {
	Transaction string                    `json:"transaction"`
	Settle      relaymodel.SettleOptions  `json:"settle"`
	Auth        *relaymodel.Sip018Auth    `json:"auth,omitempty"`
}

type sponsorRequestBody struct {
	Transaction string                 `json:"transaction"`
	Auth        *relaymodel.Sip018Auth `json:"auth,omitempty"`
}

// HandleRelay serves POST /relay: full pipeline with verify, receipt, and
// dedup.
func (s *Server) HandleRelay(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	var body relayRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, requestID, relayerr.NewNonRetryable(relayerr.CodeMissingTransaction, "invalid JSON body", err))
		return
	}

	maxTimeout := body.Settle.MaxTimeoutSeconds
	if maxTimeout <= 0 {
		maxTimeout = 60
	}
	resp, err := s.pipeline.Run(r.Context(), sponsorpipeline.ModeRelay, sponsorpipeline.RelayRequest{
		TransactionHex: body.Transaction,
		Settle:         body.Settle,
		Auth:           body.Auth,
		RequestID:      requestID,
	}, maxTimeout)
	if err != nil {
		WriteError(w, requestID, relayerr.AsRelayError(err))
		return
	}
	WriteSuccess(w, requestID, SuccessPayload{
		Txid:        resp.Txid,
		Settlement:  resp.Settlement,
		SponsoredTx: resp.SponsoredTx,
		ReceiptID:   resp.ReceiptID,
	})
}

// HandleSponsor serves POST /sponsor: sponsors and broadcasts, no
// settlement verification, no receipt. Requires a bearer API key.
func (s *Server) HandleSponsor(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	keyID, ok := bearerAPIKey(r)
	if !ok {
		WriteError(w, requestID, relayerr.New(relayerr.CodeInvalidAPIKey, "missing or malformed Authorization header", relayerr.UserIntervention, nil))
		return
	}
	keyMeta, err := s.apiKeys.Resolve(keyID)
	if err != nil {
		WriteError(w, requestID, relayerr.New(relayerr.CodeInvalidAPIKey, "unknown api key", relayerr.UserIntervention, err))
		return
	}
	if !keyMeta.Active || keyMeta.ExpiresAt.Before(time.Now()) {
		WriteError(w, requestID, relayerr.New(relayerr.CodeExpiredAPIKey, "api key expired or inactive", relayerr.UserIntervention, nil))
		return
	}

	var body sponsorRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, requestID, relayerr.NewNonRetryable(relayerr.CodeMissingTransaction, "invalid JSON body", err))
		return
	}

	resp, err := s.pipeline.Run(r.Context(), sponsorpipeline.ModeSponsor, sponsorpipeline.RelayRequest{
		TransactionHex: body.Transaction,
		Auth:           body.Auth,
		APIKeyID:       keyID,
		RequestID:      requestID,
	}, 60)
	if err != nil {
		WriteError(w, requestID, relayerr.AsRelayError(err))
		return
	}
	WriteSuccess(w, requestID, SuccessPayload{Txid: resp.Txid, SponsoredTx: resp.SponsoredTx})
}

func bearerAPIKey(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	key := strings.TrimPrefix(h, "Bearer ")
	if key == "" {
		return "", false
	}
	return key, true
}
