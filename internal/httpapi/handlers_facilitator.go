package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/aibtcdev/sponsor-relay/internal/facilitator"
)

// HandleSettle serves POST /settle: HTTP 200 for both success and business
// failure, 400 only for malformed requests, 409 for a payment-identifier
// conflict.
func (s *Server) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var body facilitator.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, facilitator.SettleResponse{Network: s.network, ErrorReason: "invalid_payload"})
		return
	}
	resp, conflict := s.facilitator.Settle(r.Context(), body)
	if conflict {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleVerify serves POST /verify: same request shape as /settle, no
// broadcast.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var body facilitator.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, facilitator.VerifyResponse{InvalidReason: "invalid_payload"})
		return
	}
	writeJSON(w, http.StatusOK, s.facilitator.Verify(body))
}

// HandleSupported serves GET /supported: the static scheme/network list.
func (s *Server) HandleSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, facilitator.Supported(s.network))
}
