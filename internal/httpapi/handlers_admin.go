package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/aibtcdev/sponsor-relay/internal/noncecoord"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

type adminResetBody struct {
	WalletIndex int    `json:"walletIndex"`
	Mode        string `json:"mode"` // "resync" or "hardReset"
}

// HandleAdminReset exposes the Nonce Coordinator's admin reset operation
// named in spec.md, gated by the static admin token.
func (s *Server) HandleAdminReset(w http.ResponseWriter, r *http.Request) {
	var body adminResetBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	mode := noncecoord.ResetResync
	if body.Mode == "hardReset" {
		mode = noncecoord.ResetHardReset
	}
	if err := s.nonces.Reset(r.Context(), body.WalletIndex, mode); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminClampBody struct {
	Config map[string]struct {
		Floor   uint64 `json:"floor"`
		Ceiling uint64 `json:"ceiling"`
	} `json:"config"`
}

// HandleAdminSetClamp exposes the Fee Service's setClampConfig operation.
func (s *Server) HandleAdminSetClamp(w http.ResponseWriter, r *http.Request) {
	var body adminClampBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	cfg := make(relaymodel.ClampConfig, len(body.Config))
	for k, v := range body.Config {
		cfg[relaymodel.TxType(k)] = relaymodel.FeeClamp{Floor: v.Floor, Ceiling: v.Ceiling}
	}
	if err := s.fees.SetClampConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
