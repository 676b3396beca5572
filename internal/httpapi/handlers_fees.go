package httpapi

import "net/http"

type feesResponse struct {
	Estimates interface{} `json:"estimates"`
	Source    string      `json:"source"`
}

// HandleFees serves GET /fees: public, returns clamped estimates and the
// source they came from.
func (s *Server) HandleFees(w http.ResponseWriter, r *http.Request) {
	estimates, source, err := s.fees.GetEstimates(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, feesResponse{Source: string(source)})
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{Estimates: estimates, Source: string(source)})
}
