package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/receiptstore"
)

// HandleVerifyReceipt serves GET /verify/:receiptId: returns receipt
// status, "valid" or "consumed".
func (s *Server) HandleVerifyReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	receipt, ok := s.receipts.Get(receiptID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	status := "valid"
	if receipt.Consumed {
		status = "consumed"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"txid":      receipt.Txid,
		"expiresAt": receipt.ExpiresAt,
	})
}

type accessRequestBody struct {
	ReceiptID string `json:"receiptId"`
	Resource  string `json:"resource,omitempty"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// HandleAccess serves POST /access: validates the receipt, optionally
// proxies to an HTTPS target carrying the sponsored-tx hex in an
// X-Payment header, and marks the receipt consumed only after a
// successful downstream response.
func (s *Server) HandleAccess(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	var body accessRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	receipt, ok := s.receipts.Get(body.ReceiptID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
		return
	}
	if receipt.Consumed {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "receipt already consumed"})
		return
	}

	if body.TargetURL == "" {
		result, err := s.receipts.MarkConsumed(r.Context(), body.ReceiptID)
		if err != nil || result != receiptstore.ConsumeTransitioned {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "receipt already consumed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "consumed", "requestId": requestID})
		return
	}

	if err := validateProxyTarget(body.TargetURL); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	proxyCtx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(proxyCtx, http.MethodGet, body.TargetURL, nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not build downstream request"})
		return
	}
	req.Header.Set("X-Payment", receipt.SponsoredTxHex)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "downstream request failed"})
		return
	}
	defer resp.Body.Close()
	downstreamBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "downstream responded with error"})
		return
	}

	_, _ = s.receipts.MarkConsumed(r.Context(), body.ReceiptID)
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(downstreamBody)
}

// validateProxyTarget rejects proxy targets that are not HTTPS or that
// resolve to loopback, link-local, or private address ranges, so /access
// cannot be used to reach internal infrastructure.
func validateProxyTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" {
		return errInvalidTarget
	}
	host := u.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") {
		return errInvalidTarget
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return errInvalidTarget
	}
	for _, ip := range ips {
		if isDeniedIP(ip) {
			return errInvalidTarget
		}
	}
	return nil
}

func isDeniedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified()
}

var errInvalidTarget = &targetError{}

type targetError struct{}

func (e *targetError) Error() string { return "target url not permitted" }
