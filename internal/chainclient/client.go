// Package chainclient talks to the upstream chain indexer: broadcasting
// transactions and fetching tx status, next-possible nonce, and fee
// estimates. It round-robins across configured endpoints with a
// circuit-breaker health tracker, the same failover shape as the teacher's
// rpc.HTTPRPCClient, adapted from JSON-RPC transport to the indexer's REST
// API (Hiro-style for a Stacks-anchored chain).
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/rs/zerolog"
)

// literal substrings the spec recognizes as nonce conflicts; everything
// else is a generic broadcast failure.
const (
	reasonConflictingNonce = "ConflictingNonceInMempool"
	reasonBadNonce         = "BadNonce"
)

// RateLimitError reports a 429 response from the indexer, carrying the
// cooldown the caller should wait out before retrying (§4.3).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("chain indexer rate limited, retry after %s", e.RetryAfter)
}

type BroadcastResult struct {
	Txid     string
	Rejected bool
	Reason   string
}

// IsNonceConflict reports whether a rejection reason names a nonce conflict.
func (r *BroadcastResult) IsNonceConflict() bool {
	return strings.Contains(r.Reason, reasonConflictingNonce) || strings.Contains(r.Reason, reasonBadNonce)
}

type TxChainStatus string

const (
	StatusPending TxChainStatus = "pending"
	StatusSuccess TxChainStatus = "success"
	StatusAbort   TxChainStatus = "abort_by_response"
	StatusDropped TxChainStatus = "dropped_replace_by_fee"
)

// IsAbortOrDropped reports whether status means the tx failed on-chain.
func (s TxChainStatus) IsAbortOrDropped() bool {
	return strings.HasPrefix(string(s), "abort_") || strings.HasPrefix(string(s), "dropped_")
}

type TxStatusResult struct {
	Status      TxChainStatus
	BlockHeight *uint64
}

// Client is the Chain Client component (§4.1).
type Client struct {
	endpoints  []string
	apiKey     string
	health     *healthTracker
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        zerolog.Logger
	nextIdx    int
}

func New(endpoints []string, apiKey string, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one chain endpoint is required")
	}
	return &Client{
		endpoints:  endpoints,
		apiKey:     apiKey,
		health:     newHealthTracker(),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		log:        log.With().Str("component", "chainclient").Logger(),
	}, nil
}

// Broadcast submits a signed transaction to the chain.
func (c *Client) Broadcast(ctx context.Context, txBytes []byte) (*BroadcastResult, error) {
	body, status, err := c.doWithFailover(ctx, "broadcast", http.MethodPost, "/v2/transactions", "application/octet-stream", txBytes)
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK {
		var txid string
		if uerr := json.Unmarshal(body, &txid); uerr == nil && txid != "" {
			c.metrics.BroadcastsTotal.WithLabelValues("success").Inc()
			return &BroadcastResult{Txid: strings.Trim(txid, `"`)}, nil
		}
	}
	var reasonBody struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	_ = json.Unmarshal(body, &reasonBody)
	reason := reasonBody.Reason
	if reason == "" {
		reason = reasonBody.Error
	}
	if reason == "" {
		reason = string(body)
	}
	c.metrics.BroadcastsTotal.WithLabelValues("rejected").Inc()
	return &BroadcastResult{Rejected: true, Reason: reason}, nil
}

// GetTxStatus fetches the current chain status of a transaction. A 404 is
// treated as pending (not yet indexed), per §4.1.
func (c *Client) GetTxStatus(ctx context.Context, txid string) (*TxStatusResult, error) {
	body, status, err := c.doWithFailover(ctx, "getTxStatus", http.MethodGet, "/extended/v1/tx/"+txid, "", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &TxStatusResult{Status: StatusPending}, nil
	}
	var parsed struct {
		TxStatus    string  `json:"tx_status"`
		BlockHeight *uint64 `json:"block_height"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse tx status: %w", err)
	}
	if parsed.TxStatus == "" {
		return &TxStatusResult{Status: StatusPending}, nil
	}
	return &TxStatusResult{Status: TxChainStatus(parsed.TxStatus), BlockHeight: parsed.BlockHeight}, nil
}

// GetPossibleNextNonce returns the indexer's view of the address's next
// unused nonce.
func (c *Client) GetPossibleNextNonce(ctx context.Context, address string) (uint64, error) {
	body, _, err := c.doWithFailover(ctx, "getPossibleNextNonce", http.MethodGet, "/extended/v1/address/"+address+"/nonces", "", nil)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		PossibleNextNonce uint64 `json:"possible_next_nonce"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parse nonce response: %w", err)
	}
	return parsed.PossibleNextNonce, nil
}

// GetFeeEstimates fetches raw fee estimates for every tx-type/priority pair.
func (c *Client) GetFeeEstimates(ctx context.Context) (relaymodel.FeeEstimates, error) {
	body, _, err := c.doWithFailover(ctx, "getFeeEstimates", http.MethodGet, "/v2/fees/transfer", "", nil)
	if err != nil {
		return nil, err
	}
	var parsed relaymodel.FeeEstimates
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse fee estimates: %w", err)
	}
	return parsed, nil
}

// doWithFailover attempts the call against every endpoint in round-robin +
// health order; each attempt is bounded by the http.Client timeout given
// to New (10s as wired in cmd/relay) and by ctx.
func (c *Client) doWithFailover(ctx context.Context, method, httpMethod, path, contentType string, payload []byte) ([]byte, int, error) {
	start := time.Now()
	attempted := make(map[string]bool)
	var lastErr error

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		body, status, err := c.callEndpoint(ctx, endpoint, httpMethod, path, contentType, payload)
		if err == nil {
			c.health.recordSuccess(endpoint, time.Since(start).Milliseconds())
			c.metrics.RPCCallsTotal.WithLabelValues(method, "success").Inc()
			c.metrics.RPCCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return body, status, nil
		}
		if rle, ok := err.(*RateLimitError); ok {
			// A 429 is the indexer's own throttling, not an endpoint
			// health problem; failing over to another configured
			// endpoint wouldn't help and would mask the cooldown from
			// the caller (feeservice needs it to set its own cooldown).
			c.metrics.RPCCallsTotal.WithLabelValues(method, "rate_limited").Inc()
			return nil, http.StatusTooManyRequests, rle
		}
		c.health.recordFailure(endpoint)
		c.log.Warn().Err(err).Str("endpoint", endpoint).Str("method", method).Msg("chain rpc call failed")
		lastErr = err
	}
	c.metrics.RPCCallsTotal.WithLabelValues(method, "failure").Inc()
	return nil, 0, fmt.Errorf("all chain endpoints failed for %s: %w", method, lastErr)
}

func (c *Client) callEndpoint(ctx context.Context, endpoint, httpMethod, path, contentType string, payload []byte) ([]byte, int, error) {
	url := strings.TrimRight(endpoint, "/") + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, &RateLimitError{RetryAfter: retryAfterFromHeader(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

// retryAfterFromHeader parses a Retry-After header value (seconds), falling
// back to a 60s cooldown when the header is absent or unparsable.
func retryAfterFromHeader(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

func (c *Client) nextHealthyEndpoint(attempted map[string]bool) string {
	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.nextIdx + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.health.isHealthy(endpoint) {
			c.nextIdx = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}
	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}
