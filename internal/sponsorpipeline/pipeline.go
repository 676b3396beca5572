// Package sponsorpipeline orchestrates one request end-to-end (§4.7): the
// Sponsor Pipeline that /relay and /sponsor share. /relay runs the full
// 13-step lifecycle; /sponsor skips verify and the receipt. The
// facilitator's /settle does not run through this package; it calls the
// settlement engine directly.
// Grounded on the step-by-step broadcast-then-confirm orchestration in the
// teacher's bitcoin adapter's higher-level Send path, generalized from one
// chain adapter's internal method sequence into a standalone cross-package
// orchestrator that calls the coordinator, fee service, settlement engine,
// and stores as collaborators rather than owning their state itself.
package sponsorpipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/apikeystore"
	"github.com/aibtcdev/sponsor-relay/internal/audit"
	"github.com/aibtcdev/sponsor-relay/internal/bgwork"
	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/feeservice"
	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/aibtcdev/sponsor-relay/internal/noncecoord"
	"github.com/aibtcdev/sponsor-relay/internal/ratelimiter"
	"github.com/aibtcdev/sponsor-relay/internal/receiptstore"
	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/settlement"
	"github.com/aibtcdev/sponsor-relay/internal/sip018"
	"github.com/aibtcdev/sponsor-relay/internal/txwire"
	"github.com/rs/zerolog"
)

// Mode selects which lifecycle variant Run executes.
type Mode int

const (
	ModeRelay Mode = iota
	ModeSponsor
)

// RelayRequest is the parsed body of /relay or /sponsor.
type RelayRequest struct {
	TransactionHex string
	Settle         relaymodel.SettleOptions // zero value for /sponsor
	Auth           *relaymodel.Sip018Auth
	APIKeyID       string // required for /sponsor, empty for /relay
	RequestID      string // for audit log correlation; optional
}

// RelayResponse is returned on every non-error path.
type RelayResponse struct {
	Success      bool
	Txid         string
	Settlement   *relaymodel.Settlement
	SponsoredTx  string
	ReceiptID    string
}

// Pipeline wires together the collaborators a request crosses.
type Pipeline struct {
	nonces      *noncecoord.Coordinator
	fees        *feeservice.Service
	settlement  *settlement.Engine
	dedup       *dedupstore.Store
	receipts    *receiptstore.Store
	limiter     *ratelimiter.Limiter
	apiKeys     *apikeystore.Store
	bg          *bgwork.Pool
	audit       *audit.Logger
	sipDomain   sip018.Domain
	log         zerolog.Logger
	m           *metrics.Metrics

	rrCounter uint64
}

func New(
	nonces *noncecoord.Coordinator,
	fees *feeservice.Service,
	eng *settlement.Engine,
	dedup *dedupstore.Store,
	receipts *receiptstore.Store,
	limiter *ratelimiter.Limiter,
	apiKeys *apikeystore.Store,
	bg *bgwork.Pool,
	auditLog *audit.Logger,
	sipDomain sip018.Domain,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		nonces: nonces, fees: fees, settlement: eng, dedup: dedup,
		receipts: receipts, limiter: limiter, apiKeys: apiKeys, bg: bg,
		audit: auditLog, sipDomain: sipDomain, m: m,
		log: log.With().Str("component", "sponsorpipeline").Logger(),
	}
}

// Run executes the full request lifecycle and records it to the audit log
// in the background, then returns a RelayResponse or a *relayerr.RelayError
// describing the failure and its HTTP treatment.
func (p *Pipeline) Run(ctx context.Context, mode Mode, req RelayRequest, maxTimeoutSeconds int) (*RelayResponse, error) {
	start := time.Now()
	resp, err := p.run(ctx, mode, req, maxTimeoutSeconds)
	if p.audit != nil {
		entry := audit.Entry{
			ID:        req.RequestID,
			Timestamp: start,
			Operation: operationName(mode),
			RequestID: req.RequestID,
			Status:    "SUCCESS",
		}
		if resp != nil {
			entry.Txid = resp.Txid
		}
		if err != nil {
			entry.Status = "FAILURE"
			entry.FailureReason = err.Error()
		}
		p.bg.Submit(func() { _ = p.audit.Log(entry) })
	}
	return resp, err
}

func operationName(mode Mode) string {
	if mode == ModeSponsor {
		return audit.OpSponsor
	}
	return audit.OpRelay
}

// logDecision fires a granular per-decision-point audit entry (nonce
// assign/release/consume, broadcast, receipt issuance) in the background,
// the way best-effort side effects are handled throughout the pipeline
// (§9: fire-and-forget, never awaited on the response path). The one
// per-request summary entry in Run covers the overall outcome; these cover
// the individual state transitions within it.
func (p *Pipeline) logDecision(op, requestID string, walletIndex int, nonce uint64, txid, status, failureReason string) {
	if p.audit == nil {
		return
	}
	entry := audit.Entry{
		Timestamp:     time.Now(),
		Operation:     op,
		RequestID:     requestID,
		WalletIndex:   walletIndex,
		Nonce:         nonce,
		Txid:          txid,
		Status:        status,
		FailureReason: failureReason,
	}
	p.bg.Submit(func() { _ = p.audit.Log(entry) })
}

// run is the unlogged 13-step lifecycle; Run wraps it with audit logging.
func (p *Pipeline) run(ctx context.Context, mode Mode, req RelayRequest, maxTimeoutSeconds int) (*RelayResponse, error) {
	action := "relay"
	if mode == ModeSponsor {
		action = "sponsor"
	}

	// Step 1: parse & validate.
	if req.TransactionHex == "" {
		return nil, relayerr.NewNonRetryable(relayerr.CodeMissingTransaction, "transaction is required", nil)
	}
	if mode == ModeRelay {
		if err := settlement.ValidateSettleOptions(req.Settle); err != nil {
			return nil, relayerr.NewNonRetryable(relayerr.CodeInvalidSettleOptions, err.Error(), err)
		}
	}
	tx, err := txwire.Decode(req.TransactionHex)
	if err != nil {
		return nil, relayerr.NewNonRetryable(relayerr.CodeInvalidTransaction, err.Error(), err)
	}
	if req.Auth != nil {
		if err := sip018.Verify(p.sipDomain, action, *req.Auth, time.Now()); err != nil {
			return nil, relayerr.New(relayerr.CodeInvalidTransaction, err.Error(), relayerr.UserIntervention, err)
		}
	}

	agentKey := tx.SenderAuth.Signer

	// Step 2: sender rate-limit.
	if !p.limiter.Allow(agentKey) {
		retry := p.limiter.RetryAfter(agentKey)
		return nil, relayerr.NewRetryable(relayerr.CodeRateLimitExceeded, "too many requests", retry, nil)
	}

	// Step 3: dedup check, keyed on the tx fingerprint (sha256 of the
	// normalized hex), not the raw hex itself.
	if cached, hit, _ := p.settlement.CheckDedup(req.TransactionHex); hit {
		return dedupToResponse(cached), nil
	}

	// Step 4: clamp-fee estimate.
	fee, _, err := p.fees.ClampForTxType(ctx, tx.TxType(), relaymodel.FeeMedium)
	if err != nil {
		return nil, relayerr.New(relayerr.CodeSponsorConfigError, "fee estimate unavailable", relayerr.Retryable, err)
	}

	// Step 4.5: per-key daily quota check (§6 DAILY_LIMIT_EXCEEDED /
	// SPENDING_CAP_EXCEEDED), only applies to requests carrying an API key.
	if req.APIKeyID != "" {
		keyMeta, err := p.apiKeys.Resolve(req.APIKeyID)
		if err != nil {
			return nil, relayerr.New(relayerr.CodeInvalidAPIKey, "unknown api key", relayerr.UserIntervention, err)
		}
		if err := p.apiKeys.CheckDailyLimits(req.APIKeyID, keyMeta.Tier, fee); err != nil {
			retryAfter := time.Until(nextUTCMidnight())
			if dle, ok := err.(*apikeystore.DailyLimitError); ok && dle.Kind == "fee" {
				return nil, relayerr.NewRetryable(relayerr.CodeSpendingCapExceeded, err.Error(), retryAfter, err)
			}
			return nil, relayerr.NewRetryable(relayerr.CodeDailyLimitExceeded, err.Error(), retryAfter, err)
		}
	}

	// Step 5: nonce assign.
	walletIndex := p.pickWallet()
	assignment, err := p.nonces.Assign(ctx, walletIndex, agentKey)
	if err != nil {
		return nil, relayerr.AsRelayError(err)
	}
	p.logDecision(audit.OpNonceAssign, req.RequestID, walletIndex, assignment.Nonce, "", "SUCCESS", "")
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.nonces.Release(relCtx, walletIndex, assignment.Nonce)
		p.logDecision(audit.OpNonceRelease, req.RequestID, walletIndex, assignment.Nonce, "", "SUCCESS", "")
	}

	// Step 6: sponsor-sign.
	tx.SponsorAuth = sponsorAuthFor(p.nonces.WalletAddress(walletIndex), assignment.Nonce, fee)
	signedHex, err := txwire.Encode(tx)
	if err != nil {
		release()
		return nil, relayerr.New(relayerr.CodeSponsorFailed, "could not encode sponsored transaction", relayerr.Retryable, err)
	}

	// Step 7: verify payment params (relay only).
	var verified *settlement.VerifiedPayment
	if mode == ModeRelay {
		verified, err = p.settlement.VerifyPaymentParams(signedHex, req.Settle)
		if err != nil {
			release()
			return nil, relayerr.NewNonRetryable(relayerr.CodeSettlementVerificationFailed, err.Error(), err)
		}
	}

	// Step 8: broadcast & poll.
	maxPollMs := (maxTimeoutSeconds - 5) * 1000
	if maxPollMs <= 0 {
		maxPollMs = 55 * 1000
	}
	txBytes, err := txwire.RawBytes(signedHex)
	if err != nil {
		release()
		return nil, relayerr.NewNonRetryable(relayerr.CodeInvalidTransaction, err.Error(), err)
	}
	outcome, err := p.settlement.BroadcastAndConfirm(ctx, txBytes, maxPollMs)
	if err != nil {
		release()
		p.logDecision(audit.OpBroadcast, req.RequestID, walletIndex, assignment.Nonce, "", "FAILURE", err.Error())
		return nil, relayerr.New(relayerr.CodeBroadcastFailed, err.Error(), relayerr.Retryable, err)
	}

	// Step 9: broadcast failure handling.
	if outcome.NonceConflict {
		release()
		p.logDecision(audit.OpBroadcast, req.RequestID, walletIndex, assignment.Nonce, "", "FAILURE", outcome.ErrMessage)
		p.nonces.RecordConflict(ctx, walletIndex)
		p.nonces.ResyncDelayed(walletIndex)
		return nil, relayerr.NewNonceConflict(outcome.ErrMessage, nil)
	}
	if outcome.Retryable {
		release()
		p.logDecision(audit.OpBroadcast, req.RequestID, walletIndex, assignment.Nonce, "", "FAILURE", outcome.ErrMessage)
		retry := 5 * time.Second
		return nil, relayerr.NewRetryable(relayerr.CodeSettlementBroadcastFailed, outcome.ErrMessage, retry, nil)
	}
	if outcome.FatalOnChain {
		release()
		p.logDecision(audit.OpBroadcast, req.RequestID, walletIndex, assignment.Nonce, outcome.Txid, "FAILURE", outcome.ErrMessage)
		return nil, relayerr.NewNonRetryable(relayerr.CodeSettlementFailed, outcome.ErrMessage, nil)
	}

	// Step 10: broadcast success.
	released = true
	consumeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = p.nonces.Consume(consumeCtx, walletIndex, assignment.Nonce, fee)
	cancel()
	p.logDecision(audit.OpBroadcast, req.RequestID, walletIndex, assignment.Nonce, outcome.Txid, "SUCCESS", "")
	p.logDecision(audit.OpNonceConsume, req.RequestID, walletIndex, assignment.Nonce, outcome.Txid, "SUCCESS", "")
	if req.APIKeyID != "" {
		p.bg.Submit(func() { p.apiKeys.RecordUsage(req.APIKeyID, fee) })
	}

	resp := &RelayResponse{Success: true, Txid: outcome.Txid, SponsoredTx: signedHex}
	if mode == ModeRelay && verified != nil {
		resp.Settlement = &relaymodel.Settlement{
			Status:      outcome.Status,
			Sender:      verified.Sender,
			Recipient:   verified.Recipient,
			Amount:      settlement.FormatAmount(verified.Amount),
			TokenType:   verified.TokenType,
			BlockHeight: outcome.BlockHeight,
		}
	}

	// Step 11: store receipt (best-effort, relay only).
	if mode == ModeRelay {
		receipt := relaymodel.Receipt{
			ReceiptID:      receiptstore.NewReceiptID(),
			CreatedAt:      time.Now(),
			SenderAddress:  agentKeyOrSender(verified, agentKey),
			SponsoredTxHex: signedHex,
			Fee:            feeservice.FormatFee(fee),
			Txid:           outcome.Txid,
			Settle:         req.Settle,
		}
		if p.receipts.Store(receipt) {
			resp.ReceiptID = receipt.ReceiptID
			p.logDecision(audit.OpReceiptIssued, req.RequestID, walletIndex, assignment.Nonce, receipt.Txid, "SUCCESS", "")
		}
	}

	// Step 12: record dedup entry, TTL 5 minutes.
	entry := relaymodel.DedupEntry{
		Txid:        outcome.Txid,
		ReceiptID:   resp.ReceiptID,
		Status:      string(outcome.Status),
		BlockHeight: outcome.BlockHeight,
		SponsoredTx: signedHex,
	}
	if verified != nil {
		entry.Sender = verified.Sender
		entry.Recipient = verified.Recipient
		entry.Amount = settlement.FormatAmount(verified.Amount)
	}
	p.bg.Submit(func() { _ = p.settlement.RecordDedup(req.TransactionHex, entry) })

	return resp, nil
}

// nextUTCMidnight returns the next UTC day boundary, the point at which
// apikeystore's daily counters roll over.
func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func agentKeyOrSender(v *settlement.VerifiedPayment, fallback string) string {
	if v != nil {
		return v.Sender
	}
	return fallback
}

// pickWallet chooses the next sponsor wallet round-robin across requests,
// per §4.2's load-balancing note: wallets are independent, so round-robin
// gives horizontal headroom without cross-wallet coordination.
func (p *Pipeline) pickWallet() int {
	n := p.nonces.WalletCount()
	if n <= 0 {
		return 0
	}
	next := atomic.AddUint64(&p.rrCounter, 1) - 1
	return int(next % uint64(n))
}

func sponsorAuthFor(address string, nonce, fee uint64) txwire.AuthCondition {
	return txwire.AuthCondition{Signer: address, Nonce: nonce, Fee: fee}
}

func dedupToResponse(entry *relaymodel.DedupEntry) *RelayResponse {
	resp := &RelayResponse{Success: true, Txid: entry.Txid, SponsoredTx: entry.SponsoredTx, ReceiptID: entry.ReceiptID}
	if entry.Sender != "" || entry.Recipient != "" {
		resp.Settlement = &relaymodel.Settlement{
			Status:      relaymodel.SettlementStatus(entry.Status),
			Sender:      entry.Sender,
			Recipient:   entry.Recipient,
			Amount:      entry.Amount,
			BlockHeight: entry.BlockHeight,
		}
	}
	return resp
}
