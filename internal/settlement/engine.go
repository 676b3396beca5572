// Package settlement implements the Settlement Engine (§4.6):
// validateSettleOptions, verifyPaymentParams, and broadcastAndConfirm.
// The broadcast-then-poll-with-backoff shape is grounded on the teacher's
// BitcoinAdapter.Broadcast (idempotency pre-check, RPC submit, tolerant
// "already broadcast" string matching) and QueryStatus/SubscribeStatus
// (confirmation-threshold classification, backoff poll loop).
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/stacksaddr"
	"github.com/aibtcdev/sponsor-relay/internal/txwire"
)

// knownTokenContracts is the hard-coded allow-list of SIP-010 token
// contracts the engine recognizes; any other contract address is rejected
// as an unsupported token contract.
var knownTokenContracts = map[string]relaymodel.TokenType{
	"SP000000000000000000002Q6VF78.bridged-btc":      relaymodel.TokenBridgedBTC,
	"SP000000000000000000002Q6VF78.usda-stablecoin":  relaymodel.TokenStablecoin,
}

type VerifyError struct {
	Reason string
}

func (e *VerifyError) Error() string { return e.Reason }

// VerifiedPayment is the outcome of a successful verifyPaymentParams call.
type VerifiedPayment struct {
	Sender    string
	Recipient string
	Amount    *big.Int
	TokenType relaymodel.TokenType
	Tx        *txwire.Tx
}

// Engine is the Settlement Engine.
type Engine struct {
	chain  chainclient.API
	dedup  *dedupstore.Store
}

func New(chain chainclient.API, dedup *dedupstore.Store) *Engine {
	return &Engine{chain: chain, dedup: dedup}
}

// ValidateSettleOptions performs the shape and range checks described in §3.
func ValidateSettleOptions(opts relaymodel.SettleOptions) error {
	if opts.ExpectedRecipient == "" {
		return &VerifyError{Reason: "expectedRecipient is required"}
	}
	amount, ok := new(big.Int).SetString(opts.MinAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return &VerifyError{Reason: "minAmount must be a positive integer string"}
	}
	switch opts.TokenType {
	case "", relaymodel.TokenNative, relaymodel.TokenBridgedBTC, relaymodel.TokenStablecoin:
	default:
		return &VerifyError{Reason: "unsupported tokenType"}
	}
	return nil
}

// VerifyPaymentParams deserializes the candidate transaction and checks its
// payment parameters against the declared settle options.
func (e *Engine) VerifyPaymentParams(txHex string, opts relaymodel.SettleOptions) (*VerifiedPayment, error) {
	tx, err := txwire.Decode(txHex)
	if err != nil {
		return nil, &VerifyError{Reason: err.Error()}
	}

	var recipient, sender string
	var amountStr string
	var detectedType relaymodel.TokenType

	switch tx.PayloadKind {
	case txwire.PayloadNativeTransfer:
		if tx.Native == nil {
			return nil, &VerifyError{Reason: "missing native transfer payload"}
		}
		recipient = tx.Native.Recipient
		amountStr = tx.Native.Amount
		detectedType = relaymodel.TokenNative
		sender = tx.SenderAuth.Signer
	case txwire.PayloadContractCall:
		if tx.ContractCall == nil {
			return nil, &VerifyError{Reason: "missing contract call payload"}
		}
		cc := tx.ContractCall
		if cc.FunctionName != "transfer" {
			return nil, &VerifyError{Reason: "unsupported contract function"}
		}
		key := cc.ContractAddress + "." + cc.ContractName
		tokenType, known := knownTokenContracts[key]
		if !known {
			return nil, &VerifyError{Reason: "Unsupported token contract"}
		}
		if len(cc.Args) < 3 {
			return nil, &VerifyError{Reason: "contract call missing positional args"}
		}
		amountStr = cc.Args[0]
		sender = cc.Args[1]
		recipient = cc.Args[2]
		detectedType = tokenType
	default:
		return nil, &VerifyError{Reason: "unrecognized payload kind"}
	}

	wantType := opts.TokenType
	if wantType == "" {
		wantType = relaymodel.TokenNative
	}
	if detectedType != wantType {
		return nil, &VerifyError{Reason: "Token type mismatch"}
	}
	if !stacksaddr.EqualFold(recipient, opts.ExpectedRecipient) {
		return nil, &VerifyError{Reason: "Recipient mismatch"}
	}

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, &VerifyError{Reason: "invalid amount"}
	}
	minAmount, _ := new(big.Int).SetString(opts.MinAmount, 10)
	if amount.Cmp(minAmount) < 0 {
		return nil, &VerifyError{Reason: "Insufficient payment amount"}
	}

	return &VerifiedPayment{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		TokenType: detectedType,
		Tx:        tx,
	}, nil
}

// BroadcastOutcome is the result of BroadcastAndConfirm.
type BroadcastOutcome struct {
	Status        relaymodel.SettlementStatus
	Txid          string
	BlockHeight   *uint64
	NonceConflict bool
	Retryable     bool
	FatalOnChain  bool
	ErrMessage    string
}

const (
	pollInitial = 2 * time.Second
	pollFactor  = 1.5
	pollCap     = 8 * time.Second
	pollOverallMax = 60 * time.Second
)

// BroadcastAndConfirm submits txBytes and polls for confirmation with
// bounded exponential backoff, capped at min(maxPollMs, 60s). maxPollMs
// should already be caller-timeout minus headroom before this is invoked.
func (e *Engine) BroadcastAndConfirm(ctx context.Context, txBytes []byte, maxPollMs int) (*BroadcastOutcome, error) {
	result, err := e.chain.Broadcast(ctx, txBytes)
	if err != nil {
		return nil, err
	}
	if result.Rejected {
		if result.IsNonceConflict() {
			return &BroadcastOutcome{NonceConflict: true, ErrMessage: result.Reason}, nil
		}
		return &BroadcastOutcome{Retryable: true, ErrMessage: result.Reason}, nil
	}

	overallCap := pollOverallMax
	if maxPollMs > 0 && time.Duration(maxPollMs)*time.Millisecond < overallCap {
		overallCap = time.Duration(maxPollMs) * time.Millisecond
	}

	deadline := time.Now().Add(overallCap)
	backoff := pollInitial
	for {
		status, err := e.chain.GetTxStatus(ctx, result.Txid)
		if err == nil {
			switch {
			case status.Status == chainclient.StatusSuccess && status.BlockHeight != nil:
				return &BroadcastOutcome{Status: relaymodel.SettlementConfirmed, Txid: result.Txid, BlockHeight: status.BlockHeight}, nil
			case status.Status.IsAbortOrDropped():
				return &BroadcastOutcome{Txid: result.Txid, FatalOnChain: true, ErrMessage: "Transaction failed on-chain"}, nil
			}
		}
		// A failed poll does not fail the pipeline; it only skips this iteration.

		if time.Now().Add(backoff).After(deadline) {
			return &BroadcastOutcome{Status: relaymodel.SettlementPending, Txid: result.Txid}, nil
		}
		select {
		case <-ctx.Done():
			return &BroadcastOutcome{Status: relaymodel.SettlementPending, Txid: result.Txid}, nil
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * pollFactor)
		if backoff > pollCap {
			backoff = pollCap
		}
	}
}

// CheckDedup and RecordDedup delegate to the Dedup Store.
func (e *Engine) CheckDedup(txHex string) (*relaymodel.DedupEntry, bool, error) {
	return e.dedup.CheckDedup(txwire.Fingerprint(txHex))
}

func (e *Engine) RecordDedup(txHex string, entry relaymodel.DedupEntry) error {
	return e.dedup.RecordDedup(txwire.Fingerprint(txHex), entry)
}

// FormatAmount renders a big.Int amount as its decimal string, the
// canonical form stored in dedup/receipt entries.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// ContractAllowListKey builds the lookup key used by knownTokenContracts,
// exported for tests and admin tooling that need to validate a contract
// reference before constructing settle options.
func ContractAllowListKey(address, name string) string {
	return fmt.Sprintf("%s.%s", strings.TrimSpace(address), strings.TrimSpace(name))
}
