// Package relayerr classifies every error the relay can return through a
// single mapper type, the way chainadapter.ChainError classifies adapter
// errors: a closed code set, a retry classification, and an optional
// suggested retry delay that the HTTP layer mirrors into Retry-After.
package relayerr

import (
	"errors"
	"fmt"
	"time"
)

// Classification is the retry category assigned to a RelayError.
type Classification int

const (
	Retryable Classification = iota
	NonRetryable
	UserIntervention
)

func (c Classification) String() string {
	switch c {
	case Retryable:
		return "Retryable"
	case NonRetryable:
		return "NonRetryable"
	case UserIntervention:
		return "UserIntervention"
	default:
		return "Unknown"
	}
}

// Code is one of the closed set of error codes in the HTTP taxonomy.
type Code string

const (
	CodeMissingTransaction          Code = "MISSING_TRANSACTION"
	CodeMissingSettleOptions        Code = "MISSING_SETTLE_OPTIONS"
	CodeInvalidSettleOptions        Code = "INVALID_SETTLE_OPTIONS"
	CodeInvalidTransaction          Code = "INVALID_TRANSACTION"
	CodeNotSponsored                Code = "NOT_SPONSORED"
	CodeRateLimitExceeded           Code = "RATE_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded          Code = "DAILY_LIMIT_EXCEEDED"
	CodeSpendingCapExceeded         Code = "SPENDING_CAP_EXCEEDED"
	CodeSponsorConfigError          Code = "SPONSOR_CONFIG_ERROR"
	CodeSponsorFailed               Code = "SPONSOR_FAILED"
	CodeNonceDOUnavailable          Code = "NONCE_DO_UNAVAILABLE"
	CodeBroadcastFailed             Code = "BROADCAST_FAILED"
	CodeSettlementVerificationFailed Code = "SETTLEMENT_VERIFICATION_FAILED"
	CodeSettlementBroadcastFailed   Code = "SETTLEMENT_BROADCAST_FAILED"
	CodeNonceConflict               Code = "NONCE_CONFLICT"
	CodeSettlementFailed            Code = "SETTLEMENT_FAILED"
	CodeReceiptConsumed             Code = "RECEIPT_CONSUMED"
	CodeNotFound                    Code = "NOT_FOUND"
	CodeInvalidAPIKey               Code = "INVALID_API_KEY"
	CodeExpiredAPIKey               Code = "EXPIRED_API_KEY"
	CodeInternalError                Code = "INTERNAL_ERROR"
)

// httpStatus is the HTTP status for each code; HTTPStatus returns 500 for a
// code not listed. Retry-After is not part of this table: each call site
// sets RelayError.RetryAfter, so it can differ between errors of one code.
var httpStatus = map[Code]int{
	CodeMissingTransaction:           400,
	CodeMissingSettleOptions:         400,
	CodeInvalidSettleOptions:         400,
	CodeInvalidTransaction:           400,
	CodeNotSponsored:                 400,
	CodeRateLimitExceeded:            429,
	CodeDailyLimitExceeded:           429,
	CodeSpendingCapExceeded:          429,
	CodeSponsorConfigError:           500,
	CodeSponsorFailed:                500,
	CodeNonceDOUnavailable:           503,
	CodeBroadcastFailed:              502,
	CodeSettlementVerificationFailed: 400,
	CodeSettlementBroadcastFailed:    502,
	CodeNonceConflict:                409,
	CodeSettlementFailed:             422,
	CodeReceiptConsumed:              409,
	CodeNotFound:                     404,
	CodeInvalidAPIKey:                401,
	CodeExpiredAPIKey:                401,
	CodeInternalError:                500,
}

// FacilitatorReason is one of the closed set returned in errorReason /
// invalidReason by the facilitator endpoints.
type FacilitatorReason string

const (
	ReasonInvalidPayload             FacilitatorReason = "invalid_payload"
	ReasonInvalidPaymentRequirements FacilitatorReason = "invalid_payment_requirements"
	ReasonInvalidNetwork             FacilitatorReason = "invalid_network"
	ReasonInvalidScheme              FacilitatorReason = "invalid_scheme"
	ReasonUnsupportedScheme          FacilitatorReason = "unsupported_scheme"
	ReasonUnrecognizedAsset          FacilitatorReason = "unrecognized_asset"
	ReasonRecipientMismatch          FacilitatorReason = "recipient_mismatch"
	ReasonAmountInsufficient         FacilitatorReason = "amount_insufficient"
	ReasonInvalidTransactionState    FacilitatorReason = "invalid_transaction_state"
	ReasonBroadcastFailed            FacilitatorReason = "broadcast_failed"
	ReasonTransactionFailed          FacilitatorReason = "transaction_failed"
	ReasonConflictingNonce           FacilitatorReason = "conflicting_nonce"
	ReasonPaymentIdentifierConflict  FacilitatorReason = "payment_identifier_conflict"
)

// RelayError is the single error type every component returns through.
type RelayError struct {
	Code           Code
	Message        string
	Classification Classification
	RetryAfter     *time.Duration
	NonceConflict  bool
	Cause          error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code the HTTP layer should send.
func (e *RelayError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

func New(code Code, message string, classification Classification, cause error) *RelayError {
	return &RelayError{Code: code, Message: message, Classification: classification, Cause: cause}
}

func NewRetryable(code Code, message string, retryAfter time.Duration, cause error) *RelayError {
	return &RelayError{Code: code, Message: message, Classification: Retryable, RetryAfter: &retryAfter, Cause: cause}
}

func NewNonRetryable(code Code, message string, cause error) *RelayError {
	return &RelayError{Code: code, Message: message, Classification: NonRetryable, Cause: cause}
}

func NewNonceConflict(message string, cause error) *RelayError {
	retry := time.Second
	return &RelayError{Code: CodeNonceConflict, Message: message, Classification: Retryable, RetryAfter: &retry, NonceConflict: true, Cause: cause}
}

// IsRetryable reports whether err (or the RelayError it wraps) is retryable.
func IsRetryable(err error) bool {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Classification == Retryable
	}
	return false
}

// IsNonceConflict reports whether err is a nonce-conflict broadcast failure.
func IsNonceConflict(err error) bool {
	if re, ok := err.(*RelayError); ok {
		return re.NonceConflict
	}
	return false
}

// AsRelayError unwraps err to a *RelayError, wrapping unknown errors as
// internal errors so callers always have a code and HTTP status to report.
func AsRelayError(err error) *RelayError {
	if err == nil {
		return nil
	}
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}
	return New(CodeInternalError, err.Error(), Retryable, err)
}
