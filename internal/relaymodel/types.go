// Package relaymodel holds the wire and domain types shared across the
// relay's components: settle options, receipts, dedup and payment-identifier
// entries, fee estimates and clamps, and API-key tiers and metadata.
package relaymodel

import "time"

// TokenType identifies the kind of value a settled transaction moves.
type TokenType string

const (
	TokenNative       TokenType = "native"
	TokenBridgedBTC   TokenType = "bridgedBTC"
	TokenStablecoin   TokenType = "stablecoin"
)

// SettleOptions are the payment requirements a request claims to satisfy.
type SettleOptions struct {
	ExpectedRecipient string    `json:"expectedRecipient"`
	MinAmount         string    `json:"minAmount"`
	TokenType         TokenType `json:"tokenType,omitempty"`
	ExpectedSender    string    `json:"expectedSender,omitempty"`
	Resource          string    `json:"resource,omitempty"`
	Method            string    `json:"method,omitempty"`
	MaxTimeoutSeconds int       `json:"maxTimeoutSeconds,omitempty"`
}

// Sip018Auth is the structured-data signature attached to a relay request.
type Sip018Auth struct {
	Signer  string `json:"signer"`
	Action  string `json:"action"`
	Nonce   string `json:"nonce"`
	Expiry  int64  `json:"expiry"`
	SigHex  string `json:"signature"`
}

// SettlementStatus is the outcome of broadcast-and-confirm.
type SettlementStatus string

const (
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementPending   SettlementStatus = "pending"
)

// Settlement is the detected payment parameters plus on-chain outcome.
type Settlement struct {
	Status        SettlementStatus `json:"status"`
	Sender        string           `json:"sender"`
	Recipient     string           `json:"recipient"`
	Amount        string           `json:"amount"`
	TokenType     TokenType        `json:"tokenType"`
	BlockHeight   *uint64          `json:"blockHeight,omitempty"`
}

// Receipt is issued after a successful broadcast.
type Receipt struct {
	ReceiptID      string        `json:"receiptId"`
	CreatedAt      time.Time     `json:"createdAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	SenderAddress  string        `json:"senderAddress"`
	SponsoredTxHex string        `json:"sponsoredTxHex"`
	Fee            string        `json:"fee"`
	Txid           string        `json:"txid"`
	Settle         SettleOptions `json:"settle"`
	Consumed       bool          `json:"consumed"`
	AccessCount    int           `json:"accessCount"`
}

// DedupEntry is keyed by the tx fingerprint (sha256 of the normalized hex).
type DedupEntry struct {
	Txid          string    `json:"txid"`
	ReceiptID     string    `json:"receiptId,omitempty"`
	Status        string    `json:"status"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Amount        string    `json:"amount"`
	BlockHeight   *uint64   `json:"blockHeight,omitempty"`
	SponsoredTx   string    `json:"sponsoredTx,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// PaymentIDEntry binds a client-chosen idempotency key to the exact
// (paymentPayload, paymentRequirements) pair that first used it.
type PaymentIDEntry struct {
	PayloadHash    string          `json:"payloadHash"`
	CachedResponse interface{}     `json:"cachedResponse"`
}

// FeeClamp is the floor/ceiling applied to a tx-type's raw fee estimate.
type FeeClamp struct {
	Floor   uint64 `json:"floor"`
	Ceiling uint64 `json:"ceiling"`
}

// ClampConfig is one FeeClamp per tx-type.
type ClampConfig map[TxType]FeeClamp

// TxType classifies the payload shape a fee estimate or clamp applies to.
type TxType string

const (
	TxTypeTokenTransfer  TxType = "token_transfer"
	TxTypeContractCall   TxType = "contract_call"
	TxTypeSmartContract  TxType = "smart_contract"
)

// FeePriority is the speed tier within a fee estimate.
type FeePriority string

const (
	FeeLow    FeePriority = "low"
	FeeMedium FeePriority = "medium"
	FeeHigh   FeePriority = "high"
)

// FeeEstimates is the chain client's raw or clamped fee table.
type FeeEstimates map[TxType]map[FeePriority]uint64

// APIKeyTier bounds request and spending rates for a tier of API key.
type APIKeyTier struct {
	Name        string `json:"name"`
	ReqPerMin   int    `json:"reqPerMin"`
	DailyReq    int    `json:"dailyReq"`
	DailyFeeCap uint64 `json:"dailyFeeCap"`
}

// APIKeyMetadata is read-only input to the pipeline; provisioning is an
// external collaborator (BIP-137/322 and SIWS signed-message verification).
type APIKeyMetadata struct {
	KeyID     string     `json:"keyId"`
	Tier      APIKeyTier `json:"tier"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Active    bool       `json:"active"`
}
