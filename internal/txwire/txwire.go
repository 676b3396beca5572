// Package txwire decodes and encodes the sponsored-transaction wire
// format: a sender auth condition (signature over a zero fee and the
// agent's next nonce) and a sponsor auth condition, empty until the relay
// fills it, wrapping a native-transfer or SIP-010-style contract-call
// payload. Grounded on the Build/Sign shapes of the teacher's bitcoin and
// ethereum chain adapters (UnsignedTransaction/SignedTransaction,
// SigningPayload, serialize-then-hash), generalized to one wire format
// instead of two per-chain ones. The wire representation is JSON encoded
// to hex, the same "opaque byte sequence, content-hash for dedup" contract
// as the teacher's state-store keying by raw tx hash.
package txwire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

// PayloadKind distinguishes a native transfer from a SIP-010 contract call.
type PayloadKind string

const (
	PayloadNativeTransfer PayloadKind = "native_transfer"
	PayloadContractCall   PayloadKind = "contract_call"
)

type AuthCondition struct {
	Signer    string `json:"signer"`
	Nonce     uint64 `json:"nonce"`
	Fee       uint64 `json:"fee"`
	Signature string `json:"signature,omitempty"`
}

// IsEmpty reports whether the sponsor auth has not yet been filled.
func (a AuthCondition) IsEmpty() bool { return a.Signature == "" && a.Signer == "" }

type NativeTransferPayload struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo,omitempty"`
}

type ContractCallPayload struct {
	ContractAddress string   `json:"contractAddress"`
	ContractName    string   `json:"contractName"`
	FunctionName    string   `json:"functionName"`
	Args            []string `json:"args"` // positional args: [amount, from, to, memo?] for SIP-010 transfer
}

// Tx is the decoded sponsored-transaction wire structure.
type Tx struct {
	SenderAuth  AuthCondition         `json:"senderAuth"`
	SponsorAuth AuthCondition         `json:"sponsorAuth"`
	PayloadKind PayloadKind           `json:"payloadKind"`
	Native      *NativeTransferPayload `json:"native,omitempty"`
	ContractCall *ContractCallPayload `json:"contractCall,omitempty"`
}

// TxType classifies the payload for fee-estimate and clamp lookups.
func (t *Tx) TxType() relaymodel.TxType {
	switch t.PayloadKind {
	case PayloadNativeTransfer:
		return relaymodel.TxTypeTokenTransfer
	case PayloadContractCall:
		return relaymodel.TxTypeContractCall
	default:
		return relaymodel.TxTypeSmartContract
	}
}

// Decode parses a hex-encoded wire transaction.
func Decode(txHex string) (*Tx, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(txHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	var tx Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("invalid transaction payload: %w", err)
	}
	if tx.PayloadKind == PayloadNativeTransfer && tx.Native == nil {
		return nil, fmt.Errorf("native transfer payload missing")
	}
	if tx.PayloadKind == PayloadContractCall && tx.ContractCall == nil {
		return nil, fmt.Errorf("contract call payload missing")
	}
	return &tx, nil
}

// Encode normalizes and hex-encodes tx back to the wire format.
func Encode(tx *Tx) (string, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NormalizedHex lower-cases and strips an optional 0x prefix, the
// normalization the fingerprint is computed over.
func NormalizedHex(txHex string) string {
	return strings.ToLower(strings.TrimPrefix(txHex, "0x"))
}

// Fingerprint is the sha256 of the normalized hex, the tx fingerprint used
// for dedup.
func Fingerprint(txHex string) string {
	sum := sha256.Sum256([]byte(NormalizedHex(txHex)))
	return hex.EncodeToString(sum[:])
}

// IsSponsored reports whether the sponsor auth condition has been filled.
func (t *Tx) IsSponsored() bool { return !t.SponsorAuth.IsEmpty() }

// RawBytes decodes a hex-encoded wire transaction to the raw bytes the
// chain client broadcasts, without decoding its JSON structure.
func RawBytes(txHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(txHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	return raw, nil
}
