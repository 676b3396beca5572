// Package sip018 verifies the structured-data domain signature attached to
// relay requests: the domain binds name, version, and chainId, the message
// binds action/nonce/expiry, so a signature minted for one endpoint's
// action cannot authorize another (§5 concurrency-bug (d)). Signature
// verification uses github.com/btcsuite/btcd/btcec/v2, the same curve library
// the teacher's bitcoin adapter signs with.
package sip018

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Domain binds a signature to this deployment: chain name, contract
// version, and chain id, the way SIP-018 structured data is domain-scoped.
type Domain struct {
	Name    string
	Version string
	ChainID string
}

// StructuredHash produces the digest actually signed: sha256 over the
// domain and the action/nonce/expiry message, so the domain cannot be
// swapped onto a differently-scoped signature.
func StructuredHash(domain Domain, action, nonce string, expiry int64) [32]byte {
	msg := fmt.Sprintf("%s|%s|%s|%s|%s|%d", domain.Name, domain.Version, domain.ChainID, action, nonce, expiry)
	return sha256.Sum256([]byte(msg))
}

// Verify checks auth against the expected endpoint action and domain: the
// expiry must be in the future, the nonce must parse as an integer, and
// the DER signature must verify against the public key in auth.Signer.
func Verify(domain Domain, action string, auth relaymodel.Sip018Auth, now time.Time) error {
	if auth.Action != action {
		return fmt.Errorf("signature action %q does not authorize endpoint %q", auth.Action, action)
	}
	if auth.Expiry <= now.Unix() {
		return fmt.Errorf("signature expired")
	}
	if _, err := parseNonce(auth.Nonce); err != nil {
		return fmt.Errorf("invalid nonce: %w", err)
	}

	sigBytes, err := hex.DecodeString(auth.SigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	pubKeyBytes, err := hex.DecodeString(auth.Signer)
	if err != nil {
		return fmt.Errorf("invalid signer hex: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("invalid signer public key: %w", err)
	}

	digest := StructuredHash(domain, action, auth.Nonce, auth.Expiry)
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.Verify(digest[:], pubKey) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

func parseNonce(nonce string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(nonce, "%d", &n)
	return n, err
}
