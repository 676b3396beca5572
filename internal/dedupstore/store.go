// Package dedupstore implements the Dedup & Idempotency Store (§4.4): two
// namespaces over a shared TTL key-value store — tx-fingerprint dedup and
// client-supplied payment-identifier idempotency.
package dedupstore

import (
	"fmt"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
)

const (
	DedupTTL     = 300 * time.Second
	PaymentIDTTL = 300 * time.Second
)

type Store struct {
	kv *ttlstore.Store
}

func New(kv *ttlstore.Store) *Store {
	return &Store{kv: kv}
}

func dedupKey(fingerprint string) string { return "dedup:" + fingerprint }
func paymentIDKey(id string) string      { return "paymentid:" + id }

// CheckDedup returns the cached entry for a tx fingerprint, if any.
func (s *Store) CheckDedup(fingerprint string) (*relaymodel.DedupEntry, bool, error) {
	var e relaymodel.DedupEntry
	found, err := s.kv.Get(dedupKey(fingerprint), &e)
	if err != nil || !found {
		return nil, found, err
	}
	return &e, true, nil
}

// RecordDedup writes the dedup entry for a fingerprint, TTL 300s.
func (s *Store) RecordDedup(fingerprint string, e relaymodel.DedupEntry) error {
	e.RecordedAt = time.Now()
	return s.kv.Set(dedupKey(fingerprint), e, DedupTTL)
}

// PaymentIDLookupResult is the outcome of checking a payment identifier.
type PaymentIDLookupResult int

const (
	PaymentIDMiss PaymentIDLookupResult = iota
	PaymentIDHit
	PaymentIDConflict
)

// CheckPaymentID looks up id and compares the stored payloadHash against
// the current request's payloadHash: hit on match, conflict on mismatch,
// miss if absent.
func (s *Store) CheckPaymentID(id, payloadHash string) (PaymentIDLookupResult, *relaymodel.PaymentIDEntry, error) {
	var e relaymodel.PaymentIDEntry
	found, err := s.kv.Get(paymentIDKey(id), &e)
	if err != nil {
		return PaymentIDMiss, nil, err
	}
	if !found {
		return PaymentIDMiss, nil, nil
	}
	if e.PayloadHash != payloadHash {
		return PaymentIDConflict, &e, nil
	}
	return PaymentIDHit, &e, nil
}

// RecordPaymentID writes the payment-identifier entry, TTL 300s.
func (s *Store) RecordPaymentID(id, payloadHash string, response interface{}) error {
	return s.kv.Set(paymentIDKey(id), relaymodel.PaymentIDEntry{PayloadHash: payloadHash, CachedResponse: response}, PaymentIDTTL)
}

// ValidatePaymentID checks the id's shape: 16-128 chars, [A-Za-z0-9_-]+.
func ValidatePaymentID(id string) error {
	if len(id) < 16 || len(id) > 128 {
		return fmt.Errorf("payment identifier must be 16-128 characters")
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return fmt.Errorf("payment identifier contains invalid character %q", r)
		}
	}
	return nil
}
