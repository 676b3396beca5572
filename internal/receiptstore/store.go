// Package receiptstore implements the Receipt Store (§4.5). store/get are
// plain TTL key-value operations; markConsumed is the one operation that
// must be atomic, so each receipt gets its own single-writer actor (the
// same mailbox-goroutine primitive the nonce coordinator uses per wallet)
// guarding the read-modify-write against the TOCTOU race a bare KV
// read-then-write would admit.
package receiptstore

import (
	"context"
	"sync"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/actor"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
	"github.com/google/uuid"
)

const ReceiptTTL = time.Hour

func receiptKey(id string) string { return "receipt:" + id }

type Store struct {
	kv *ttlstore.Store

	mu     sync.Mutex
	actors map[string]*actor.Actor
}

func New(kv *ttlstore.Store) *Store {
	return &Store{kv: kv, actors: make(map[string]*actor.Actor)}
}

func (s *Store) actorFor(receiptID string) *actor.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[receiptID]
	if !ok {
		a = actor.New(4)
		s.actors[receiptID] = a
	}
	return a
}

// NewReceiptID mints a fresh receipt identifier.
func NewReceiptID() string { return uuid.New().String() }

// Store writes a freshly-issued receipt keyed by ReceiptID, TTL 1 hour.
// Returns false (without error) if persistence failed so the caller can
// degrade the response rather than fail the request.
func (s *Store) Store(receipt relaymodel.Receipt) bool {
	receipt.ExpiresAt = receipt.CreatedAt.Add(ReceiptTTL)
	if err := s.kv.Set(receiptKey(receipt.ReceiptID), receipt, ReceiptTTL); err != nil {
		return false
	}
	return true
}

// Get returns the receipt if present and not expired.
func (s *Store) Get(receiptID string) (*relaymodel.Receipt, bool) {
	var r relaymodel.Receipt
	found, err := s.kv.Get(receiptKey(receiptID), &r)
	if err != nil || !found {
		return nil, false
	}
	return &r, true
}

// ConsumeResult is the outcome of a markConsumed call.
type ConsumeResult int

const (
	ConsumeTransitioned ConsumeResult = iota // false -> true, this call won
	ConsumeAlreadyDone                       // already consumed
	ConsumeNotFound
)

// MarkConsumed atomically transitions a receipt's consumed flag false ->
// true, via the receipt's own single-writer actor so concurrent callers
// race through one goroutine instead of a TOCTOU-prone read-then-write.
func (s *Store) MarkConsumed(ctx context.Context, receiptID string) (ConsumeResult, error) {
	a := s.actorFor(receiptID)
	var result ConsumeResult
	err := a.Do(ctx, func() {
		var r relaymodel.Receipt
		found, gerr := s.kv.Get(receiptKey(receiptID), &r)
		if gerr != nil || !found {
			result = ConsumeNotFound
			return
		}
		if r.Consumed {
			result = ConsumeAlreadyDone
			r.AccessCount++
			_ = s.kv.Set(receiptKey(receiptID), r, time.Until(r.ExpiresAt))
			return
		}
		r.Consumed = true
		r.AccessCount++
		_ = s.kv.Set(receiptKey(receiptID), r, time.Until(r.ExpiresAt))
		result = ConsumeTransitioned
	})
	if err != nil {
		return ConsumeNotFound, err
	}
	return result, nil
}

// ReapExpiredActors drops actors for receipts no longer in the store,
// bounding the number of long-lived per-receipt goroutines to roughly the
// number of receipts within their TTL window.
func (s *Store) ReapExpiredActors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.actors {
		found, _ := s.kv.Get(receiptKey(id), nil)
		if !found {
			a.Close()
			delete(s.actors, id)
		}
	}
}
