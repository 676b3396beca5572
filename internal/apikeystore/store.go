// Package apikeystore is the in-process cache of API-key metadata and
// tier limits (§3: keyId/tier/expiresAt/active, tier -> reqPerMin/
// dailyReq/dailyFeeCap). Provisioning lives outside this module (BIP-137/
// SIWS signed-message flows per §1's Out of scope list); this package only
// serves cached lookups and tracks daily usage against the tier caps, with
// staleness bounded to 60s per §5 shared-resource (3). Grounded on the same
// cache-then-fetch-then-expire shape as the Fee Service.
package apikeystore

import (
	"sync"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
)

const staleAfter = 60 * time.Second

// Source loads or refreshes key metadata from the system of record (a
// provisioning database or admin API); this package only caches it.
type Source interface {
	Lookup(keyID string) (relaymodel.APIKeyMetadata, bool, error)
}

type usage struct {
	day       string
	dailyReq  int
	dailyFee  uint64
}

type cachedKey struct {
	key       relaymodel.APIKeyMetadata
	fetchedAt time.Time
}

type Store struct {
	source Source

	mu     sync.Mutex
	cache  map[string]cachedKey
	usages map[string]*usage
}

func New(source Source) *Store {
	return &Store{
		source: source,
		cache:  make(map[string]cachedKey),
		usages: make(map[string]*usage),
	}
}

// Resolve returns key metadata, refreshing from Source when the cached
// entry is missing or older than the staleness bound.
func (s *Store) Resolve(keyID string) (relaymodel.APIKeyMetadata, error) {
	s.mu.Lock()
	cached, ok := s.cache[keyID]
	s.mu.Unlock()

	if ok && time.Since(cached.fetchedAt) < staleAfter {
		return cached.key, nil
	}

	key, found, err := s.source.Lookup(keyID)
	if err != nil {
		if ok {
			return cached.key, nil
		}
		return relaymodel.APIKeyMetadata{}, err
	}
	if !found {
		return relaymodel.APIKeyMetadata{}, &NotFoundError{KeyID: keyID}
	}

	s.mu.Lock()
	s.cache[keyID] = cachedKey{key: key, fetchedAt: time.Now()}
	s.mu.Unlock()
	return key, nil
}

// Invalidate drops keyID from the cache immediately, bounding staleness
// after an out-of-band revoke below the normal 60s TTL.
func (s *Store) Invalidate(keyID string) {
	s.mu.Lock()
	delete(s.cache, keyID)
	s.mu.Unlock()
}

// CheckDailyLimits reports whether recording one more request of the given
// fee would exceed the key's tier's daily request or fee cap. It does not
// record the usage; call RecordUsage after a successful broadcast.
func (s *Store) CheckDailyLimits(keyID string, tier relaymodel.APIKeyTier, projectedFee uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(keyID)
	if u.dailyReq+1 > tier.DailyReq {
		return &DailyLimitError{Kind: "requests"}
	}
	if u.dailyFee+projectedFee > tier.DailyFeeCap {
		return &DailyLimitError{Kind: "fee"}
	}
	return nil
}

// RecordUsage accounts one more request and its fee against keyID's daily
// counters, rolling the counters over at UTC day boundaries.
func (s *Store) RecordUsage(keyID string, fee uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(keyID)
	u.dailyReq++
	u.dailyFee += fee
}

func (s *Store) usageLocked(keyID string) *usage {
	today := time.Now().UTC().Format("2006-01-02")
	u, ok := s.usages[keyID]
	if !ok || u.day != today {
		u = &usage{day: today}
		s.usages[keyID] = u
	}
	return u
}

type NotFoundError struct{ KeyID string }

func (e *NotFoundError) Error() string { return "api key not found: " + e.KeyID }

type DailyLimitError struct{ Kind string }

func (e *DailyLimitError) Error() string { return "daily " + e.Kind + " limit exceeded" }
