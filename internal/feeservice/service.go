// Package feeservice implements the Fee Service (§4.3): fetch raw fee
// estimates, apply per-tx-type floor/ceiling clamps, cache results, and
// fall back to floor-valued defaults when the chain client is unavailable.
// Grounded on the cache-then-fetch-then-default fallback chain the
// teacher's chain adapters use for fee estimation, generalized into a
// standalone cached service instead of a per-adapter method.
package feeservice

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/rs/zerolog"
)

const (
	estimateCacheTTL = 60 * time.Second
)

// Source reports where a served estimate came from, mirrored in GET /fees.
type Source string

const (
	SourceHiro    Source = "hiro"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
)

var defaultFloorEstimates = relaymodel.FeeEstimates{
	relaymodel.TxTypeTokenTransfer: {relaymodel.FeeLow: 180, relaymodel.FeeMedium: 180, relaymodel.FeeHigh: 180},
	relaymodel.TxTypeContractCall:  {relaymodel.FeeLow: 220, relaymodel.FeeMedium: 220, relaymodel.FeeHigh: 220},
	relaymodel.TxTypeSmartContract: {relaymodel.FeeLow: 260, relaymodel.FeeMedium: 260, relaymodel.FeeHigh: 260},
}

type Service struct {
	chain chainclient.API
	log   zerolog.Logger

	mu                sync.RWMutex
	cachedEstimates    relaymodel.FeeEstimates
	cachedAt           time.Time
	rateLimitedUntil   time.Time
	clampConfig        relaymodel.ClampConfig
}

func New(chain chainclient.API, log zerolog.Logger) *Service {
	return &Service{
		chain: chain,
		log:   log.With().Str("component", "feeservice").Logger(),
		clampConfig: relaymodel.ClampConfig{
			relaymodel.TxTypeTokenTransfer: {Floor: 180, Ceiling: 5000},
			relaymodel.TxTypeContractCall:  {Floor: 220, Ceiling: 8000},
			relaymodel.TxTypeSmartContract: {Floor: 260, Ceiling: 10000},
		},
	}
}

// GetEstimates returns clamped fee estimates and the source they came from.
// Fallback order: cache -> fresh fetch -> floor-valued defaults.
func (s *Service) GetEstimates(ctx context.Context) (relaymodel.FeeEstimates, Source, error) {
	s.mu.RLock()
	cached := s.cachedEstimates
	cachedAt := s.cachedAt
	rateLimitedUntil := s.rateLimitedUntil
	cfg := s.clampConfig
	s.mu.RUnlock()

	if cached != nil && time.Since(cachedAt) < estimateCacheTTL {
		return applyClamps(cached, cfg), SourceCache, nil
	}

	if time.Now().Before(rateLimitedUntil) {
		if cached != nil {
			return applyClamps(cached, cfg), SourceCache, nil
		}
		return applyClamps(defaultFloorEstimates, cfg), SourceDefault, nil
	}

	raw, err := s.chain.GetFeeEstimates(ctx)
	if err != nil {
		var rle *chainclient.RateLimitError
		if errors.As(err, &rle) {
			s.RateLimitUntil(time.Now().Add(rle.RetryAfter))
			s.log.Warn().Dur("cooldown", rle.RetryAfter).Msg("fee estimate source rate limited")
		} else {
			s.log.Warn().Err(err).Msg("fee estimate fetch failed, falling back")
		}
		if cached != nil {
			return applyClamps(cached, cfg), SourceCache, nil
		}
		return applyClamps(defaultFloorEstimates, cfg), SourceDefault, nil
	}

	s.mu.Lock()
	s.cachedEstimates = raw
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return applyClamps(raw, cfg), SourceHiro, nil
}

// RateLimitUntil records a cooldown during which GetEstimates serves the
// previous cache (or floor defaults) instead of hitting the chain client.
func (s *Service) RateLimitUntil(until time.Time) {
	s.mu.Lock()
	s.rateLimitedUntil = until
	s.mu.Unlock()
}

// ClampForTxType returns the clamped fee at the given priority for a single
// tx-type, the value the pipeline signs the sponsor auth with.
func (s *Service) ClampForTxType(ctx context.Context, txType relaymodel.TxType, priority relaymodel.FeePriority) (uint64, Source, error) {
	estimates, source, err := s.GetEstimates(ctx)
	if err != nil {
		return 0, source, err
	}
	byType, ok := estimates[txType]
	if !ok {
		s.mu.RLock()
		clamp := s.clampConfig[txType]
		s.mu.RUnlock()
		return clamp.Floor, SourceDefault, nil
	}
	return byType[priority], source, nil
}

// applyClamps clamps every priority tier of every tx-type to [floor, ceiling].
func applyClamps(raw relaymodel.FeeEstimates, cfg relaymodel.ClampConfig) relaymodel.FeeEstimates {
	out := make(relaymodel.FeeEstimates, len(raw))
	for txType, byPriority := range raw {
		clamp, ok := cfg[txType]
		clamped := make(map[relaymodel.FeePriority]uint64, len(byPriority))
		for priority, value := range byPriority {
			if !ok {
				clamped[priority] = value
				continue
			}
			clamped[priority] = clampValue(value, clamp)
		}
		out[txType] = clamped
	}
	return out
}

func clampValue(v uint64, clamp relaymodel.FeeClamp) uint64 {
	if v < clamp.Floor {
		return clamp.Floor
	}
	if v > clamp.Ceiling {
		return clamp.Ceiling
	}
	return v
}

// SetClampConfig validates and replaces the clamp config, invalidating the
// estimate cache so new clamps apply immediately.
func (s *Service) SetClampConfig(cfg relaymodel.ClampConfig) error {
	for txType, clamp := range cfg {
		if clamp.Floor == 0 || clamp.Ceiling == 0 || clamp.Floor >= clamp.Ceiling {
			return &ClampConfigError{TxType: txType, Clamp: clamp}
		}
	}
	s.mu.Lock()
	s.clampConfig = cfg
	s.cachedEstimates = nil
	s.mu.Unlock()
	return nil
}

// FormatFee renders a clamped fee (in microSTX) as the decimal string
// stored in receipts and dedup entries.
func FormatFee(fee uint64) string {
	return strconv.FormatUint(fee, 10)
}

type ClampConfigError struct {
	TxType relaymodel.TxType
	Clamp  relaymodel.FeeClamp
}

func (e *ClampConfigError) Error() string {
	return "invalid clamp config for " + string(e.TxType) + ": floor must be >0 and < ceiling"
}
