// Package noncecoord implements the Nonce Coordinator (§4.2): a
// single-writer actor per sponsor wallet that hands out unique nonces,
// tracks reserved vs. consumed, and reconciles with chain state on a
// schedule. The per-wallet actor is grounded on the mutex-owning
// chainNonceData shape in speedrun-hq's nonce_manager.go; the scheduled
// gap-aware reconcile and hard-reset behavior is grounded on vocdoni's
// web3 transaction manager background monitor loop.
package noncecoord

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/actor"
	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/aibtcdev/sponsor-relay/internal/relayerr"
	"github.com/rs/zerolog"
)

const (
	// PoolSize is the number of nonces lazily fetched into the available
	// pool when it runs dry.
	PoolSize = 8

	reconcileInterval = 5 * time.Minute
	resyncDelay       = 2 * time.Second
	idleHardResetAfter = 10 * time.Minute
)

type ResetMode string

const (
	ResetResync    ResetMode = "resync"
	ResetHardReset ResetMode = "hardReset"
)

// reservation is the bookkeeping kept for a reserved nonce.
type reservation struct {
	assignedAt time.Time
	requestID  string
}

// Assignment is returned by Assign: the nonce plus the wallet it came from.
type Assignment struct {
	Nonce       uint64
	WalletIndex int
}

// wallet is the mutable state for one sponsor wallet. Every field is only
// ever touched from the owning actor's goroutine.
type wallet struct {
	index             int
	address           string
	available         []uint64
	reserved          map[uint64]reservation
	lastExecutedNonce uint64
	lastChainSync     time.Time
	lastActivity      time.Time
	poolFloor         uint64

	totalAssigned     uint64
	conflictsDetected uint64
	gapsRecovered     uint64
	feesSpent         uint64
	txCountByDay      map[string]int
}

// Coordinator owns one actor+wallet pair per sponsor wallet index.
type Coordinator struct {
	chain   chainclient.API
	metrics *metrics.Metrics
	log     zerolog.Logger

	actors  map[int]*actor.Actor
	wallets map[int]*wallet

	stop chan struct{}
}

// New constructs a Coordinator for the given sponsor wallet addresses,
// indexed 0..len(addresses)-1, and starts its reconciliation scheduler.
func New(addresses []string, chain chainclient.API, m *metrics.Metrics, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		chain:   chain,
		metrics: m,
		log:     log.With().Str("component", "noncecoord").Logger(),
		actors:  make(map[int]*actor.Actor),
		wallets: make(map[int]*wallet),
		stop:    make(chan struct{}),
	}
	for i, addr := range addresses {
		c.actors[i] = actor.New(32)
		c.wallets[i] = &wallet{
			index:        i,
			address:      addr,
			reserved:     make(map[uint64]reservation),
			lastActivity: time.Now(),
			txCountByDay: make(map[string]int),
		}
	}
	go c.scheduleReconcile()
	return c
}

// Close stops every wallet actor and the reconciliation scheduler.
func (c *Coordinator) Close() {
	close(c.stop)
	for _, a := range c.actors {
		a.Close()
	}
}

// WalletCount returns the number of sponsor wallets managed.
func (c *Coordinator) WalletCount() int { return len(c.wallets) }

// WalletAddress returns the address for a wallet index.
func (c *Coordinator) WalletAddress(walletIndex int) string {
	if w, ok := c.wallets[walletIndex]; ok {
		return w.address
	}
	return ""
}

// Assign pops the lowest available nonce for the given wallet, lazily
// refilling the pool from the chain indexer if it is empty.
func (c *Coordinator) Assign(ctx context.Context, walletIndex int, requestID string) (*Assignment, error) {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return nil, err
	}

	var assigned uint64
	var assignErr error
	doErr := a.Do(ctx, func() {
		w.lastActivity = time.Now()
		if len(w.available) == 0 {
			if refillErr := c.refillLocked(ctx, w); refillErr != nil {
				assignErr = relayerr.NewRetryable(relayerr.CodeNonceDOUnavailable, "nonce pool empty and indexer unreachable", 3*time.Second, refillErr)
				return
			}
		}
		if len(w.available) == 0 {
			assignErr = relayerr.New(relayerr.CodeNonceDOUnavailable, "nonce pool empty", relayerr.Retryable, nil)
			return
		}
		nonce := w.available[0]
		w.available = w.available[1:]
		w.reserved[nonce] = reservation{assignedAt: time.Now(), requestID: requestID}
		w.totalAssigned++
		assigned = nonce
	})
	if doErr != nil {
		return nil, doErr
	}
	if assignErr != nil {
		return nil, assignErr
	}
	c.metrics.NonceAssignedTotal.WithLabelValues(fmt.Sprintf("%d", walletIndex)).Inc()
	c.metrics.NoncePoolAvailable.WithLabelValues(fmt.Sprintf("%d", walletIndex)).Set(float64(len(w.available)))
	return &Assignment{Nonce: assigned, WalletIndex: walletIndex}, nil
}

// refillLocked fetches the indexer's possible-next-nonce and populates the
// available pool with PoolSize nonces not already reserved or consumed.
// Must be called from the wallet's own actor goroutine.
func (c *Coordinator) refillLocked(ctx context.Context, w *wallet) error {
	next, err := c.chain.GetPossibleNextNonce(ctx, w.address)
	if err != nil {
		return err
	}
	if next > w.poolFloor {
		w.poolFloor = next
	}
	w.lastChainSync = time.Now()

	pool := make([]uint64, 0, PoolSize)
	for n := w.poolFloor; len(pool) < PoolSize; n++ {
		if _, reserved := w.reserved[n]; reserved {
			continue
		}
		if n <= w.lastExecutedNonce && w.lastExecutedNonce > 0 {
			continue
		}
		pool = append(pool, n)
	}
	w.available = pool
	return nil
}

// Consume removes a nonce from reserved and advances lastExecutedNonce.
// Idempotent if the nonce is not currently reserved.
func (c *Coordinator) Consume(ctx context.Context, walletIndex int, nonce uint64, fee uint64) error {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return err
	}
	return a.Do(ctx, func() {
		if _, ok := w.reserved[nonce]; !ok {
			return
		}
		delete(w.reserved, nonce)
		if nonce > w.lastExecutedNonce {
			w.lastExecutedNonce = nonce
		}
		w.feesSpent += fee
		w.txCountByDay[time.Now().UTC().Format("2006-01-02")]++
		w.lastActivity = time.Now()
	})
}

// Release returns a reserved nonce to the available pool, used when
// sponsor-sign, verify, or broadcast fail before the nonce took effect.
func (c *Coordinator) Release(ctx context.Context, walletIndex int, nonce uint64) error {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return err
	}
	return a.Do(ctx, func() {
		if _, ok := w.reserved[nonce]; !ok {
			return
		}
		delete(w.reserved, nonce)
		w.available = append(w.available, nonce)
		sort.Slice(w.available, func(i, j int) bool { return w.available[i] < w.available[j] })
		w.lastActivity = time.Now()
	})
}

// ResyncDelayed schedules a reconciliation a couple seconds out; cheap to
// call from error paths without blocking the caller.
func (c *Coordinator) ResyncDelayed(walletIndex int) {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return
	}
	go func() {
		time.Sleep(resyncDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Do(ctx, func() { c.reconcileLocked(ctx, w) })
	}()
}

// Reset is the admin reset operation. hardReset sets the pool floor to
// lastExecutedNonce+1 and clears reserved.
func (c *Coordinator) Reset(ctx context.Context, walletIndex int, mode ResetMode) error {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return err
	}
	return a.Do(ctx, func() {
		if mode == ResetHardReset {
			w.poolFloor = w.lastExecutedNonce + 1
			w.reserved = make(map[uint64]reservation)
			w.available = nil
		}
		c.reconcileLocked(ctx, w)
	})
}

// reconcileLocked performs the gap-aware reconcile described in §4.2. Must
// run on the wallet's own actor goroutine.
func (c *Coordinator) reconcileLocked(ctx context.Context, w *wallet) {
	next, err := c.chain.GetPossibleNextNonce(ctx, w.address)
	if err != nil {
		c.log.Warn().Err(err).Int("wallet", w.index).Msg("reconcile: indexer unreachable")
		return
	}
	w.lastChainSync = time.Now()

	recovered := 0
	for nonce := range w.reserved {
		if nonce < next {
			delete(w.reserved, nonce)
			if nonce > w.lastExecutedNonce {
				w.lastExecutedNonce = nonce
			}
			w.gapsRecovered++
			recovered++
		}
	}
	if next > w.poolFloor {
		w.poolFloor = next
		filtered := w.available[:0]
		for _, n := range w.available {
			if n >= next {
				filtered = append(filtered, n)
			}
		}
		w.available = filtered
	}
	if time.Since(w.lastActivity) > idleHardResetAfter && w.poolFloor > next {
		w.poolFloor = next
		w.reserved = make(map[uint64]reservation)
		w.available = nil
	}
	c.metrics.NonceGapsRecovered.WithLabelValues(fmt.Sprintf("%d", w.index)).Add(float64(recovered))
}

func (c *Coordinator) scheduleReconcile() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for idx, w := range c.wallets {
				a := c.actors[idx]
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = a.Do(ctx, func() { c.reconcileLocked(ctx, w) })
				cancel()
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) lookup(walletIndex int) (*actor.Actor, *wallet, error) {
	a, ok := c.actors[walletIndex]
	if !ok {
		return nil, nil, fmt.Errorf("unknown wallet index %d", walletIndex)
	}
	return a, c.wallets[walletIndex], nil
}

// RecordConflict increments the conflict counter for a wallet; called by
// the pipeline when a broadcast returns a nonce-conflict rejection.
func (c *Coordinator) RecordConflict(ctx context.Context, walletIndex int) {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return
	}
	_ = a.Do(ctx, func() {
		w.conflictsDetected++
	})
	c.metrics.NonceConflictsTotal.WithLabelValues(fmt.Sprintf("%d", walletIndex)).Inc()
}

// Stats is a point-in-time snapshot of a wallet's nonce pool. Available
// counts every unreserved pool nonce, whether released after an assignment
// or never assigned; consumed and released nonces are not counted
// separately.
type Stats struct {
	Available         int
	Reserved          int
	TotalAssigned     uint64
	ConflictsDetected uint64
	GapsRecovered     uint64
	LastExecutedNonce uint64
	FeesSpent         uint64
}

func (c *Coordinator) GetStats(ctx context.Context, walletIndex int) (Stats, error) {
	a, w, err := c.lookup(walletIndex)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	doErr := a.Do(ctx, func() {
		s = Stats{
			Available:         len(w.available),
			Reserved:          len(w.reserved),
			TotalAssigned:     w.totalAssigned,
			ConflictsDetected: w.conflictsDetected,
			GapsRecovered:     w.gapsRecovered,
			LastExecutedNonce: w.lastExecutedNonce,
			FeesSpent:         w.feesSpent,
		}
	})
	return s, doErr
}
