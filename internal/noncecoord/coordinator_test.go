package noncecoord

import (
	"context"
	"sync"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, addresses []string) (*Coordinator, *chainclient.Mock) {
	t.Helper()
	mock := chainclient.NewMock()
	m := metrics.New(prometheus.NewRegistry())
	c := New(addresses, mock, m, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, mock
}

func TestAssignPopsDistinctNonces(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	seen := make(map[uint64]bool)
	for i := 0; i < PoolSize; i++ {
		a, err := c.Assign(ctx, 0, "req")
		require.NoError(t, err)
		assert.False(t, seen[a.Nonce], "nonce %d assigned twice", a.Nonce)
		seen[a.Nonce] = true
	}
}

func TestAssignRefillsWhenPoolEmpty(t *testing.T) {
	c, mock := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	for i := 0; i < PoolSize+1; i++ {
		_, err := c.Assign(ctx, 0, "req")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, mock.NonceCalls, 2, "expected a second refill once the pool ran dry")
}

func TestConsumeAdvancesLastExecutedNonce(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	a, err := c.Assign(ctx, 0, "req")
	require.NoError(t, err)
	require.NoError(t, c.Consume(ctx, 0, a.Nonce, 200))

	stats, err := c.GetStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Nonce, stats.LastExecutedNonce)
	assert.Equal(t, 0, stats.Reserved)
	assert.EqualValues(t, 200, stats.FeesSpent)
}

func TestReleaseReturnsNonceToPool(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	a, err := c.Assign(ctx, 0, "req")
	require.NoError(t, err)
	statsBefore, err := c.GetStats(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, c.Release(ctx, 0, a.Nonce))
	statsAfter, err := c.GetStats(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, statsAfter.Reserved)
	assert.Equal(t, statsBefore.Available+1, statsAfter.Available)
}

// TestAssignConcurrentUniqueness asserts the nonce-multiset invariant
// under concurrent callers: every nonce handed out is unique across the
// whole run, and totalAssigned equals the count of Assign calls.
func TestAssignConcurrentUniqueness(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := c.Assign(ctx, 0, "req")
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[a.Nonce])
			seen[a.Nonce] = true
		}()
	}
	wg.Wait()

	stats, err := c.GetStats(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, n, stats.TotalAssigned)
	assert.Len(t, seen, n)
}

func TestAssignUnknownWalletIndexErrors(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	_, err := c.Assign(context.Background(), 5, "req")
	assert.Error(t, err)
}

func TestWalletAddressAndCount(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC", "ST2DEF"})
	assert.Equal(t, 2, c.WalletCount())
	assert.Equal(t, "ST1ABC", c.WalletAddress(0))
	assert.Equal(t, "ST2DEF", c.WalletAddress(1))
	assert.Equal(t, "", c.WalletAddress(99))
}

func TestResetHardResetClearsReservations(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"ST1ABC"})
	ctx := context.Background()

	a, err := c.Assign(ctx, 0, "req")
	require.NoError(t, err)
	require.NoError(t, c.Reset(ctx, 0, ResetHardReset))

	stats, err := c.GetStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Reserved)
	_ = a
}
