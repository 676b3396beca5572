package dedupstore

import (
	"strings"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDedupMissThenHitByteIdentical(t *testing.T) {
	s := New(ttlstore.New())

	_, hit, err := s.CheckDedup("fingerprint-a")
	require.NoError(t, err)
	assert.False(t, hit)

	entry := relaymodel.DedupEntry{Txid: "0xTX", SponsoredTx: "deadbeef"}
	require.NoError(t, s.RecordDedup("fingerprint-a", entry))

	cached, hit, err := s.CheckDedup("fingerprint-a")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, entry.Txid, cached.Txid)
	assert.Equal(t, entry.SponsoredTx, cached.SponsoredTx)
}

func TestCheckPaymentIDMissHitConflict(t *testing.T) {
	s := New(ttlstore.New())

	result, _, err := s.CheckPaymentID("order-123", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, PaymentIDMiss, result)

	require.NoError(t, s.RecordPaymentID("order-123", "hash-a", map[string]string{"status": "ok"}))

	result, entry, err := s.CheckPaymentID("order-123", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, PaymentIDHit, result)
	require.NotNil(t, entry)

	result, entry, err = s.CheckPaymentID("order-123", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, PaymentIDConflict, result)
	require.NotNil(t, entry)
}

func TestValidatePaymentID(t *testing.T) {
	assert.NoError(t, ValidatePaymentID(strings.Repeat("a", 16)))
	assert.NoError(t, ValidatePaymentID(strings.Repeat("a", 128)))
	assert.Error(t, ValidatePaymentID(strings.Repeat("a", 15)))
	assert.Error(t, ValidatePaymentID(strings.Repeat("a", 129)))
	assert.Error(t, ValidatePaymentID("has a space-1234567"))
	assert.NoError(t, ValidatePaymentID("Valid_ID-1234567890"))
}
