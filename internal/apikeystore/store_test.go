package apikeystore

import (
	"errors"
	"testing"

	"github.com/aibtcdev/sponsor-relay/internal/relaymodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	keys  map[string]relaymodel.APIKeyMetadata
	calls int
	err   error
}

func (f *fakeSource) Lookup(keyID string) (relaymodel.APIKeyMetadata, bool, error) {
	f.calls++
	if f.err != nil {
		return relaymodel.APIKeyMetadata{}, false, f.err
	}
	key, ok := f.keys[keyID]
	return key, ok, nil
}

var basicTier = relaymodel.APIKeyTier{Name: "basic", ReqPerMin: 10, DailyReq: 100, DailyFeeCap: 50000}

func TestResolveCachesAfterFirstFetch(t *testing.T) {
	src := &fakeSource{keys: map[string]relaymodel.APIKeyMetadata{
		"key-1": {KeyID: "key-1", Tier: basicTier, Active: true},
	}}
	s := New(src)

	key, err := s.Resolve("key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.KeyID)

	_, err = s.Resolve("key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second resolve should be served from cache")
}

func TestResolveReturnsNotFoundForUnknownKey(t *testing.T) {
	s := New(&fakeSource{keys: map[string]relaymodel.APIKeyMetadata{}})

	_, err := s.Resolve("missing")
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestResolveFallsBackToStaleCacheOnSourceError(t *testing.T) {
	src := &fakeSource{keys: map[string]relaymodel.APIKeyMetadata{
		"key-1": {KeyID: "key-1", Tier: basicTier, Active: true},
	}}
	s := New(src)
	_, err := s.Resolve("key-1")
	require.NoError(t, err)

	src.err = errors.New("provisioning db unreachable")
	key, err := s.Resolve("key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.KeyID)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := &fakeSource{keys: map[string]relaymodel.APIKeyMetadata{
		"key-1": {KeyID: "key-1", Tier: basicTier, Active: true},
	}}
	s := New(src)
	_, err := s.Resolve("key-1")
	require.NoError(t, err)

	s.Invalidate("key-1")
	_, err = s.Resolve("key-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCheckDailyLimitsRejectsOverRequestCap(t *testing.T) {
	s := New(&fakeSource{})
	tier := relaymodel.APIKeyTier{DailyReq: 1, DailyFeeCap: 100000}
	require.NoError(t, s.CheckDailyLimits("key-1", tier, 10))
	s.RecordUsage("key-1", 10)

	err := s.CheckDailyLimits("key-1", tier, 10)
	assert.Error(t, err)
}

func TestCheckDailyLimitsRejectsOverFeeCap(t *testing.T) {
	s := New(&fakeSource{})
	tier := relaymodel.APIKeyTier{DailyReq: 100, DailyFeeCap: 100}
	err := s.CheckDailyLimits("key-1", tier, 150)
	assert.Error(t, err)
}

func TestRecordUsageAccumulatesAcrossCalls(t *testing.T) {
	s := New(&fakeSource{})
	tier := relaymodel.APIKeyTier{DailyReq: 10, DailyFeeCap: 1000}
	s.RecordUsage("key-1", 300)
	s.RecordUsage("key-1", 300)

	err := s.CheckDailyLimits("key-1", tier, 500)
	assert.Error(t, err)
}
