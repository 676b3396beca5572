package apikeystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
keys:
  - key_id: agent-a
    active: true
    expires_at: "2099-01-01T00:00:00Z"
    tier:
      name: pro
      reqPerMin: 30
      dailyReq: 5000
      dailyFeeCap: 1000000
  - key_id: agent-b
    active: false
    tier:
      name: basic
      reqPerMin: 10
      dailyReq: 100
      dailyFeeCap: 50000
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))
	return path
}

func TestFileSourceLookupFindsActiveKey(t *testing.T) {
	src := LoadFileSource(writeFixture(t))

	meta, found, err := src.Lookup("agent-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, meta.Active)
	assert.Equal(t, "pro", meta.Tier.Name)
	assert.Equal(t, 30, meta.Tier.ReqPerMin)
	assert.False(t, meta.ExpiresAt.IsZero())
}

func TestFileSourceLookupFindsInactiveKey(t *testing.T) {
	src := LoadFileSource(writeFixture(t))

	meta, found, err := src.Lookup("agent-b")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, meta.Active)
}

func TestFileSourceLookupMissesUnknownKey(t *testing.T) {
	src := LoadFileSource(writeFixture(t))

	_, found, err := src.Lookup("agent-z")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileSourceEmptyPathServesNoKeys(t *testing.T) {
	src := LoadFileSource("")

	_, found, err := src.Lookup("agent-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileSourceMissingFileServesNoKeys(t *testing.T) {
	src := LoadFileSource(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	_, found, err := src.Lookup("agent-a")
	require.NoError(t, err)
	assert.False(t, found)
}
