package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
server:
  addr: ":9090"
sponsor:
  private_key: "deadbeef"
  wallet_count: 2
chain:
  network: "mainnet"
  rpc_endpoints:
    - "https://api.hiro.so"
`

func writeConfigFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileWithoutEndpointsFailsValidation(t *testing.T) {
	t.Setenv("SPONSOR_PRIVATE_KEY", "deadbeef")
	t.Setenv("STACKS_NETWORK", "testnet")
	os.Unsetenv("SPONSOR_MNEMONIC")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err, "no rpc endpoints configured should fail validation")
	assert.Nil(t, cfg)
}

func TestLoadParsesFileAndValidates(t *testing.T) {
	path := writeConfigFixture(t, fixtureYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "mainnet", cfg.Chain.Network)
	assert.Equal(t, 2, cfg.Sponsor.WalletCount)
	assert.Equal(t, []string{"https://api.hiro.so"}, cfg.Chain.RPCEndpoints)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFixture(t, fixtureYAML)
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("ADMIN_TOKEN", "super-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "super-secret", cfg.Admin.Token)
}

func TestValidateRejectsMissingSponsorCredentials(t *testing.T) {
	cfg := defaults()
	cfg.Chain.RPCEndpoints = []string{"https://api.hiro.so"}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeWalletCount(t *testing.T) {
	cfg := defaults()
	cfg.Sponsor.PrivateKey = "deadbeef"
	cfg.Chain.RPCEndpoints = []string{"https://api.hiro.so"}
	cfg.Sponsor.WalletCount = 20
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := defaults()
	cfg.Sponsor.PrivateKey = "deadbeef"
	cfg.Chain.RPCEndpoints = []string{"https://api.hiro.so"}
	cfg.Chain.Network = "devnet"
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := defaults()
	cfg.Sponsor.PrivateKey = "deadbeef"
	cfg.Chain.RPCEndpoints = []string{"https://api.hiro.so"}
	assert.NoError(t, cfg.Validate())
}
