package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/internal/testutil"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "node.yaml", `
data_dir: /var/lib/numgame
block_interval: 500ms
rpc:
  port: 9000
  rate_limit: 5
genesis:
  chain_id: numgame-yaml
  royalty_percent: 25
  trusted_factories: [factory-a, factory-b]
  target_rule: median
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/numgame", cfg.DataDir)
	assert.Equal(t, 500*time.Millisecond, cfg.BlockInterval.Std())
	assert.Equal(t, 9000, cfg.RPC.Port)
	assert.Equal(t, 5.0, cfg.RPC.RateLimit)
	assert.Equal(t, 40, cfg.RPC.RateBurst, "unset fields keep defaults")
	assert.Equal(t, "numgame-yaml", cfg.Genesis.ChainID)
	assert.Equal(t, uint64(25), cfg.Genesis.RoyaltyPercent)
	assert.Equal(t, []string{"factory-a", "factory-b"}, cfg.Genesis.TrustedFactories)
	assert.Equal(t, 5*time.Second, cfg.LiveState.PollInterval.Std())
}

func TestLoadJSONWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "node.json", `{"rpc": {"port": 9000}, "genesis": {"chain_id": "numgame-json"}}`)
	t.Setenv("NUMGAME_RPC_PORT", "9100")
	t.Setenv("NUMGAME_DATA_DIR", "/tmp/override")
	t.Setenv("NUMGAME_BLOCK_INTERVAL", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.RPC.Port)
	assert.Equal(t, "/tmp/override", cfg.DataDir)
	assert.Equal(t, 3*time.Second, cfg.BlockInterval.Std())
	assert.Equal(t, "numgame-json", cfg.Genesis.ChainID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"royalty": `{"genesis": {"chain_id": "x", "royalty_percent": 101}}`,
		"rule":    `{"genesis": {"chain_id": "x", "target_rule": "mode"}}`,
		"owner":   `{"genesis": {"chain_id": "x", "template_owner": "nothex"}}`,
		"chain":   `{"genesis": {"chain_id": ""}}`,
		"tls":     `{"rpc": {"tls": {"cert_file": "a.pem"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.json", body))
			require.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Genesis.TrustedFactories = []string{"f"}
	for _, name := range []string{"out.json", "out.yml"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, Save(cfg, path))
		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, cfg.Genesis.TrustedFactories, got.Genesis.TrustedFactories)
		assert.Equal(t, cfg.BlockInterval, got.BlockInterval)
	}
}

func TestServerTLSDisabled(t *testing.T) {
	tlsCfg, err := TLSConfig{}.ServerTLS()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestCreateGenesisBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{pub.Hex(): 1000}
	cfg.Genesis.TrustedFactories = []string{"factory-a"}

	state := testutil.NewStateDB()
	block, err := CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)
	assert.True(t, IsGenesisHash(block.Header.PrevHash))
	require.NoError(t, block.Verify(pub))

	acc, err := state.GetAccount(block.Header.Proposer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acc.Balance)

	info, err := state.GetTemplateInfo()
	require.NoError(t, err)
	assert.Equal(t, block.Header.Proposer, info.Owner, "proposer owns the template by default")
	assert.Equal(t, uint64(10), info.RoyaltyPercent)

	trusted, err := state.IsTrusted("factory-a")
	require.NoError(t, err)
	assert.True(t, trusted)
}
