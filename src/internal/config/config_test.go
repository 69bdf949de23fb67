package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSettings = `
chains:
  bsc:
    chain_id: 56
    network: bsc
    rpc_urls: ["https://bsc.example"]
    explorer:
      api_keys: ["k1", "", "k2"]
analysis:
  max_test: 7
  concurrency: 2
oracle:
  binary: /opt/engine
  timeout: 45s
database:
  driver: sqlite
  path: /tmp/x.db
`

func TestParseConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEYS", "")
	t.Setenv("CROSSLEAK_ORACLE_BIN", "")
	t.Setenv("CROSSLEAK_OUTPUT_DIR", "")

	cfg, err := ParseConfig([]byte(sampleSettings))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Analysis.MaxTest)
	assert.Equal(t, 2, cfg.Analysis.Concurrency)
	assert.Equal(t, 10, cfg.Analysis.MaxRound)
	assert.Equal(t, 50, cfg.Analysis.MaxCheckCount)
	assert.Equal(t, 1000, cfg.Analysis.TxLength)
	assert.Equal(t, "record_data", cfg.Analysis.OutputDir)
	assert.Equal(t, "record_data", cfg.Oracle.RecordDir)
	assert.Equal(t, 45*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "/opt/engine", cfg.Oracle.Binary)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	chain, err := cfg.GetChainConfig("BSC")
	require.NoError(t, err)
	assert.Equal(t, "BSC", chain.Network)
	assert.Equal(t, []string{"k1", "", "k2"}, chain.APIKeys())
	url, err := chain.ExplorerBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://api.bscscan.com/api", url)

	keys := NewChainKeyManager(chain)
	assert.Equal(t, 2, keys.GetKeyCount())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEYS", "a, b")
	t.Setenv("CROSSLEAK_ORACLE_BIN", "/usr/bin/engine")
	t.Setenv("CROSSLEAK_OUTPUT_DIR", "/data/out")

	cfg, err := ParseConfig([]byte(sampleSettings))
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/engine", cfg.Oracle.Binary)
	assert.Equal(t, "/data/out", cfg.Analysis.OutputDir)
	assert.Equal(t, "/data/out", cfg.Oracle.RecordDir)

	chain, err := cfg.GetChainConfig("bsc")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chain.APIKeys())
}

func TestGetChainConfigKnownNetworkWithoutEntry(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEYS", "")
	cfg := Default()

	chain, err := cfg.GetChainConfig("polygon")
	require.NoError(t, err)
	assert.Equal(t, "POLYGON", chain.Network)
	url, err := chain.ExplorerBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "https://api.polygonscan.com/api", url)

	_, err = cfg.GetChainConfig("solana")
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSettings), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Chains, "bsc")

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("analysis: [broken"), 0644))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}

func TestAPIKeyManagerRotation(t *testing.T) {
	assert.Nil(t, NewAPIKeyManager(nil, ""))
	var nilManager *APIKeyManager
	assert.Equal(t, "", nilManager.GetKey())
	assert.False(t, nilManager.HasKeys())

	m := NewAPIKeyManager(nil, "fallback")
	require.NotNil(t, m)
	assert.Equal(t, "fallback", m.GetKey())

	m = NewAPIKeyManager([]string{"a", "b", "c"}, "")
	first := m.GetKey()
	seen := map[string]bool{first: true}
	for i := 0; i < 2; i++ {
		seen[m.GetNextKey()] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, first, m.GetNextKey())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, m.Keys())
}

func TestDatabaseDSNs(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", User: "root", Password: "pw", Name: "crossleak"}
	withDB := MySQLDSN(cfg, true)
	assert.True(t, strings.HasPrefix(withDB, "root:pw@tcp(db:3306)/crossleak?"), withDB)
	assert.Contains(t, withDB, "parseTime=true")
	assert.Contains(t, withDB, "charset=utf8mb4")
	assert.True(t, strings.HasPrefix(MySQLDSN(cfg, false), "root:pw@tcp(db:3306)/?"))
	assert.Equal(t, "host=db port=5432 user=root password=pw dbname=crossleak sslmode=disable", PostgresDSN(cfg))

	cfg.DSN = "custom"
	assert.Equal(t, "custom", PostgresDSN(cfg))
}

func TestOpenDatabase(t *testing.T) {
	db, err := OpenDatabase(context.Background(), DatabaseConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)

	_, err = OpenDatabase(context.Background(), DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)

	db, err = OpenDatabase(context.Background(), DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x", "c.db")})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.Close()
}
