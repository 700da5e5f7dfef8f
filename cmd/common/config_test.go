package common

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/services"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

const ledgerYAML = `
http_addr: ":8085"
public_url: "http://ledger.internal:8085"
log:
  level: debug
  format: json
ledger:
  identity: "0x1111111111111111111111111111111111111111"
  owner: "0x2222222222222222222222222222222222222222"
  cooldown_seconds: 30
  disclosure_expiry: 1h
  allowed_origins: ["https://dash.example.com"]
oracle:
  url: "http://oracle.internal:8081"
  max_retry_elapsed: 30s
keys:
  ledger_key: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
store:
  kind: bolt
  path: /tmp/events.db
`

const oracleYAML = `
http_addr: ":8081"
oracle:
  workers: 2
  request_skew: 1m
  ledgers:
    - identity: "0x1111111111111111111111111111111111111111"
      signer: "0x4444444444444444444444444444444444444444"
      callback_url: "http://ledger.internal:8085/oracle/callback"
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(ledgerYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateLedger())

	require.Equal(t, ":8085", cfg.HTTPAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr, "unset fields keep their defaults")
	require.Equal(t, uint64(30), cfg.Ledger.CooldownSeconds)
	require.Equal(t, time.Hour, cfg.Ledger.DisclosureExpiry)
	require.Equal(t, 5*time.Minute, cfg.Ledger.RequestSkew)
	require.Equal(t, []string{"https://dash.example.com"}, cfg.Ledger.AllowedOrigins)
	require.Equal(t, 30*time.Second, cfg.OracleSettings().MaxRetryElapsed)
	require.Equal(t, "bolt", cfg.Store.Kind)

	identity, owner, err := cfg.LedgerAddresses()
	require.NoError(t, err)
	require.Equal(t, "0x1111111111111111111111111111111111111111", identity.Hex())
	require.Equal(t, "0x2222222222222222222222222222222222222222", owner.Hex())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ledgerYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "json", cfg.Log.Format)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("ledger: [not, a, map]"))
	require.Error(t, err)
}

func TestValidateLedgerReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "xml"
	cfg.Store.Kind = "bolt"

	err := cfg.ValidateLedger()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	// log format, identity, public_url, ledger key and bolt path
	require.Len(t, merr.Errors, 5)
}

func TestValidateOracle(t *testing.T) {
	cfg, err := ParseConfig([]byte(oracleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateOracle())

	cfg.Oracle.Workers = 0
	cfg.Keys.PaillierBits = crypto.MinPaillierBits / 2
	cfg.Oracle.Ledgers = append(cfg.Oracle.Ledgers, OracleLedgerConfig{
		Identity:    "0x3333333333333333333333333333333333333333",
		Signer:      "nobody",
		CallbackURL: "http://ledger.internal/oracle/callback",
	})
	var merr *multierror.Error
	require.ErrorAs(t, cfg.ValidateOracle(), &merr)
	require.Len(t, merr.Errors, 3)

	require.Error(t, DefaultConfig().ValidateOracle(), "an oracle without ledgers decrypts for nobody")
}

func TestOracleServiceSettings(t *testing.T) {
	cfg, err := ParseConfig([]byte(oracleYAML))
	require.NoError(t, err)

	settings, err := cfg.OracleServiceSettings()
	require.NoError(t, err)
	require.Equal(t, time.Minute, settings.RequestSkew)
	require.Equal(t, 4096, settings.ReplayCacheSize)
	require.Len(t, settings.Ledgers, 1)
	require.Equal(t, "0x1111111111111111111111111111111111111111", settings.Ledgers[0].Ledger.Hex())
	require.Equal(t, "0x4444444444444444444444444444444444444444", settings.Ledgers[0].Signer.Hex())
	require.Equal(t, "http://ledger.internal:8085/oracle/callback", settings.Ledgers[0].CallbackURL)

	cfg.Oracle.Ledgers[0].CallbackURL = "ledger.internal/callback"
	_, err = cfg.OracleServiceSettings()
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "warn", Format: "json", Service: "ledger"})
	require.NoError(t, err)

	_, err = NewLogger(LogConfig{Level: "loud", Format: "text"})
	require.Error(t, err)

	_, err = NewLogger(LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestLoadOrGeneratePaillierKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paillier.json")

	generated, err := LoadOrGeneratePaillierKey(path, crypto.MinPaillierBits)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrGeneratePaillierKey(path, crypto.MinPaillierBits)
	require.NoError(t, err)
	require.Zero(t, generated.PublicKey.N.Cmp(loaded.PublicKey.N))

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadOrGeneratePaillierKey(path, crypto.MinPaillierBits)
	require.Error(t, err)
}

func TestLoadOrGenerateProofKey(t *testing.T) {
	generated, err := LoadOrGenerateProofKey("")
	require.NoError(t, err)

	loaded, err := LoadOrGenerateProofKey("0x" + hex.EncodeToString(generated.Bytes()))
	require.NoError(t, err)
	require.Equal(t, generated.Bytes(), loaded.Bytes())

	_, err = LoadOrGenerateProofKey("zz")
	require.Error(t, err)
}

func TestLoadAccountKey(t *testing.T) {
	_, err := LoadAccountKey("")
	require.Error(t, err)

	key, err := LoadAccountKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	require.NotNil(t, key.D)

	_, err = LoadAccountKey("not-hex")
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(StoreConfig{Kind: "memory"}, [20]byte{1})
	require.NoError(t, err)
	require.IsType(t, &services.InMemoryStore{}, store)

	store, err = OpenStore(StoreConfig{Kind: "bolt", Path: filepath.Join(t.TempDir(), "events.db")}, [20]byte{1})
	require.NoError(t, err)
	require.IsType(t, &services.BoltStore{}, store)
	require.NoError(t, store.Close())

	_, err = OpenStore(StoreConfig{Kind: "redis"}, [20]byte{1})
	require.Error(t, err)
}
