package common

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/oracle"
	"github.com/flashbots/statledger/services"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration shared by the ledger and oracle binaries.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// PublicURL is where other services reach this one. The ledger derives
	// its oracle callback URL from it.
	PublicURL   string `yaml:"public_url"`
	EnablePprof bool   `yaml:"enable_pprof"`

	Log    LogConfig    `yaml:"log"`
	Ledger LedgerConfig `yaml:"ledger"`
	Oracle OracleConfig `yaml:"oracle"`
	Keys   KeysConfig   `yaml:"keys"`
	Store  StoreConfig  `yaml:"store"`

	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// Service is attached to every record.
	Service string `yaml:"service"`
}

type LedgerConfig struct {
	Identity         string        `yaml:"identity"`
	Owner            string        `yaml:"owner"`
	CooldownSeconds  uint64        `yaml:"cooldown_seconds"`
	DisclosureExpiry time.Duration `yaml:"disclosure_expiry"`
	RequestSkew      time.Duration `yaml:"request_skew"`
	ReplayCacheSize  int           `yaml:"replay_cache_size"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

type OracleConfig struct {
	// URL of the oracle service, used by the ledger.
	URL string `yaml:"url"`

	Workers         int           `yaml:"workers"`
	Delay           time.Duration `yaml:"delay"`
	InitialRetry    time.Duration `yaml:"initial_retry"`
	MaxRetry        time.Duration `yaml:"max_retry"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed"`

	// Ledgers the oracle decrypts for. Submissions from anyone else are
	// refused.
	Ledgers         []OracleLedgerConfig `yaml:"ledgers"`
	RequestSkew     time.Duration        `yaml:"request_skew"`
	ReplayCacheSize int                  `yaml:"replay_cache_size"`
}

// OracleLedgerConfig registers one ledger with the oracle.
type OracleLedgerConfig struct {
	Identity string `yaml:"identity"`
	// Signer is the address of the key the ledger signs submissions with.
	Signer      string `yaml:"signer"`
	CallbackURL string `yaml:"callback_url"`
}

type KeysConfig struct {
	// PaillierKeyFile holds the oracle's JSON encoded Paillier private key.
	// A missing file is created with a fresh key.
	PaillierKeyFile string `yaml:"paillier_key_file"`
	PaillierBits    int    `yaml:"paillier_bits"`
	// ProofKey is the hex Ed25519 key the oracle signs decryptions with.
	// Generated if empty.
	ProofKey string `yaml:"proof_key"`
	// LedgerKey is the hex secp256k1 key the ledger signs oracle
	// submissions with. Its address is the signer registered at the oracle.
	LedgerKey string `yaml:"ledger_key"`
}

type StoreConfig struct {
	// Kind is memory, bolt or postgres.
	Kind     string                  `yaml:"kind"`
	Path     string                  `yaml:"path"`
	Postgres services.PostgresConfig `yaml:"postgres"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	oracleDefaults := oracle.DefaultConfig()
	return &Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			CooldownSeconds: 60,
			RequestSkew:     5 * time.Minute,
			ReplayCacheSize: 4096,
		},
		Oracle: OracleConfig{
			URL:             "http://localhost:8081",
			Workers:         oracleDefaults.Workers,
			InitialRetry:    oracleDefaults.InitialRetryInterval,
			MaxRetry:        oracleDefaults.MaxRetryInterval,
			MaxRetryElapsed: oracleDefaults.MaxRetryElapsed,
			RequestSkew:     5 * time.Minute,
			ReplayCacheSize: 4096,
		},
		Keys: KeysConfig{
			PaillierBits: 2048,
		},
		Store: StoreConfig{
			Kind: "memory",
			Postgres: services.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "statledger",
			},
		},
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LedgerAddresses parses the ledger identity and owner.
func (c *Config) LedgerAddresses() (identity, owner ethcommon.Address, err error) {
	if !ethcommon.IsHexAddress(c.Ledger.Identity) {
		return identity, owner, fmt.Errorf("invalid ledger identity %q", c.Ledger.Identity)
	}
	if !ethcommon.IsHexAddress(c.Ledger.Owner) {
		return identity, owner, fmt.Errorf("invalid ledger owner %q", c.Ledger.Owner)
	}
	return ethcommon.HexToAddress(c.Ledger.Identity), ethcommon.HexToAddress(c.Ledger.Owner), nil
}

// OracleSettings returns the LocalOracle configuration.
func (c *Config) OracleSettings() oracle.Config {
	return oracle.Config{
		Workers:              c.Oracle.Workers,
		Delay:                c.Oracle.Delay,
		InitialRetryInterval: c.Oracle.InitialRetry,
		MaxRetryInterval:     c.Oracle.MaxRetry,
		MaxRetryElapsed:      c.Oracle.MaxRetryElapsed,
	}
}

// OracleLedgers parses the ledger allowlist of the oracle.
func (c *Config) OracleLedgers() ([]services.LedgerRegistration, error) {
	var result *multierror.Error
	regs := make([]services.LedgerRegistration, 0, len(c.Oracle.Ledgers))
	for i, l := range c.Oracle.Ledgers {
		if !ethcommon.IsHexAddress(l.Identity) {
			result = multierror.Append(result, fmt.Errorf("oracle.ledgers[%d]: invalid identity %q", i, l.Identity))
			continue
		}
		if !ethcommon.IsHexAddress(l.Signer) {
			result = multierror.Append(result, fmt.Errorf("oracle.ledgers[%d]: invalid signer %q", i, l.Signer))
			continue
		}
		if err := validateURL(fmt.Sprintf("oracle.ledgers[%d].callback_url", i), l.CallbackURL); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		regs = append(regs, services.LedgerRegistration{
			Ledger:      ethcommon.HexToAddress(l.Identity),
			Signer:      ethcommon.HexToAddress(l.Signer),
			CallbackURL: l.CallbackURL,
		})
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return regs, nil
}

// OracleServiceSettings returns the OracleService configuration, without
// clock and logger.
func (c *Config) OracleServiceSettings() (services.OracleServiceConfig, error) {
	regs, err := c.OracleLedgers()
	if err != nil {
		return services.OracleServiceConfig{}, err
	}
	return services.OracleServiceConfig{
		Ledgers:         regs,
		RequestSkew:     c.Oracle.RequestSkew,
		ReplayCacheSize: c.Oracle.ReplayCacheSize,
	}, nil
}

// ValidateLedger reports every problem with the settings cmd/ledger uses.
func (c *Config) ValidateLedger() error {
	var result *multierror.Error
	result = multierror.Append(result, c.validateCommon())

	if _, _, err := c.LedgerAddresses(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Ledger.DisclosureExpiry < 0 {
		result = multierror.Append(result, errors.New("ledger.disclosure_expiry must not be negative"))
	}
	if err := validateURL("oracle.url", c.Oracle.URL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("public_url", c.PublicURL); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := LoadAccountKey(c.Keys.LedgerKey); err != nil {
		result = multierror.Append(result, fmt.Errorf("keys.ledger_key: %w", err))
	}

	switch c.Store.Kind {
	case "memory":
	case "bolt":
		if c.Store.Path == "" {
			result = multierror.Append(result, errors.New("store.path is required for the bolt store"))
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			result = multierror.Append(result, errors.New("store.postgres needs host and database"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store.kind %q", c.Store.Kind))
	}

	return result.ErrorOrNil()
}

// ValidateOracle reports every problem with the settings cmd/oracle uses.
func (c *Config) ValidateOracle() error {
	var result *multierror.Error
	result = multierror.Append(result, c.validateCommon())

	if c.Oracle.Workers <= 0 {
		result = multierror.Append(result, errors.New("oracle.workers must be positive"))
	}
	if c.Keys.PaillierBits < crypto.MinPaillierBits {
		result = multierror.Append(result, fmt.Errorf("keys.paillier_bits must be at least %d", crypto.MinPaillierBits))
	}
	if len(c.Oracle.Ledgers) == 0 {
		result = multierror.Append(result, errors.New("oracle.ledgers must register at least one ledger"))
	} else if _, err := c.OracleLedgers(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c *Config) validateCommon() error {
	var result *multierror.Error
	if c.HTTPAddr == "" {
		result = multierror.Append(result, errors.New("http_addr is required"))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		result = multierror.Append(result, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return result.ErrorOrNil()
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) url, got %q", field, raw)
	}
	return nil
}
