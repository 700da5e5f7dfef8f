// Package common provides shared utilities for the statledger binaries.
//
// This package contains helper functions used across the ledger, oracle and
// ledger-cli commands:
//
//   - YAML configuration loading and validation
//   - Logger construction
//   - Key loading and generation for the oracle and for signing accounts
//   - Event journal selection
package common

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/protocol"
	"github.com/flashbots/statledger/services"
)

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With("service", cfg.Service)
	}
	return log, nil
}

// LoadOrGenerateProofKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateProofKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadOrGeneratePaillierKey reads a JSON encoded Paillier key from path.
// If the file does not exist a key of the given size is generated and
// written there. An empty path always generates an ephemeral key.
func LoadOrGeneratePaillierKey(path string, bits int) (*crypto.PaillierPrivateKey, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var key crypto.PaillierPrivateKey
			if err := json.Unmarshal(data, &key); err != nil {
				return nil, fmt.Errorf("decoding paillier key %s: %w", path, err)
			}
			return &key, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading paillier key: %w", err)
		}
	}

	key, err := crypto.GeneratePaillierKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating paillier key: %w", err)
	}
	if path == "" {
		return key, nil
	}

	data, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing paillier key: %w", err)
	}
	return key, nil
}

// LoadAccountKey parses a hex secp256k1 key used to sign ledger requests.
func LoadAccountKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, errors.New("account key is required")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %w", err)
	}
	return key, nil
}

// OpenStore opens the event journal selected by cfg.
func OpenStore(cfg StoreConfig, ledger protocol.Account) (services.EventStore, error) {
	switch cfg.Kind {
	case "memory", "":
		return services.NewInMemoryStore(), nil
	case "bolt":
		store, err := services.NewBoltStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := services.NewPostgresStore(&cfg.Postgres, ledger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}
