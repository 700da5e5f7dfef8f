package services

import (
	"log/slog"
	"time"

	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/metrics"
	"github.com/flashbots/statledger/protocol"
)

const (
	defaultRequestSkew     = 5 * time.Minute
	defaultReplayCacheSize = 4096
	defaultEventsLimit     = 100
	maxEventsLimit         = 1000
)

// LedgerServiceConfig contains configuration for the ledger HTTP service.
type LedgerServiceConfig struct {
	// RequestSkew bounds how far issued_at of a signed request may be from now.
	RequestSkew time.Duration

	// ReplayCacheSize is the number of recent request signatures remembered.
	ReplayCacheSize int

	// AllowedOrigins lists the CORS origins of the read endpoints.
	AllowedOrigins []string

	// Store serves /events. Optional.
	Store EventStore

	// Feed serves /events/stream. Optional.
	Feed *protocol.EventFeed

	// Metrics counts rejected calls. Optional.
	Metrics *metrics.LedgerCollector

	Clock protocol.Clock
	Log   *slog.Logger
}

func (c *LedgerServiceConfig) setDefaults() {
	if c.RequestSkew <= 0 {
		c.RequestSkew = defaultRequestSkew
	}
	if c.ReplayCacheSize <= 0 {
		c.ReplayCacheSize = defaultReplayCacheSize
	}
	if c.Clock == nil {
		c.Clock = protocol.SystemClock{}
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// StatusResponse acknowledges a state change that returns nothing else.
type StatusResponse struct {
	Status string `json:"status"`
}

// EventsResponse is a page of the event journal.
type EventsResponse struct {
	Events []protocol.Event `json:"events"`
	// Next is the after cursor of the following page.
	Next uint64 `json:"next"`
}

// OracleKeysResponse publishes the keys a ledger needs to work with an oracle.
type OracleKeysResponse struct {
	Paillier *crypto.PaillierPublicKey `json:"paillier"`
	ProofKey crypto.PublicKey          `json:"proof_key"`
}
