package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flashbots/statledger/oracle"
	"github.com/flashbots/statledger/protocol"
	"github.com/go-chi/chi/v5"
)

// LedgerRegistration admits one ledger to an OracleService. Submissions for
// Ledger must be signed by Signer and name CallbackURL, where results are
// delivered.
type LedgerRegistration struct {
	Ledger      protocol.Account
	Signer      protocol.Account
	CallbackURL string
}

// OracleServiceConfig configures an OracleService.
type OracleServiceConfig struct {
	// Ledgers lists every ledger the oracle decrypts for. Submissions for any
	// other ledger are refused.
	Ledgers []LedgerRegistration

	// RequestSkew bounds how far a submission's issued_at may be from now.
	RequestSkew time.Duration
	// ReplayCacheSize is how many recent submission signatures are remembered.
	ReplayCacheSize int

	Clock protocol.Clock
	Log   *slog.Logger
}

// OracleService exposes an oracle.LocalOracle over HTTP to registered ledgers.
type OracleService struct {
	oracle     *oracle.LocalOracle
	ledgers    map[protocol.Account]LedgerRegistration
	verifier   *requestVerifier
	httpClient *http.Client
	log        *slog.Logger
}

// NewOracleService creates the HTTP service for o and registers an HTTP
// callback with o for every configured ledger.
//
// Parameters:
//   - o: The oracle that decrypts accepted submissions
//   - config: The ledger allowlist and the freshness window of submissions
//
// Returns:
//   - *OracleService: The service, ready to have its routes registered
//   - error: Any error encountered while validating the registrations
func NewOracleService(o *oracle.LocalOracle, config OracleServiceConfig) (*OracleService, error) {
	if config.RequestSkew <= 0 {
		config.RequestSkew = 5 * time.Minute
	}
	if config.ReplayCacheSize <= 0 {
		config.ReplayCacheSize = 4096
	}
	if config.Clock == nil {
		config.Clock = protocol.SystemClock{}
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}

	verifier, err := newRequestVerifier(protocol.Account{}, config.RequestSkew, config.Clock, config.ReplayCacheSize)
	if err != nil {
		return nil, err
	}

	s := &OracleService{
		oracle:     o,
		ledgers:    make(map[protocol.Account]LedgerRegistration, len(config.Ledgers)),
		verifier:   verifier,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        config.Log,
	}
	for _, reg := range config.Ledgers {
		if reg.Ledger == (protocol.Account{}) || reg.Signer == (protocol.Account{}) {
			return nil, errors.New("ledger registration needs a ledger and a signer")
		}
		if err := checkCallbackURL(reg.CallbackURL); err != nil {
			return nil, fmt.Errorf("ledger %s: %w", reg.Ledger, err)
		}
		if _, dup := s.ledgers[reg.Ledger]; dup {
			return nil, fmt.Errorf("ledger %s registered twice", reg.Ledger)
		}
		s.ledgers[reg.Ledger] = reg
		o.Register(reg.Ledger, &HTTPCallback{URL: reg.CallbackURL, Client: s.httpClient})
	}
	return s, nil
}

// RegisterRoutes registers HTTP routes for the oracle.
func (s *OracleService) RegisterRoutes(r chi.Router) {
	r.Post("/decrypt", s.handleDecrypt)
	r.Get("/public-key", s.handlePublicKey)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/stats", s.handleStats)
}

func checkCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid callback url %q", raw)
	}
	return nil
}

func (s *OracleService) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	signed, err := protocol.DecodeMessage[protocol.Signed[protocol.DecryptionSubmission]](r.Body)
	if err != nil {
		badRequest(w, fmt.Errorf("decoding submission: %w", err))
		return
	}

	sub, signer, err := authenticate(s.verifier, signed, protocol.ActionSubmitDecryption)
	if err != nil {
		s.log.Warn("unauthenticated decryption submission", "err", err)
		writeError(w, err)
		return
	}

	reg, ok := s.ledgers[sub.Ledger]
	switch {
	case !ok:
		err = fmt.Errorf("%w: ledger %s is not registered", ErrForbidden, sub.Ledger)
	case signer != reg.Signer:
		err = fmt.Errorf("%w: %s may not submit for ledger %s", ErrForbidden, signer, sub.Ledger)
	case sub.CallbackURL != reg.CallbackURL:
		err = fmt.Errorf("%w: callback url %q is not registered for ledger %s", ErrForbidden, sub.CallbackURL, sub.Ledger)
	}
	if err != nil {
		s.log.Warn("decryption submission refused", "ledger", sub.Ledger, "signer", signer, "err", err)
		writeError(w, err)
		return
	}

	id, err := s.oracle.SubmitForDecryption(r.Context(), sub.Ledger, sub.Handles)
	if err != nil {
		s.log.Warn("decryption submission invalid", "ledger", sub.Ledger, "err", err)
		badRequest(w, err)
		return
	}

	s.log.Debug("decryption queued", "request_id", id, "ledger", sub.Ledger)
	writeJSON(w, http.StatusOK, &protocol.DecryptionReceipt{RequestID: id})
}

func (s *OracleService) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &OracleKeysResponse{
		Paillier: s.oracle.PublicKey(),
		ProofKey: s.oracle.ProofKey(),
	})
}

func (s *OracleService) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := protocol.RequestID(chi.URLParam(r, "id"))
	job, ok := s.oracle.Job(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, &protocol.ErrorResponse{Error: "NotFound", Message: fmt.Sprintf("no job %q", id)})
		return
	}
	writeJSON(w, http.StatusOK, &job)
}

func (s *OracleService) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.oracle.Stats())
}
