package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/flashbots/statledger/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// LedgerService exposes a protocol.Ledger over HTTP. Mutating calls carry
// signed envelopes; the recovered signer is the caller the ledger authorizes.
type LedgerService struct {
	ledger   *protocol.Ledger
	config   LedgerServiceConfig
	verifier *requestVerifier
}

// NewLedgerService creates the HTTP service for ledger.
func NewLedgerService(ledger *protocol.Ledger, config LedgerServiceConfig) (*LedgerService, error) {
	config.setDefaults()
	verifier, err := newRequestVerifier(ledger.Identity(), config.RequestSkew, config.Clock, config.ReplayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating replay cache: %w", err)
	}
	return &LedgerService{
		ledger:   ledger,
		config:   config,
		verifier: verifier,
	}, nil
}

// Ledger returns the served ledger.
func (s *LedgerService) Ledger() *protocol.Ledger {
	return s.ledger
}

// RegisterRoutes registers HTTP routes for the ledger.
func (s *LedgerService) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/ownership", signedHandler(s, protocol.ActionTransferOwnership, func(_ context.Context, caller protocol.Account, req *protocol.TransferOwnershipRequest) (any, error) {
			return nil, s.ledger.TransferOwnership(caller, req.NewOwner)
		}))
		r.Post("/providers", signedHandler(s, protocol.ActionAddProvider, func(_ context.Context, caller protocol.Account, req *protocol.ProviderRequest) (any, error) {
			return nil, s.ledger.AddProvider(caller, req.Account)
		}))
		r.Post("/providers/remove", signedHandler(s, protocol.ActionRemoveProvider, func(_ context.Context, caller protocol.Account, req *protocol.ProviderRequest) (any, error) {
			return nil, s.ledger.RemoveProvider(caller, req.Account)
		}))
		r.Post("/pause", signedHandler(s, protocol.ActionSetPaused, func(_ context.Context, caller protocol.Account, req *protocol.PauseRequest) (any, error) {
			return nil, s.ledger.SetPaused(caller, req.Paused)
		}))
		r.Post("/cooldown", signedHandler(s, protocol.ActionSetCooldown, func(_ context.Context, caller protocol.Account, req *protocol.CooldownRequest) (any, error) {
			return nil, s.ledger.SetCooldown(caller, req.Seconds)
		}))
		r.Post("/batch/open", signedHandler(s, protocol.ActionOpenBatch, func(_ context.Context, caller protocol.Account, _ *protocol.ActionRequest) (any, error) {
			return nil, s.ledger.OpenBatch(caller)
		}))
		r.Post("/batch/close", signedHandler(s, protocol.ActionCloseBatch, func(_ context.Context, caller protocol.Account, _ *protocol.ActionRequest) (any, error) {
			return nil, s.ledger.CloseBatch(caller)
		}))
		r.Post("/disclosures/prune", signedHandler(s, protocol.ActionPruneDisclosures, func(_ context.Context, caller protocol.Account, _ *protocol.ActionRequest) (any, error) {
			n, err := s.ledger.PruneStaleDisclosures(caller)
			if err != nil {
				return nil, err
			}
			return &protocol.PruneResponse{Pruned: n}, nil
		}))
	})

	r.Post("/contribute", signedHandler(s, protocol.ActionContribute, func(_ context.Context, caller protocol.Account, req *protocol.ContributeRequest) (any, error) {
		return nil, s.ledger.Contribute(caller, req.DataPointCount)
	}))
	r.Post("/generate", signedHandler(s, protocol.ActionGenerate, func(_ context.Context, caller protocol.Account, _ *protocol.ActionRequest) (any, error) {
		return nil, s.ledger.Generate(caller)
	}))

	// Submission outlives a disconnecting client: the cooldown stamp is taken
	// before the oracle is called and cannot be handed back.
	r.Post("/disclosures", signedHandler(s, protocol.ActionRequestDisclosure, func(ctx context.Context, caller protocol.Account, _ *protocol.ActionRequest) (any, error) {
		id, err := s.ledger.RequestDisclosure(context.WithoutCancel(ctx), caller)
		if err != nil {
			return nil, err
		}
		return &protocol.DisclosureResponse{RequestID: id}, nil
	}))

	r.Post("/oracle/callback", s.handleOracleCallback)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/state", s.handleGetState)
		r.Get("/disclosures", s.handleGetPendingDisclosures)
		r.Get("/disclosures/{id}", s.handleGetDisclosure)
		r.Get("/events", s.handleGetEvents)
		r.Get("/events/stream", s.handleEventStream)
	})
}

// signedHandler decodes a Signed[T] body, authenticates it and applies it.
// A nil response is reported as {"status":"ok"}.
func signedHandler[T protocol.Authenticated](s *LedgerService, action string, apply func(context.Context, protocol.Account, *T) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var signed protocol.Signed[T]
		if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
			s.reject(w, action, protocol.Account{}, fmt.Errorf("%w: decoding request: %w", protocol.ErrInvalidArgument, err))
			return
		}

		req, caller, err := verify(s.verifier, &signed, action)
		if err != nil {
			s.reject(w, action, signed.Signer, err)
			return
		}

		resp, err := apply(r.Context(), caller, req)
		if err != nil {
			s.reject(w, action, caller, err)
			return
		}
		if resp == nil {
			resp = &StatusResponse{Status: "ok"}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *LedgerService) reject(w http.ResponseWriter, op string, caller protocol.Account, err error) {
	s.config.Log.Debug("ledger call rejected", "op", op, "caller", caller, "kind", errorKind(err), "err", err)
	if s.config.Metrics != nil {
		s.config.Metrics.Rejected(op, err)
	}
	writeError(w, err)
}

func (s *LedgerService) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	const op = "oracle_callback"

	var msg protocol.DisclosureCallbackMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.reject(w, op, protocol.Account{}, fmt.Errorf("%w: decoding callback: %w", protocol.ErrInvalidArgument, err))
		return
	}

	if err := s.ledger.OnDisclosureCallback(msg.RequestID, msg.Cleartexts, msg.Proof); err != nil {
		s.reject(w, op, protocol.Account{}, err)
		return
	}

	s.config.Log.Info("disclosure accepted", "request_id", msg.RequestID)
	writeJSON(w, http.StatusOK, &StatusResponse{Status: "ok"})
}

func (s *LedgerService) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

func (s *LedgerService) handleGetPendingDisclosures(w http.ResponseWriter, r *http.Request) {
	pending := s.ledger.PendingDisclosures()
	if pending == nil {
		pending = []*protocol.DisclosureRecord{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *LedgerService) handleGetDisclosure(w http.ResponseWriter, r *http.Request) {
	id := protocol.RequestID(chi.URLParam(r, "id"))
	record, ok := s.ledger.Disclosure(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, &protocol.ErrorResponse{Error: "NotFound", Message: fmt.Sprintf("no disclosure request %q", id)})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *LedgerService) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeJSON(w, http.StatusNotFound, &protocol.ErrorResponse{Error: "NotFound", Message: "no event journal configured"})
		return
	}

	after, limit, err := pageParams(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	events, err := s.config.Store.Events(after, limit)
	if err != nil {
		s.config.Log.Error("reading event journal", "err", err)
		writeError(w, err)
		return
	}

	resp := &EventsResponse{Events: events, Next: after}
	if resp.Events == nil {
		resp.Events = []protocol.Event{}
	}
	if n := len(events); n > 0 {
		resp.Next = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func pageParams(r *http.Request) (uint64, int, error) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid after: %w", err)
		}
		after = parsed
	}

	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		limit = min(parsed, maxEventsLimit)
	}
	return after, limit, nil
}

// handleEventStream pushes events as server-sent events until the client goes away.
func (s *LedgerService) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.config.Feed == nil {
		writeJSON(w, http.StatusNotFound, &protocol.ErrorResponse{Error: "NotFound", Message: "no event feed configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.config.Feed.Subscribe(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(&ev)
			if err != nil {
				s.config.Log.Error("encoding event", "seq", ev.Seq, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
