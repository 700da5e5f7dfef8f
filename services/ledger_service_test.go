package services

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/oracle"
	"github.com/flashbots/statledger/protocol"
	"github.com/flashbots/statledger/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testCooldown = 60

// recordingOracle hands out sequential ids and keeps the submitted handles,
// leaving the callback to the test.
type recordingOracle struct {
	mu          sync.Mutex
	next        int
	submissions map[protocol.RequestID][3]crypto.Handle
}

func (o *recordingOracle) SubmitForDecryption(_ context.Context, _ protocol.Account, handles [3]crypto.Handle) (protocol.RequestID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := protocol.RequestID(fmt.Sprintf("req-%d", o.next))
	o.submissions[id] = handles
	return id, nil
}

func (o *recordingOracle) submitted(id protocol.RequestID) [3]crypto.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submissions[id]
}

type ledgerTestEnv struct {
	keys     *testutil.Keys
	clock    *testutil.FakeClock
	ledger   *protocol.Ledger
	store    *InMemoryStore
	feed     *protocol.EventFeed
	server   *httptest.Server
	identity protocol.Account

	local    *oracle.LocalOracle
	recorder *recordingOracle

	ownerKey    *ecdsa.PrivateKey
	owner       protocol.Account
	providerKey *ecdsa.PrivateKey
	provider    protocol.Account
}

type envOptions struct {
	localOracle bool
	config      LedgerServiceConfig
}

func newLedgerTestEnv(t *testing.T, opts envOptions) *ledgerTestEnv {
	t.Helper()

	env := &ledgerTestEnv{
		keys:     testutil.GenerateTestKeys(t),
		clock:    testutil.NewFakeClock(testutil.DefaultStart),
		store:    NewInMemoryStore(),
		feed:     protocol.NewEventFeed(16),
		identity: testutil.GenerateTestAddresses(t, 1)[0],
	}
	env.ownerKey, env.owner = testutil.GenerateTestAccount(t)
	env.providerKey, env.provider = testutil.GenerateTestAccount(t)

	var o protocol.Oracle
	if opts.localOracle {
		config := oracle.DefaultConfig()
		config.InitialRetryInterval = time.Millisecond
		config.MaxRetryElapsed = time.Second
		local, err := oracle.NewLocalOracle(config, env.keys.Paillier, env.keys.OracleKey)
		require.NoError(t, err)
		t.Cleanup(local.Stop)
		env.local, o = local, local
	} else {
		env.recorder = &recordingOracle{submissions: make(map[protocol.RequestID][3]crypto.Handle)}
		o = env.recorder
	}

	ledger, err := protocol.NewLedger(
		protocol.LedgerConfig{Identity: env.identity, CooldownSeconds: testCooldown},
		env.owner, env.keys.Engine(), o,
		protocol.WithClock(env.clock),
		protocol.WithEventSink(protocol.MultiSink{NewStoreSink(env.store, nil, nil), env.feed}),
	)
	require.NoError(t, err)
	env.ledger = ledger
	if env.local != nil {
		env.local.Register(env.identity, oracle.LedgerCallback{Ledger: ledger})
	}

	config := opts.config
	config.Clock = env.clock
	if config.Store == nil {
		config.Store = env.store
	}
	config.Feed = env.feed
	svc, err := NewLedgerService(ledger, config)
	require.NoError(t, err)

	router := chi.NewRouter()
	svc.RegisterRoutes(router)
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *ledgerTestEnv) client(key *ecdsa.PrivateKey) *LedgerClient {
	return NewLedgerClient(e.server.URL, e.identity, key).WithClock(e.clock)
}

func (e *ledgerTestEnv) ownerClient() *LedgerClient    { return e.client(e.ownerKey) }
func (e *ledgerTestEnv) providerClient() *LedgerClient { return e.client(e.providerKey) }

// openBatch adds the provider and opens a batch.
func (e *ledgerTestEnv) openBatch(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ownerClient().AddProvider(ctx, e.provider))
	require.NoError(t, e.ownerClient().OpenBatch(ctx))
}

func (e *ledgerTestEnv) post(t *testing.T, path string, body any) (*http.Response, protocol.ErrorResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp protocol.ErrorResponse
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	}
	return resp, errResp
}

func (e *ledgerTestEnv) header(action string) protocol.RequestHeader {
	return protocol.RequestHeader{Action: action, Ledger: e.identity, IssuedAt: e.clock.Now().Unix(), Nonce: "n"}
}

func requireAPIError(t *testing.T, err error, status int, sentinel error) {
	t.Helper()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.StatusCode)
	require.ErrorIs(t, err, sentinel)
}

func TestLedgerServiceDisclosureFlow(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{localOracle: true})
	env.openBatch(t)
	ctx := context.Background()
	provider := env.providerClient()

	require.NoError(t, provider.Contribute(ctx, 5))
	env.clock.Advance(testCooldown * time.Second)
	require.NoError(t, provider.Generate(ctx))

	id, err := provider.RequestDisclosure(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	env.local.Wait()

	record, err := provider.Disclosure(ctx, id)
	require.NoError(t, err)
	require.True(t, record.Processed)
	require.Equal(t, uint64(1), record.Cleartexts.Count.Uint64())
	require.Equal(t, uint64(5), record.Cleartexts.TotalInputs.Uint64())

	state, err := provider.State(ctx)
	require.NoError(t, err)
	require.Equal(t, env.identity, state.Identity)
	require.Equal(t, env.owner, state.Owner)
	require.Equal(t, []protocol.Account{env.provider}, state.Providers)
	require.True(t, state.BatchOpen)
	require.Zero(t, state.Pending)
	require.Equal(t, env.ledger.Fingerprint(), state.Fingerprint)

	pending, err := provider.PendingDisclosures(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestLedgerServiceErrorMapping(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	ctx := context.Background()
	owner, provider := env.ownerClient(), env.providerClient()

	requireAPIError(t, provider.OpenBatch(ctx), http.StatusForbidden, protocol.ErrNotOwner)
	requireAPIError(t, provider.Generate(ctx), http.StatusForbidden, protocol.ErrNotProvider)

	require.NoError(t, owner.AddProvider(ctx, env.provider))
	requireAPIError(t, provider.Contribute(ctx, 1), http.StatusConflict, protocol.ErrBatchNotOpen)

	require.NoError(t, owner.OpenBatch(ctx))
	require.NoError(t, provider.Contribute(ctx, 1))
	requireAPIError(t, provider.Generate(ctx), http.StatusTooManyRequests, protocol.ErrCooldownActive)

	require.NoError(t, owner.SetPaused(ctx, true))
	_, err := provider.RequestDisclosure(ctx)
	requireAPIError(t, err, http.StatusServiceUnavailable, protocol.ErrPaused)

	requireAPIError(t, owner.TransferOwnership(ctx, protocol.Account{}), http.StatusBadRequest, protocol.ErrInvalidArgument)

	require.NoError(t, owner.SetPaused(ctx, false))
	require.NoError(t, owner.SetCooldown(ctx, 0))
	require.NoError(t, provider.Generate(ctx))
	require.NoError(t, owner.CloseBatch(ctx))
	require.NoError(t, owner.RemoveProvider(ctx, env.provider))
	require.False(t, env.ledger.IsProvider(env.provider))

	pruned, err := owner.PruneDisclosures(ctx)
	require.NoError(t, err)
	require.Zero(t, pruned)

	newOwner := testutil.GenerateTestAddresses(t, 1)[0]
	require.NoError(t, owner.TransferOwnership(ctx, newOwner))
	require.Equal(t, newOwner, env.ledger.Owner())
}

func TestLedgerServiceAuthentication(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})

	sign := func(req *protocol.ProviderRequest) *protocol.Signed[protocol.ProviderRequest] {
		signed, err := protocol.NewSigned(env.ownerKey, req)
		require.NoError(t, err)
		return signed
	}
	request := func(header protocol.RequestHeader) *protocol.ProviderRequest {
		return &protocol.ProviderRequest{RequestHeader: header, Account: env.provider}
	}

	t.Run("wrong action", func(t *testing.T) {
		resp, body := env.post(t, "/admin/providers", sign(request(env.header(protocol.ActionRemoveProvider))))
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "Unauthorized", body.Error)
	})

	t.Run("wrong ledger", func(t *testing.T) {
		header := env.header(protocol.ActionAddProvider)
		header.Ledger = env.owner
		resp, _ := env.post(t, "/admin/providers", sign(request(header)))
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("stale", func(t *testing.T) {
		header := env.header(protocol.ActionAddProvider)
		header.IssuedAt = env.clock.Now().Add(-time.Hour).Unix()
		resp, _ := env.post(t, "/admin/providers", sign(request(header)))
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("tampered", func(t *testing.T) {
		signed := sign(request(env.header(protocol.ActionAddProvider)))
		signed.Object.Account = env.owner
		resp, _ := env.post(t, "/admin/providers", signed)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.False(t, env.ledger.IsProvider(env.owner))
	})

	t.Run("replayed", func(t *testing.T) {
		signed := sign(request(env.header(protocol.ActionAddProvider)))
		resp, _ := env.post(t, "/admin/providers", signed)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, env.ledger.IsProvider(env.provider))

		resp, body := env.post(t, "/admin/providers", signed)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, body.Message, "already seen")
	})

	t.Run("malformed", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/admin/providers", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLedgerServiceOracleCallback(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	env.openBatch(t)
	ctx := context.Background()
	provider := env.providerClient()

	require.NoError(t, provider.Contribute(ctx, 7))
	id, err := provider.RequestDisclosure(ctx)
	require.NoError(t, err)

	handles := env.recorder.submitted(id)
	var values [3]*big.Int
	for i, h := range handles {
		v, err := env.keys.Paillier.DecryptHandle(h)
		require.NoError(t, err)
		values[i] = v
	}
	proof, err := crypto.SignDecryption(env.keys.OracleKey, string(id), handles, values)
	require.NoError(t, err)
	msg := &protocol.DisclosureCallbackMessage{
		RequestID:  id,
		Cleartexts: protocol.Cleartexts{Count: values[0], TotalInputs: values[1], Seed: values[2]},
		Proof:      proof.Bytes(),
	}

	forged := *msg
	forged.Cleartexts.TotalInputs = big.NewInt(8)
	resp, body := env.post(t, "/oracle/callback", &forged)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidProof", body.Error)

	resp, _ = env.post(t, "/oracle/callback", msg)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.post(t, "/oracle/callback", msg)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "ReplayDetected", body.Error)

	unknown := *msg
	unknown.RequestID = "req-404"
	resp, body = env.post(t, "/oracle/callback", &unknown)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "ReplayDetected", body.Error)

	record, err := provider.Disclosure(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(7), record.Cleartexts.TotalInputs.Uint64())
}

func TestLedgerServiceStaleCallback(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	env.openBatch(t)
	ctx := context.Background()
	provider := env.providerClient()

	id, err := provider.RequestDisclosure(ctx)
	require.NoError(t, err)
	require.NoError(t, provider.Generate(ctx))

	handles := env.recorder.submitted(id)
	var values [3]*big.Int
	for i, h := range handles {
		v, err := env.keys.Paillier.DecryptHandle(h)
		require.NoError(t, err)
		values[i] = v
	}
	proof, err := crypto.SignDecryption(env.keys.OracleKey, string(id), handles, values)
	require.NoError(t, err)

	resp, body := env.post(t, "/oracle/callback", &protocol.DisclosureCallbackMessage{
		RequestID:  id,
		Cleartexts: protocol.Cleartexts{Count: values[0], TotalInputs: values[1], Seed: values[2]},
		Proof:      proof.Bytes(),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "StateMismatch", body.Error)

	record, err := provider.Disclosure(ctx, id)
	require.NoError(t, err)
	require.False(t, record.Processed)
}

func TestLedgerServiceEvents(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	env.openBatch(t)
	ctx := context.Background()
	owner := env.ownerClient()
	require.NoError(t, owner.SetPaused(ctx, true))
	require.NoError(t, owner.SetPaused(ctx, false))

	page, err := owner.Events(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, protocol.EventProviderAdded, page.Events[0].Kind)
	require.Equal(t, protocol.EventBatchOpened, page.Events[1].Kind)
	require.Equal(t, uint64(2), page.Next)

	page, err = owner.Events(ctx, page.Next, 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, uint64(4), page.Next)

	page, err = owner.Events(ctx, page.Next, 0)
	require.NoError(t, err)
	require.Empty(t, page.Events)
	require.Equal(t, uint64(4), page.Next)

	resp, err := http.Get(env.server.URL + "/events?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLedgerServiceDisclosureNotFound(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	_, err := env.ownerClient().Disclosure(context.Background(), "missing")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "NotFound", apiErr.Kind)
}

func TestLedgerServiceCORS(t *testing.T) {
	const origin = "https://dashboard.example"
	env := newLedgerTestEnv(t, envOptions{config: LedgerServiceConfig{AllowedOrigins: []string{origin}}})

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", origin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLedgerServiceEventStream(t *testing.T) {
	env := newLedgerTestEnv(t, envOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.ownerClient().SetPaused(context.Background(), true))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev protocol.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		require.Equal(t, protocol.EventPauseToggled, ev.Kind)
		require.True(t, *ev.Paused)
		return
	}
	t.Fatalf("stream ended: %v", scanner.Err())
}
