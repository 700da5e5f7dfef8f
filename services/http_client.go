package services

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/protocol"
	"github.com/google/uuid"
)

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req, out)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(client, req, out)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// LedgerClient calls a LedgerService, signing every mutating request with key.
type LedgerClient struct {
	baseURL    string
	ledger     protocol.Account
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	clock      protocol.Clock
}

// NewLedgerClient creates a client of the ledger with identity ledger served at baseURL.
func NewLedgerClient(baseURL string, ledger protocol.Account, key *ecdsa.PrivateKey) *LedgerClient {
	return &LedgerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		ledger:     ledger,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      protocol.SystemClock{},
	}
}

// WithClock makes the client stamp requests with clock.
func (c *LedgerClient) WithClock(clock protocol.Clock) *LedgerClient {
	c.clock = clock
	return c
}

func (c *LedgerClient) header(action string) protocol.RequestHeader {
	return protocol.RequestHeader{
		Action:   action,
		Ledger:   c.ledger,
		IssuedAt: c.clock.Now().Unix(),
		Nonce:    uuid.NewString(),
	}
}

func send[T any](ctx context.Context, c *LedgerClient, path string, req *T, out any) error {
	signed, err := protocol.NewSigned(c.key, req)
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	return postJSON(ctx, c.httpClient, c.baseURL+path, signed, out)
}

func (c *LedgerClient) TransferOwnership(ctx context.Context, newOwner protocol.Account) error {
	return send(ctx, c, "/admin/ownership", &protocol.TransferOwnershipRequest{
		RequestHeader: c.header(protocol.ActionTransferOwnership),
		NewOwner:      newOwner,
	}, nil)
}

func (c *LedgerClient) AddProvider(ctx context.Context, account protocol.Account) error {
	return send(ctx, c, "/admin/providers", &protocol.ProviderRequest{
		RequestHeader: c.header(protocol.ActionAddProvider),
		Account:       account,
	}, nil)
}

func (c *LedgerClient) RemoveProvider(ctx context.Context, account protocol.Account) error {
	return send(ctx, c, "/admin/providers/remove", &protocol.ProviderRequest{
		RequestHeader: c.header(protocol.ActionRemoveProvider),
		Account:       account,
	}, nil)
}

func (c *LedgerClient) SetPaused(ctx context.Context, paused bool) error {
	return send(ctx, c, "/admin/pause", &protocol.PauseRequest{
		RequestHeader: c.header(protocol.ActionSetPaused),
		Paused:        paused,
	}, nil)
}

func (c *LedgerClient) SetCooldown(ctx context.Context, seconds uint64) error {
	return send(ctx, c, "/admin/cooldown", &protocol.CooldownRequest{
		RequestHeader: c.header(protocol.ActionSetCooldown),
		Seconds:       seconds,
	}, nil)
}

func (c *LedgerClient) OpenBatch(ctx context.Context) error {
	return send(ctx, c, "/admin/batch/open", &protocol.ActionRequest{RequestHeader: c.header(protocol.ActionOpenBatch)}, nil)
}

func (c *LedgerClient) CloseBatch(ctx context.Context) error {
	return send(ctx, c, "/admin/batch/close", &protocol.ActionRequest{RequestHeader: c.header(protocol.ActionCloseBatch)}, nil)
}

// PruneDisclosures drops expired disclosure requests and returns how many were dropped.
func (c *LedgerClient) PruneDisclosures(ctx context.Context) (int, error) {
	var resp protocol.PruneResponse
	err := send(ctx, c, "/admin/disclosures/prune", &protocol.ActionRequest{RequestHeader: c.header(protocol.ActionPruneDisclosures)}, &resp)
	return resp.Pruned, err
}

func (c *LedgerClient) Contribute(ctx context.Context, dataPointCount uint64) error {
	return send(ctx, c, "/contribute", &protocol.ContributeRequest{
		RequestHeader:  c.header(protocol.ActionContribute),
		DataPointCount: dataPointCount,
	}, nil)
}

func (c *LedgerClient) Generate(ctx context.Context) error {
	return send(ctx, c, "/generate", &protocol.ActionRequest{RequestHeader: c.header(protocol.ActionGenerate)}, nil)
}

// RequestDisclosure asks for the current registers to be decrypted.
func (c *LedgerClient) RequestDisclosure(ctx context.Context) (protocol.RequestID, error) {
	var resp protocol.DisclosureResponse
	err := send(ctx, c, "/disclosures", &protocol.ActionRequest{RequestHeader: c.header(protocol.ActionRequestDisclosure)}, &resp)
	return resp.RequestID, err
}

func (c *LedgerClient) State(ctx context.Context) (*protocol.State, error) {
	var state protocol.State
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *LedgerClient) Disclosure(ctx context.Context, id protocol.RequestID) (*protocol.DisclosureRecord, error) {
	var record protocol.DisclosureRecord
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/disclosures/"+url.PathEscape(string(id)), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *LedgerClient) PendingDisclosures(ctx context.Context) ([]*protocol.DisclosureRecord, error) {
	var records []*protocol.DisclosureRecord
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/disclosures", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Events reads one page of the event journal.
func (c *LedgerClient) Events(ctx context.Context, after uint64, limit int) (*EventsResponse, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp EventsResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/events?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DefaultSubmitTimeout bounds one decryption submission. The ledger holds its
// state lock for the whole call, so reads, mutations and callbacks of that
// ledger wait at most this long on a slow oracle.
const DefaultSubmitTimeout = 3 * time.Second

// OracleClient implements protocol.Oracle against an OracleService. Each
// submission is signed with key, whose address the oracle must have
// registered for the ledger. Results are delivered to callbackURL, the
// ledger's /oracle/callback endpoint.
type OracleClient struct {
	baseURL       string
	callbackURL   string
	key           *ecdsa.PrivateKey
	submitTimeout time.Duration
	clock         protocol.Clock
	httpClient    *http.Client
}

// NewOracleClient creates a client of the oracle served at baseURL. A nil key
// is enough to fetch keys but not to submit.
func NewOracleClient(baseURL, callbackURL string, key *ecdsa.PrivateKey) *OracleClient {
	return &OracleClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		callbackURL:   callbackURL,
		key:           key,
		submitTimeout: DefaultSubmitTimeout,
		clock:         protocol.SystemClock{},
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithSubmitTimeout replaces DefaultSubmitTimeout.
func (c *OracleClient) WithSubmitTimeout(d time.Duration) *OracleClient {
	c.submitTimeout = d
	return c
}

// WithClock makes the client stamp submissions with clock.
func (c *OracleClient) WithClock(clock protocol.Clock) *OracleClient {
	c.clock = clock
	return c
}

// Signer returns the address the oracle must have registered for this client.
func (c *OracleClient) Signer() protocol.Account {
	if c.key == nil {
		return protocol.Account{}
	}
	return ethcrypto.PubkeyToAddress(c.key.PublicKey)
}

func (c *OracleClient) SubmitForDecryption(ctx context.Context, ledger protocol.Account, handles [3]crypto.Handle) (protocol.RequestID, error) {
	if c.key == nil {
		return "", errors.New("oracle client has no signing key")
	}
	signed, err := protocol.NewSigned(c.key, &protocol.DecryptionSubmission{
		RequestHeader: protocol.RequestHeader{
			Action:   protocol.ActionSubmitDecryption,
			Ledger:   ledger,
			IssuedAt: c.clock.Now().Unix(),
			Nonce:    uuid.NewString(),
		},
		Handles:     handles,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("signing submission: %w", err)
	}

	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	var receipt protocol.DecryptionReceipt
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/decrypt", signed, &receipt); err != nil {
		return "", err
	}
	return receipt.RequestID, nil
}

// Keys fetches the encryption and proof keys of the oracle.
func (c *OracleClient) Keys(ctx context.Context) (*OracleKeysResponse, error) {
	var keys OracleKeysResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/public-key", &keys); err != nil {
		return nil, err
	}
	if keys.Paillier == nil || len(keys.ProofKey) == 0 {
		return nil, errors.New("oracle returned incomplete keys")
	}
	return &keys, nil
}

// Engine builds the engine a ledger accumulates with from the oracle's keys.
func (c *OracleClient) Engine(ctx context.Context) (*crypto.PaillierEngine, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.NewPaillierEngine(keys.Paillier, keys.ProofKey), nil
}

// HTTPCallback implements oracle.Callback by posting to a ledger's callback
// endpoint. Rejections by the ledger are permanent; transport failures and
// 5xx responses are retried by the oracle.
type HTTPCallback struct {
	URL    string
	Client *http.Client
}

func (c *HTTPCallback) Deliver(ctx context.Context, msg *protocol.DisclosureCallbackMessage) error {
	err := postJSON(ctx, c.Client, c.URL, msg, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return backoff.Permanent(err)
	}
	return err
}
