package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/protocol"
	"github.com/flashbots/statledger/testutil"
	"github.com/stretchr/testify/require"
)

func testOracle(t *testing.T, keys *testutil.Keys) *LocalOracle {
	t.Helper()
	config := DefaultConfig()
	config.InitialRetryInterval = time.Millisecond
	config.MaxRetryInterval = 5 * time.Millisecond
	config.MaxRetryElapsed = time.Second

	o, err := NewLocalOracle(config, keys.Paillier, keys.OracleKey)
	require.NoError(t, err)
	t.Cleanup(o.Stop)
	return o
}

func setupLedger(t *testing.T) (*protocol.Ledger, *LocalOracle, protocol.Account, protocol.Account) {
	t.Helper()
	keys := testutil.GenerateTestKeys(t)
	addrs := testutil.GenerateTestAddresses(t, 3)
	identity, owner := addrs[0], addrs[1]

	o := testOracle(t, keys)
	engine := crypto.NewPaillierEngine(o.PublicKey(), o.ProofKey())
	ledger, err := protocol.NewLedger(protocol.LedgerConfig{Identity: identity}, owner, engine, o)
	require.NoError(t, err)
	o.Register(identity, LedgerCallback{Ledger: ledger})

	require.NoError(t, ledger.AddProvider(owner, owner))
	require.NoError(t, ledger.OpenBatch(owner))
	return ledger, o, owner, addrs[2]
}

func TestLocalOracleDeliversVerifiedDisclosure(t *testing.T) {
	ledger, o, owner, _ := setupLedger(t)

	require.NoError(t, ledger.Contribute(owner, 21))
	require.NoError(t, ledger.Generate(owner))

	id, err := ledger.RequestDisclosure(context.Background(), owner)
	require.NoError(t, err)
	o.Wait()

	job, ok := o.Job(id)
	require.True(t, ok)
	require.Equal(t, JobDelivered, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.CompletedAt)

	record, ok := ledger.Disclosure(id)
	require.True(t, ok)
	require.True(t, record.Processed)
	require.Equal(t, uint64(1), record.Cleartexts.Count.Uint64())
	require.Equal(t, uint64(21), record.Cleartexts.TotalInputs.Uint64())

	require.Equal(t, Stats{Submitted: 1, Delivered: 1}, o.Stats())
}

func TestLocalOracleStaleResultIsRejected(t *testing.T) {
	keys := testutil.GenerateTestKeys(t)
	addrs := testutil.GenerateTestAddresses(t, 2)
	identity, owner := addrs[0], addrs[1]

	config := DefaultConfig()
	config.Delay = 50 * time.Millisecond
	o, err := NewLocalOracle(config, keys.Paillier, keys.OracleKey)
	require.NoError(t, err)
	t.Cleanup(o.Stop)

	ledger, err := protocol.NewLedger(protocol.LedgerConfig{Identity: identity}, owner, keys.Engine(), o)
	require.NoError(t, err)
	o.Register(identity, LedgerCallback{Ledger: ledger})
	require.NoError(t, ledger.AddProvider(owner, owner))
	require.NoError(t, ledger.OpenBatch(owner))

	id, err := ledger.RequestDisclosure(context.Background(), owner)
	require.NoError(t, err)
	// Mutate before the delayed result arrives.
	require.NoError(t, ledger.Generate(owner))
	o.Wait()

	job, ok := o.Job(id)
	require.True(t, ok)
	require.Equal(t, JobRejected, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Contains(t, job.Error, "state mismatch")

	record, _ := ledger.Disclosure(id)
	require.False(t, record.Processed)
	require.Equal(t, uint64(1), o.Stats().Rejected)
}

type flakyCallback struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      *protocol.DisclosureCallbackMessage
}

func (c *flakyCallback) Deliver(_ context.Context, msg *protocol.DisclosureCallbackMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("connection reset")
	}
	c.got = msg
	return nil
}

func TestLocalOracleRetriesTransientFailures(t *testing.T) {
	keys := testutil.GenerateTestKeys(t)
	o := testOracle(t, keys)
	engine := keys.Engine()
	ledger := testutil.GenerateTestAddresses(t, 1)[0]

	var handles [3]crypto.Handle
	for i := range handles {
		h, err := engine.Encode(uint64(10 * (i + 1)))
		require.NoError(t, err)
		handles[i] = h
	}

	cb := &flakyCallback{failures: 2}
	id, err := o.Submit(context.Background(), ledger, handles, cb)
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Job(id)
	require.Equal(t, JobDelivered, job.Status)
	require.Equal(t, 3, job.Attempts)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.Equal(t, id, cb.got.RequestID)
	require.Equal(t, uint64(30), cb.got.Cleartexts.Seed.Uint64())
	require.True(t, engine.Verify(string(id), handles, cb.got.Cleartexts.Array(), cb.got.Proof))
}

type permanentCallback struct{ calls int }

func (c *permanentCallback) Deliver(context.Context, *protocol.DisclosureCallbackMessage) error {
	c.calls++
	return backoff.Permanent(errors.New("bad request"))
}

func TestLocalOracleStopsOnPermanentFailure(t *testing.T) {
	keys := testutil.GenerateTestKeys(t)
	o := testOracle(t, keys)
	h, err := keys.Engine().Encode(1)
	require.NoError(t, err)

	cb := &permanentCallback{}
	id, err := o.Submit(context.Background(), protocol.Account{}, [3]crypto.Handle{h, h, h}, cb)
	require.NoError(t, err)
	o.Wait()

	job, _ := o.Job(id)
	require.Equal(t, JobFailed, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, "bad request", job.Error)
}

func TestLocalOracleRejectsInvalidSubmissions(t *testing.T) {
	keys := testutil.GenerateTestKeys(t)
	o := testOracle(t, keys)
	h, err := keys.Engine().Encode(1)
	require.NoError(t, err)

	_, err = o.SubmitForDecryption(context.Background(), protocol.Account{}, [3]crypto.Handle{h, h, h})
	require.ErrorContains(t, err, "no callback registered")

	_, err = o.Submit(context.Background(), protocol.Account{}, [3]crypto.Handle{h, {0x01}, h}, &permanentCallback{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Submit(ctx, protocol.Account{}, [3]crypto.Handle{h, h, h}, &permanentCallback{})
	require.ErrorIs(t, err, context.Canceled)

	_, ok := o.Job("missing")
	require.False(t, ok)
	require.Zero(t, o.Stats().Submitted)
}
