package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/testutil"
	"github.com/stretchr/testify/require"
)

// testContext mirrors testing.T.Context (Go 1.24): a context canceled
// before the test's cleanup functions run.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type checkpointRecorder struct {
	mu    sync.Mutex
	saved []*Checkpoint
}

func (r *checkpointRecorder) SaveCheckpoint(cp *Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, cp)
}

func (r *checkpointRecorder) last() *Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[len(r.saved)-1]
}

// durable round-trips cp through JSON, as every store does.
func durable(t *testing.T, cp *Checkpoint) *Checkpoint {
	t.Helper()
	data, err := json.Marshal(cp)
	require.NoError(t, err)
	decoded, err := UnmarshalMessage[Checkpoint](data)
	require.NoError(t, err)
	return decoded
}

func (e *testEnv) reopen(t *testing.T, cp *Checkpoint, opts ...Option) *Ledger {
	t.Helper()
	// The owner argument is ignored when restoring.
	stranger := testutil.GenerateTestAddresses(t, 1)[0]
	opts = append([]Option{WithClock(e.clock), WithEventSink(e.events), WithCheckpoint(cp)}, opts...)
	ledger, err := NewLedger(LedgerConfig{Identity: e.identity, CooldownSeconds: 1}, stranger, e.keys.Engine(), e.oracle, opts...)
	require.NoError(t, err)
	return ledger
}

func TestCheckpointRestoresLedger(t *testing.T) {
	env := newOpenEnv(t)
	require.NoError(t, env.ledger.Contribute(env.provider, 4))
	require.NoError(t, env.ledger.SetCooldown(env.owner, 2*testCooldown))

	id, err := env.ledger.RequestDisclosure(testContext(t), env.provider)
	require.NoError(t, err)
	before := env.ledger.Snapshot()

	restored := env.reopen(t, durable(t, env.ledger.Checkpoint()))
	require.Equal(t, before, restored.Snapshot())
	require.Equal(t, env.owner, restored.Owner())
	require.Equal(t, uint64(2*testCooldown), restored.CooldownSeconds())

	// Cooldown stamps survive, in both lanes.
	env.clock.Advance(testCooldown * time.Second)
	require.ErrorIs(t, restored.Generate(env.provider), ErrCooldownActive)
	_, err = restored.RequestDisclosure(testContext(t), env.provider)
	require.ErrorIs(t, err, ErrCooldownActive)

	// The pending request is still accepted over the unchanged registers.
	cleartexts, proof := env.fulfill(t, id)
	require.NoError(t, restored.OnDisclosureCallback(id, cleartexts, proof))
	record, ok := restored.Disclosure(id)
	require.True(t, ok)
	require.True(t, record.Processed)
	require.Equal(t, uint64(4), record.Cleartexts.TotalInputs.Uint64())

	// Numbering continues after the checkpoint.
	events := env.events.Events(before.LastSeq, 0)
	require.Len(t, events, 1)
	require.Equal(t, before.LastSeq+1, events[0].Seq)
	require.Equal(t, EventDisclosureCompleted, events[0].Kind)

	// Accumulation continues on the restored registers.
	env.clock.Advance(2 * testCooldown * time.Second)
	require.NoError(t, restored.Contribute(env.provider, 3))
	require.Equal(t, uint64(7), env.decrypt(t, restored.Registers().TotalInputs).Uint64())
}

func TestCheckpointTakenAfterEveryChange(t *testing.T) {
	env := newTestEnv(t, LedgerConfig{CooldownSeconds: testCooldown})
	recorder := &checkpointRecorder{}
	ledger, err := NewLedger(LedgerConfig{Identity: env.identity, CooldownSeconds: testCooldown},
		env.owner, env.keys.Engine(), env.oracle,
		WithClock(env.clock), WithEventSink(env.events), WithCheckpointSink(recorder))
	require.NoError(t, err)
	require.Nil(t, recorder.last(), "construction alone does not checkpoint")

	require.NoError(t, ledger.AddProvider(env.owner, env.provider))
	require.NoError(t, ledger.OpenBatch(env.owner))
	require.NoError(t, ledger.Contribute(env.provider, 5))

	cp := recorder.last()
	require.Equal(t, ledger.Snapshot().LastSeq, cp.Seq)
	require.Equal(t, []Account{env.provider}, cp.Providers)
	require.True(t, cp.BatchOpen)
	require.Equal(t, ledger.Registers(), cp.Registers)
	require.Len(t, cp.Stamps, 1)
	require.Equal(t, CooldownStamp{Account: env.provider, Kind: ActionMutate, At: uint64(env.clock.Now().Unix())}, cp.Stamps[0])

	// A failed submission emits nothing but consumes the disclose stamp,
	// and the checkpoint records it.
	saved := len(recorder.saved)
	env.oracle.err = errors.New("oracle down")
	_, err = ledger.RequestDisclosure(testContext(t), env.provider)
	require.ErrorIs(t, err, ErrOracleUnavailable)
	require.Len(t, recorder.saved, saved+1)
	require.Len(t, recorder.last().Stamps, 2)
	require.Equal(t, cp.Seq, recorder.last().Seq)

	restored := env.reopen(t, durable(t, recorder.last()))
	env.oracle.err = nil
	_, err = restored.RequestDisclosure(testContext(t), env.provider)
	require.ErrorIs(t, err, ErrCooldownActive)
}

func TestRestoreRejectsInvalidCheckpoints(t *testing.T) {
	env := newOpenEnv(t)
	require.NoError(t, env.ledger.Contribute(env.provider, 1))
	good := env.ledger.Checkpoint()

	mutate := map[string]func(cp *Checkpoint){
		"foreign ledger": func(cp *Checkpoint) { cp.Identity = env.owner },
		"no owner":       func(cp *Checkpoint) { cp.Owner = Account{} },
		"no batch":       func(cp *Checkpoint) { cp.BatchID = 0 },
		"short register": func(cp *Checkpoint) { cp.Registers.Seed = crypto.Handle{0x01} },
		"foreign key": func(cp *Checkpoint) {
			other := testutil.GenerateTestKeys(t, testutil.WithPaillierBits(crypto.MinPaillierBits*2))
			h, err := other.Engine().Encode(1)
			require.NoError(t, err)
			cp.Registers.Count = h
		},
		"anonymous disclosure": func(cp *Checkpoint) { cp.Disclosures = []*DisclosureRecord{{}} },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			cp := durable(t, good)
			fn(cp)
			_, err := NewLedger(LedgerConfig{Identity: env.identity}, env.owner, env.keys.Engine(), env.oracle, WithCheckpoint(cp))
			require.Error(t, err)
		})
	}
}
