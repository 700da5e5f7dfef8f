package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/statledger/crypto"
)

// Ledger holds the access-control state, the cooldown tracker, the batch
// lifecycle, the encrypted registers and the disclosure request table.
// All of it lives behind a single mutex, so every operation observes and
// produces a consistent state.
type Ledger struct {
	mu sync.Mutex

	identity Account
	expiry   time.Duration
	engine   crypto.Engine
	oracle   Oracle
	clock    Clock
	sink     EventSink
	seq      uint64

	checkpoints CheckpointSink
	restoreFrom *Checkpoint

	owner     Account
	providers map[Account]bool
	paused    bool

	cooldownSeconds uint64
	lastAction      map[cooldownKey]uint64

	batchID   uint64
	batchOpen bool

	registers Registers

	disclosures map[RequestID]*DisclosureRecord
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithEventSink sets the sink receiving every emitted event.
func WithEventSink(s EventSink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithEventSequence continues event numbering after seq, for journals that
// outlive the process.
func WithEventSequence(seq uint64) Option {
	return func(l *Ledger) { l.seq = seq }
}

// NewLedger creates a ledger owned by owner, or restores one when given
// WithCheckpoint.
//
// A new ledger starts in batch 1, closed and unpaused, with no providers. Its
// registers are initialized eagerly to encode(0), encode(0) and
// encode(creation time). config.CooldownSeconds is only the initial cooldown;
// a restored ledger keeps the one it was checkpointed with.
//
// Parameters:
//   - config: The ledger identity, initial cooldown and disclosure expiry
//   - owner: The initial owner, which must not be the zero address
//   - engine: The homomorphic engine the registers are kept under
//   - oracle: Where disclosure requests are submitted
//   - opts: Clock, event and checkpoint wiring
//
// Returns:
//   - *Ledger: The ready ledger
//   - error: A missing collaborator, an engine failure or an invalid checkpoint
func NewLedger(config LedgerConfig, owner Account, engine crypto.Engine, oracle Oracle, opts ...Option) (*Ledger, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if owner == (Account{}) {
		return nil, errors.New("owner must not be the zero address")
	}

	l := &Ledger{
		identity:        config.Identity,
		expiry:          config.DisclosureExpiry,
		engine:          engine,
		oracle:          oracle,
		clock:           SystemClock{},
		owner:           owner,
		providers:       make(map[Account]bool),
		cooldownSeconds: config.CooldownSeconds,
		lastAction:      make(map[cooldownKey]uint64),
		batchID:         1,
		disclosures:     make(map[RequestID]*DisclosureRecord),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.restoreFrom != nil {
		if err := l.restore(l.restoreFrom); err != nil {
			return nil, fmt.Errorf("restoring checkpoint: %w", err)
		}
		l.restoreFrom = nil
		return l, nil
	}

	var err error
	if l.registers.Count, err = engine.Encode(0); err != nil {
		return nil, fmt.Errorf("initializing count: %w", err)
	}
	if l.registers.TotalInputs, err = engine.Encode(0); err != nil {
		return nil, fmt.Errorf("initializing total inputs: %w", err)
	}
	if l.registers.Seed, err = engine.Encode(l.unixNow()); err != nil {
		return nil, fmt.Errorf("initializing seed: %w", err)
	}

	return l, nil
}

// Identity returns the ledger identity mixed into fingerprints.
func (l *Ledger) Identity() Account {
	return l.identity
}

// Owner returns the current owner.
func (l *Ledger) Owner() Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// IsProvider reports whether account may contribute.
func (l *Ledger) IsProvider(account Account) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providers[account]
}

// Providers returns the provider set sorted by address.
func (l *Ledger) Providers() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providerList()
}

func (l *Ledger) providerList() []Account {
	out := make([]Account, 0, len(l.providers))
	for a := range l.providers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Paused reports the pause flag.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// CooldownSeconds returns the current cooldown.
func (l *Ledger) CooldownSeconds() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldownSeconds
}

// LastAction returns the last stamp recorded for account and kind.
func (l *Ledger) LastAction(account Account, kind ActionKind) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.lastAction[cooldownKey{account, kind}]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(ts), 0), true
}

// CurrentBatch returns the current batch id and whether it is open.
func (l *Ledger) CurrentBatch() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batchID, l.batchOpen
}

// Registers returns a copy of the current register handles.
func (l *Ledger) Registers() Registers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Registers{
		Count:       cloneHandle(l.registers.Count),
		TotalInputs: cloneHandle(l.registers.TotalInputs),
		Seed:        cloneHandle(l.registers.Seed),
	}
}

// Fingerprint returns the fingerprint of the current registers.
func (l *Ledger) Fingerprint() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fingerprint()
}

// State is a consistent snapshot of the ledger's public state.
type State struct {
	Identity        Account     `json:"identity"`
	Owner           Account     `json:"owner"`
	Providers       []Account   `json:"providers"`
	Paused          bool        `json:"paused"`
	CooldownSeconds uint64      `json:"cooldown_seconds"`
	BatchID         uint64      `json:"batch_id"`
	BatchOpen       bool        `json:"batch_open"`
	Registers       Registers   `json:"registers"`
	Fingerprint     common.Hash `json:"fingerprint"`
	Pending         int         `json:"pending_disclosures"`
	LastSeq         uint64      `json:"last_seq"`
}

// Snapshot returns the public state taken under a single lock.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := 0
	for _, d := range l.disclosures {
		if !d.Processed {
			pending++
		}
	}
	return State{
		Identity:        l.identity,
		Owner:           l.owner,
		Providers:       l.providerList(),
		Paused:          l.paused,
		CooldownSeconds: l.cooldownSeconds,
		BatchID:         l.batchID,
		BatchOpen:       l.batchOpen,
		Registers: Registers{
			Count:       cloneHandle(l.registers.Count),
			TotalInputs: cloneHandle(l.registers.TotalInputs),
			Seed:        cloneHandle(l.registers.Seed),
		},
		Fingerprint: l.fingerprint(),
		Pending:     pending,
		LastSeq:     l.seq,
	}
}

func (l *Ledger) now() time.Time {
	return l.clock.Now()
}

func (l *Ledger) unixNow() uint64 {
	ts := l.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// emit must be called with l.mu held, after the state change is committed.
// The checkpoint taken afterwards covers ev.
func (l *Ledger) emit(ev Event) {
	l.seq++
	ev.Seq = l.seq
	ev.Timestamp = l.now()
	if l.sink != nil {
		l.sink.Publish(ev)
	}
	l.saveCheckpoint()
}

func accountPtr(a Account) *Account {
	return &a
}

func cloneHandle(h crypto.Handle) crypto.Handle {
	return append(crypto.Handle(nil), h...)
}
