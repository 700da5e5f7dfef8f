package protocol

import (
	"errors"
	"fmt"
	"sort"
)

// Checkpoint is the durable form of a ledger: everything NewLedger would
// otherwise initialize afresh. Seq is the sequence number of the last event
// emitted before the checkpoint was taken.
type Checkpoint struct {
	Identity        Account             `json:"identity"`
	Owner           Account             `json:"owner"`
	Providers       []Account           `json:"providers"`
	Paused          bool                `json:"paused"`
	CooldownSeconds uint64              `json:"cooldown_seconds"`
	Stamps          []CooldownStamp     `json:"cooldown_stamps"`
	BatchID         uint64              `json:"batch_id"`
	BatchOpen       bool                `json:"batch_open"`
	Registers       Registers           `json:"registers"`
	Disclosures     []*DisclosureRecord `json:"disclosures"`
	Seq             uint64              `json:"seq"`
}

// CooldownStamp is the last accepted action of one account in one lane.
type CooldownStamp struct {
	Account Account    `json:"account"`
	Kind    ActionKind `json:"kind"`
	At      uint64     `json:"at"`
}

// CheckpointSink receives a checkpoint after every committed state change,
// with the ledger lock held.
type CheckpointSink interface {
	SaveCheckpoint(cp *Checkpoint)
}

// WithCheckpointSink makes the ledger checkpoint itself to s.
func WithCheckpointSink(s CheckpointSink) Option {
	return func(l *Ledger) { l.checkpoints = s }
}

// WithCheckpoint restores the ledger from cp instead of initializing it.
// The owner passed to NewLedger is ignored and event numbering continues
// after cp.Seq, overriding WithEventSequence.
func WithCheckpoint(cp *Checkpoint) Option {
	return func(l *Ledger) { l.restoreFrom = cp }
}

// Checkpoint returns the durable state taken under a single lock.
func (l *Ledger) Checkpoint() *Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpoint()
}

func (l *Ledger) checkpoint() *Checkpoint {
	stamps := make([]CooldownStamp, 0, len(l.lastAction))
	for key, at := range l.lastAction {
		stamps = append(stamps, CooldownStamp{Account: key.account, Kind: key.kind, At: at})
	}
	sort.Slice(stamps, func(i, j int) bool {
		if c := stamps[i].Account.Cmp(stamps[j].Account); c != 0 {
			return c < 0
		}
		return stamps[i].Kind < stamps[j].Kind
	})

	disclosures := make([]*DisclosureRecord, 0, len(l.disclosures))
	for _, r := range l.disclosures {
		disclosures = append(disclosures, r.clone())
	}
	sort.Slice(disclosures, func(i, j int) bool {
		return disclosures[i].RequestID < disclosures[j].RequestID
	})

	return &Checkpoint{
		Identity:        l.identity,
		Owner:           l.owner,
		Providers:       l.providerList(),
		Paused:          l.paused,
		CooldownSeconds: l.cooldownSeconds,
		Stamps:          stamps,
		BatchID:         l.batchID,
		BatchOpen:       l.batchOpen,
		Registers: Registers{
			Count:       cloneHandle(l.registers.Count),
			TotalInputs: cloneHandle(l.registers.TotalInputs),
			Seed:        cloneHandle(l.registers.Seed),
		},
		Disclosures: disclosures,
		Seq:         l.seq,
	}
}

// saveCheckpoint must be called with l.mu held.
func (l *Ledger) saveCheckpoint() {
	if l.checkpoints != nil {
		l.checkpoints.SaveCheckpoint(l.checkpoint())
	}
}

// restore replaces the freshly initialized state with cp. The registers
// must be valid handles under the ledger's engine.
func (l *Ledger) restore(cp *Checkpoint) error {
	if cp.Identity != l.identity {
		return fmt.Errorf("checkpoint belongs to ledger %s", cp.Identity)
	}
	if cp.Owner == (Account{}) {
		return errors.New("checkpoint has no owner")
	}
	if cp.BatchID == 0 {
		return errors.New("checkpoint has no batch id")
	}
	for name, h := range map[string][]byte{
		"count":        cp.Registers.Count,
		"total inputs": cp.Registers.TotalInputs,
		"seed":         cp.Registers.Seed,
	} {
		// Adding zero is the identity on a valid handle and fails on any other.
		if _, err := l.engine.AddPlain(h, 0); err != nil {
			return fmt.Errorf("checkpoint %s register: %w", name, err)
		}
	}

	l.owner = cp.Owner
	l.providers = make(map[Account]bool, len(cp.Providers))
	for _, a := range cp.Providers {
		l.providers[a] = true
	}
	l.paused = cp.Paused
	l.cooldownSeconds = cp.CooldownSeconds
	l.lastAction = make(map[cooldownKey]uint64, len(cp.Stamps))
	for _, s := range cp.Stamps {
		l.lastAction[cooldownKey{s.Account, s.Kind}] = s.At
	}
	l.batchID = cp.BatchID
	l.batchOpen = cp.BatchOpen
	l.registers = Registers{
		Count:       cloneHandle(cp.Registers.Count),
		TotalInputs: cloneHandle(cp.Registers.TotalInputs),
		Seed:        cloneHandle(cp.Registers.Seed),
	}
	l.disclosures = make(map[RequestID]*DisclosureRecord, len(cp.Disclosures))
	for _, r := range cp.Disclosures {
		if r == nil || r.RequestID == "" {
			return errors.New("checkpoint has a disclosure without request id")
		}
		l.disclosures[r.RequestID] = r.clone()
	}
	l.seq = cp.Seq
	return nil
}
