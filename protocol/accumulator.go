package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/crypto"
)

// Contribute folds dataPointCount into the encrypted registers:
//
//	totalInputs += dataPointCount
//	seed = seed*dataPointCount + now
//
// Mixing the call time into seed is a best-effort source of unpredictability:
// anyone who knows every input and timestamp can recompute it.
func (l *Ledger) Contribute(caller Account, dataPointCount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guardMutation(caller); err != nil {
		return callError("contribute", err, caller, dataPointCount)
	}

	now := l.unixNow()
	total, err := l.engine.AddPlain(l.registers.TotalInputs, dataPointCount)
	if err != nil {
		return callError("contribute", fmt.Errorf("updating total inputs: %w", err), caller, dataPointCount)
	}
	seed, err := l.mixSeed(dataPointCount, now)
	if err != nil {
		return callError("contribute", err, caller, dataPointCount)
	}

	l.registers.TotalInputs = total
	l.registers.Seed = seed
	l.emit(Event{Kind: EventContributionRecorded, BatchID: l.batchID, Account: accountPtr(caller)})
	return nil
}

// Generate increments the encrypted count and mixes seed = seed*2 + now.
func (l *Ledger) Generate(caller Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.guardMutation(caller); err != nil {
		return callError("generate", err, caller)
	}

	now := l.unixNow()
	count, err := l.engine.AddPlain(l.registers.Count, 1)
	if err != nil {
		return callError("generate", fmt.Errorf("updating count: %w", err), caller)
	}
	seed, err := l.mixSeed(2, now)
	if err != nil {
		return callError("generate", err, caller)
	}

	l.registers.Count = count
	l.registers.Seed = seed
	l.emit(Event{Kind: EventGenerationOccurred, BatchID: l.batchID, Account: accountPtr(caller)})
	return nil
}

// guardMutation runs the checks shared by Contribute and Generate. The
// cooldown stamp is taken last, so earlier rejections do not consume it.
func (l *Ledger) guardMutation(caller Account) error {
	if err := l.requireProvider(caller); err != nil {
		return err
	}
	if err := l.requireNotPaused(); err != nil {
		return err
	}
	if err := l.requireBatchOpen(); err != nil {
		return err
	}
	return l.checkAndStamp(caller, ActionMutate)
}

func (l *Ledger) mixSeed(multiplier, now uint64) (crypto.Handle, error) {
	scaled, err := l.engine.MulPlain(l.registers.Seed, multiplier)
	if err != nil {
		return nil, fmt.Errorf("scaling seed: %w", err)
	}
	seed, err := l.engine.AddPlain(scaled, now)
	if err != nil {
		return nil, fmt.Errorf("mixing time into seed: %w", err)
	}
	return seed, nil
}

// fingerprint hashes the canonical bytes of the three registers together with
// the ledger identity. Must be called with l.mu held.
func (l *Ledger) fingerprint() common.Hash {
	return Fingerprint(l.engine, l.registers, l.identity)
}

// Fingerprint computes keccak256(len|count|len|totalInputs|len|seed|identity).
func Fingerprint(engine crypto.Engine, registers Registers, identity Account) common.Hash {
	var data []byte
	for _, h := range registers.Array() {
		b := engine.FingerprintBytes(h)
		data = binary.BigEndian.AppendUint64(data, uint64(len(b)))
		data = append(data, b...)
	}
	data = append(data, identity.Bytes()...)
	return ethcrypto.Keccak256Hash(data)
}
