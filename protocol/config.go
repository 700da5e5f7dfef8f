package protocol

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/statledger/crypto"
)

// Account identifies an owner, provider or oracle.
type Account = common.Address

// RequestID is the opaque identifier the oracle issues for a decryption submission.
type RequestID string

// LedgerConfig provides the tunables of a ledger instance.
type LedgerConfig struct {
	// Identity is the ledger's own address. It is mixed into every register
	// fingerprint so fingerprints of one ledger never match another's.
	Identity Account `json:"identity" yaml:"identity"`

	// CooldownSeconds is the minimum spacing of same-kind actions by one account.
	CooldownSeconds uint64 `json:"cooldown_seconds" yaml:"cooldown_seconds"`

	// DisclosureExpiry enables pruning of unfulfilled disclosure requests older
	// than this. Zero disables pruning, which is the default.
	DisclosureExpiry time.Duration `json:"disclosure_expiry,string" yaml:"disclosure_expiry"`
}

// ActionKind selects a cooldown lane.
type ActionKind uint8

const (
	// ActionMutate covers Contribute and Generate.
	ActionMutate ActionKind = iota
	// ActionDisclose covers RequestDisclosure.
	ActionDisclose
)

func (k ActionKind) String() string {
	switch k {
	case ActionMutate:
		return "mutate"
	case ActionDisclose:
		return "disclose"
	}
	return "unknown"
}

// Registers is a snapshot of the three accumulator handles, in fingerprint order.
type Registers struct {
	Count       crypto.Handle `json:"count"`
	TotalInputs crypto.Handle `json:"total_inputs"`
	Seed        crypto.Handle `json:"seed"`
}

// Array returns the handles as submitted to the oracle.
func (r Registers) Array() [3]crypto.Handle {
	return [3]crypto.Handle{r.Count, r.TotalInputs, r.Seed}
}

// Cleartexts are the decrypted register values delivered by the oracle.
type Cleartexts struct {
	Count       *big.Int `json:"count"`
	TotalInputs *big.Int `json:"total_inputs"`
	Seed        *big.Int `json:"seed"`
}

// Array returns the values in register order.
func (c Cleartexts) Array() [3]*big.Int {
	return [3]*big.Int{c.Count, c.TotalInputs, c.Seed}
}

func (c Cleartexts) copy() *Cleartexts {
	cp := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		return new(big.Int).Set(v)
	}
	return &Cleartexts{Count: cp(c.Count), TotalInputs: cp(c.TotalInputs), Seed: cp(c.Seed)}
}
