package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotOwner is returned when a non-owner calls an owner-only operation.
	ErrNotOwner = errors.New("not owner")

	// ErrNotProvider is returned when a non-provider calls a provider-only operation.
	ErrNotProvider = errors.New("not provider")

	// ErrPaused is returned for gated operations while the ledger is paused.
	ErrPaused = errors.New("paused")

	// ErrCooldownActive is returned when an account repeats an action too soon.
	// Retryable once the cooldown has elapsed.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrBatchNotOpen is returned for contributions and generations outside an open batch.
	ErrBatchNotOpen = errors.New("batch not open")

	// ErrReplayDetected is returned for callbacks of unknown or already processed requests.
	ErrReplayDetected = errors.New("replay detected")

	// ErrStateMismatch is returned for callbacks whose request predates a register mutation.
	// The request can never be fulfilled; a fresh request can.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrInvalidProof is returned when the oracle proof does not authenticate the cleartexts.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrInvalidArgument is returned for malformed call arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOracleUnavailable is returned when the oracle rejects or fails a submission.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrDuplicateRequest is returned when the oracle issues a request id the ledger already holds.
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// CallError reports a rejected ledger call together with the arguments it was made with.
type CallError struct {
	Op   string
	Args []any
	Err  error
}

func (e *CallError) Error() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s(%s): %v", e.Op, strings.Join(args, ", "), e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func callError(op string, err error, args ...any) error {
	return &CallError{Op: op, Args: args, Err: err}
}

// ErrorKind returns the stable name of the sentinel err wraps, or "internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrNotOwner, "NotOwner"},
	{ErrNotProvider, "NotProvider"},
	{ErrPaused, "Paused"},
	{ErrCooldownActive, "CooldownActive"},
	{ErrBatchNotOpen, "BatchNotOpen"},
	{ErrReplayDetected, "ReplayDetected"},
	{ErrStateMismatch, "StateMismatch"},
	{ErrInvalidProof, "InvalidProof"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrOracleUnavailable, "OracleUnavailable"},
	{ErrDuplicateRequest, "DuplicateRequest"},
}

// ErrorFromKind maps a name returned by ErrorKind back to its sentinel.
// Unknown names yield nil.
func ErrorFromKind(kind string) error {
	for _, k := range errorKinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
