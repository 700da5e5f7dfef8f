package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flashbots/statledger/crypto"
	"github.com/flashbots/statledger/protocol"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Callback delivers a decryption result to the ledger that asked for it.
// Implementations wrap rejections that must not be retried in backoff.Permanent.
type Callback interface {
	Deliver(ctx context.Context, msg *protocol.DisclosureCallbackMessage) error
}

// LedgerCallback delivers in process to a ledger.
type LedgerCallback struct {
	Ledger protocol.DisclosureCallback
}

func (c LedgerCallback) Deliver(_ context.Context, msg *protocol.DisclosureCallbackMessage) error {
	err := c.Ledger.OnDisclosureCallback(msg.RequestID, msg.Cleartexts, msg.Proof)
	if err != nil && IsRejection(err) {
		return backoff.Permanent(err)
	}
	return err
}

// IsRejection reports whether err is a verdict of the ledger on the callback
// itself, which retrying cannot change.
func IsRejection(err error) bool {
	return errors.Is(err, protocol.ErrReplayDetected) ||
		errors.Is(err, protocol.ErrStateMismatch) ||
		errors.Is(err, protocol.ErrInvalidProof) ||
		errors.Is(err, protocol.ErrInvalidArgument)
}

// JobStatus is the state of a decryption job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobDelivered JobStatus = "delivered"
	JobRejected  JobStatus = "rejected"
	JobFailed    JobStatus = "failed"
)

// Job is one submitted decryption.
type Job struct {
	ID          protocol.RequestID `json:"id"`
	Ledger      protocol.Account   `json:"ledger"`
	Status      JobStatus          `json:"status"`
	Attempts    int                `json:"attempts"`
	Error       string             `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	handles [3]crypto.Handle
}

// Config tunes a LocalOracle.
type Config struct {
	Workers int
	// Delay postpones every job, simulating a slow decryption backend.
	Delay time.Duration

	InitialRetryInterval time.Duration
	MaxRetryInterval     time.Duration
	// MaxRetryElapsed bounds the time spent redelivering one result.
	// Zero retries until the oracle is stopped.
	MaxRetryElapsed time.Duration

	Log *slog.Logger
}

// DefaultConfig returns the settings used by cmd/oracle.
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		InitialRetryInterval: 500 * time.Millisecond,
		MaxRetryInterval:     10 * time.Second,
		MaxRetryElapsed:      2 * time.Minute,
	}
}

// Stats counts jobs by outcome.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
}

// LocalOracle holds the engine private key, decrypts submitted handles on a
// worker pool and delivers signed results through callbacks.
type LocalOracle struct {
	config   Config
	key      *crypto.PaillierPrivateKey
	proofKey crypto.PrivateKey
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pool   *workerpool.WorkerPool

	mu        sync.RWMutex
	jobs      map[protocol.RequestID]*Job
	callbacks map[protocol.Account]Callback

	submitted atomic.Uint64
	delivered atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// NewLocalOracle starts an oracle with config.Workers workers.
//
// The oracle decrypts nothing until a Callback is registered for a ledger;
// submissions for unregistered ledgers are refused. Stop must be called to
// cancel pending deliveries and release the workers.
//
// Parameters:
//   - config: Worker count, artificial delay and delivery retry bounds
//   - key: The Paillier private key the ledger registers are encrypted under
//   - proofKey: The Ed25519 key decryption proofs are signed with
//
// Returns:
//   - *LocalOracle: The running oracle
//   - error: If the Paillier key is missing or the proof key is unusable
func NewLocalOracle(config Config, key *crypto.PaillierPrivateKey, proofKey crypto.PrivateKey) (*LocalOracle, error) {
	if key == nil {
		return nil, errors.New("paillier key is required")
	}
	if _, err := proofKey.PublicKey(); err != nil {
		return nil, fmt.Errorf("proof key: %w", err)
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalOracle{
		config:    config,
		key:       key,
		proofKey:  proofKey,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		pool:      workerpool.New(config.Workers),
		jobs:      make(map[protocol.RequestID]*Job),
		callbacks: make(map[protocol.Account]Callback),
	}, nil
}

// ProofKey returns the key ledgers verify decryption proofs with.
func (o *LocalOracle) ProofKey() crypto.PublicKey {
	pub, _ := o.proofKey.PublicKey()
	return pub
}

// PublicKey returns the encryption key ledgers accumulate under.
func (o *LocalOracle) PublicKey() *crypto.PaillierPublicKey {
	return o.key.PublicKey
}

// Register routes results for ledger to cb when submitted through SubmitForDecryption.
func (o *LocalOracle) Register(ledger protocol.Account, cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks[ledger] = cb
}

// SubmitForDecryption implements protocol.Oracle for registered ledgers.
func (o *LocalOracle) SubmitForDecryption(ctx context.Context, ledger protocol.Account, handles [3]crypto.Handle) (protocol.RequestID, error) {
	o.mu.RLock()
	cb, ok := o.callbacks[ledger]
	o.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no callback registered for ledger %s", ledger)
	}
	return o.Submit(ctx, ledger, handles, cb)
}

// Submit queues a decryption whose result is delivered to cb.
func (o *LocalOracle) Submit(ctx context.Context, ledger protocol.Account, handles [3]crypto.Handle, cb Callback) (protocol.RequestID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := o.ctx.Err(); err != nil {
		return "", errors.New("oracle stopped")
	}
	for i, h := range handles {
		if _, err := o.key.PublicKey.ParseHandle(h); err != nil {
			return "", fmt.Errorf("handle %d: %w", i, err)
		}
	}

	job := &Job{
		ID:          protocol.RequestID(uuid.NewString()),
		Ledger:      ledger,
		Status:      JobQueued,
		SubmittedAt: time.Now(),
	}
	for i, h := range handles {
		job.handles[i] = append(crypto.Handle(nil), h...)
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()
	o.submitted.Inc()

	o.pool.Submit(func() { o.process(job, cb) })
	return job.ID, nil
}

// Job returns a copy of the job with id.
func (o *LocalOracle) Job(id protocol.RequestID) (Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Stats returns the job counters.
func (o *LocalOracle) Stats() Stats {
	return Stats{
		Submitted: o.submitted.Load(),
		Delivered: o.delivered.Load(),
		Rejected:  o.rejected.Load(),
		Failed:    o.failed.Load(),
	}
}

// Stop abandons pending deliveries and waits for the workers to exit.
func (o *LocalOracle) Stop() {
	o.cancel()
	o.pool.StopWait()
}

// Wait blocks until every queued job has completed. Used by tests.
func (o *LocalOracle) Wait() {
	for o.pool.WaitingQueueSize() > 0 || o.pending() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
}

func (o *LocalOracle) pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, j := range o.jobs {
		if j.Status == JobQueued {
			n++
		}
	}
	return n
}

func (o *LocalOracle) process(job *Job, cb Callback) {
	if o.config.Delay > 0 {
		select {
		case <-o.ctx.Done():
			o.finish(job, JobFailed, o.ctx.Err())
			return
		case <-time.After(o.config.Delay):
		}
	}

	msg, err := o.decrypt(job)
	if err != nil {
		o.finish(job, JobFailed, err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	if o.config.InitialRetryInterval > 0 {
		bo.InitialInterval = o.config.InitialRetryInterval
	}
	if o.config.MaxRetryInterval > 0 {
		bo.MaxInterval = o.config.MaxRetryInterval
	}
	bo.MaxElapsedTime = o.config.MaxRetryElapsed

	operation := func() error {
		o.mu.Lock()
		job.Attempts++
		o.mu.Unlock()
		return cb.Deliver(o.ctx, msg)
	}
	notify := func(err error, next time.Duration) {
		o.log.Debug("callback delivery failed, retrying", "request_id", job.ID, "err", err, "retry_in", next)
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(bo, o.ctx), notify)
	switch {
	case err == nil:
		o.finish(job, JobDelivered, nil)
	case IsRejection(err):
		o.finish(job, JobRejected, err)
	default:
		o.finish(job, JobFailed, err)
	}
}

func (o *LocalOracle) decrypt(job *Job) (*protocol.DisclosureCallbackMessage, error) {
	var values [3]*big.Int
	for i, h := range job.handles {
		m, err := o.key.DecryptHandle(h)
		if err != nil {
			return nil, fmt.Errorf("decrypting handle %d: %w", i, err)
		}
		values[i] = m
	}

	proof, err := crypto.SignDecryption(o.proofKey, string(job.ID), job.handles, values)
	if err != nil {
		return nil, fmt.Errorf("signing decryption: %w", err)
	}

	return &protocol.DisclosureCallbackMessage{
		RequestID: job.ID,
		Cleartexts: protocol.Cleartexts{
			Count:       values[0],
			TotalInputs: values[1],
			Seed:        values[2],
		},
		Proof: proof.Bytes(),
	}, nil
}

func (o *LocalOracle) finish(job *Job, status JobStatus, err error) {
	now := time.Now()

	o.mu.Lock()
	job.Status = status
	job.CompletedAt = &now
	if err != nil {
		job.Error = err.Error()
	}
	o.mu.Unlock()

	switch status {
	case JobDelivered:
		o.delivered.Inc()
		o.log.Info("disclosure delivered", "request_id", job.ID, "ledger", job.Ledger, "attempts", job.Attempts)
	case JobRejected:
		o.rejected.Inc()
		o.log.Warn("disclosure rejected by ledger", "request_id", job.ID, "ledger", job.Ledger, "err", err)
	default:
		o.failed.Inc()
		o.log.Error("disclosure failed", "request_id", job.ID, "ledger", job.Ledger, "err", err)
	}
}
