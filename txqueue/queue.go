package txqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway/chain"
)

// Queue submits transactions through a chain.Ledger one signer at a time.
type Queue struct {
	ledger        chain.Ledger
	locker        Locker
	limits        *Limits
	submitTimeout time.Duration
	logger        *slog.Logger
}

// Option configures the Queue.
type Option func(*Queue)

// WithLocker replaces the in-process signer lock table.
func WithLocker(l Locker) Option {
	return func(q *Queue) { q.locker = l }
}

// WithLimits enables per-signer submission rate limiting.
func WithLimits(l *Limits) Option {
	return func(q *Queue) { q.limits = l }
}

// WithSubmitTimeout bounds the nonce read and submission of each
// transaction. Confirmation waits are bounded only by the caller's context.
func WithSubmitTimeout(d time.Duration) Option {
	return func(q *Queue) { q.submitTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New returns a Queue over ledger.
func New(ledger chain.Ledger, opts ...Option) *Queue {
	q := &Queue{
		ledger: ledger,
		locker: NewLocalLocker(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	onSubmitted func(context.Context, chain.Hash) error
}

// WithOnSubmitted registers fn to run after the transaction is accepted by
// the ledger and before its confirmation is awaited, while the signer lock
// is still held. Callers use it to persist the hash. An error from fn
// aborts the wait and is returned.
func WithOnSubmitted(fn func(context.Context, chain.Hash) error) SubmitOption {
	return func(o *submitOptions) { o.onSubmitted = fn }
}

// SubmitAndWait submits req from signer and waits for its receipt. A
// reverted receipt is returned together with a *chain.RevertError. If the
// signer lock is lost while held, the call stops with an error wrapping
// ErrLockLost; a hash already handed to WithOnSubmitted stays recorded.
func (q *Queue) SubmitAndWait(ctx context.Context, workflowID string, signer chain.Address, req chain.TxRequest, opts ...SubmitOption) (*chain.Receipt, error) {
	held, unlock, err := q.locker.Lock(ctx, lockKey(signer))
	if err != nil {
		return nil, fmt.Errorf("txqueue: lock signer %s: %w", signer.Hex(), err)
	}
	defer unlock()

	hash, err := q.submitLocked(held, workflowID, signer, req, opts)
	if err != nil {
		return nil, lockLost(held, err)
	}

	receipt, err := q.ledger.WaitForConfirmation(held, hash)
	if err != nil {
		return nil, lockLost(held, fmt.Errorf("txqueue: wait for %s: %w", hash.Hex(), err))
	}
	q.logger.Debug("transaction confirmed",
		slog.String("workflow_id", workflowID),
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
	)
	return receipt, chain.CheckReceipt(receipt)
}

// SubmitOnly submits req from signer and returns as soon as the ledger has
// accepted it.
func (q *Queue) SubmitOnly(ctx context.Context, workflowID string, signer chain.Address, req chain.TxRequest, opts ...SubmitOption) (chain.Hash, error) {
	held, unlock, err := q.locker.Lock(ctx, lockKey(signer))
	if err != nil {
		return chain.Hash{}, fmt.Errorf("txqueue: lock signer %s: %w", signer.Hex(), err)
	}
	defer unlock()

	hash, err := q.submitLocked(held, workflowID, signer, req, opts)
	if err != nil {
		return hash, lockLost(held, err)
	}
	return hash, nil
}

// lockLost attaches ErrLockLost to err when held was cancelled because the
// lock went away.
func lockLost(held context.Context, err error) error {
	if cause := context.Cause(held); errors.Is(cause, ErrLockLost) && !errors.Is(err, ErrLockLost) {
		return fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	return err
}

func (q *Queue) submitLocked(ctx context.Context, workflowID string, signer chain.Address, req chain.TxRequest, opts []SubmitOption) (chain.Hash, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if q.limits != nil {
		if err := q.limits.Wait(ctx, signer); err != nil {
			return chain.Hash{}, fmt.Errorf("txqueue: rate limit: %w", err)
		}
	}

	sctx := ctx
	if q.submitTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, q.submitTimeout)
		defer cancel()
	}

	nonce, err := q.ledger.GetNonce(sctx, signer)
	if err != nil {
		return chain.Hash{}, fmt.Errorf("txqueue: get nonce: %w", err)
	}
	req.Nonce = &nonce

	if err := context.Cause(ctx); errors.Is(err, ErrLockLost) {
		return chain.Hash{}, err
	}
	hash, err := q.ledger.SubmitTx(sctx, signer, req)
	if err != nil {
		return chain.Hash{}, fmt.Errorf("txqueue: submit: %w", err)
	}
	q.logger.Info("transaction submitted",
		slog.String("workflow_id", workflowID),
		slog.String("signer", signer.Hex()),
		slog.Uint64("nonce", nonce),
		slog.String("tx_hash", hash.Hex()),
	)

	if o.onSubmitted != nil {
		if err := o.onSubmitted(ctx, hash); err != nil {
			return hash, fmt.Errorf("txqueue: record %s: %w", hash.Hex(), err)
		}
	}
	return hash, nil
}

// ReleaseSignerLock force-releases signer's lock. It is an operator escape
// hatch for a lock left behind by a crashed replica.
func (q *Queue) ReleaseSignerLock(signer chain.Address) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.locker.ForceUnlock(ctx, lockKey(signer)); err != nil {
		q.logger.Warn("release signer lock failed",
			slog.String("signer", signer.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// IsLocked reports whether signer currently has a transaction in flight.
func (q *Queue) IsLocked(signer chain.Address) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := q.locker.IsLocked(ctx, lockKey(signer))
	if err != nil {
		q.logger.Warn("signer lock lookup failed",
			slog.String("signer", signer.Hex()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return locked
}

func lockKey(signer chain.Address) string {
	return signer.Hex()
}
