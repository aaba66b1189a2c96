package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/archive"
	"github.com/chaoschain/gateway/chain"
	"github.com/chaoschain/gateway/txqueue"
)

// persistTimeout bounds the write of a transaction hash. It is detached
// from the step deadline: a hash must be recorded even when the step is
// about to time out.
const persistTimeout = 10 * time.Second

// Adapters are the external collaborators steps call.
type Adapters struct {
	Ledger  chain.Ledger
	Encoder chain.Encoder
	Work    chain.WorkProbe
	Score   chain.ScoreProbe
	Epoch   chain.EpochProbe
	Archive archive.Store
}

// env is what the engine lends a running step.
type env struct {
	adapters Adapters
	queue    *txqueue.Queue
	cfg      gateway.Config
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

// submitTx sends req through the signer queue. handle builds the progress
// patch recording the transaction hash, which is persisted before the
// confirmation wait begins.
func submitTx[I Input, P any](ctx context.Context, x *exec[I, P], req chain.TxRequest, handle func(chain.Hash) P) (*chain.Receipt, error) {
	return x.env.queue.SubmitAndWait(ctx, x.rec.ID.String(), x.in.Signer(), req,
		txqueue.WithOnSubmitted(func(ctx context.Context, h chain.Hash) error {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			defer cancel()
			return x.persist(pctx, handle(h))
		}),
	)
}

// awaitTx waits for a previously recorded transaction.
func awaitTx(ctx context.Context, e *env, h chain.Hash) (*chain.Receipt, error) {
	r, err := e.adapters.Ledger.WaitForConfirmation(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", h.Hex(), err)
	}
	if err := chain.CheckReceipt(r); err != nil {
		return r, err
	}
	return r, nil
}

// poll calls check every interval until it reports done or ctx ends.
func poll(ctx context.Context, e *env, check func(context.Context) (bool, error)) error {
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func hashPtr(h chain.Hash) *chain.Hash { return &h }
