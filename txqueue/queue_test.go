package txqueue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chaoschain/gateway/chain"
	"github.com/chaoschain/gateway/chain/chaintest"
	"github.com/chaoschain/gateway/txqueue"
)

var (
	signerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func req(action string) chain.TxRequest {
	return chain.TxRequest{Data: []byte(action)}
}

func TestSubmitAndWait_SameSignerIsSequential(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.ConfirmDelay = 30 * time.Millisecond
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	var wg sync.WaitGroup
	for _, action := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.SubmitAndWait(context.Background(), "wf", signerA, req(action)); err != nil {
				t.Errorf("SubmitAndWait(%s): %v", action, err)
			}
		}()
		// Give the first goroutine the lock.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	subs := ledger.Submissions()
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(subs))
	}
	// The second submission must start after the first one's confirmation
	// wait, which takes ConfirmDelay.
	if gap := subs[1].At.Sub(subs[0].At); gap < ledger.ConfirmDelay {
		t.Errorf("second submission %v after first, want >= %v", gap, ledger.ConfirmDelay)
	}
	if subs[0].Nonce != 0 || subs[1].Nonce != 1 {
		t.Errorf("nonces = %d,%d, want 0,1", subs[0].Nonce, subs[1].Nonce)
	}
	confirmed := ledger.Confirmed()
	if len(confirmed) != 2 || confirmed[0] != subs[0].Hash {
		t.Errorf("first confirmation %v, want %v", confirmed, subs[0].Hash)
	}
}

func TestSubmitAndWait_DifferentSignersOverlap(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.ConfirmDelay = 50 * time.Millisecond
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range []chain.Address{signerA, signerB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.SubmitAndWait(context.Background(), "wf", s, req("x")); err != nil {
				t.Errorf("SubmitAndWait: %v", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed >= 2*ledger.ConfirmDelay {
		t.Errorf("two signers took %v, expected them to run in parallel", elapsed)
	}
}

func TestSubmitAndWait_OnSubmittedRunsBeforeWait(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	var recorded chain.Hash
	receipt, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x"),
		txqueue.WithOnSubmitted(func(_ context.Context, h chain.Hash) error {
			if n := len(ledger.Confirmed()); n != 0 {
				t.Errorf("confirmation awaited before hash was recorded (%d)", n)
			}
			recorded = h
			return nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if recorded != receipt.TxHash {
		t.Errorf("recorded %v, receipt %v", recorded, receipt.TxHash)
	}
}

func TestSubmitAndWait_ReleasesLockOnError(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.FailSubmit(errors.New("connection refused"))
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	if _, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x")); err == nil {
		t.Fatal("expected submit error")
	}
	if q.IsLocked(signerA) {
		t.Fatal("signer still locked after failed submission")
	}
	if _, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x")); err != nil {
		t.Fatalf("follow-up submission: %v", err)
	}
}

func TestSubmitAndWait_ReleasesLockOnPanic(t *testing.T) {
	q := txqueue.New(chaintest.NewLedger(nil), txqueue.WithLogger(testLogger()))

	func() {
		defer func() { _ = recover() }()
		_, _ = q.SubmitAndWait(context.Background(), "wf", signerA, req("x"),
			txqueue.WithOnSubmitted(func(context.Context, chain.Hash) error { panic("boom") }),
		)
	}()

	if q.IsLocked(signerA) {
		t.Fatal("signer still locked after panic")
	}
}

func TestSubmitAndWait_Revert(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.RevertNext("reveal window closed")
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	receipt, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x"))
	var re *chain.RevertError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RevertError", err)
	}
	if receipt == nil || receipt.Succeeded() {
		t.Errorf("receipt = %+v, want reverted receipt", receipt)
	}
}

func TestSubmitOnly(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	h, err := q.SubmitOnly(context.Background(), "wf", signerA, req("x"))
	if err != nil {
		t.Fatal(err)
	}
	if h == (chain.Hash{}) {
		t.Error("empty hash")
	}
	if n := len(ledger.Confirmed()); n != 0 {
		t.Errorf("SubmitOnly waited for confirmation (%d)", n)
	}
	if q.IsLocked(signerA) {
		t.Error("signer locked after SubmitOnly returned")
	}
}

func TestReleaseSignerLock(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.ConfirmDelay = time.Second
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		_, _ = q.SubmitAndWait(ctx, "wf", signerA, req("slow"),
			txqueue.WithOnSubmitted(func(context.Context, chain.Hash) error {
				close(started)
				return nil
			}),
		)
	}()
	<-started

	if !q.IsLocked(signerA) {
		t.Fatal("signer not locked during confirmation")
	}
	q.ReleaseSignerLock(signerA)
	if q.IsLocked(signerA) {
		t.Fatal("signer still locked after ReleaseSignerLock")
	}
}

func TestLockWaitHonorsContext(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.ConfirmDelay = 200 * time.Millisecond
	q := txqueue.New(ledger, txqueue.WithLogger(testLogger()))

	go func() { _, _ = q.SubmitAndWait(context.Background(), "wf", signerA, req("slow")) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.SubmitAndWait(ctx, "wf2", signerA, req("blocked"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestLimits(t *testing.T) {
	limits := txqueue.NewLimits(txqueue.LimitConfig{Signer: signerA, Rate: 20, Burst: 1})
	q := txqueue.New(chaintest.NewLedger(nil), txqueue.WithLimits(limits), txqueue.WithLogger(testLogger()))

	start := time.Now()
	for range 3 {
		if _, err := q.SubmitOnly(context.Background(), "wf", signerA, req("x")); err != nil {
			t.Fatal(err)
		}
	}
	// 3 submissions at 20/s with burst 1 need at least 2 intervals of 50ms.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 limited submissions took %v", elapsed)
	}

	start = time.Now()
	for range 3 {
		_, _ = q.SubmitOnly(context.Background(), "wf", signerB, req("x"))
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unlimited signer took %v", elapsed)
	}
}

// losingLocker grants every lock and cancels the held context with
// ErrLockLost once lose is called, or right away when loseOnLock is set.
type losingLocker struct {
	*txqueue.LocalLocker
	loseOnLock bool

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func (l *losingLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	held, unlock, err := l.LocalLocker.Lock(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	held, cancel := context.WithCancelCause(held)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	if l.loseOnLock {
		l.lose()
	}
	return held, func() { cancel(nil); unlock() }, nil
}

func (l *losingLocker) lose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel(txqueue.ErrLockLost)
}

func TestSubmitAndWait_LockLostBeforeSubmit(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	locker := &losingLocker{LocalLocker: txqueue.NewLocalLocker(), loseOnLock: true}
	q := txqueue.New(ledger, txqueue.WithLocker(locker), txqueue.WithLogger(testLogger()))

	_, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x"))
	if !errors.Is(err, txqueue.ErrLockLost) {
		t.Fatalf("err = %v, want ErrLockLost", err)
	}
	if n := len(ledger.Submissions()); n != 0 {
		t.Errorf("submitted %d transactions after the lock was lost", n)
	}
	if q.IsLocked(signerA) {
		t.Error("signer still locked")
	}
}

func TestSubmitAndWait_LockLostDuringWait(t *testing.T) {
	ledger := chaintest.NewLedger(nil)
	ledger.ConfirmDelay = time.Second
	locker := &losingLocker{LocalLocker: txqueue.NewLocalLocker()}
	q := txqueue.New(ledger, txqueue.WithLocker(locker), txqueue.WithLogger(testLogger()))

	var recorded chain.Hash
	_, err := q.SubmitAndWait(context.Background(), "wf", signerA, req("x"),
		txqueue.WithOnSubmitted(func(_ context.Context, h chain.Hash) error {
			recorded = h
			locker.lose()
			return nil
		}),
	)
	if !errors.Is(err, txqueue.ErrLockLost) {
		t.Fatalf("err = %v, want ErrLockLost", err)
	}
	if recorded == (chain.Hash{}) {
		t.Error("hash was not handed to OnSubmitted")
	}
	if n := len(ledger.Submissions()); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}
}
