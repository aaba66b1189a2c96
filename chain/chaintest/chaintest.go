// Package chaintest provides in-memory fakes of the chain interfaces that
// record every call, for use in tests.
package chaintest

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/chaoschain/gateway/chain"
)

var (
	_ chain.Ledger     = (*Ledger)(nil)
	_ chain.WorkProbe  = (*Probe)(nil)
	_ chain.ScoreProbe = (*Probe)(nil)
	_ chain.EpochProbe = (*Probe)(nil)
	_ chain.Encoder    = Encoder{}
)

// Action names written as calldata by Encoder.
const (
	ActionSubmitWork        = "submitWork"
	ActionRegisterWork      = "registerWork"
	ActionCommitScore       = "commitScore"
	ActionRevealScore       = "revealScore"
	ActionSubmitScore       = "submitScore"
	ActionRegisterValidator = "registerValidator"
	ActionCloseEpoch        = "closeEpoch"
)

// Submission is one recorded SubmitTx call.
type Submission struct {
	Signer chain.Address
	Action string
	Nonce  uint64
	Hash   chain.Hash
	At     time.Time
}

// Ledger is a fake chain. Every submitted transaction is mined immediately
// unless a confirm error is queued; when Probe is set, mining a transaction
// also records its action there so later probes observe it.
type Ledger struct {
	// Probe, when set, learns about every mined action.
	Probe *Probe

	// ConfirmDelay makes WaitForConfirmation sleep before returning.
	ConfirmDelay time.Duration

	mu          sync.Mutex
	nonces      map[chain.Address]uint64
	receipts    map[chain.Hash]*chain.Receipt
	submissions []Submission
	submitErrs  []error
	confirmErrs []error
	reverts     []string
	calls       int
	confirmed   []chain.Hash
}

// NewLedger returns a Ledger wired to probe (which may be nil).
func NewLedger(probe *Probe) *Ledger {
	return &Ledger{
		Probe:    probe,
		nonces:   make(map[chain.Address]uint64),
		receipts: make(map[chain.Hash]*chain.Receipt),
	}
}

// FailSubmit queues errors returned by the next SubmitTx calls, in order.
func (l *Ledger) FailSubmit(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErrs = append(l.submitErrs, errs...)
}

// FailConfirm queues errors returned by the next WaitForConfirmation calls.
func (l *Ledger) FailConfirm(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmErrs = append(l.confirmErrs, errs...)
}

// RevertNext makes the next submitted transaction revert with reason.
func (l *Ledger) RevertNext(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reverts = append(l.reverts, reason)
}

// AddPending records a transaction that was submitted before the test
// started, as a crashed process would have left it. It is mined on the
// next confirmation wait.
func (l *Ledger) AddPending(signer chain.Address, action string) chain.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hashFor(signer, l.nonces[signer])
	l.nonces[signer]++
	l.receipts[h] = &chain.Receipt{TxHash: h, Status: chain.ReceiptSuccess, BlockNumber: 1}
	if l.Probe != nil {
		l.Probe.markAction(action)
	}
	return h
}

// GetNonce implements chain.Ledger.
func (l *Ledger) GetNonce(_ context.Context, signer chain.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.nonces[signer], nil
}

// SubmitTx implements chain.Ledger.
func (l *Ledger) SubmitTx(_ context.Context, signer chain.Address, req chain.TxRequest) (chain.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		return chain.Hash{}, err
	}

	nonce := l.nonces[signer]
	if req.Nonce != nil {
		nonce = *req.Nonce
	}
	l.nonces[signer] = nonce + 1
	h := l.hashFor(signer, nonce)

	receipt := &chain.Receipt{TxHash: h, Status: chain.ReceiptSuccess, BlockNumber: uint64(len(l.submissions) + 1)}
	if len(l.reverts) > 0 {
		receipt.Status = chain.ReceiptReverted
		receipt.RevertReason = l.reverts[0]
		l.reverts = l.reverts[1:]
	}
	l.receipts[h] = receipt
	l.submissions = append(l.submissions, Submission{
		Signer: signer,
		Action: string(req.Data),
		Nonce:  nonce,
		Hash:   h,
		At:     time.Now(),
	})
	if receipt.Succeeded() && l.Probe != nil {
		l.Probe.markAction(string(req.Data))
	}
	return h, nil
}

// GetTxReceipt implements chain.Ledger.
func (l *Ledger) GetTxReceipt(_ context.Context, hash chain.Hash) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	r := l.receipts[hash]
	if r == nil {
		return nil, nil
	}
	c := *r
	return &c, nil
}

// WaitForConfirmation implements chain.Ledger.
func (l *Ledger) WaitForConfirmation(ctx context.Context, hash chain.Hash) (*chain.Receipt, error) {
	l.mu.Lock()
	l.calls++
	if len(l.confirmErrs) > 0 {
		err := l.confirmErrs[0]
		l.confirmErrs = l.confirmErrs[1:]
		l.mu.Unlock()
		return nil, err
	}
	delay := l.ConfirmDelay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.receipts[hash]
	if r == nil {
		return nil, context.DeadlineExceeded
	}
	l.confirmed = append(l.confirmed, hash)
	c := *r
	return &c, nil
}

// Submissions returns every successful SubmitTx call in order.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// SubmitCount returns how many transactions carried action. An empty action
// counts all of them.
func (l *Ledger) SubmitCount(action string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.submissions {
		if action == "" || s.Action == action {
			n++
		}
	}
	return n
}

// Calls returns the total number of Ledger method invocations.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Confirmed returns hashes in the order their confirmation waits returned.
func (l *Ledger) Confirmed() []chain.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chain.Hash, len(l.confirmed))
	copy(out, l.confirmed)
	return out
}

func (l *Ledger) hashFor(signer chain.Address, nonce uint64) chain.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return chain.Keccak256(signer[:], n[:])
}
