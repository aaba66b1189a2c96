package chaintest

import (
	"context"
	"sync"

	"github.com/chaoschain/gateway/chain"
)

// Probe is a fake implementing every state probe. Facts are tracked per
// action name; arguments are ignored because tests drive one workflow per
// probe.
type Probe struct {
	mu         sync.Mutex
	facts      map[string]bool
	epoch      chain.EpochStatus
	revealShut bool
	err        error
	calls      int
}

// NewProbe returns a Probe with an existing, open, unclosed epoch.
func NewProbe() *Probe {
	return &Probe{
		facts: make(map[string]bool),
		epoch: chain.EpochStatus{Exists: true, WindowOpen: true},
	}
}

// Mark records that action already happened on the ledger.
func (p *Probe) Mark(action string) {
	p.markAction(action)
}

func (p *Probe) markAction(action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facts[action] = true
	if action == ActionCloseEpoch {
		p.epoch.Closed = true
	}
}

// SetEpoch replaces the reported epoch status.
func (p *Probe) SetEpoch(s chain.EpochStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch = s
}

// SetRevealOpen controls RevealOpen's answer. Reveals are open by default.
func (p *Probe) SetRevealOpen(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revealShut = !open
}

// SetError makes every probe call fail with err until cleared with nil.
func (p *Probe) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns the number of probe invocations.
func (p *Probe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Probe) fact(action string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return p.facts[action], nil
}

// WorkSubmitted implements chain.WorkProbe.
func (p *Probe) WorkSubmitted(context.Context, chain.Address, chain.Hash) (bool, error) {
	return p.fact(ActionSubmitWork)
}

// WorkRegistered implements chain.WorkProbe.
func (p *Probe) WorkRegistered(context.Context, chain.Address, uint64, chain.Hash) (bool, error) {
	return p.fact(ActionRegisterWork)
}

// CommitRecorded implements chain.ScoreProbe.
func (p *Probe) CommitRecorded(context.Context, chain.Address, chain.Hash, chain.Address) (bool, error) {
	return p.fact(ActionCommitScore)
}

// RevealRecorded implements chain.ScoreProbe.
func (p *Probe) RevealRecorded(context.Context, chain.Address, chain.Hash, chain.Address) (bool, error) {
	return p.fact(ActionRevealScore)
}

// ScoreRecorded implements chain.ScoreProbe.
func (p *Probe) ScoreRecorded(context.Context, chain.Address, chain.Hash, chain.Address, chain.Address) (bool, error) {
	return p.fact(ActionSubmitScore)
}

// ValidatorRegistered implements chain.ScoreProbe.
func (p *Probe) ValidatorRegistered(context.Context, chain.Address, uint64, chain.Hash, chain.Address) (bool, error) {
	return p.fact(ActionRegisterValidator)
}

// RevealOpen implements chain.ScoreProbe.
func (p *Probe) RevealOpen(context.Context, chain.Address, chain.Hash) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return !p.revealShut, nil
}

// EpochStatus implements chain.EpochProbe.
func (p *Probe) EpochStatus(context.Context, chain.Address, uint64) (chain.EpochStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return chain.EpochStatus{}, p.err
	}
	return p.epoch, nil
}
