package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chaoschain/gateway/chain"
)

var (
	_ chain.WorkProbe  = (*Probe)(nil)
	_ chain.ScoreProbe = (*Probe)(nil)
	_ chain.EpochProbe = (*Probe)(nil)
)

// Caller executes read-only contract calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Probe answers the reconciler's questions with view calls against the
// latest block.
type Probe struct {
	caller    Caller
	contracts *Contracts
	rewards   chain.Address
}

// NewProbe creates a Probe.
func NewProbe(caller Caller, contracts *Contracts, rewards chain.Address) *Probe {
	return &Probe{caller: caller, contracts: contracts, rewards: rewards}
}

func (p *Probe) call(ctx context.Context, c abi.ABI, to chain.Address, method string, args ...any) ([]any, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, unavailable("call "+method, err)
	}
	vals, err := c.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return vals, nil
}

func (p *Probe) callBool(ctx context.Context, c abi.ABI, to chain.Address, method string, args ...any) (bool, error) {
	vals, err := p.call(ctx, c, to, method, args...)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("evm: %s returned %d values", method, len(vals))
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("evm: %s returned %T, want bool", method, vals[0])
	}
	return b, nil
}

// WorkSubmitted reports whether the studio has a submitter for dataHash.
func (p *Probe) WorkSubmitted(ctx context.Context, studio chain.Address, dataHash chain.Hash) (bool, error) {
	vals, err := p.call(ctx, p.contracts.Studio, studio, "getWorkSubmitter", [32]byte(dataHash))
	if err != nil {
		return false, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("evm: getWorkSubmitter returned %T", vals[0])
	}
	return addr != (common.Address{}), nil
}

// WorkRegistered implements chain.WorkProbe.
func (p *Probe) WorkRegistered(ctx context.Context, studio chain.Address, epoch uint64, dataHash chain.Hash) (bool, error) {
	return p.callBool(ctx, p.contracts.Rewards, p.rewards, "isWorkRegistered", studio, epoch, [32]byte(dataHash))
}

// CommitRecorded reports whether validator has a non-zero commitment.
func (p *Probe) CommitRecorded(ctx context.Context, studio chain.Address, dataHash chain.Hash, validator chain.Address) (bool, error) {
	vals, err := p.call(ctx, p.contracts.Studio, studio, "getScoreCommitment", [32]byte(dataHash), validator)
	if err != nil {
		return false, err
	}
	c, ok := vals[0].([32]byte)
	if !ok {
		return false, fmt.Errorf("evm: getScoreCommitment returned %T", vals[0])
	}
	return c != [32]byte{}, nil
}

// RevealRecorded implements chain.ScoreProbe.
func (p *Probe) RevealRecorded(ctx context.Context, studio chain.Address, dataHash chain.Hash, validator chain.Address) (bool, error) {
	return p.callBool(ctx, p.contracts.Studio, studio, "hasRevealed", [32]byte(dataHash), validator)
}

// ScoreRecorded implements chain.ScoreProbe.
func (p *Probe) ScoreRecorded(ctx context.Context, studio chain.Address, dataHash chain.Hash, validator, worker chain.Address) (bool, error) {
	return p.callBool(ctx, p.contracts.Studio, studio, "hasScoredWorker", [32]byte(dataHash), validator, worker)
}

// ValidatorRegistered implements chain.ScoreProbe.
func (p *Probe) ValidatorRegistered(ctx context.Context, studio chain.Address, epoch uint64, dataHash chain.Hash, validator chain.Address) (bool, error) {
	return p.callBool(ctx, p.contracts.Rewards, p.rewards, "isValidatorRegistered", studio, epoch, [32]byte(dataHash), validator)
}

// RevealOpen implements chain.ScoreProbe.
func (p *Probe) RevealOpen(ctx context.Context, studio chain.Address, dataHash chain.Hash) (bool, error) {
	return p.callBool(ctx, p.contracts.Studio, studio, "isRevealPhase", [32]byte(dataHash))
}

// EpochStatus implements chain.EpochProbe.
func (p *Probe) EpochStatus(ctx context.Context, studio chain.Address, epoch uint64) (chain.EpochStatus, error) {
	vals, err := p.call(ctx, p.contracts.Rewards, p.rewards, "epochStatus", studio, epoch)
	if err != nil {
		return chain.EpochStatus{}, err
	}
	if len(vals) != 3 {
		return chain.EpochStatus{}, fmt.Errorf("evm: epochStatus returned %d values", len(vals))
	}
	var st chain.EpochStatus
	var ok [3]bool
	st.Exists, ok[0] = vals[0].(bool)
	st.Closed, ok[1] = vals[1].(bool)
	st.WindowOpen, ok[2] = vals[2].(bool)
	if !ok[0] || !ok[1] || !ok[2] {
		return chain.EpochStatus{}, fmt.Errorf("evm: epochStatus returned non-bool values")
	}
	return st, nil
}
