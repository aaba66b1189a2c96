package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/chaoschain/gateway/chain"
)

var _ chain.Encoder = (*Encoder)(nil)

// Encoder packs calldata for the studio proxy and rewards distributor.
type Encoder struct {
	contracts *Contracts
	rewards   chain.Address
	gasLimit  uint64
}

// NewEncoder creates an Encoder. rewards is the distributor address; studio
// calls go to the studio address carried by each action. A zero gasLimit
// leaves estimation to the node.
func NewEncoder(contracts *Contracts, rewards chain.Address, gasLimit uint64) *Encoder {
	return &Encoder{contracts: contracts, rewards: rewards, gasLimit: gasLimit}
}

func (e *Encoder) pack(c abi.ABI, to chain.Address, method string, args ...any) (chain.TxRequest, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	return chain.TxRequest{To: to, Data: data, GasLimit: e.gasLimit}, nil
}

// SubmitWork implements chain.Encoder.
func (e *Encoder) SubmitWork(w chain.WorkSubmission) (chain.TxRequest, error) {
	return e.pack(e.contracts.Studio, w.Studio, "submitWork",
		[32]byte(w.DataHash), w.Agent, [32]byte(w.ThreadRoot), [32]byte(w.EvidenceRoot), w.EvidenceURI)
}

// RegisterWork implements chain.Encoder.
func (e *Encoder) RegisterWork(w chain.WorkSubmission) (chain.TxRequest, error) {
	return e.pack(e.contracts.Rewards, e.rewards, "registerWork", w.Studio, w.Epoch, [32]byte(w.DataHash))
}

// CommitScore implements chain.Encoder.
func (e *Encoder) CommitScore(c chain.ScoreCommit) (chain.TxRequest, error) {
	return e.pack(e.contracts.Studio, c.Studio, "commitScoreVector", [32]byte(c.DataHash), [32]byte(c.Commitment))
}

// RevealScore implements chain.Encoder.
func (e *Encoder) RevealScore(r chain.ScoreReveal) (chain.TxRequest, error) {
	return e.pack(e.contracts.Studio, r.Studio, "revealScoreVector", [32]byte(r.DataHash), r.Scores, [32]byte(r.Salt))
}

// SubmitScore implements chain.Encoder.
func (e *Encoder) SubmitScore(s chain.DirectScore) (chain.TxRequest, error) {
	return e.pack(e.contracts.Studio, s.Studio, "submitScoreVectorForWorker", [32]byte(s.DataHash), s.Worker, s.Scores)
}

// RegisterValidator implements chain.Encoder.
func (e *Encoder) RegisterValidator(v chain.ValidatorRegistration) (chain.TxRequest, error) {
	return e.pack(e.contracts.Rewards, e.rewards, "registerValidator", v.Studio, v.Epoch, [32]byte(v.DataHash), v.Validator)
}

// CloseEpoch implements chain.Encoder.
func (e *Encoder) CloseEpoch(c chain.EpochClose) (chain.TxRequest, error) {
	return e.pack(e.contracts.Rewards, e.rewards, "closeEpoch", c.Studio, c.Epoch)
}
