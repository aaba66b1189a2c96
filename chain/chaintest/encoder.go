package chaintest

import "github.com/chaoschain/gateway/chain"

// Encoder writes the action name as calldata so Ledger can tell
// transactions apart.
type Encoder struct{}

func tx(to chain.Address, action string) (chain.TxRequest, error) {
	return chain.TxRequest{To: to, Data: []byte(action)}, nil
}

// SubmitWork implements chain.Encoder.
func (Encoder) SubmitWork(w chain.WorkSubmission) (chain.TxRequest, error) {
	return tx(w.Studio, ActionSubmitWork)
}

// RegisterWork implements chain.Encoder.
func (Encoder) RegisterWork(w chain.WorkSubmission) (chain.TxRequest, error) {
	return tx(w.Studio, ActionRegisterWork)
}

// CommitScore implements chain.Encoder.
func (Encoder) CommitScore(c chain.ScoreCommit) (chain.TxRequest, error) {
	return tx(c.Studio, ActionCommitScore)
}

// RevealScore implements chain.Encoder.
func (Encoder) RevealScore(r chain.ScoreReveal) (chain.TxRequest, error) {
	return tx(r.Studio, ActionRevealScore)
}

// SubmitScore implements chain.Encoder.
func (Encoder) SubmitScore(s chain.DirectScore) (chain.TxRequest, error) {
	return tx(s.Studio, ActionSubmitScore)
}

// RegisterValidator implements chain.Encoder.
func (Encoder) RegisterValidator(v chain.ValidatorRegistration) (chain.TxRequest, error) {
	return tx(v.Studio, ActionRegisterValidator)
}

// CloseEpoch implements chain.Encoder.
func (Encoder) CloseEpoch(e chain.EpochClose) (chain.TxRequest, error) {
	return tx(e.Studio, ActionCloseEpoch)
}
