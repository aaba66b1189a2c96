package workflow

import (
	"context"
	"fmt"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/chain"
)

// ScoreSubmission steps.
const (
	StepComputeCommitment             = "COMPUTE_COMMITMENT"
	StepSubmitCommit                  = "SUBMIT_COMMIT"
	StepAwaitCommitConfirm            = "AWAIT_COMMIT_CONFIRM"
	StepSubmitReveal                  = "SUBMIT_REVEAL"
	StepAwaitRevealConfirm            = "AWAIT_REVEAL_CONFIRM"
	StepSubmitScore                   = "SUBMIT_SCORE"
	StepAwaitScoreConfirm             = "AWAIT_SCORE_CONFIRM"
	StepRegisterValidator             = "REGISTER_VALIDATOR"
	StepAwaitRegisterValidatorConfirm = "AWAIT_REGISTER_VALIDATOR_CONFIRM"
)

// ScoreSubmissionProgress is the typed progress of a ScoreSubmission.
type ScoreSubmissionProgress struct {
	Salt              *chain.Hash `json:"salt,omitempty"`
	Commitment        *chain.Hash `json:"commitment,omitempty"`
	CommitTxHash      *chain.Hash `json:"commit_tx_hash,omitempty"`
	CommitConfirmed   bool        `json:"commit_confirmed,omitempty"`
	RevealTxHash      *chain.Hash `json:"reveal_tx_hash,omitempty"`
	RevealConfirmed   bool        `json:"reveal_confirmed,omitempty"`
	ScoreTxHash       *chain.Hash `json:"score_tx_hash,omitempty"`
	ScoreConfirmed    bool        `json:"score_confirmed,omitempty"`
	RegisterTxHash    *chain.Hash `json:"register_tx_hash,omitempty"`
	RegisterConfirmed bool        `json:"register_confirmed,omitempty"`
}

type scoreExec = exec[ScoreSubmissionInput, ScoreSubmissionProgress]

type scoreResult = stepResult[ScoreSubmissionProgress]

var scoreSubmission = &kind[ScoreSubmissionInput, ScoreSubmissionProgress]{
	typ: TypeScoreSubmission,
	order: func(in ScoreSubmissionInput) []string {
		if in.Mode == ModeDirect {
			return []string{
				StepSubmitScore,
				StepAwaitScoreConfirm,
				StepRegisterValidator,
				StepAwaitRegisterValidatorConfirm,
			}
		}
		return []string{
			StepComputeCommitment,
			StepSubmitCommit,
			StepAwaitCommitConfirm,
			StepSubmitReveal,
			StepAwaitRevealConfirm,
			StepRegisterValidator,
			StepAwaitRegisterValidatorConfirm,
		}
	},
	steps: map[string]step[ScoreSubmissionInput, ScoreSubmissionProgress]{
		StepComputeCommitment: {
			StepInfo: StepInfo{Name: StepComputeCommitment, timeout: timeoutAction},
			run:      computeCommitment,
		},
		StepSubmitCommit: {
			StepInfo: StepInfo{Name: StepSubmitCommit, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p ScoreSubmissionProgress) bool { return p.CommitTxHash != nil || p.CommitConfirmed },
			run:      submitCommit,
		},
		StepAwaitCommitConfirm: {
			StepInfo: StepInfo{Name: StepAwaitCommitConfirm, timeout: timeoutConfirm},
			run: func(ctx context.Context, x *scoreExec) (scoreResult, error) {
				return awaitScoreTx(ctx, x, StepAwaitCommitConfirm, "commit_tx_hash", x.p.CommitTxHash, x.p.CommitConfirmed,
					ScoreSubmissionProgress{CommitConfirmed: true})
			},
		},
		StepSubmitReveal: {
			StepInfo: StepInfo{Name: StepSubmitReveal, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p ScoreSubmissionProgress) bool { return p.RevealTxHash != nil || p.RevealConfirmed },
			run:      submitReveal,
		},
		StepAwaitRevealConfirm: {
			StepInfo: StepInfo{Name: StepAwaitRevealConfirm, timeout: timeoutConfirm},
			run: func(ctx context.Context, x *scoreExec) (scoreResult, error) {
				return awaitScoreTx(ctx, x, StepAwaitRevealConfirm, "reveal_tx_hash", x.p.RevealTxHash, x.p.RevealConfirmed,
					ScoreSubmissionProgress{RevealConfirmed: true})
			},
		},
		StepSubmitScore: {
			StepInfo: StepInfo{Name: StepSubmitScore, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p ScoreSubmissionProgress) bool { return p.ScoreTxHash != nil || p.ScoreConfirmed },
			run:      submitDirectScore,
		},
		StepAwaitScoreConfirm: {
			StepInfo: StepInfo{Name: StepAwaitScoreConfirm, timeout: timeoutConfirm},
			run: func(ctx context.Context, x *scoreExec) (scoreResult, error) {
				return awaitScoreTx(ctx, x, StepAwaitScoreConfirm, "score_tx_hash", x.p.ScoreTxHash, x.p.ScoreConfirmed,
					ScoreSubmissionProgress{ScoreConfirmed: true})
			},
		},
		StepRegisterValidator: {
			StepInfo: StepInfo{Name: StepRegisterValidator, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p ScoreSubmissionProgress) bool { return p.RegisterTxHash != nil || p.RegisterConfirmed },
			run:      registerValidator,
		},
		StepAwaitRegisterValidatorConfirm: {
			StepInfo: StepInfo{Name: StepAwaitRegisterValidatorConfirm, timeout: timeoutConfirm},
			run: func(ctx context.Context, x *scoreExec) (scoreResult, error) {
				return awaitScoreTx(ctx, x, StepAwaitRegisterValidatorConfirm, "register_tx_hash", x.p.RegisterTxHash, x.p.RegisterConfirmed,
					ScoreSubmissionProgress{RegisterConfirmed: true})
			},
		},
	},
	probe: reconcileScore,
}

func computeCommitment(_ context.Context, x *scoreExec) (scoreResult, error) {
	if x.p.Commitment != nil && x.p.Salt != nil {
		return advance(ScoreSubmissionProgress{}), nil
	}
	var salt chain.Hash
	switch {
	case x.in.Salt != nil:
		salt = *x.in.Salt
	case x.p.Salt != nil:
		salt = *x.p.Salt
	default:
		s, err := chain.RandomSalt()
		if err != nil {
			return scoreResult{}, gateway.Operational(gateway.CodeOperational, "generate salt", err)
		}
		salt = s
	}
	c := chain.ScoreCommitment(x.in.Scores, salt, x.in.DataHash)
	return advance(ScoreSubmissionProgress{Salt: hashPtr(salt), Commitment: hashPtr(c)}), nil
}

func submitCommit(ctx context.Context, x *scoreExec) (scoreResult, error) {
	if x.p.CommitTxHash != nil || x.p.CommitConfirmed {
		return advance(ScoreSubmissionProgress{}), nil
	}
	if x.p.Commitment == nil {
		return scoreResult{}, missingPrerequisite(StepSubmitCommit, "commitment")
	}
	req, err := x.env.adapters.Encoder.CommitScore(chain.ScoreCommit{
		Studio:     x.in.StudioAddress,
		DataHash:   x.in.DataHash,
		Commitment: *x.p.Commitment,
	})
	if err != nil {
		return scoreResult{}, gateway.Invariant(fmt.Sprintf("encode commitScore: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) ScoreSubmissionProgress {
		return ScoreSubmissionProgress{CommitTxHash: hashPtr(h)}
	})
	if err != nil {
		return scoreResult{}, err
	}
	return advance(ScoreSubmissionProgress{CommitTxHash: hashPtr(r.TxHash), CommitConfirmed: true}), nil
}

func submitReveal(ctx context.Context, x *scoreExec) (scoreResult, error) {
	if x.p.RevealTxHash != nil || x.p.RevealConfirmed {
		return advance(ScoreSubmissionProgress{}), nil
	}
	if !x.p.CommitConfirmed {
		return scoreResult{}, missingPrerequisite(StepSubmitReveal, "commit_confirmed")
	}
	if x.p.Salt == nil {
		return scoreResult{}, missingPrerequisite(StepSubmitReveal, "salt")
	}
	open, err := x.env.adapters.Score.RevealOpen(ctx, x.in.StudioAddress, x.in.DataHash)
	if err != nil {
		return scoreResult{}, fmt.Errorf("check reveal window: %w", err)
	}
	if !open {
		return waitOn[ScoreSubmissionProgress]("reveal window not open"), nil
	}
	req, err := x.env.adapters.Encoder.RevealScore(chain.ScoreReveal{
		Studio:   x.in.StudioAddress,
		DataHash: x.in.DataHash,
		Scores:   x.in.Scores,
		Salt:     *x.p.Salt,
	})
	if err != nil {
		return scoreResult{}, gateway.Invariant(fmt.Sprintf("encode revealScore: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) ScoreSubmissionProgress {
		return ScoreSubmissionProgress{RevealTxHash: hashPtr(h)}
	})
	if err != nil {
		return scoreResult{}, err
	}
	return advance(ScoreSubmissionProgress{RevealTxHash: hashPtr(r.TxHash), RevealConfirmed: true}), nil
}

func submitDirectScore(ctx context.Context, x *scoreExec) (scoreResult, error) {
	if x.p.ScoreTxHash != nil || x.p.ScoreConfirmed {
		return advance(ScoreSubmissionProgress{}), nil
	}
	req, err := x.env.adapters.Encoder.SubmitScore(chain.DirectScore{
		Studio:   x.in.StudioAddress,
		DataHash: x.in.DataHash,
		Worker:   x.in.WorkerAddress,
		Scores:   x.in.Scores,
	})
	if err != nil {
		return scoreResult{}, gateway.Invariant(fmt.Sprintf("encode submitScore: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) ScoreSubmissionProgress {
		return ScoreSubmissionProgress{ScoreTxHash: hashPtr(h)}
	})
	if err != nil {
		return scoreResult{}, err
	}
	return advance(ScoreSubmissionProgress{ScoreTxHash: hashPtr(r.TxHash), ScoreConfirmed: true}), nil
}

func registerValidator(ctx context.Context, x *scoreExec) (scoreResult, error) {
	if x.p.RegisterTxHash != nil || x.p.RegisterConfirmed {
		return advance(ScoreSubmissionProgress{}), nil
	}
	switch x.in.Mode {
	case ModeDirect:
		if !x.p.ScoreConfirmed {
			return scoreResult{}, missingPrerequisite(StepRegisterValidator, "score_confirmed")
		}
	default:
		if !x.p.RevealConfirmed {
			return scoreResult{}, missingPrerequisite(StepRegisterValidator, "reveal_confirmed")
		}
	}
	req, err := x.env.adapters.Encoder.RegisterValidator(chain.ValidatorRegistration{
		Studio:    x.in.StudioAddress,
		Epoch:     x.in.Epoch,
		DataHash:  x.in.DataHash,
		Validator: x.in.ValidatorAddress,
	})
	if err != nil {
		return scoreResult{}, gateway.Invariant(fmt.Sprintf("encode registerValidator: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) ScoreSubmissionProgress {
		return ScoreSubmissionProgress{RegisterTxHash: hashPtr(h)}
	})
	if err != nil {
		return scoreResult{}, err
	}
	return advance(ScoreSubmissionProgress{RegisterTxHash: hashPtr(r.TxHash), RegisterConfirmed: true}), nil
}

// awaitScoreTx is the shared body of every score confirmation step.
func awaitScoreTx(ctx context.Context, x *scoreExec, name, key string, h *chain.Hash, confirmed bool, done ScoreSubmissionProgress) (scoreResult, error) {
	if confirmed {
		return advance(ScoreSubmissionProgress{}), nil
	}
	if h == nil {
		return scoreResult{}, missingPrerequisite(name, key)
	}
	if _, err := awaitTx(ctx, x.env, *h); err != nil {
		return scoreResult{}, err
	}
	return advance(done), nil
}
