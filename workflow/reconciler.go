package workflow

import (
	"context"
	"fmt"
)

// Reconciler answers, from the ledger's own state, whether the effect of
// an irreversible step already happened. It only reads.
type Reconciler struct {
	adapters Adapters
}

// NewReconciler returns a Reconciler over the probes in a.
func NewReconciler(a Adapters) *Reconciler {
	return &Reconciler{adapters: a}
}

// Reconcile checks rec's current step. It returns the progress patch to
// record and true when the step's effect is already on the ledger.
// Reversible steps always report false.
func (r *Reconciler) Reconcile(ctx context.Context, rec *Record) (Progress, bool, error) {
	def, err := definitionFor(rec.Type)
	if err != nil {
		return nil, false, err
	}
	info, ok := def.info(rec.Step)
	if !ok || !info.Irreversible {
		return nil, false, nil
	}
	return def.reconcile(ctx, r, rec.Step, rec.Input)
}

func reconcileWork(ctx context.Context, r *Reconciler, name string, in WorkSubmissionInput) (WorkSubmissionProgress, bool, error) {
	probe := r.adapters.Work
	switch name {
	case StepSubmitOnchain:
		ok, err := probe.WorkSubmitted(ctx, in.StudioAddress, in.DataHash)
		if err != nil {
			return WorkSubmissionProgress{}, false, fmt.Errorf("probe work submission: %w", err)
		}
		return WorkSubmissionProgress{OnchainConfirmed: ok}, ok, nil
	case StepRegisterWork:
		ok, err := probe.WorkRegistered(ctx, in.StudioAddress, in.Epoch, in.DataHash)
		if err != nil {
			return WorkSubmissionProgress{}, false, fmt.Errorf("probe work registration: %w", err)
		}
		return WorkSubmissionProgress{RegisterConfirmed: ok}, ok, nil
	}
	return WorkSubmissionProgress{}, false, nil
}

func reconcileScore(ctx context.Context, r *Reconciler, name string, in ScoreSubmissionInput) (ScoreSubmissionProgress, bool, error) {
	probe := r.adapters.Score
	var (
		ok  bool
		err error
		p   ScoreSubmissionProgress
	)
	switch name {
	case StepSubmitCommit:
		ok, err = probe.CommitRecorded(ctx, in.StudioAddress, in.DataHash, in.ValidatorAddress)
		p.CommitConfirmed = ok
	case StepSubmitReveal:
		ok, err = probe.RevealRecorded(ctx, in.StudioAddress, in.DataHash, in.ValidatorAddress)
		p.RevealConfirmed = ok
	case StepSubmitScore:
		ok, err = probe.ScoreRecorded(ctx, in.StudioAddress, in.DataHash, in.ValidatorAddress, in.WorkerAddress)
		p.ScoreConfirmed = ok
	case StepRegisterValidator:
		ok, err = probe.ValidatorRegistered(ctx, in.StudioAddress, in.Epoch, in.DataHash, in.ValidatorAddress)
		p.RegisterConfirmed = ok
	default:
		return p, false, nil
	}
	if err != nil {
		return ScoreSubmissionProgress{}, false, fmt.Errorf("probe %s: %w", name, err)
	}
	return p, ok, nil
}

func reconcileClose(ctx context.Context, r *Reconciler, name string, in CloseEpochInput) (CloseEpochProgress, bool, error) {
	if name != StepSubmitClose {
		return CloseEpochProgress{}, false, nil
	}
	st, err := r.adapters.Epoch.EpochStatus(ctx, in.StudioAddress, in.Epoch)
	if err != nil {
		return CloseEpochProgress{}, false, fmt.Errorf("probe epoch status: %w", err)
	}
	return CloseEpochProgress{CloseConfirmed: st.Closed}, st.Closed, nil
}
