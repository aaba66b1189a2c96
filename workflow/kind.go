package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/chain"
)

// timeoutClass selects which configured deadline bounds a step.
type timeoutClass int

const (
	// timeoutAction bounds steps that start work without waiting on it.
	timeoutAction timeoutClass = iota
	// timeoutConfirm bounds steps that wait for a confirmation.
	timeoutConfirm
	// timeoutSubmit bounds steps that submit and then wait in one call.
	timeoutSubmit
)

// StepInfo describes one step of a workflow kind.
type StepInfo struct {
	Name string `json:"name"`

	// Irreversible steps act on the ledger and are reconciled first.
	Irreversible bool `json:"irreversible"`

	timeout timeoutClass
}

// stepResult is what a step hands back to the engine.
type stepResult[P any] struct {
	patch  P
	wait   bool
	reason string
}

func advance[P any](patch P) stepResult[P] {
	return stepResult[P]{patch: patch}
}

func waitOn[P any](reason string) stepResult[P] {
	return stepResult[P]{wait: true, reason: reason}
}

// exec is the typed view of a record a step runs against.
type exec[I Input, P any] struct {
	rec     *Record
	in      I
	p       P
	env     *env
	persist func(context.Context, P) error
}

type step[I Input, P any] struct {
	StepInfo

	// handled reports whether progress already records this step's
	// irreversible handle, in which case reconciliation is skipped.
	handled func(P) bool

	run func(context.Context, *exec[I, P]) (stepResult[P], error)
}

// outcome is the untyped stepResult seen by the engine.
type outcome struct {
	patch  Progress
	wait   bool
	reason string
}

// definition is the engine's view of a workflow kind. The set of
// implementations is closed; see definitionFor.
type definition interface {
	Type() Type
	validate(raw json.RawMessage) error
	signer(raw json.RawMessage) (chain.Address, error)
	sequence(raw json.RawMessage) ([]string, error)
	info(name string) (StepInfo, bool)
	handled(name string, p Progress) (bool, error)
	reconcile(ctx context.Context, r *Reconciler, name string, raw json.RawMessage) (Progress, bool, error)
	execute(ctx context.Context, name string, rec *Record, e *env, persist func(context.Context, Progress) error) (outcome, error)
}

// kind implements definition for one typed input/progress pair.
type kind[I Input, P any] struct {
	typ   Type
	order func(I) []string
	steps map[string]step[I, P]
	probe func(ctx context.Context, r *Reconciler, name string, in I) (P, bool, error)
}

func (k *kind[I, P]) Type() Type { return k.typ }

func (k *kind[I, P]) validate(raw json.RawMessage) error {
	_, err := DecodeInput[I](raw)
	return err
}

func (k *kind[I, P]) signer(raw json.RawMessage) (chain.Address, error) {
	in, err := DecodeInput[I](raw)
	if err != nil {
		return chain.Address{}, err
	}
	return in.Signer(), nil
}

func (k *kind[I, P]) sequence(raw json.RawMessage) ([]string, error) {
	in, err := DecodeInput[I](raw)
	if err != nil {
		return nil, err
	}
	return k.order(in), nil
}

func (k *kind[I, P]) info(name string) (StepInfo, bool) {
	s, ok := k.steps[name]
	return s.StepInfo, ok
}

func (k *kind[I, P]) handled(name string, p Progress) (bool, error) {
	s, ok := k.steps[name]
	if !ok || s.handled == nil {
		return false, nil
	}
	typed, err := DecodeProgress[P](p)
	if err != nil {
		return false, err
	}
	return s.handled(typed), nil
}

func (k *kind[I, P]) reconcile(ctx context.Context, r *Reconciler, name string, raw json.RawMessage) (Progress, bool, error) {
	in, err := DecodeInput[I](raw)
	if err != nil {
		return nil, false, err
	}
	typed, done, err := k.probe(ctx, r, name, in)
	if err != nil || !done {
		return nil, false, err
	}
	patch, err := PatchOf(typed)
	if err != nil {
		return nil, false, err
	}
	return patch, true, nil
}

func (k *kind[I, P]) execute(ctx context.Context, name string, rec *Record, e *env, persist func(context.Context, Progress) error) (outcome, error) {
	s, ok := k.steps[name]
	if !ok {
		return outcome{}, gateway.Invariant(fmt.Sprintf("%s has no step %q", k.typ, name))
	}
	in, err := DecodeInput[I](rec.Input)
	if err != nil {
		return outcome{}, err
	}
	p, err := DecodeProgress[P](rec.Progress)
	if err != nil {
		return outcome{}, gateway.Invariant(err.Error())
	}

	x := &exec[I, P]{
		rec: rec,
		in:  in,
		p:   p,
		env: e,
		persist: func(ctx context.Context, patch P) error {
			raw, err := PatchOf(patch)
			if err != nil {
				return err
			}
			return persist(ctx, raw)
		},
	}
	res, err := s.run(ctx, x)
	if err != nil {
		return outcome{}, err
	}
	patch, err := PatchOf(res.patch)
	if err != nil {
		return outcome{}, err
	}
	return outcome{patch: patch, wait: res.wait, reason: res.reason}, nil
}

// definitionFor selects the definition of t.
func definitionFor(t Type) (definition, error) {
	switch t {
	case TypeWorkSubmission:
		return workSubmission, nil
	case TypeScoreSubmission:
		return scoreSubmission, nil
	case TypeCloseEpoch:
		return closeEpoch, nil
	default:
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownType, t)
	}
}

// Steps returns the step sequence a record of type t with the given input
// will follow.
func Steps(t Type, input json.RawMessage) ([]StepInfo, error) {
	def, err := definitionFor(t)
	if err != nil {
		return nil, err
	}
	names, err := def.sequence(input)
	if err != nil {
		return nil, err
	}
	out := make([]StepInfo, 0, len(names))
	for _, n := range names {
		info, _ := def.info(n)
		out = append(out, info)
	}
	return out, nil
}

// nextStep returns the step after current, or "" if current is last.
func nextStep(seq []string, current string) (string, error) {
	i := slices.Index(seq, current)
	if i < 0 {
		return "", gateway.Invariant(fmt.Sprintf("step %q is not part of this workflow", current))
	}
	if i == len(seq)-1 {
		return "", nil
	}
	return seq[i+1], nil
}
