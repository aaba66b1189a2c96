package workflow

import (
	"context"
	"fmt"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/chain"
)

// CloseEpoch steps.
const (
	StepCheckPreconditions = "CHECK_PRECONDITIONS"
	StepSubmitClose        = "SUBMIT_CLOSE"
	StepAwaitCloseConfirm  = "AWAIT_CLOSE_CONFIRM"
)

// CloseEpochProgress is the typed progress of a CloseEpoch.
type CloseEpochProgress struct {
	PreconditionsChecked bool        `json:"preconditions_checked,omitempty"`
	CloseTxHash          *chain.Hash `json:"close_tx_hash,omitempty"`
	CloseConfirmed       bool        `json:"close_confirmed,omitempty"`
}

type closeExec = exec[CloseEpochInput, CloseEpochProgress]

type closeResult = stepResult[CloseEpochProgress]

var closeEpoch = &kind[CloseEpochInput, CloseEpochProgress]{
	typ: TypeCloseEpoch,
	order: func(CloseEpochInput) []string {
		return []string{StepCheckPreconditions, StepSubmitClose, StepAwaitCloseConfirm}
	},
	steps: map[string]step[CloseEpochInput, CloseEpochProgress]{
		StepCheckPreconditions: {
			StepInfo: StepInfo{Name: StepCheckPreconditions, timeout: timeoutAction},
			run:      checkPreconditions,
		},
		StepSubmitClose: {
			StepInfo: StepInfo{Name: StepSubmitClose, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p CloseEpochProgress) bool { return p.CloseTxHash != nil || p.CloseConfirmed },
			run:      submitClose,
		},
		StepAwaitCloseConfirm: {
			StepInfo: StepInfo{Name: StepAwaitCloseConfirm, timeout: timeoutConfirm},
			run:      awaitClose,
		},
	},
	probe: reconcileClose,
}

func checkPreconditions(ctx context.Context, x *closeExec) (closeResult, error) {
	if x.p.PreconditionsChecked {
		return advance(CloseEpochProgress{}), nil
	}
	st, err := x.env.adapters.Epoch.EpochStatus(ctx, x.in.StudioAddress, x.in.Epoch)
	if err != nil {
		return closeResult{}, fmt.Errorf("read epoch status: %w", err)
	}
	switch {
	case !st.Exists:
		return closeResult{}, gateway.BusinessRule(gateway.CodePreconditionFailed,
			fmt.Sprintf("epoch %d does not exist", x.in.Epoch), nil)
	case st.Closed:
		return closeResult{}, gateway.BusinessRule(gateway.CodeAlreadyExists,
			fmt.Sprintf("epoch %d already closed", x.in.Epoch), nil)
	case !st.WindowOpen:
		return closeResult{}, gateway.BusinessRule(gateway.CodeWindowClosed,
			fmt.Sprintf("epoch %d is not accepting a close", x.in.Epoch), nil)
	}
	return advance(CloseEpochProgress{PreconditionsChecked: true}), nil
}

func submitClose(ctx context.Context, x *closeExec) (closeResult, error) {
	if x.p.CloseTxHash != nil || x.p.CloseConfirmed {
		return advance(CloseEpochProgress{}), nil
	}
	if !x.p.PreconditionsChecked {
		return closeResult{}, missingPrerequisite(StepSubmitClose, "preconditions_checked")
	}
	req, err := x.env.adapters.Encoder.CloseEpoch(chain.EpochClose{Studio: x.in.StudioAddress, Epoch: x.in.Epoch})
	if err != nil {
		return closeResult{}, gateway.Invariant(fmt.Sprintf("encode closeEpoch: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) CloseEpochProgress {
		return CloseEpochProgress{CloseTxHash: hashPtr(h)}
	})
	if err != nil {
		return closeResult{}, err
	}
	return advance(CloseEpochProgress{CloseTxHash: hashPtr(r.TxHash), CloseConfirmed: true}), nil
}

func awaitClose(ctx context.Context, x *closeExec) (closeResult, error) {
	if x.p.CloseConfirmed {
		return advance(CloseEpochProgress{}), nil
	}
	if x.p.CloseTxHash == nil {
		return closeResult{}, missingPrerequisite(StepAwaitCloseConfirm, "close_tx_hash")
	}
	if _, err := awaitTx(ctx, x.env, *x.p.CloseTxHash); err != nil {
		return closeResult{}, err
	}
	return advance(CloseEpochProgress{CloseConfirmed: true}), nil
}
