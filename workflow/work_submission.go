package workflow

import (
	"context"
	"fmt"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/archive"
	"github.com/chaoschain/gateway/chain"
)

// WorkSubmission steps.
const (
	StepUploadEvidence       = "UPLOAD_EVIDENCE"
	StepAwaitArweaveConfirm  = "AWAIT_ARWEAVE_CONFIRM"
	StepSubmitOnchain        = "SUBMIT_ONCHAIN"
	StepAwaitOnchainConfirm  = "AWAIT_ONCHAIN_CONFIRM"
	StepRegisterWork         = "REGISTER_WORK"
	StepAwaitRegisterConfirm = "AWAIT_REGISTER_CONFIRM"
)

// WorkSubmissionProgress is the typed progress of a WorkSubmission.
type WorkSubmissionProgress struct {
	ArweaveTxID       string      `json:"arweave_tx_id,omitempty"`
	ArweaveConfirmed  bool        `json:"arweave_confirmed,omitempty"`
	OnchainTxHash     *chain.Hash `json:"onchain_tx_hash,omitempty"`
	OnchainConfirmed  bool        `json:"onchain_confirmed,omitempty"`
	OnchainBlock      uint64      `json:"onchain_block,omitempty"`
	RegisterTxHash    *chain.Hash `json:"register_tx_hash,omitempty"`
	RegisterConfirmed bool        `json:"register_confirmed,omitempty"`
}

type workExec = exec[WorkSubmissionInput, WorkSubmissionProgress]

var workSubmission = &kind[WorkSubmissionInput, WorkSubmissionProgress]{
	typ: TypeWorkSubmission,
	order: func(WorkSubmissionInput) []string {
		return []string{
			StepUploadEvidence,
			StepAwaitArweaveConfirm,
			StepSubmitOnchain,
			StepAwaitOnchainConfirm,
			StepRegisterWork,
			StepAwaitRegisterConfirm,
		}
	},
	steps: map[string]step[WorkSubmissionInput, WorkSubmissionProgress]{
		StepUploadEvidence: {
			StepInfo: StepInfo{Name: StepUploadEvidence, timeout: timeoutAction},
			run:      uploadEvidence,
		},
		StepAwaitArweaveConfirm: {
			StepInfo: StepInfo{Name: StepAwaitArweaveConfirm, timeout: timeoutConfirm},
			run:      awaitArweave,
		},
		StepSubmitOnchain: {
			StepInfo: StepInfo{Name: StepSubmitOnchain, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p WorkSubmissionProgress) bool { return p.OnchainTxHash != nil || p.OnchainConfirmed },
			run:      submitOnchain,
		},
		StepAwaitOnchainConfirm: {
			StepInfo: StepInfo{Name: StepAwaitOnchainConfirm, timeout: timeoutConfirm},
			run:      awaitOnchain,
		},
		StepRegisterWork: {
			StepInfo: StepInfo{Name: StepRegisterWork, Irreversible: true, timeout: timeoutSubmit},
			handled:  func(p WorkSubmissionProgress) bool { return p.RegisterTxHash != nil || p.RegisterConfirmed },
			run:      registerWork,
		},
		StepAwaitRegisterConfirm: {
			StepInfo: StepInfo{Name: StepAwaitRegisterConfirm, timeout: timeoutConfirm},
			run:      awaitRegisterWork,
		},
	},
	probe: reconcileWork,
}

func workCall(in WorkSubmissionInput, p WorkSubmissionProgress) chain.WorkSubmission {
	return chain.WorkSubmission{
		Studio:       in.StudioAddress,
		Epoch:        in.Epoch,
		Agent:        in.AgentAddress,
		DataHash:     in.DataHash,
		ThreadRoot:   in.ThreadRoot,
		EvidenceRoot: in.EvidenceRoot,
		EvidenceURI:  archive.URI(p.ArweaveTxID),
	}
}

func uploadEvidence(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.ArweaveTxID != "" {
		return advance(WorkSubmissionProgress{}), nil
	}
	uid, err := x.env.adapters.Archive.Upload(ctx, x.in.EvidenceContent, map[string]string{
		"Workflow-Id": x.rec.ID.String(),
		"Studio":      x.in.StudioAddress.Hex(),
		"Data-Hash":   x.in.DataHash.Hex(),
	})
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, fmt.Errorf("upload evidence: %w", err)
	}
	return advance(WorkSubmissionProgress{ArweaveTxID: uid}), nil
}

func awaitArweave(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.ArweaveConfirmed {
		return advance(WorkSubmissionProgress{}), nil
	}
	if x.p.ArweaveTxID == "" {
		return stepResult[WorkSubmissionProgress]{}, missingPrerequisite(StepAwaitArweaveConfirm, "arweave_tx_id")
	}
	err := poll(ctx, x.env, func(ctx context.Context) (bool, error) {
		st, err := x.env.adapters.Archive.Status(ctx, x.p.ArweaveTxID)
		if err != nil {
			return false, fmt.Errorf("archive status: %w", err)
		}
		switch st {
		case archive.StatusConfirmed:
			return true, nil
		case archive.StatusFailed:
			return false, gateway.Operational(gateway.CodeUnavailable,
				fmt.Sprintf("archive upload %s failed", x.p.ArweaveTxID), nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, err
	}
	return advance(WorkSubmissionProgress{ArweaveConfirmed: true}), nil
}

func submitOnchain(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.OnchainTxHash != nil || x.p.OnchainConfirmed {
		return advance(WorkSubmissionProgress{}), nil
	}
	if !x.p.ArweaveConfirmed {
		return stepResult[WorkSubmissionProgress]{}, missingPrerequisite(StepSubmitOnchain, "arweave_confirmed")
	}
	req, err := x.env.adapters.Encoder.SubmitWork(workCall(x.in, x.p))
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, gateway.Invariant(fmt.Sprintf("encode submitWork: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) WorkSubmissionProgress {
		return WorkSubmissionProgress{OnchainTxHash: hashPtr(h)}
	})
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, err
	}
	return advance(WorkSubmissionProgress{
		OnchainTxHash:    hashPtr(r.TxHash),
		OnchainConfirmed: true,
		OnchainBlock:     r.BlockNumber,
	}), nil
}

func awaitOnchain(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.OnchainConfirmed {
		return advance(WorkSubmissionProgress{}), nil
	}
	if x.p.OnchainTxHash == nil {
		return stepResult[WorkSubmissionProgress]{}, missingPrerequisite(StepAwaitOnchainConfirm, "onchain_tx_hash")
	}
	r, err := awaitTx(ctx, x.env, *x.p.OnchainTxHash)
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, err
	}
	return advance(WorkSubmissionProgress{OnchainConfirmed: true, OnchainBlock: r.BlockNumber}), nil
}

func registerWork(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.RegisterTxHash != nil || x.p.RegisterConfirmed {
		return advance(WorkSubmissionProgress{}), nil
	}
	if !x.p.OnchainConfirmed {
		return stepResult[WorkSubmissionProgress]{}, missingPrerequisite(StepRegisterWork, "onchain_confirmed")
	}
	req, err := x.env.adapters.Encoder.RegisterWork(workCall(x.in, x.p))
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, gateway.Invariant(fmt.Sprintf("encode registerWork: %v", err))
	}
	r, err := submitTx(ctx, x, req, func(h chain.Hash) WorkSubmissionProgress {
		return WorkSubmissionProgress{RegisterTxHash: hashPtr(h)}
	})
	if err != nil {
		return stepResult[WorkSubmissionProgress]{}, err
	}
	return advance(WorkSubmissionProgress{RegisterTxHash: hashPtr(r.TxHash), RegisterConfirmed: true}), nil
}

func awaitRegisterWork(ctx context.Context, x *workExec) (stepResult[WorkSubmissionProgress], error) {
	if x.p.RegisterConfirmed {
		return advance(WorkSubmissionProgress{}), nil
	}
	if x.p.RegisterTxHash == nil {
		return stepResult[WorkSubmissionProgress]{}, missingPrerequisite(StepAwaitRegisterConfirm, "register_tx_hash")
	}
	if _, err := awaitTx(ctx, x.env, *x.p.RegisterTxHash); err != nil {
		return stepResult[WorkSubmissionProgress]{}, err
	}
	return advance(WorkSubmissionProgress{RegisterConfirmed: true}), nil
}
