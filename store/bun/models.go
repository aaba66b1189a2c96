package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

type workflowModel struct {
	bun.BaseModel `bun:"table:gateway_workflows"`

	ID           string          `bun:"id,pk"`
	Type         string          `bun:"type,notnull"`
	State        string          `bun:"state,notnull"`
	Step         string          `bun:"step,notnull"`
	StepAttempts int             `bun:"step_attempts,notnull"`
	Input        json.RawMessage `bun:"input,type:jsonb,notnull"`
	Progress     json.RawMessage `bun:"progress,type:jsonb,notnull"`
	Error        json.RawMessage `bun:"error,type:jsonb,nullzero"`
	Signer       string          `bun:"signer,notnull"`
	CreatedAt    time.Time       `bun:"created_at,notnull"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull"`
}

func toWorkflowModel(r *workflow.Record) (*workflowModel, error) {
	progress := r.Progress
	if progress == nil {
		progress = workflow.Progress{}
	}
	p, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("gateway/bun: encode progress: %w", err)
	}
	var e json.RawMessage
	if r.Error != nil {
		if e, err = json.Marshal(r.Error); err != nil {
			return nil, fmt.Errorf("gateway/bun: encode error: %w", err)
		}
	}
	return &workflowModel{
		ID:           r.ID.String(),
		Type:         string(r.Type),
		State:        string(r.State),
		Step:         r.Step,
		StepAttempts: r.StepAttempts,
		Input:        r.Input,
		Progress:     p,
		Error:        e,
		Signer:       r.Signer,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func fromWorkflowModel(m *workflowModel) (*workflow.Record, error) {
	parsedID, err := id.ParseWorkflowID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gateway/bun: parse workflow id %q: %w", m.ID, err)
	}
	rec := &workflow.Record{
		ID:           parsedID,
		Type:         workflow.Type(m.Type),
		State:        workflow.State(m.State),
		Step:         m.Step,
		StepAttempts: m.StepAttempts,
		Input:        m.Input,
		Progress:     workflow.Progress{},
		Signer:       m.Signer,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	if len(m.Progress) > 0 {
		if err := json.Unmarshal(m.Progress, &rec.Progress); err != nil {
			return nil, fmt.Errorf("gateway/bun: decode progress: %w", err)
		}
	}
	if len(m.Error) > 0 && string(m.Error) != "null" {
		rec.Error = new(workflow.Failure)
		if err := json.Unmarshal(m.Error, rec.Error); err != nil {
			return nil, fmt.Errorf("gateway/bun: decode error: %w", err)
		}
	}
	return rec, nil
}
