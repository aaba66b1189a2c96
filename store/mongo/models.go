package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

type failureModel struct {
	Step        string    `bson:"step"`
	Message     string    `bson:"message"`
	Code        string    `bson:"code"`
	Timestamp   time.Time `bson:"timestamp"`
	Recoverable bool      `bson:"recoverable"`
}

// workflowModel stores input verbatim as JSON text; correlation_key is
// lifted out of it so it can be indexed. Progress values are JSON text
// keyed by progress key.
type workflowModel struct {
	ID             string            `bson:"_id"`
	Version        int64             `bson:"version"`
	Type           string            `bson:"type"`
	State          string            `bson:"state"`
	Step           string            `bson:"step"`
	StepAttempts   int               `bson:"step_attempts"`
	Input          string            `bson:"input"`
	CorrelationKey string            `bson:"correlation_key,omitempty"`
	Progress       map[string]string `bson:"progress"`
	Error          *failureModel     `bson:"error,omitempty"`
	Signer         string            `bson:"signer"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func toWorkflowModel(r *workflow.Record) *workflowModel {
	return &workflowModel{
		ID:             r.ID.String(),
		Type:           string(r.Type),
		State:          string(r.State),
		Step:           r.Step,
		StepAttempts:   r.StepAttempts,
		Input:          string(r.Input),
		CorrelationKey: workflow.CorrelationKey(r.Input),
		Progress:       progressToMap(r.Progress),
		Error:          toFailureModel(r.Error),
		Signer:         r.Signer,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromWorkflowModel(m *workflowModel) (*workflow.Record, error) {
	parsedID, err := id.ParseWorkflowID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("gateway/mongo: parse workflow id %q: %w", m.ID, err)
	}
	rec := &workflow.Record{
		ID:           parsedID,
		Type:         workflow.Type(m.Type),
		State:        workflow.State(m.State),
		Step:         m.Step,
		StepAttempts: m.StepAttempts,
		Input:        json.RawMessage(m.Input),
		Progress:     make(workflow.Progress, len(m.Progress)),
		Signer:       m.Signer,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	for k, v := range m.Progress {
		rec.Progress[k] = json.RawMessage(v)
	}
	if m.Error != nil {
		rec.Error = &workflow.Failure{
			Step:        m.Error.Step,
			Message:     m.Error.Message,
			Code:        m.Error.Code,
			Timestamp:   m.Error.Timestamp.UTC(),
			Recoverable: m.Error.Recoverable,
		}
	}
	return rec, nil
}

func toFailureModel(f *workflow.Failure) *failureModel {
	if f == nil {
		return nil
	}
	return &failureModel{
		Step:        f.Step,
		Message:     f.Message,
		Code:        f.Code,
		Timestamp:   f.Timestamp,
		Recoverable: f.Recoverable,
	}
}

func progressToMap(p workflow.Progress) map[string]string {
	m := make(map[string]string, len(p))
	for k, v := range p {
		m[k] = string(v)
	}
	return m
}
