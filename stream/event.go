// Package stream fans workflow lifecycle events out to live subscribers.
// The Broker registers as an extension and publishes each hook call on
// topic channels; the API serves those channels over WebSocket.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowWaiting   EventType = "workflow.waiting"
	EventWorkflowStalled   EventType = "workflow.stalled"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"

	EventStepCompleted  EventType = "step.completed"
	EventStepReconciled EventType = "step.reconciled"
	EventStepRetrying   EventType = "step.retrying"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
}

// WorkflowEventData is the payload of every event.
type WorkflowEventData struct {
	WorkflowID string `json:"workflow_id"`
	Type       string `json:"workflow_type"`
	State      string `json:"state"`
	Step       string `json:"step,omitempty"`
	Signer     string `json:"signer,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	DelayMs    int64  `json:"delay_ms,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Decode unmarshals the payload of e.
func (e *Event) Decode() (WorkflowEventData, error) {
	var d WorkflowEventData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}
