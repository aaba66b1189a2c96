package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaoschain/gateway/ext"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Broker)(nil)
	_ ext.WorkflowStarted   = (*Broker)(nil)
	_ ext.WorkflowWaiting   = (*Broker)(nil)
	_ ext.WorkflowStalled   = (*Broker)(nil)
	_ ext.WorkflowCompleted = (*Broker)(nil)
	_ ext.WorkflowFailed    = (*Broker)(nil)
	_ ext.StepCompleted     = (*Broker)(nil)
	_ ext.StepReconciled    = (*Broker)(nil)
	_ ext.StepRetrying      = (*Broker)(nil)
	_ ext.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker publishes lifecycle events to subscribers by topic.
type Broker struct {
	topics     *topicRegistry
	logger     *slog.Logger
	bufferSize int
	now        func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	shutdown    bool

	published atomic.Int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:      newTopicRegistry(),
		logger:      logger,
		bufferSize:  DefaultBufferSize,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bufferSize < 1 {
		b.bufferSize = 1
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a new subscriber on topics. With no topics the
// subscriber receives every event.
func (b *Broker) Subscribe(topics ...string) (*Subscriber, error) {
	if len(topics) == 0 {
		topics = []string{TopicWorkflows}
	}
	for _, t := range topics {
		if err := ValidateTopic(t); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return nil, fmt.Errorf("stream: broker is shut down")
	}
	sub := newSubscriber(id.NewSubscriberID().String(), b.bufferSize)
	b.subscribers[sub.ID()] = sub
	for _, t := range topics {
		b.topics.subscribe(t, sub)
	}
	return sub, nil
}

// Remove detaches a subscriber and closes its channel.
func (b *Broker) Remove(sub *Subscriber) {
	b.topics.unsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// BrokerStats reports broker counters.
type BrokerStats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{Topics: b.topics.count(), Subscribers: n, Published: b.published.Load()}
}

func (b *Broker) publish(typ EventType, rec *workflow.Record, data WorkflowEventData) {
	data.WorkflowID = rec.ID.String()
	data.Type = string(rec.Type)
	data.State = string(rec.State)
	data.Signer = rec.Signer
	if data.Step == "" {
		data.Step = rec.Step
	}
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("stream: marshal event", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	evt := &Event{
		Type:      typ,
		Timestamp: b.now().UTC(),
		Topic:     WorkflowTopic(data.WorkflowID),
		Data:      raw,
	}
	b.published.Add(int64(b.topics.broadcast(topicsFor(rec), evt)))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// OnWorkflowStarted implements ext.WorkflowStarted.
func (b *Broker) OnWorkflowStarted(_ context.Context, rec *workflow.Record) error {
	b.publish(EventWorkflowStarted, rec, WorkflowEventData{})
	return nil
}

// OnWorkflowWaiting implements ext.WorkflowWaiting.
func (b *Broker) OnWorkflowWaiting(_ context.Context, rec *workflow.Record, step, reason string) error {
	b.publish(EventWorkflowWaiting, rec, WorkflowEventData{Step: step, Reason: reason})
	return nil
}

// OnWorkflowStalled implements ext.WorkflowStalled.
func (b *Broker) OnWorkflowStalled(_ context.Context, rec *workflow.Record, err error) error {
	b.publish(EventWorkflowStalled, rec, WorkflowEventData{Error: errString(err)})
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (b *Broker) OnWorkflowCompleted(_ context.Context, rec *workflow.Record, elapsed time.Duration) error {
	b.publish(EventWorkflowCompleted, rec, WorkflowEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (b *Broker) OnWorkflowFailed(_ context.Context, rec *workflow.Record, err error) error {
	b.publish(EventWorkflowFailed, rec, WorkflowEventData{Error: errString(err)})
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (b *Broker) OnStepCompleted(_ context.Context, rec *workflow.Record, step string, elapsed time.Duration) error {
	b.publish(EventStepCompleted, rec, WorkflowEventData{Step: step, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

// OnStepReconciled implements ext.StepReconciled.
func (b *Broker) OnStepReconciled(_ context.Context, rec *workflow.Record, step string) error {
	b.publish(EventStepReconciled, rec, WorkflowEventData{Step: step})
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (b *Broker) OnStepRetrying(_ context.Context, rec *workflow.Record, step string, attempt int, delay time.Duration, err error) error {
	b.publish(EventStepRetrying, rec, WorkflowEventData{
		Step:    step,
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
		Error:   errString(err),
	})
	return nil
}

// OnShutdown closes every subscriber. Later Subscribe calls fail.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.shutdown = true
	b.mu.Unlock()

	for _, sub := range subs {
		b.topics.unsubscribeAll(sub.ID())
		sub.close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
