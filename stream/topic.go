package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chaoschain/gateway/workflow"
)

// Topic names:
//
//	workflows          every event
//	workflow:<id>      events for one record
//	type:<Type>        events for one workflow type
//	signer:<address>   events for records signed by one address
const TopicWorkflows = "workflows"

// WorkflowTopic returns the topic of a single record.
func WorkflowTopic(wfID string) string { return "workflow:" + wfID }

// TypeTopic returns the topic of a workflow type.
func TypeTopic(t workflow.Type) string { return "type:" + string(t) }

// SignerTopic returns the topic of a signer. Addresses are matched
// case-insensitively.
func SignerTopic(signer string) string { return "signer:" + strings.ToLower(signer) }

// ValidateTopic checks that topic is one of the names above.
func ValidateTopic(topic string) error {
	if topic == TopicWorkflows {
		return nil
	}
	kind, value, ok := strings.Cut(topic, ":")
	if !ok || value == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "workflow", "signer":
		return nil
	case "type":
		switch workflow.Type(value) {
		case workflow.TypeWorkSubmission, workflow.TypeScoreSubmission, workflow.TypeCloseEpoch:
			return nil
		}
		return fmt.Errorf("stream: unknown workflow type %q", value)
	}
	return fmt.Errorf("stream: unknown topic kind %q", kind)
}

// topicsFor lists every topic an event about rec is published on.
func topicsFor(rec *workflow.Record) []string {
	topics := []string{TopicWorkflows, WorkflowTopic(rec.ID.String()), TypeTopic(rec.Type)}
	if rec.Signer != "" {
		topics = append(topics, SignerTopic(rec.Signer))
	}
	return topics
}

// topicRegistry maps topics to subscriber sets. It is safe for concurrent
// use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

func (tr *topicRegistry) unsubscribeAll(subID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers evt once to every subscriber on any of topics and
// returns the number of deliveries.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
