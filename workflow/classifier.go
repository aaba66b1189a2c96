package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/chain"
)

// Rule maps error text containing any of Patterns to a classification.
// Matching is case-insensitive.
type Rule struct {
	Patterns []string     `yaml:"patterns"`
	Kind     string       `yaml:"kind"`
	Code     gateway.Code `yaml:"code"`
}

func (r Rule) kind() (gateway.Kind, error) {
	switch strings.ToLower(r.Kind) {
	case "operational":
		return gateway.KindOperational, nil
	case "business_rule", "business":
		return gateway.KindBusinessRule, nil
	case "invariant":
		return gateway.KindInvariant, nil
	default:
		return 0, fmt.Errorf("workflow: unknown rule kind %q", r.Kind)
	}
}

// DefaultRules lists the ledger and RPC messages the gateway recognizes.
// Business rules come first so "deadline passed" is not mistaken for a
// timeout. Business patterns are contract revert phrasings only; node
// errors such as "header not found" must not match them.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: "business_rule", Code: gateway.CodeWindowClosed,
			Patterns: []string{"window closed", "commit window", "reveal window", "deadline passed", "epoch not active"}},
		{Kind: "business_rule", Code: gateway.CodeAlreadyExists,
			Patterns: []string{"already submitted", "already committed", "already revealed", "already closed", "already registered", "duplicate"}},
		{Kind: "business_rule", Code: gateway.CodeUnauthorized,
			Patterns: []string{"unauthorized", "not authorized", "only owner", "onlyowner", "access denied"}},
		{Kind: "business_rule", Code: gateway.CodeInvalidInput,
			Patterns: []string{"invalid input", "invalid argument", "malformed", "invalid score"}},
		{Kind: "business_rule", Code: gateway.CodePreconditionFailed,
			Patterns: []string{"does not exist", "no commitment", "commitment mismatch"}},
		{Kind: "operational", Code: gateway.CodeTimeout,
			Patterns: []string{"timeout", "timed out", "deadline exceeded"}},
		{Kind: "operational", Code: gateway.CodeNetwork,
			Patterns: []string{"connection refused", "connection reset", "network", "eof", "broken pipe", "no such host"}},
		{Kind: "operational", Code: gateway.CodeRateLimited,
			Patterns: []string{"rate limit", "status 429", "too many requests"}},
		{Kind: "operational", Code: gateway.CodeInsufficientFunds,
			Patterns: []string{"insufficient funds", "insufficient balance"}},
		{Kind: "operational", Code: gateway.CodeUnavailable,
			Patterns: []string{"status 502", "status 503", "service unavailable", "bad gateway", "unavailable"}},
		{Kind: "operational", Code: gateway.CodeOperational,
			Patterns: []string{"nonce too low", "replacement transaction underpriced", "underpriced", "known transaction"}},
	}
}

// LoadRules reads a YAML rules file of the form:
//
//	rules:
//	  - kind: business_rule
//	    code: WINDOW_CLOSED
//	    patterns: ["window closed"]
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read rules: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse rules: %w", err)
	}
	for i, r := range doc.Rules {
		if _, err := r.kind(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("workflow: rule %d has no patterns", i)
		}
	}
	return doc.Rules, nil
}

// Classifier decides the failure class of a step error.
type Classifier struct {
	rules []compiledRule
}

type compiledRule struct {
	patterns []string
	kind     gateway.Kind
	code     gateway.Code
}

// NewClassifier builds a classifier from rules, checked in order.
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		k, err := r.kind()
		if err != nil {
			return nil, err
		}
		cr := compiledRule{kind: k, code: r.Code}
		for _, p := range r.Patterns {
			cr.patterns = append(cr.patterns, strings.ToLower(p))
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// DefaultClassifier uses DefaultRules.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns err as a classified error. Typed errors keep their
// class, deadlines are timeouts, and the rule table decides the rest.
// A mined revert no rule recognizes is REVERTED: its hash is recorded, so
// a retry would only await the same receipt again. Anything else unmatched
// is operational.
func (c *Classifier) Classify(err error) *gateway.Error {
	if ge, ok := gateway.AsError(err); ok {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gateway.Operational(gateway.CodeTimeout, "step timed out", err)
	}
	if ge := c.match(err); ge != nil {
		return ge
	}
	var re *chain.RevertError
	if errors.As(err, &re) {
		return gateway.BusinessRule(gateway.CodeReverted, "transaction reverted", err)
	}
	return gateway.Operational(gateway.CodeOperational, "unclassified error", err)
}

func (c *Classifier) match(err error) *gateway.Error {
	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return &gateway.Error{Kind: r.kind, Code: r.code, Message: p, Cause: err}
			}
		}
	}
	return nil
}
