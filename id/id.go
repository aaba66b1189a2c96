// Package id holds the gateway's TypeID identifiers. Workflow ids ("wf_")
// are UUIDv7 underneath, so they sort by creation time.
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity tag in front of a TypeID suffix.
type Prefix string

const (
	PrefixWorkflow   Prefix = "wf"
	PrefixRequest    Prefix = "req"
	PrefixSubscriber Prefix = "sub"
)

var errEmpty = errors.New("empty id")

// ID is a TypeID such as "wf_01h2xcejqtf2nbrexx3vqjhp41". The zero value
// is Nil and renders as "".
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// WorkflowID keys a workflow record.
type WorkflowID = ID

// Nil is the zero ID.
var Nil ID

// New returns a fresh ID. An invalid prefix is a programming error and
// panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: prefix %q: %v", p, err))
	}
	return ID{tid: tid, ok: true}
}

func NewWorkflowID() ID   { return New(PrefixWorkflow) }
func NewRequestID() ID    { return New(PrefixRequest) }
func NewSubscriberID() ID { return New(PrefixSubscriber) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseWorkflowID parses s and requires the "wf" prefix.
func ParseWorkflowID(s string) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if v.Prefix() != PrefixWorkflow {
		return Nil, fmt.Errorf("id: %q is not a workflow id (prefix %q)", s, v.Prefix())
	}
	return v, nil
}

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

// MarshalText renders Nil as an empty string.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText maps an empty string back to Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
