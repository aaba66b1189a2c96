package gateway

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("gateway: no store configured")
	ErrMigrationFailed = errors.New("gateway: migration failed")

	// Lookup errors.
	ErrNotFound    = errors.New("gateway: workflow not found")
	ErrUnknownType = errors.New("gateway: unknown workflow type")

	// Conflict errors.
	ErrAlreadyExists = errors.New("gateway: workflow already exists")

	// State errors.
	ErrInvalidTransition = errors.New("gateway: invalid state transition")
	ErrTerminal          = errors.New("gateway: workflow is in a terminal state")
	ErrNotStartable      = errors.New("gateway: workflow is not in CREATED state")
	ErrNotStarted        = errors.New("gateway: workflow has not been started")
)

// Kind is the failure class that decides what the engine does with an error.
type Kind int

const (
	// KindOperational errors are transient. The step is retried with backoff
	// and the workflow stalls once attempts are exhausted.
	KindOperational Kind = iota + 1

	// KindBusinessRule errors are rejections by the ledger or the caller's
	// input that will not change on retry. The workflow fails.
	KindBusinessRule

	// KindInvariant errors are ordering defects inside the engine itself.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindOperational:
		return "operational"
	case KindBusinessRule:
		return "business_rule"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a workflow failing with this kind can be
// resumed later.
func (k Kind) Recoverable() bool { return k == KindOperational }

// Code is the machine-readable failure code surfaced in a workflow's error.
type Code string

// Operational codes.
const (
	CodeTimeout           Code = "TIMEOUT"
	CodeNetwork           Code = "NETWORK"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeNotConfirmed      Code = "NOT_CONFIRMED"
	CodeOperational       Code = "OPERATIONAL"
)

// Business-rule codes.
const (
	CodeWindowClosed       Code = "WINDOW_CLOSED"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeReverted           Code = "REVERTED"
)

// CodeInvariantViolation marks an engine ordering defect.
const CodeInvariantViolation Code = "INVARIANT_VIOLATION"

// Error is a classified failure. Adapters return it when they know what
// went wrong; the workflow classifier falls back to pattern matching for
// everything else.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Operational returns a retryable error.
func Operational(code Code, msg string, cause error) *Error {
	return &Error{Kind: KindOperational, Code: code, Message: msg, Cause: cause}
}

// BusinessRule returns a terminal error caused by a rule outside the engine.
func BusinessRule(code Code, msg string, cause error) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: msg, Cause: cause}
}

// Invariant returns a terminal INVARIANT_VIOLATION error.
func Invariant(msg string) *Error {
	return &Error{Kind: KindInvariant, Code: CodeInvariantViolation, Message: msg}
}

// AsError extracts a classified *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
