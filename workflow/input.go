package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chaoschain/gateway/chain"
)

// MaxScore is the largest score value, in basis points.
const MaxScore = 10000

// ScoreMode selects how a score is submitted.
type ScoreMode string

const (
	ModeCommitReveal ScoreMode = "COMMIT_REVEAL"
	ModeDirect       ScoreMode = "DIRECT"
)

// Input is implemented by the typed input of every workflow kind.
type Input interface {
	Validate() error
	Signer() chain.Address
}

// WorkSubmissionInput is the immutable input of a WorkSubmission.
type WorkSubmissionInput struct {
	StudioAddress   chain.Address `json:"studio_address"`
	Epoch           uint64        `json:"epoch"`
	AgentAddress    chain.Address `json:"agent_address"`
	DataHash        chain.Hash    `json:"data_hash"`
	ThreadRoot      chain.Hash    `json:"thread_root"`
	EvidenceRoot    chain.Hash    `json:"evidence_root"`
	EvidenceContent []byte        `json:"evidence_content"`
	SignerAddress   chain.Address `json:"signer_address"`
	CorrelationKey  string        `json:"correlation_key,omitempty"`
}

// Validate checks required fields.
func (in WorkSubmissionInput) Validate() error {
	switch {
	case in.StudioAddress == (chain.Address{}):
		return invalidInput("studio_address is required")
	case in.AgentAddress == (chain.Address{}):
		return invalidInput("agent_address is required")
	case in.DataHash == (chain.Hash{}):
		return invalidInput("data_hash is required")
	case len(in.EvidenceContent) == 0:
		return invalidInput("evidence_content is required")
	case in.SignerAddress == (chain.Address{}):
		return invalidInput("signer_address is required")
	}
	return nil
}

// Signer returns the submitting address.
func (in WorkSubmissionInput) Signer() chain.Address { return in.SignerAddress }

// ScoreSubmissionInput is the immutable input of a ScoreSubmission.
type ScoreSubmissionInput struct {
	StudioAddress    chain.Address `json:"studio_address"`
	Epoch            uint64        `json:"epoch"`
	ValidatorAddress chain.Address `json:"validator_address"`
	DataHash         chain.Hash    `json:"data_hash"`
	Scores           []uint16      `json:"scores"`
	SignerAddress    chain.Address `json:"signer_address"`
	Mode             ScoreMode     `json:"mode"`

	// WorkerAddress is the scored worker. Required in DIRECT mode.
	WorkerAddress chain.Address `json:"worker_address,omitempty"`

	// Salt fixes the commitment salt. A random one is generated and
	// recorded in progress when omitted.
	Salt *chain.Hash `json:"salt,omitempty"`

	CorrelationKey string `json:"correlation_key,omitempty"`
}

// Validate checks required fields and score bounds.
func (in ScoreSubmissionInput) Validate() error {
	switch {
	case in.StudioAddress == (chain.Address{}):
		return invalidInput("studio_address is required")
	case in.ValidatorAddress == (chain.Address{}):
		return invalidInput("validator_address is required")
	case in.DataHash == (chain.Hash{}):
		return invalidInput("data_hash is required")
	case len(in.Scores) == 0:
		return invalidInput("scores must not be empty")
	case in.SignerAddress == (chain.Address{}):
		return invalidInput("signer_address is required")
	}
	for i, s := range in.Scores {
		if s > MaxScore {
			return invalidInput("scores[%d] = %d exceeds %d", i, s, MaxScore)
		}
	}
	switch in.Mode {
	case ModeCommitReveal:
	case ModeDirect:
		if in.WorkerAddress == (chain.Address{}) {
			return invalidInput("worker_address is required in DIRECT mode")
		}
	default:
		return invalidInput("mode must be %s or %s, got %q", ModeCommitReveal, ModeDirect, in.Mode)
	}
	return nil
}

// Signer returns the submitting address.
func (in ScoreSubmissionInput) Signer() chain.Address { return in.SignerAddress }

// CloseEpochInput is the immutable input of a CloseEpoch.
type CloseEpochInput struct {
	StudioAddress  chain.Address `json:"studio_address"`
	Epoch          uint64        `json:"epoch"`
	SignerAddress  chain.Address `json:"signer_address"`
	CorrelationKey string        `json:"correlation_key,omitempty"`
}

// Validate checks required fields.
func (in CloseEpochInput) Validate() error {
	switch {
	case in.StudioAddress == (chain.Address{}):
		return invalidInput("studio_address is required")
	case in.SignerAddress == (chain.Address{}):
		return invalidInput("signer_address is required")
	}
	return nil
}

// Signer returns the submitting address.
func (in CloseEpochInput) Signer() chain.Address { return in.SignerAddress }

// DecodeInput decodes and validates raw into T.
func DecodeInput[T Input](raw json.RawMessage) (T, error) {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, invalidInput("malformed input: %v", err)
	}
	if err := in.Validate(); err != nil {
		return in, err
	}
	return in, nil
}

// CorrelationKey extracts the optional correlation_key from raw input.
func CorrelationKey(raw json.RawMessage) string {
	var v struct {
		CorrelationKey string `json:"correlation_key"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.CorrelationKey
}

// Studio extracts the studio_address every input carries, lower-case hex.
// It returns "" for input it cannot read.
func Studio(raw json.RawMessage) string {
	var v struct {
		StudioAddress *chain.Address `json:"studio_address"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || v.StudioAddress == nil {
		return ""
	}
	return strings.ToLower(v.StudioAddress.Hex())
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("workflow: marshal %T: %v", v, err))
	}
	return data
}
