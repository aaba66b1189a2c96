package chain

// WorkSubmission carries the arguments of a work submission and its
// bookkeeping registration.
type WorkSubmission struct {
	Studio       Address
	Epoch        uint64
	Agent        Address
	DataHash     Hash
	ThreadRoot   Hash
	EvidenceRoot Hash
	EvidenceURI  string
}

// ScoreCommit is the first phase of a commit-reveal score.
type ScoreCommit struct {
	Studio     Address
	DataHash   Hash
	Commitment Hash
}

// ScoreReveal opens a previously committed score vector.
type ScoreReveal struct {
	Studio   Address
	DataHash Hash
	Scores   []uint16
	Salt     Hash
}

// DirectScore submits a score vector for one worker without a commitment.
type DirectScore struct {
	Studio   Address
	DataHash Hash
	Worker   Address
	Scores   []uint16
}

// ValidatorRegistration records a validator's participation in an epoch.
type ValidatorRegistration struct {
	Studio    Address
	Epoch     uint64
	DataHash  Hash
	Validator Address
}

// EpochClose closes an epoch and triggers reward distribution.
type EpochClose struct {
	Studio Address
	Epoch  uint64
}

// Encoder builds calldata for each ledger action. Commit, reveal and direct
// scores have distinct methods so the two scoring modes never share an
// encoding path.
type Encoder interface {
	SubmitWork(WorkSubmission) (TxRequest, error)
	RegisterWork(WorkSubmission) (TxRequest, error)
	CommitScore(ScoreCommit) (TxRequest, error)
	RevealScore(ScoreReveal) (TxRequest, error)
	SubmitScore(DirectScore) (TxRequest, error)
	RegisterValidator(ValidatorRegistration) (TxRequest, error)
	CloseEpoch(EpochClose) (TxRequest, error)
}
