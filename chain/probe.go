package chain

import "context"

// WorkProbe answers whether the irreversible actions of a work submission
// already happened on the ledger.
type WorkProbe interface {
	WorkSubmitted(ctx context.Context, studio Address, dataHash Hash) (bool, error)
	WorkRegistered(ctx context.Context, studio Address, epoch uint64, dataHash Hash) (bool, error)
}

// ScoreProbe answers the same for score submissions.
type ScoreProbe interface {
	CommitRecorded(ctx context.Context, studio Address, dataHash Hash, validator Address) (bool, error)
	RevealRecorded(ctx context.Context, studio Address, dataHash Hash, validator Address) (bool, error)
	ScoreRecorded(ctx context.Context, studio Address, dataHash Hash, validator, worker Address) (bool, error)
	ValidatorRegistered(ctx context.Context, studio Address, epoch uint64, dataHash Hash, validator Address) (bool, error)

	// RevealOpen reports whether the commit phase for dataHash has ended
	// and reveals are accepted.
	RevealOpen(ctx context.Context, studio Address, dataHash Hash) (bool, error)
}

// EpochStatus is a snapshot of an epoch's lifecycle.
type EpochStatus struct {
	Exists     bool
	Closed     bool
	WindowOpen bool
}

// EpochProbe reads epoch lifecycle state.
type EpochProbe interface {
	EpochStatus(ctx context.Context, studio Address, epoch uint64) (EpochStatus, error)
}
