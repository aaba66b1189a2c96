package gateway

import "time"

// Config holds the engine's retry, timeout and scheduling settings.
type Config struct {
	// MaxAttempts is how many times a step may fail operationally before
	// the workflow is parked in STALLED.
	MaxAttempts int

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration

	// Multiplier scales the delay on every subsequent retry.
	Multiplier float64

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay in [0, delay).
	Jitter bool

	// ActionTimeout bounds steps that initiate an external action.
	ActionTimeout time.Duration

	// ConfirmTimeout bounds steps that wait for a confirmation.
	ConfirmTimeout time.Duration

	// PollInterval is the delay between status polls while a step waits
	// on an archive upload.
	PollInterval time.Duration

	// Concurrency is the number of workflows resumed in parallel by a sweep
	// and the number of pool workers.
	Concurrency int

	// SweepInterval is how often active workflows are reconciled.
	SweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialDelay:    1 * time.Second,
		Multiplier:      2,
		MaxDelay:        30 * time.Second,
		ActionTimeout:   30 * time.Second,
		ConfirmTimeout:  5 * time.Minute,
		PollInterval:    2 * time.Second,
		Concurrency:     8,
		SweepInterval:   30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
