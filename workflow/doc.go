// Package workflow defines workflow records, the three workflow kinds,
// the store contract, and the engine that drives records to completion.
//
// A record is a persisted state machine:
//
//	CREATED -> RUNNING -> {RUNNING, STALLED, FAILED, COMPLETED}
//	STALLED -> RUNNING
//
// COMPLETED and FAILED are terminal. Each kind (WorkSubmission,
// ScoreSubmission, CloseEpoch) is an ordered list of named steps with a
// typed input and a typed progress struct. Progress is append-only, so a
// step that finds its fact already recorded simply advances.
//
// # Irreversible steps
//
// Before a step that submits a transaction, the Reconciler asks the
// ledger whether the action already happened. If it did, the engine
// records the confirmation and moves on without submitting. Otherwise the
// step sends the transaction through the signer queue and persists the
// transaction hash before waiting for the receipt.
//
// # Failures
//
// Step errors are classified by a Classifier. Operational errors are
// retried with backoff; after Config.MaxAttempts the record is STALLED
// and waits for ResumeWorkflow or a ReconcileAllActive sweep. Business
// rule and invariant errors fail the record immediately.
package workflow
