// Package gateway drives multi-step, partially irreversible operations
// against an on-chain ledger and an archive store, surviving crashes and
// duplicate triggers without ever repeating an irreversible action.
//
// Each operation is a persisted workflow record. The engine in package
// workflow advances a record one step at a time, asking the ledger whether
// an action already happened before performing it, writing every
// transaction hash before waiting on it, and serializing submissions per
// signer through package txqueue.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := workflow.NewEngine(st, workflow.Adapters{
//	    Ledger:  ledger,
//	    Encoder: encoder,
//	    Work:    probe,
//	    Score:   probe,
//	    Epoch:   probe,
//	    Archive: arch,
//	}, workflow.WithConfig(gateway.DefaultConfig()))
//
//	rec, _ := eng.CreateWorkflow(ctx, workflow.TypeCloseEpoch, input)
//	rec, err = eng.StartWorkflow(ctx, rec.ID)
//
// # Failure handling
//
// Errors are classified as operational, business-rule or invariant (see
// Kind). Operational errors are retried with backoff and leave the record
// STALLED once attempts run out; the other two fail it permanently.
//
// All workflow IDs use TypeID with the "wf" prefix.
package gateway
