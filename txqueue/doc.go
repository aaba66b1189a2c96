// Package txqueue serializes ledger transactions per signer.
//
// A signer's lock is held across nonce read, submission and, for
// SubmitAndWait, confirmation, so two transactions from one signer are
// never in flight together. Different signers proceed in parallel. The
// lock is released by a deferred call on every exit path, panics included.
//
// The default Locker is in-process. Deployments running several gateway
// replicas against the same signers use NewRedisLocker instead.
package txqueue
