// Package store names the backend contract for workflow records and hosts
// one sub-package per backend:
//
//   - memory: process-local maps, for tests and single-node development
//   - postgres: pgx/v5 with row locks and embedded SQL migrations
//   - bun: the same schema through the Bun ORM and bun's migrator
//   - redis: hashes plus state index sets, updated under WATCH
//   - mongo: one document per record, updated by compare-and-set on state
//
// Every backend must pass storetest.Run, which pins down the transition
// rules a backend has to enforce atomically: legal edges only, terminal
// records immutable, progress merged rather than replaced.
//
// gatewayd picks the backend from the store.driver setting and calls
// Migrate before the engine recovers in-flight workflows.
package store
