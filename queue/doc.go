// Package queue gates how many workflows the worker pool runs at once.
//
// A [Manager] holds optional limits per workflow type and per
// (type, studio) pair: a concurrency cap and a token-bucket start rate
// (golang.org/x/time/rate). The pool asks before running a workflow and
// puts the id back on its queue when the answer is no:
//
//	m := queue.NewManager(
//	    queue.Config{Type: "ScoreSubmission", MaxConcurrency: 4},
//	    queue.Config{Type: "CloseEpoch", RateLimit: 1, RateBurst: 2},
//	)
//	if m.Acquire(string(rec.Type), workflow.Studio(rec.Input)) {
//	    defer m.Release(string(rec.Type), workflow.Studio(rec.Input))
//	    // run the workflow
//	}
//
// Types without a Config have no limits beyond the pool-wide concurrency.
package queue
