// Package engine wires the gateway subsystems together: the workflow
// engine, the signer transaction queue, extensions, step middleware,
// admission control and the worker pool.
//
// It sits above every subsystem package so none of them has to import
// another just to be assembled.
//
// # Building an Engine
//
//	eng, err := engine.Build(pgStore, workflow.Adapters{
//	    Ledger:  ledger,
//	    Encoder: encoder,
//	    Work:    probe,
//	    Score:   probe,
//	    Epoch:   probe,
//	    Archive: irys.New(url),
//	},
//	    engine.WithConfig(cfg),
//	    engine.WithLocker(txqueue.NewRedisLocker(rdb)),
//	    engine.WithQueueConfig(queue.Config{Type: "CloseEpoch", MaxConcurrency: 1}),
//	)
//
//	_ = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	rec, _ := eng.Workflows().CreateWorkflow(ctx, workflow.TypeCloseEpoch, input)
//	_ = eng.Pool().Submit(rec.ID)
//
// # Options
//
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds step middleware after the default stack
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithQueueConfig] and [WithStudioConfig] configure admission control
//   - [WithLocker] and [WithLimits] configure signer serialization
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
