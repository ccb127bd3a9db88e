// Package exports runs asynchronous export jobs.
//
// A Job moves through Pending, Processing and then Complete or Failed, and
// never leaves a terminal state. The Service accepts requests, reusing an
// organization's unfinished export of the same kind when the Guard finds
// one within its recency window, and hands new jobs to the JobQueue. Queue
// workers call Runner.Run, which looks up the Producer registered for the
// job's kind, stores the file it produces in an assets.Store, and signals
// completion through a Notifier and a LatencyTracker.
//
// Jobs are persisted by a JobStore: MemoryJobStore for tests and single
// process use, SQLiteJobStore and PostgresJobStore otherwise.
//
// Example wiring:
//
//	registry := exports.NewRegistry()
//	registry.Register(sources.NewTableProducer(info, "Contacts", open))
//
//	runner := exports.NewRunner(store, registry, assetStore,
//		exports.WithLogger(logger),
//		exports.WithNotifier(notifier))
//	queue := exports.NewJobQueue(4, 0, runner, store, logger)
//	if err := queue.Start(ctx); err != nil {
//		return err
//	}
//
//	svc := exports.NewService(store, registry, exports.NewGuard(store, 0), queue, assetStore, logger)
//	result, err := svc.Request(ctx, exports.Request{OrgID: org, Kind: "contacts"})
package exports
