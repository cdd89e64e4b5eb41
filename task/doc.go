// Package task runs pipelines asynchronously behind a submit and poll
// protocol.
//
// A caller submits an engine input and receives a task id immediately. The
// run executes on a bounded worker pool; callers poll the task status, which
// reports the lifecycle state, per-node progress and, once complete, the run
// result:
//
//	mgr := task.NewManager(task.WithEngineOptions(engine.WithModel("gpt", model)))
//	id, _ := mgr.Submit(ctx, engine.Input{Graph: g, Message: "hi"})
//	st, _ := mgr.Poll(ctx, id)
//
// Polling is idempotent. Success is true for successful and aborted runs,
// false for failed runs and nil until the task completes.
package task
