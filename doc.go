// Package corerun implements the core of a thread-per-core asynchronous
// runtime: a cooperative, single-threaded task executor paired with a
// kernel-assisted I/O reactor.
//
// # Architecture
//
// Three subsystems, leaves-first:
//
//   - The task cell ([taskCell], [Header]): a reference-counted,
//     state-machine-tagged allocation holding one future, its eventual
//     output, and a schedule closure, exposed through a small vtable of
//     polymorphic operations.
//   - The scheduler ([TaskQueue], [QueueManager], [Executor]): a per-goroutine
//     executor owning a set of prioritizable task queues, draining the
//     highest-priority active queue between rounds of reactor I/O.
//   - The reactor ([Reactor]) and its source registry: a submission/
//     completion ring abstraction over io_uring (with an epoll-based
//     fallback), mapping completion events back to wakers parked on
//     registered [Source]s.
//
// # Execution model
//
// Exactly one goroutine drives [Run] at a time for a given [Executor]; the
// executor pointer is published to that goroutine only for the duration of
// Run, and a nested Run on the same goroutine fails with [ErrReentrantRun].
// There is no cross-goroutine task migration and no task-level parallelism:
// wakers that fire from a goroutine other than the task's owning executor
// fail fast with [ErrCrossThreadWake] rather than silently corrupting state.
//
// # Usage
//
//	ex, err := corerun.NewExecutor(corerun.WithPlacement(corerun.Unbound))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := corerun.Run(context.Background(), ex, corerun.FuncFuture[int](func() int {
//	    h := corerun.SpawnLocal(corerun.FuncFuture[int](func() int { return 1 + 5 }))
//	    v, _ := h.Await()
//	    return v + 7
//	}))
package corerun
