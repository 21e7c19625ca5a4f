// Package bridge runs blocking callables on a bounded worker pool and settles
// their one-shot futures on a single event-loop goroutine.
//
// A Loop owns every Future it hands out. Code running on the loop receives a
// *Turn, and only a Turn can call Schedule or attach continuations, so
// futures are never touched concurrently. Schedule returns immediately. The
// callable runs on a Pool worker, its outcome is handed back through a
// single-slot result, and the completion callback settles the future on the
// loop exactly once.
//
// Goroutines outside the loop use Go to schedule work and Future.Await or
// Future.Done to observe the outcome.
package bridge
