package fixture

// Package fixture owns the lifecycle of the shared backing cluster.
//
// Overview
// A Handle guards a single backing service instance per process. The first
// Start launches it on a background goroutine which outlives the caller, and
// every caller blocks until the service reports readiness. After that the
// handle only ever hands out the effective configuration captured at the
// moment of readiness.
//
// State machine:
//
//	NotStarted --Start ok--> Ready --Stop--> Stopped (terminal)
//	NotStarted --Start err--> Faulted (terminal, every retry fails the same)
//	NotStarted --Stop--> NotStarted (no-op)
//	Stopped    --Stop--> Stopped    (no-op)
//	Stopped    --Start--> ErrAlreadyStopped
//
// Starting is never observable from outside: callers either block until
// Ready or get the already-Ready result.
//
// Invariants:
//   - At most one underlying launch, ever, no matter how many concurrent
//     Start callers there are. All of them share one result.
//   - The effective configuration is fully populated (dynamic addresses
//     included) before any caller unblocks.
//   - Stop never errors. Teardown in a build pipeline must not mask an
//     earlier real failure.
//   - There is no caller-exposed cancellation of Start: a launcher that
//     hangs forever blocks Start forever. Accepted risk, the surrounding
//     build run gets killed as a whole.
