// Package scenario is the execution core of the application. It takes a flat
// registry of named actions plus their declared dependencies, validates the
// resulting graph (unknown references, cycles), and drives every task to a
// terminal state under a caller-supplied concurrency cap.
//
// One task's failure never aborts the run: independent branches keep making
// progress, and only the transitive dependents of a failed task are retired
// as unreachable. The scheduler holds no memory across runs; callers that
// want to resume after a partial failure rebuild a fresh Scenario and rely
// on idempotency checks inside the actions themselves.
package scenario
