// Package lifecycle owns the running/draining/stopped state machine of the
// service process.
//
// A single Manager instance exists per process. It is the only writer of the
// lifecycle state: every transition, whether triggered by an OS signal, an
// internal fatal error, or the shutdown API, goes through the Manager's
// serialized transition function. Readers (the health reporter, log
// decorators) observe the state through the non-blocking State accessor.
//
// The state machine is monotonic:
//
//	Starting → Running → Draining → Stopped
//
// with Failed reachable from any non-terminal state. Stopped and Failed are
// terminal.
//
// The shutdown contract is: graceful drain first, forced termination as
// fallback, always bounded by the configured grace period. Once draining
// begins, no new inbound call is accepted; in-flight calls run to completion
// unless the grace period elapses first, in which case the endpoint is force
// stopped and the final report carries a forced flag.
//
// Signal escalation is explicit: a repeat of the signal that started the
// drain is a no-op, but a second, distinct termination signal (for example
// SIGINT after SIGTERM) skips the remainder of the drain and force stops the
// endpoint immediately via Kill.
package lifecycle
