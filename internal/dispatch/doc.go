// Package dispatch runs the per-schedule execution lifecycle:
//
//	PENDING → CLAIMED → {SENT, SEND_FAILED} → TERMINAL
//
// The store is the concurrency primitive. One-time schedules are claimed by
// deleting the record before sending (a successful delete is the lock);
// recurring schedules are claimed by rewriting last_run before sending. A
// send failure terminates a recurring schedule permanently — failures are
// treated as systemic (bad agent id, revoked credential), never transient,
// and nothing here retries.
package dispatch
