// Package sweep runs the periodic due-check-and-dispatch pass.
//
// A ticker fires the sweep on a fixed cadence. The sweep itself is
// sequential and cheap: it walks all recurring schedules plus the current
// one-time bucket, runs the pure due checks, and hands due schedules to a
// bounded worker pool. It never waits for dispatches, so its duration stays
// well under the trigger interval no matter how many fire. No error from a
// single schedule can abort the pass for the others.
package sweep
