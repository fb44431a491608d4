// Package store is the durable schedule store and the system's only
// coordination primitive.
//
// Records are sealed JSON blobs on a single filesystem volume:
//
//	schedules/recurring/<tenant-digest>/<id>.json
//	schedules/one-time/<YYYY-MM-DD>/<HH>/<tenant-digest>/<id>.json
//	results/<tenant-digest>/<id>.json
//
// The tenant digest is a one-way derivation of the tenant credential, so
// credentials never appear in paths. One-time schedules are bucketed by the
// UTC date+hour of execute_at so the sweep only reads the current bucket.
//
// Delete is atomic with respect to Get: once Delete reports the record
// existed, no later Get can observe it. Exactly-once dispatch leans on this.
package store
