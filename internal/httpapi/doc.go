// Package httpapi serves the tenant-facing REST API.
//
// Create requests carry the tenant credential in the body and are validated
// against the agent platform before anything is stored. Every other endpoint
// authenticates with a bearer token, which is the same credential; the store
// derives the tenant partition from it, so a tenant can only ever see its own
// records. Responses never echo the credential back.
package httpapi
