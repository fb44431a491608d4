// Package platform talks to the remote agent platform. It is the core's only
// network egress: a liveness probe for tenant credentials and the message
// send used by dispatch.
package platform

import (
	"context"
)

// Client is the boundary the rest of the system depends on. Tests substitute
// their own implementation.
type Client interface {
	// Validate checks that a tenant credential is currently accepted by the
	// platform. Used by the API layer before any store mutation; dispatch
	// never re-validates.
	Validate(ctx context.Context, credential string) error

	// Send queues a message for an agent and returns the platform run id.
	Send(ctx context.Context, agentID, credential, message, role string) (runID string, err error)
}
