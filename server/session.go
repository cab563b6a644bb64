// Package server implements the server half of the x402 MCP payment
// extension: handler registration, the per-invocation verify-execute-settle
// orchestrator, and the wrappers that compose it around registered handlers.
package server

import (
	"context"
	"encoding/json"
)

// Session is the server side of one base-protocol connection, as consumed by
// the orchestrator. The base transport must allow the server to originate a
// request while the triggering inbound request is still in flight on the
// same session.
type Session interface {
	// SendRequest originates a server-to-client request and blocks until the
	// peer responds or ctx is done. Peer-reported JSON-RPC errors surface as
	// *x402mcp.RPCError.
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)

	// SendNotification sends a fire-and-forget notification to the peer.
	SendNotification(ctx context.Context, method string, params any) error
}
