package server

import (
	"context"
	"encoding/json"

	x402 "github.com/mark3labs/x402-mcp"
)

// Invocation is the per-request scratchpad scoped to one handler execution.
// It binds the originating request id and the session's send operations. The
// payment proof and requirements attached during the verify phase live in
// unexported fields owned by the orchestrator and wrapper; handlers never
// observe them.
type Invocation struct {
	// RequestID is the id of the RPC being served.
	RequestID string

	session Session

	paymentProof        *x402.PaymentPayload
	paymentRequirements *x402.PaymentRequirement
	paymentPayer        string
}

// NewInvocation creates the context for one inbound RPC.
func NewInvocation(requestID string, session Session) *Invocation {
	return &Invocation{
		RequestID: requestID,
		session:   session,
	}
}

// SendRequest originates a request to the peer on the invocation's session.
func (inv *Invocation) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return inv.session.SendRequest(ctx, method, params)
}

// SendNotification sends a notification to the peer on the invocation's
// session.
func (inv *Invocation) SendNotification(ctx context.Context, method string, params any) error {
	return inv.session.SendNotification(ctx, method, params)
}

// attachPayment stores the verified proof for the settle phase.
func (inv *Invocation) attachPayment(proof *x402.PaymentPayload, requirements *x402.PaymentRequirement, payer string) {
	inv.paymentProof = proof
	inv.paymentRequirements = requirements
	inv.paymentPayer = payer
}

// clearPayment strips the payment scratchpad. The wrapper calls this on
// every exit path before the invocation is released.
func (inv *Invocation) clearPayment() {
	inv.paymentProof = nil
	inv.paymentRequirements = nil
	inv.paymentPayer = ""
}

// hasPayment reports whether a verified proof is attached.
func (inv *Invocation) hasPayment() bool {
	return inv.paymentProof != nil && inv.paymentRequirements != nil
}

type invocationKey struct{}

// withInvocation binds the invocation to a context for handler access.
func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation a handler is running under,
// or nil outside a handler.
func InvocationFromContext(ctx context.Context) *Invocation {
	inv, _ := ctx.Value(invocationKey{}).(*Invocation)
	return inv
}
