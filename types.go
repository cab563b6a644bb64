// Package x402mcp provides the wire-level types and utilities for the x402
// payment extension to MCP sessions: the in-band payment_required challenge,
// the signed payment payload, and the asynchronous settlement notification.
package x402mcp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// X402Version is the protocol version carried by every extension message.
const X402Version = 1

// SchemeExact is the only payment scheme this core speaks.
const SchemeExact = "exact"

// JSON-RPC method names of the extension.
const (
	// MethodPaymentRequired is the server-originated sub-request issued on
	// the same session as the invocation it gates.
	MethodPaymentRequired = "x402/payment_required"

	// MethodPaymentResult is the server-originated settlement notification.
	MethodPaymentResult = "x402/payment_result"
)

// DefaultMaxTimeoutSeconds bounds the validity window of a signed
// authorization. It is advisory for the RPC itself.
const DefaultMaxTimeoutSeconds = 60

// PaymentRequirement is the server's demand for payment for one invocation.
// It extends the base x402 requirement with the protocol version and the
// correlation id of the RPC that triggered the challenge.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
	X402Version       int            `json:"x402Version"`
	RequestID         string         `json:"requestId"`
}

// PaymentPayload is the signed proof returned by the client in response to a
// payment_required challenge, inside result.payment.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload carries the EIP-3009 style authorization and its signature
// for the "exact" scheme.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization contains the transferWithAuthorization fields.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentResponse is the body of the client's answer to a payment_required
// sub-request.
type PaymentResponse struct {
	Payment PaymentPayload `json:"payment"`
}

// SettlementResult is the params of the x402/payment_result notification.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
	RequestID   string `json:"requestId"`
}

// RPCError is a JSON-RPC error surfaced by a Session implementation. It lets
// the orchestrator distinguish a peer that lacks the extension (-32601) from
// a peer that rejected the challenge.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the error signals that the peer does not
// implement the requested method.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound ||
		strings.Contains(strings.ToLower(e.Message), "method not found")
}

var evmAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

var evmSignaturePattern = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)

// Validate checks the structural invariants of a PaymentRequirement.
func (pr *PaymentRequirement) Validate() error {
	if pr.Scheme != SchemeExact {
		return fmt.Errorf("scheme must be %q, got %q", SchemeExact, pr.Scheme)
	}
	if pr.Network == "" {
		return fmt.Errorf("network is required")
	}
	if err := validateAtomicAmount(pr.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid maxAmountRequired: %w", err)
	}
	if pr.PayTo == "" {
		return fmt.Errorf("payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("maxTimeoutSeconds must be positive")
	}
	if pr.X402Version != X402Version {
		return fmt.Errorf("unsupported x402 version %d", pr.X402Version)
	}
	if pr.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	return nil
}

// Validate checks the structural invariants of a PaymentPayload against the
// requirement it answers.
func (pp *PaymentPayload) Validate(requirement *PaymentRequirement) error {
	if pp.Payload.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	if !evmSignaturePattern.MatchString(pp.Payload.Signature) {
		return fmt.Errorf("invalid signature format")
	}
	if pp.X402Version != X402Version {
		return fmt.Errorf("unsupported x402 version %d", pp.X402Version)
	}
	if pp.Scheme != SchemeExact {
		return fmt.Errorf("unsupported scheme %q", pp.Scheme)
	}
	if requirement != nil && pp.Network != requirement.Network {
		return fmt.Errorf("network mismatch: payment %q, requirement %q", pp.Network, requirement.Network)
	}
	return nil
}

// validateAtomicAmount validates a positive integer amount string.
func validateAtomicAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	val, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be a valid positive integer: %w", err)
	}
	if val == 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	return nil
}

// ValidateEVMAddress validates an EVM address format.
func ValidateEVMAddress(address string) error {
	if !evmAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid EVM address format (must be 0x + 40 hex characters)")
	}
	return nil
}

// JoinResource builds the resource URL for a priced handler. With an empty
// base the path alone is returned.
func JoinResource(baseURL, name string) string {
	path := "/tools/" + name
	if baseURL == "" {
		return path
	}
	return strings.TrimRight(baseURL, "/") + path
}
