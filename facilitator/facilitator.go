// Package facilitator defines the contract the payment orchestrator consumes
// for verifying signed authorizations and executing on-chain settlement.
package facilitator

import (
	"context"

	x402 "github.com/mark3labs/x402-mcp"
)

// Interface is the standard facilitator contract.
type Interface interface {
	// Verify verifies a payment authorization without executing the transfer.
	Verify(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement) (*SettleResponse, error)
}

// VerifyResponse contains the payment verification result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SettleResponse contains the payment settlement result.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// SupportedKind describes a payment type supported by a facilitator.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by a facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
