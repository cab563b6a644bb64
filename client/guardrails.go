package client

import (
	"fmt"
	"strings"

	x402 "github.com/mark3labs/x402-mcp"
)

// Guardrails enforces local spending policy before any signing: a per-call
// monetary cap, then a recipient allowlist. Both checks are fatal.
type Guardrails struct {
	// MaxPaymentPerCall caps a single payment in priced units. Zero means
	// unlimited.
	MaxPaymentPerCall float64

	// WhitelistedServers, when non-empty, restricts payments to the listed
	// recipient addresses. Comparison is case-insensitive.
	WhitelistedServers []string
}

// Check evaluates the guardrails against one payment demand. It must run
// before the wallet signs anything.
func (g *Guardrails) Check(amount float64, payTo string) error {
	if g == nil {
		return nil
	}

	if g.MaxPaymentPerCall > 0 && amount > g.MaxPaymentPerCall {
		return x402.NewPaymentError(x402.CodeGuardrailViolation,
			fmt.Sprintf("payment of %v exceeds per-call limit %v", amount, g.MaxPaymentPerCall),
			x402.ErrGuardrailViolation).
			WithDetails("amount", amount).
			WithDetails("maxPaymentPerCall", g.MaxPaymentPerCall)
	}

	if len(g.WhitelistedServers) > 0 && !g.whitelisted(payTo) {
		return x402.NewPaymentError(x402.CodeWhitelistViolation,
			fmt.Sprintf("recipient %s is not whitelisted", payTo),
			x402.ErrWhitelistViolation).
			WithDetails("payTo", payTo).
			WithDetails("whitelistedServers", g.WhitelistedServers)
	}

	return nil
}

func (g *Guardrails) whitelisted(payTo string) bool {
	for _, allowed := range g.WhitelistedServers {
		if strings.EqualFold(allowed, payTo) {
			return true
		}
	}
	return false
}
