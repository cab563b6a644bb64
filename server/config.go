package server

import (
	"log/slog"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/facilitator"
)

// Config holds configuration for the payment-gating server core.
type Config struct {
	// BaseURL is joined with "/tools/<name>" to form the resource field of
	// outgoing requirements. Empty leaves the path alone.
	BaseURL string

	// Network is the chain payments are accepted on (e.g. "base-sepolia").
	Network string

	// PayTo is the recipient address for all priced handlers.
	PayTo string

	// Facilitator verifies proofs and executes settlement.
	Facilitator facilitator.Interface

	// Pricer converts priced amounts to atomic units and supplies the
	// typed-data domain. Defaults to the built-in chain table.
	Pricer x402.Pricer

	// MaxTimeoutSeconds bounds the validity of signed authorizations.
	// Defaults to x402mcp.DefaultMaxTimeoutSeconds.
	MaxTimeoutSeconds int

	// Logger receives structured orchestration logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with default settings for the given
// network and recipient.
func DefaultConfig(network, payTo string) *Config {
	return &Config{
		Network:           network,
		PayTo:             payTo,
		Pricer:            x402.NewChainPricer(),
		MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
	}
}

// validate checks the configuration required to gate at least one protected
// handler.
func (c *Config) validate() error {
	if c.Network == "" {
		return x402.NewPaymentError(x402.CodeInternalError,
			"network is required", x402.ErrConfigInvalid)
	}
	if c.PayTo == "" {
		return x402.NewPaymentError(x402.CodeInternalError,
			"payTo is required", x402.ErrConfigInvalid)
	}
	if c.Facilitator == nil {
		return x402.NewPaymentError(x402.CodeInternalError,
			"facilitator is required", x402.ErrConfigInvalid)
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) pricer() x402.Pricer {
	if c.Pricer != nil {
		return c.Pricer
	}
	return x402.NewChainPricer()
}

func (c *Config) maxTimeoutSeconds() int {
	if c.MaxTimeoutSeconds > 0 {
		return c.MaxTimeoutSeconds
	}
	return x402.DefaultMaxTimeoutSeconds
}
