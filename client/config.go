package client

import (
	"log/slog"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/wallet"
)

// Config holds configuration for the client-side payment machinery.
type Config struct {
	// ServerID identifies the target server in audit records, typically its
	// URL.
	ServerID string

	// Wallet signs payment authorizations.
	Wallet wallet.Wallet

	// Guardrails is the local spending policy. Nil disables both checks.
	Guardrails *Guardrails

	// Store backs the audit ledger. Defaults to an in-memory store.
	Store Store

	// Pricer converts atomic amounts back to priced units for guardrail
	// evaluation. Defaults to the built-in chain table.
	Pricer x402.Pricer

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// OnPaymentAttempt fires before an authorization is signed.
	OnPaymentAttempt func(PaymentEvent)

	// OnPaymentSuccess fires when a settlement notification reports success.
	OnPaymentSuccess func(PaymentEvent)

	// OnPaymentFailure fires when a challenge is refused or a settlement
	// notification reports failure.
	OnPaymentFailure func(PaymentEvent)
}

// PaymentEvent describes one payment lifecycle event.
type PaymentEvent struct {
	// Type is the event type.
	Type PaymentEventType

	// RequestID correlates the event with the originating RPC.
	RequestID string

	// Amount is the payment amount in priced units.
	Amount float64

	// Network is the blockchain network.
	Network string

	// Recipient is the payment recipient address.
	Recipient string

	// Transaction is the settlement transaction hash (success events).
	Transaction string

	// Error carries the failure (failure events).
	Error error
}

// PaymentEventType is the kind of payment lifecycle event.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithServerID sets the audit-record server identifier.
func WithServerID(serverID string) Option {
	return func(c *Config) { c.ServerID = serverID }
}

// WithWallet sets the signing wallet.
func WithWallet(w wallet.Wallet) Option {
	return func(c *Config) { c.Wallet = w }
}

// WithGuardrails sets the local spending policy.
func WithGuardrails(g *Guardrails) Option {
	return func(c *Config) { c.Guardrails = g }
}

// WithMaxPaymentPerCall caps single payments in priced units.
func WithMaxPaymentPerCall(limit float64) Option {
	return func(c *Config) {
		if c.Guardrails == nil {
			c.Guardrails = &Guardrails{}
		}
		c.Guardrails.MaxPaymentPerCall = limit
	}
}

// WithWhitelistedServers restricts payments to the listed recipients.
func WithWhitelistedServers(addresses ...string) Option {
	return func(c *Config) {
		if c.Guardrails == nil {
			c.Guardrails = &Guardrails{}
		}
		c.Guardrails.WhitelistedServers = append(c.Guardrails.WhitelistedServers, addresses...)
	}
}

// WithStore sets the audit ledger backing store.
func WithStore(s Store) Option {
	return func(c *Config) { c.Store = s }
}

// WithPricer sets the amount converter.
func WithPricer(p x402.Pricer) Option {
	return func(c *Config) { c.Pricer = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithPaymentCallback sets one callback for all payment events.
func WithPaymentCallback(callback func(PaymentEvent)) Option {
	return func(c *Config) {
		c.OnPaymentAttempt = callback
		c.OnPaymentSuccess = callback
		c.OnPaymentFailure = callback
	}
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig() *Config {
	return &Config{
		Store:  NewMemoryStore(),
		Pricer: x402.NewChainPricer(),
	}
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

func (c *Config) emit(event PaymentEvent) {
	switch event.Type {
	case PaymentEventAttempt:
		if c.OnPaymentAttempt != nil {
			c.OnPaymentAttempt(event)
		}
	case PaymentEventSuccess:
		if c.OnPaymentSuccess != nil {
			c.OnPaymentSuccess(event)
		}
	case PaymentEventFailure:
		if c.OnPaymentFailure != nil {
			c.OnPaymentFailure(event)
		}
	}
}
