// Package wallet defines the signing contract the client-side payment
// responder consumes. An implementation owns (or proxies) an account key
// capable of signing typed structured data.
package wallet

import (
	"context"

	x402 "github.com/mark3labs/x402-mcp"
)

// TypedDataDomain is the EIP-712 domain an authorization is signed under.
// Name and Version come from the requirement's extra field; the verifying
// contract is the token asset.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// Account is a single signing identity.
type Account interface {
	// Address returns the account's on-chain address.
	Address() string

	// SignAuthorization signs a transfer authorization as typed structured
	// data under the given domain and returns the hex signature.
	SignAuthorization(domain TypedDataDomain, auth x402.Authorization) (string, error)
}

// Wallet provides the account used to authorize payments.
type Wallet interface {
	// GetAccount returns the signing account. Remote wallet providers may
	// use the context for their own RPC.
	GetAccount(ctx context.Context) (Account, error)
}
