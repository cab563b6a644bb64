// Package evm implements the wallet contract for EVM-compatible chains with
// a locally held private key and EIP-712 typed-data signing.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/wallet"
)

// Wallet holds one ECDSA key and hands out the matching account.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// Option configures a Wallet.
type Option func(*Wallet) error

// NewWallet creates a wallet from the given options. Exactly one key source
// option must be supplied.
func NewWallet(opts ...Option) (*Wallet, error) {
	w := &Wallet{}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	if w.privateKey == nil {
		return nil, fmt.Errorf("%w: no private key configured", x402.ErrConfigInvalid)
	}
	w.address = crypto.PubkeyToAddress(w.privateKey.PublicKey)

	return w, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) Option {
	return func(w *Wallet) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")

		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return fmt.Errorf("%w: invalid private key", x402.ErrConfigInvalid)
		}

		w.privateKey = privateKey
		return nil
	}
}

// GetAccount implements wallet.Wallet.
func (w *Wallet) GetAccount(_ context.Context) (wallet.Account, error) {
	return &account{privateKey: w.privateKey, address: w.address}, nil
}

// Address returns the wallet's Ethereum address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// account implements wallet.Account over a local ECDSA key.
type account struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (a *account) Address() string {
	return a.address.Hex()
}

// SignAuthorization signs an EIP-3009 transferWithAuthorization using EIP-712.
func (a *account) SignAuthorization(domain wallet.TypedDataDomain, auth x402.Authorization) (string, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return "", fmt.Errorf("%w: invalid authorization value %q", x402.ErrInvalidRequest, auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return "", fmt.Errorf("%w: invalid validAfter %q", x402.ErrInvalidRequest, auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return "", fmt.Errorf("%w: invalid validBefore %q", x402.ErrInvalidRequest, auth.ValidBefore)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(domain.ChainID)),
			VerifyingContract: common.HexToAddress(domain.VerifyingContract).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       auth.Nonce,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return "", fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256(rawData)

	signature, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	// Adjust v value for Ethereum (27 or 28)
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}
