package evm

import (
	"context"
	"strings"
	"testing"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/wallet"
)

// Throwaway test key; never funded.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func testDomain() wallet.TypedDataDomain {
	return wallet.TypedDataDomain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           84532,
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func testAuthorization() x402.Authorization {
	return x402.Authorization{
		From:        testAddress,
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "1000",
		ValidAfter:  "0",
		ValidBefore: "1700000060",
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
}

func TestNewWalletDerivesAddress(t *testing.T) {
	w, err := NewWallet(WithPrivateKey(testKey))
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	if w.Address().Hex() != testAddress {
		t.Errorf("address = %s, want %s", w.Address().Hex(), testAddress)
	}

	// The 0x prefix is accepted too.
	w2, err := NewWallet(WithPrivateKey("0x" + testKey))
	if err != nil {
		t.Fatalf("NewWallet with prefix failed: %v", err)
	}
	if w2.Address() != w.Address() {
		t.Error("prefix handling changed the derived address")
	}
}

func TestNewWalletRejectsBadInput(t *testing.T) {
	if _, err := NewWallet(); err == nil {
		t.Error("expected missing key to fail")
	}
	if _, err := NewWallet(WithPrivateKey("not-hex")); err == nil {
		t.Error("expected invalid key to fail")
	}
}

func TestSignAuthorization(t *testing.T) {
	w, err := NewWallet(WithPrivateKey(testKey))
	if err != nil {
		t.Fatal(err)
	}
	account, err := w.GetAccount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if account.Address() != testAddress {
		t.Errorf("account address = %s", account.Address())
	}

	signature, err := account.SignAuthorization(testDomain(), testAuthorization())
	if err != nil {
		t.Fatalf("SignAuthorization failed: %v", err)
	}

	// 65-byte signature: 0x + 130 hex chars.
	if !strings.HasPrefix(signature, "0x") || len(signature) != 132 {
		t.Errorf("signature = %q, want 0x + 130 hex chars", signature)
	}

	// Same inputs, same key: deterministic signature.
	again, err := account.SignAuthorization(testDomain(), testAuthorization())
	if err != nil {
		t.Fatal(err)
	}
	if again != signature {
		t.Error("signing is expected to be deterministic for identical inputs")
	}

	// A different recipient must change the digest.
	other := testAuthorization()
	other.To = "0x9999999999999999999999999999999999999999"
	different, err := account.SignAuthorization(testDomain(), other)
	if err != nil {
		t.Fatal(err)
	}
	if different == signature {
		t.Error("different authorizations must not share a signature")
	}
}

func TestSignAuthorizationRejectsBadFields(t *testing.T) {
	w, _ := NewWallet(WithPrivateKey(testKey))
	account, _ := w.GetAccount(context.Background())

	tests := []struct {
		name   string
		mutate func(*x402.Authorization)
	}{
		{"bad value", func(a *x402.Authorization) { a.Value = "lots" }},
		{"bad validAfter", func(a *x402.Authorization) { a.ValidAfter = "soon" }},
		{"bad validBefore", func(a *x402.Authorization) { a.ValidBefore = "later" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := testAuthorization()
			tt.mutate(&auth)
			if _, err := account.SignAuthorization(testDomain(), auth); err == nil {
				t.Error("expected signing to fail")
			}
		})
	}
}

func TestWithMnemonic(t *testing.T) {
	// The BIP-39 reference mnemonic; derivation path m/44'/60'/0'/0/0.
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	w, err := NewWallet(WithMnemonic(mnemonic, 0))
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	if w.Address().Hex() != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Errorf("derived address = %s", w.Address().Hex())
	}

	if _, err := NewWallet(WithMnemonic("not a valid mnemonic", 0)); err == nil {
		t.Error("expected invalid mnemonic to fail")
	}
}
