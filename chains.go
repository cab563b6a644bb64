package x402mcp

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// ChainConfig contains chain-specific configuration for USDC tokens.
// All USDC addresses and EIP-3009 parameters were verified on 2025-10-28.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base").
	NetworkID string

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-3009 domain parameter "name".
	EIP3009Name string

	// EIP3009Version is the EIP-3009 domain parameter "version".
	EIP3009Version string

	// ChainID is the EVM chain id used in the typed-data domain.
	ChainID int64
}

// Mainnet chain configurations
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ChainID:        8453,
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ChainID:        137,
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		NetworkID:      "avalanche",
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ChainID:        43114,
	}
)

// Testnet chain configurations
var (
	// BaseSepolia is the configuration for Base Sepolia testnet.
	// USDC address and EIP-3009 parameters verified via on-chain contract read.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		ChainID:        84532,
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		ChainID:        80002,
	}

	// AvalancheFuji is the configuration for Avalanche Fuji testnet.
	AvalancheFuji = ChainConfig{
		NetworkID:      "avalanche-fuji",
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ChainID:        43113,
	}
)

// defaultChains indexes the built-in chain configurations by network id.
var defaultChains = map[string]ChainConfig{
	BaseMainnet.NetworkID:      BaseMainnet,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// LookupChain returns the built-in configuration for a network id.
func LookupChain(networkID string) (ChainConfig, bool) {
	cfg, ok := defaultChains[networkID]
	return cfg, ok
}

// PriceQuote is the result of pricing one invocation on a network: the
// atomic-unit amount, the token contract, and the typed-data domain the
// client signs against.
type PriceQuote struct {
	MaxAmountRequired string
	Asset             string
	Extra             map[string]any
}

// Pricer converts priced amounts to and from on-chain atomic units for a
// network. The server quotes outbound requirements with it; the client uses
// the same lookup to evaluate guardrails in priced units.
type Pricer interface {
	// Quote converts a priced-unit amount into a requirement quote.
	Quote(network string, amount float64) (*PriceQuote, error)

	// PricedAmount converts an atomic-unit amount string back to priced
	// units using the network's token decimals.
	PricedAmount(network, atomicAmount string) (float64, error)
}

// ChainPricer is a Pricer backed by a static chain table. The zero value
// uses the built-in USDC configurations.
type ChainPricer struct {
	// Chains overrides the built-in chain table when non-nil.
	Chains map[string]ChainConfig
}

// NewChainPricer creates a ChainPricer over the built-in chain table.
func NewChainPricer() *ChainPricer {
	return &ChainPricer{}
}

func (p *ChainPricer) chain(network string) (ChainConfig, error) {
	chains := p.Chains
	if chains == nil {
		chains = defaultChains
	}
	cfg, ok := chains[network]
	if !ok {
		return ChainConfig{}, NewPaymentError(CodeInternalError,
			fmt.Sprintf("unsupported network %q", network), ErrConfigInvalid)
	}
	return cfg, nil
}

// Quote implements Pricer. Amount conversion uses banker's rounding for
// precision beyond the token's decimals.
func (p *ChainPricer) Quote(network string, amount float64) (*PriceQuote, error) {
	cfg, err := p.chain(network)
	if err != nil {
		return nil, err
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, NewPaymentError(CodeInternalError,
			fmt.Sprintf("invalid payment amount %v", amount), ErrConfigInvalid)
	}

	scale := math.Pow10(int(cfg.Decimals))
	atomic := uint64(math.RoundToEven(amount * scale))
	if atomic == 0 {
		return nil, NewPaymentError(CodeInternalError,
			fmt.Sprintf("amount %v rounds to zero atomic units", amount), ErrConfigInvalid)
	}

	return &PriceQuote{
		MaxAmountRequired: strconv.FormatUint(atomic, 10),
		Asset:             cfg.USDCAddress,
		Extra: map[string]any{
			"name":    cfg.EIP3009Name,
			"version": cfg.EIP3009Version,
		},
	}, nil
}

// PricedAmount implements Pricer.
func (p *ChainPricer) PricedAmount(network, atomicAmount string) (float64, error) {
	cfg, err := p.chain(network)
	if err != nil {
		return 0, err
	}

	atomic, ok := new(big.Int).SetString(atomicAmount, 10)
	if !ok || atomic.Sign() < 0 {
		return 0, NewPaymentError(CodePaymentInvalid,
			fmt.Sprintf("invalid atomic amount %q", atomicAmount), ErrPaymentInvalid)
	}

	f, _ := new(big.Float).SetInt(atomic).Float64()
	return f / math.Pow10(int(cfg.Decimals)), nil
}
