package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/wallet"
)

// Responder answers server-originated payment_required sub-requests: it
// correlates the challenge to a known outgoing RPC, enforces the local
// guardrails, and signs a payment authorization with the wallet's account.
type Responder struct {
	config *Config
	ledger *Ledger
	now    func() time.Time
	nonce  func() (string, error)
}

// NewResponder creates a responder over the given configuration and ledger.
func NewResponder(config *Config, ledger *Ledger) *Responder {
	return &Responder{
		config: config,
		ledger: ledger,
		now:    time.Now,
		nonce:  randomNonce,
	}
}

// HandlePaymentRequired runs the challenge-response algorithm and returns
// the payload to embed in result.payment. Every failure is returned as a
// coded payment error for the sub-request's error body.
func (r *Responder) HandlePaymentRequired(ctx context.Context, requirement *x402.PaymentRequirement) (*x402.PaymentResponse, error) {
	if err := validateRequirement(requirement); err != nil {
		return nil, err
	}

	logger := r.config.logger().With("requestID", requirement.RequestID)

	// Only challenges correlated to an RPC this client actually sent are
	// answered; anything else is an unsolicited payment demand.
	_, found, err := r.ledger.GetPending(ctx, requirement.RequestID)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("ledger lookup failed: %v", err), err)
	}
	if !found {
		logger.Info("rejecting payment demand for unknown request")
		return nil, x402.NewPaymentError(x402.CodePaymentInvalid,
			"unknown payment", x402.ErrPaymentInvalid)
	}

	amount, err := r.config.pricer().PricedAmount(requirement.Network, requirement.MaxAmountRequired)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("cannot price payment demand: %v", err), x402.ErrPaymentInvalid)
	}

	if err := r.ledger.SetPaymentDetails(ctx, requirement.RequestID, amount,
		requirement.Network, requirement.Asset, requirement.PayTo); err != nil {
		logger.Warn("failed to record payment details", "error", err)
	}

	if err := r.config.Guardrails.Check(amount, requirement.PayTo); err != nil {
		r.recordFailure(ctx, requirement, amount, err, logger)
		return nil, err
	}

	if r.config.Wallet == nil {
		err := x402.NewPaymentError(x402.CodeInternalError,
			"no wallet configured", x402.ErrConfigInvalid)
		r.recordFailure(ctx, requirement, amount, err, logger)
		return nil, err
	}
	account, err := r.config.Wallet.GetAccount(ctx)
	if err != nil {
		werr := x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("wallet account unavailable: %v", err), err)
		r.recordFailure(ctx, requirement, amount, werr, logger)
		return nil, werr
	}

	r.config.emit(PaymentEvent{
		Type:      PaymentEventAttempt,
		RequestID: requirement.RequestID,
		Amount:    amount,
		Network:   requirement.Network,
		Recipient: requirement.PayTo,
	})

	payload, err := r.sign(account, requirement)
	if err != nil {
		serr := x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("failed to sign authorization: %v", err), err)
		r.recordFailure(ctx, requirement, amount, serr, logger)
		return nil, serr
	}

	logger.Debug("signed payment authorization", "payer", account.Address())
	return &x402.PaymentResponse{Payment: *payload}, nil
}

// sign builds and signs the typed authorization for the requirement.
func (r *Responder) sign(account wallet.Account, requirement *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	nonce, err := r.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	timeout := requirement.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}

	auth := x402.Authorization{
		From:        account.Address(),
		To:          requirement.PayTo,
		Value:       requirement.MaxAmountRequired,
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(r.now().Unix()+int64(timeout), 10),
		Nonce:       nonce,
	}

	signature, err := account.SignAuthorization(typedDataDomain(requirement), auth)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     requirement.Network,
		Payload: x402.ExactPayload{
			Signature:     signature,
			Authorization: auth,
		},
	}, nil
}

// recordFailure marks the ledger record failed and emits the failure event.
func (r *Responder) recordFailure(ctx context.Context, requirement *x402.PaymentRequirement, amount float64, cause error, logger *slog.Logger) {
	if err := r.ledger.UpdatePaymentStatus(ctx, requirement.RequestID, PaymentFailed, PaymentUpdate{
		ErrorReason: cause.Error(),
	}); err != nil {
		logger.Warn("failed to record payment failure", "error", err)
	}
	r.config.emit(PaymentEvent{
		Type:      PaymentEventFailure,
		RequestID: requirement.RequestID,
		Amount:    amount,
		Network:   requirement.Network,
		Recipient: requirement.PayTo,
		Error:     cause,
	})
}

// validateRequirement applies the responder's input validation; any miss is
// an invalid payment demand.
func validateRequirement(requirement *x402.PaymentRequirement) error {
	invalid := func(msg string) error {
		return x402.NewPaymentError(x402.CodePaymentInvalid, msg, x402.ErrPaymentInvalid)
	}
	switch {
	case requirement == nil:
		return invalid("missing payment requirement")
	case requirement.PayTo == "":
		return invalid("payment demand missing payTo")
	case requirement.MaxAmountRequired == "":
		return invalid("payment demand missing maxAmountRequired")
	case requirement.Network == "":
		return invalid("payment demand missing network")
	case requirement.RequestID == "":
		return invalid("payment demand missing requestId")
	case requirement.Scheme != x402.SchemeExact:
		return invalid(fmt.Sprintf("unsupported payment scheme %q", requirement.Scheme))
	case requirement.X402Version != x402.X402Version:
		return invalid(fmt.Sprintf("unsupported x402 version %d", requirement.X402Version))
	}
	return nil
}

// typedDataDomain assembles the signing domain from the requirement's extra
// field, the chain table, and the asset contract.
func typedDataDomain(requirement *x402.PaymentRequirement) wallet.TypedDataDomain {
	domain := wallet.TypedDataDomain{VerifyingContract: requirement.Asset}
	if name, ok := requirement.Extra["name"].(string); ok {
		domain.Name = name
	}
	if version, ok := requirement.Extra["version"].(string); ok {
		domain.Version = version
	}
	if chain, ok := x402.LookupChain(requirement.Network); ok {
		domain.ChainID = chain.ChainID
	}
	return domain
}

// randomNonce generates a cryptographically secure 32-byte random nonce.
func randomNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(nonce[:]), nil
}
