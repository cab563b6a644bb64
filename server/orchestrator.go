package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/facilitator"
)

// Orchestrator mediates a single protected invocation: it assembles the
// payment requirement, issues the in-band payment_required sub-request back
// to the caller, validates and verifies the returned proof, and after the
// handler succeeds settles the payment and emits the payment_result
// notification. It is stateless across invocations; all per-invocation
// state lives in the Invocation.
type Orchestrator struct {
	config *Config
}

// NewOrchestrator creates an orchestrator over the given configuration.
func NewOrchestrator(config *Config) *Orchestrator {
	return &Orchestrator{config: config}
}

// Verify runs the challenge-and-verify phase for one invocation. On success
// the proof and requirements are attached to the invocation for Settle.
func (o *Orchestrator) Verify(ctx context.Context, name string, opts *PaymentOptions, inv *Invocation) error {
	logger := o.config.logger().With("requestID", inv.RequestID, "handler", name)

	requirement, err := o.assembleRequirement(name, opts, inv)
	if err != nil {
		return err
	}

	raw, err := inv.SendRequest(ctx, x402.MethodPaymentRequired, requirement)
	if err != nil {
		return o.challengeError(err, requirement, logger)
	}

	payment, err := parsePaymentResponse(raw)
	if err != nil {
		return err
	}

	if err := validatePayment(payment, requirement); err != nil {
		return err
	}

	verifyResp, err := o.config.Facilitator.Verify(ctx, payment, *requirement)
	if err != nil {
		logger.InfoContext(ctx, "payment verification failed", "error", err)
		return x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("payment verification failed: %v", err), x402.ErrPaymentInvalid)
	}
	if !verifyResp.IsValid {
		logger.InfoContext(ctx, "payment rejected", "reason", verifyResp.InvalidReason)
		code := x402.CodePaymentInvalid
		if strings.Contains(strings.ToLower(verifyResp.InvalidReason), "replay") {
			code = x402.CodeReplayDetected
		}
		return x402.NewPaymentError(code,
			fmt.Sprintf("payment invalid: %s", verifyResp.InvalidReason), x402.ErrPaymentInvalid).
			WithDetails("reason", verifyResp.InvalidReason)
	}

	inv.attachPayment(payment, requirement, verifyResp.Payer)
	return nil
}

// Settle executes the on-chain transfer for a verified invocation and emits
// the payment_result notification carrying the originating request id. The
// wrapper calls it only after the handler returned normally.
func (o *Orchestrator) Settle(ctx context.Context, inv *Invocation) (*facilitator.SettleResponse, error) {
	if !inv.hasPayment() {
		return nil, x402.NewPaymentError(x402.CodeInternalError,
			"no verified payment attached to invocation", nil)
	}
	logger := o.config.logger().With("requestID", inv.RequestID)

	// Cancellation before settlement abandons the flow entirely.
	if err := ctx.Err(); err != nil {
		logger.InfoContext(ctx, "invocation cancelled before settlement", "error", err)
		return nil, x402.NewPaymentError(x402.CodePaymentExecutionFailed,
			"settlement abandoned: invocation cancelled", err)
	}

	settleResp, err := o.config.Facilitator.Settle(ctx, inv.paymentProof, *inv.paymentRequirements)
	if err != nil || settleResp == nil || !settleResp.Success {
		reason := "unknown reason"
		if err != nil {
			reason = err.Error()
		} else if settleResp != nil && settleResp.ErrorReason != "" {
			reason = settleResp.ErrorReason
		}
		logger.ErrorContext(ctx, "settlement failed", "reason", reason)

		o.notifyResult(ctx, inv, &x402.SettlementResult{
			Success:     false,
			Network:     inv.paymentRequirements.Network,
			ErrorReason: reason,
			RequestID:   inv.RequestID,
		}, logger)

		return nil, x402.NewPaymentError(x402.CodePaymentExecutionFailed,
			fmt.Sprintf("settlement failed: %s", reason), x402.ErrSettlementFailed)
	}

	payer := settleResp.Payer
	if payer == "" {
		payer = inv.paymentPayer
	}
	logger.InfoContext(ctx, "payment settled", "transaction", settleResp.Transaction)

	o.notifyResult(ctx, inv, &x402.SettlementResult{
		Success:     true,
		Transaction: settleResp.Transaction,
		Network:     inv.paymentRequirements.Network,
		Payer:       payer,
		RequestID:   inv.RequestID,
	}, logger)

	return settleResp, nil
}

// assembleRequirement prices the handler and builds the challenge params.
func (o *Orchestrator) assembleRequirement(name string, opts *PaymentOptions, inv *Invocation) (*x402.PaymentRequirement, error) {
	quote, err := o.config.pricer().Quote(o.config.Network, opts.Amount)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("failed to price handler %q: %v", name, err), x402.ErrConfigInvalid)
	}

	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("Payment for %s", name)
	}

	return &x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           o.config.Network,
		MaxAmountRequired: quote.MaxAmountRequired,
		Resource:          x402.JoinResource(o.config.BaseURL, name),
		Description:       description,
		MimeType:          "application/json",
		PayTo:             o.config.PayTo,
		MaxTimeoutSeconds: o.config.maxTimeoutSeconds(),
		Asset:             quote.Asset,
		Extra:             quote.Extra,
		X402Version:       x402.X402Version,
		RequestID:         inv.RequestID,
	}, nil
}

// challengeError maps sub-request transport errors: a peer that lacks the
// extension yields PAYMENT_REQUIRED with the requirement summary; anything
// else is an invalid payment.
func (o *Orchestrator) challengeError(err error, requirement *x402.PaymentRequirement, logger *slog.Logger) error {
	var rpcErr *x402.RPCError
	if errors.As(err, &rpcErr) && rpcErr.IsMethodNotFound() {
		logger.Info("client does not support the payment extension")
		return x402.NewPaymentError(x402.CodePaymentRequired,
			"payment required", x402.ErrPaymentRequired).
			WithDetails("amount", requirement.MaxAmountRequired).
			WithDetails("asset", requirement.Asset).
			WithDetails("paymentAddress", requirement.PayTo).
			WithDetails("network", requirement.Network)
	}
	logger.Info("payment challenge failed", "error", err)
	return x402.NewPaymentError(x402.CodePaymentInvalid,
		fmt.Sprintf("payment challenge failed: %v", err), x402.ErrPaymentInvalid)
}

// parsePaymentResponse extracts the payment from the challenge result.
func parsePaymentResponse(raw json.RawMessage) (*x402.PaymentPayload, error) {
	var resp x402.PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("malformed payment response: %v", err), x402.ErrPaymentInvalid)
	}
	return &resp.Payment, nil
}

// validatePayment applies the structural checks of the state machine's
// VALIDATE state, in order.
func validatePayment(payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) error {
	if payment.Payload.Signature == "" {
		return x402.NewPaymentError(x402.CodePaymentInvalid,
			"payment signature is missing", x402.ErrPaymentInvalid)
	}
	if payment.X402Version != x402.X402Version {
		return x402.NewPaymentError(x402.CodeInvalidRequest,
			fmt.Sprintf("unsupported x402 version %d", payment.X402Version), x402.ErrInvalidRequest)
	}
	if payment.Scheme != x402.SchemeExact {
		return x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("unsupported payment scheme %q", payment.Scheme), x402.ErrPaymentInvalid)
	}
	if payment.Network != requirement.Network {
		return x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("payment network %q does not match requirement network %q",
				payment.Network, requirement.Network), x402.ErrPaymentInvalid)
	}
	return nil
}

// notifyResult emits the payment_result notification. The settlement
// outcome already happened on-chain, so the notification goes out even when
// the originating request was cancelled mid-settlement; delivery failures
// are logged.
func (o *Orchestrator) notifyResult(ctx context.Context, inv *Invocation, result *x402.SettlementResult, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := inv.SendNotification(ctx, x402.MethodPaymentResult, result); err != nil {
		logger.ErrorContext(ctx, "failed to send payment result notification", "error", err)
	}
}
