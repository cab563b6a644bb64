package client

import (
	"context"

	x402 "github.com/mark3labs/x402-mcp"
)

// Reconciler folds payment_result notifications back into the audit ledger.
type Reconciler struct {
	config *Config
	ledger *Ledger
}

// NewReconciler creates a reconciler over the given configuration and
// ledger.
func NewReconciler(config *Config, ledger *Ledger) *Reconciler {
	return &Reconciler{config: config, ledger: ledger}
}

// HandlePaymentResult records a settlement outcome. Notifications for
// unknown records are logged and ignored; notifications for requests
// already out of the pending namespace are tolerated (cancellation can
// deliver them late).
func (r *Reconciler) HandlePaymentResult(ctx context.Context, result *x402.SettlementResult) {
	logger := r.config.logger().With("requestID", result.RequestID)

	if result.RequestID == "" {
		logger.Warn("ignoring payment result without request id")
		return
	}

	status := PaymentCompleted
	if !result.Success {
		status = PaymentFailed
	}

	err := r.ledger.UpdatePaymentStatus(ctx, result.RequestID, status, PaymentUpdate{
		TxHash:      result.Transaction,
		Payer:       result.Payer,
		ErrorReason: result.ErrorReason,
	})
	if err != nil {
		logger.Info("ignoring payment result for unknown request", "error", err)
		return
	}

	if result.Success {
		logger.Debug("payment settled", "transaction", result.Transaction)
		r.config.emit(PaymentEvent{
			Type:        PaymentEventSuccess,
			RequestID:   result.RequestID,
			Network:     result.Network,
			Transaction: result.Transaction,
		})
		return
	}

	logger.Info("payment settlement failed", "reason", result.ErrorReason)
	r.config.emit(PaymentEvent{
		Type:      PaymentEventFailure,
		RequestID: result.RequestID,
		Network:   result.Network,
		Error:     x402.NewPaymentError(x402.CodePaymentExecutionFailed, result.ErrorReason, x402.ErrSettlementFailed),
	})
}
