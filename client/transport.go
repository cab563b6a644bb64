package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	x402 "github.com/mark3labs/x402-mcp"
)

// Transport wraps a bidirectional MCP transport and adds the x402 payment
// machinery: every outgoing request is recorded in the audit ledger,
// inbound payment_required requests are answered by the responder, and
// payment_result notifications are reconciled into the ledger. All other
// traffic is delegated untouched.
type Transport struct {
	base   transport.BidirectionalInterface
	config *Config

	ledger     *Ledger
	responder  *Responder
	reconciler *Reconciler

	mu                  sync.RWMutex
	innerRequestHandler transport.RequestHandler
	innerNotification   func(mcpproto.JSONRPCNotification)
}

// NewTransport wraps an existing bidirectional transport.
func NewTransport(base transport.BidirectionalInterface, opts ...Option) *Transport {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}

	ledger := NewLedger(config.Store)
	t := &Transport{
		base:       base,
		config:     config,
		ledger:     ledger,
		responder:  NewResponder(config, ledger),
		reconciler: NewReconciler(config, ledger),
	}

	base.SetRequestHandler(t.dispatchRequest)
	base.SetNotificationHandler(t.dispatchNotification)

	return t
}

// NewStreamableTransport creates a payment-aware transport over a streamable
// HTTP connection to serverURL.
func NewStreamableTransport(serverURL string, opts ...Option) (*Transport, error) {
	base, err := transport.NewStreamableHTTP(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create base transport: %w", err)
	}
	allOpts := append([]Option{WithServerID(serverURL)}, opts...)
	return NewTransport(base, allOpts...), nil
}

// Ledger exposes the audit ledger for inspection and reconciliation.
func (t *Transport) Ledger() *Ledger {
	return t.ledger
}

// Start implements transport.Interface.
func (t *Transport) Start(ctx context.Context) error {
	return t.base.Start(ctx)
}

// SendRequest implements transport.Interface. It records the RPC in the
// audit ledger before handing it to the base transport, and records the
// request-level outcome once the send completes.
func (t *Transport) SendRequest(ctx context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	logger := t.config.logger()
	key := requestKey(req.ID)
	if key != "" {
		record := &AuditRecord{
			RequestID: key,
			ServerID:  t.config.ServerID,
			Method:    req.Method,
			Params:    paramsMap(req.Params),
		}
		if err := t.ledger.StorePending(ctx, record); err != nil {
			logger.Warn("failed to record outgoing request", "requestID", key, "error", err)
		}
	}

	resp, err := t.base.SendRequest(ctx, req)

	if key != "" {
		now := time.Now()
		var lerr error
		if err != nil {
			lerr = t.ledger.MarkRequestFailed(context.WithoutCancel(ctx), key, err.Error(), now)
		} else {
			lerr = t.ledger.MarkRequestCompleted(context.WithoutCancel(ctx), key, now)
		}
		if lerr != nil {
			logger.Warn("failed to record request outcome", "requestID", key, "error", lerr)
		}
	}

	return resp, err
}

// SendNotification implements transport.Interface.
func (t *Transport) SendNotification(ctx context.Context, notif mcpproto.JSONRPCNotification) error {
	return t.base.SendNotification(ctx, notif)
}

// SetNotificationHandler implements transport.Interface. The handler
// receives everything except the extension's own notifications.
func (t *Transport) SetNotificationHandler(handler func(mcpproto.JSONRPCNotification)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.innerNotification = handler
}

// SetRequestHandler implements transport.BidirectionalInterface. The handler
// receives every server-originated request except payment_required.
func (t *Transport) SetRequestHandler(handler transport.RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.innerRequestHandler = handler
}

// Close implements transport.Interface.
func (t *Transport) Close() error {
	return t.base.Close()
}

// GetSessionId implements transport.Interface.
func (t *Transport) GetSessionId() string {
	return t.base.GetSessionId()
}

// dispatchRequest routes server-originated requests: payment_required is
// handled by the responder, everything else goes to the inner handler.
func (t *Transport) dispatchRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	if request.Method == x402.MethodPaymentRequired {
		return t.handlePaymentRequired(ctx, request), nil
	}

	t.mu.RLock()
	inner := t.innerRequestHandler
	t.mu.RUnlock()

	if inner != nil {
		return inner(ctx, request)
	}

	return &transport.JSONRPCResponse{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      request.ID,
		Error: &mcpproto.JSONRPCErrorDetails{
			Code:    mcpproto.METHOD_NOT_FOUND,
			Message: fmt.Sprintf("no handler configured for method: %s", request.Method),
		},
	}, nil
}

// handlePaymentRequired parses the challenge, runs the responder, and
// converts the outcome to a JSON-RPC response.
func (t *Transport) handlePaymentRequired(ctx context.Context, request transport.JSONRPCRequest) *transport.JSONRPCResponse {
	requirement, err := decodeRequirement(request.Params)
	if err == nil {
		var payment *x402.PaymentResponse
		payment, err = t.responder.HandlePaymentRequired(ctx, requirement)
		if err == nil {
			raw, merr := json.Marshal(payment)
			if merr != nil {
				err = x402.NewPaymentError(x402.CodeInternalError,
					fmt.Sprintf("failed to encode payment response: %v", merr), merr)
			} else {
				return &transport.JSONRPCResponse{
					JSONRPC: mcpproto.JSONRPC_VERSION,
					ID:      request.ID,
					Result:  raw,
				}
			}
		}
	}

	details := &mcpproto.JSONRPCErrorDetails{
		Code:    x402.ErrorCode(err),
		Message: err.Error(),
	}
	if pe, ok := x402.AsPaymentError(err); ok && pe.Details != nil {
		details.Data = pe.Details
	}
	return &transport.JSONRPCResponse{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      request.ID,
		Error:   details,
	}
}

// dispatchNotification routes server notifications: payment_result goes to
// the reconciler, everything else to the inner handler.
func (t *Transport) dispatchNotification(notif mcpproto.JSONRPCNotification) {
	if notif.Method == x402.MethodPaymentResult {
		result, err := decodeSettlementResult(notif.Params)
		if err != nil {
			t.config.logger().Warn("ignoring malformed payment result", "error", err)
			return
		}
		t.reconciler.HandlePaymentResult(context.Background(), result)
		return
	}

	t.mu.RLock()
	inner := t.innerNotification
	t.mu.RUnlock()
	if inner != nil {
		inner(notif)
	}
}

// decodeRequirement converts raw request params into a PaymentRequirement.
func decodeRequirement(params any) (*x402.PaymentRequirement, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("malformed payment demand: %v", err), x402.ErrPaymentInvalid)
	}
	var requirement x402.PaymentRequirement
	if err := json.Unmarshal(data, &requirement); err != nil {
		return nil, x402.NewPaymentError(x402.CodePaymentInvalid,
			fmt.Sprintf("malformed payment demand: %v", err), x402.ErrPaymentInvalid)
	}
	return &requirement, nil
}

// decodeSettlementResult converts notification params into a
// SettlementResult.
func decodeSettlementResult(params mcpproto.NotificationParams) (*x402.SettlementResult, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var result x402.SettlementResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// paramsMap renders request params as a map for the audit record.
func paramsMap(params any) map[string]any {
	if params == nil {
		return nil
	}
	if m, ok := params.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// requestKey canonicalizes a JSON-RPC id into the ledger key space.
func requestKey(id mcpproto.RequestId) string {
	if id.IsNil() {
		return ""
	}
	data, err := json.Marshal(id)
	if err != nil {
		return ""
	}
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}
