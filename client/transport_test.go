package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	x402 "github.com/mark3labs/x402-mcp"
)

// fakeBase is a scriptable transport.BidirectionalInterface that captures
// the handlers the wrapper installs so tests can inject inbound traffic.
type fakeBase struct {
	requestHandler      transport.RequestHandler
	notificationHandler func(mcpproto.JSONRPCNotification)

	response *transport.JSONRPCResponse
	sendErr  error
	sent     []transport.JSONRPCRequest
	closed   bool
}

func (b *fakeBase) Start(_ context.Context) error { return nil }

func (b *fakeBase) SendRequest(_ context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	b.sent = append(b.sent, req)
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	if b.response != nil {
		return b.response, nil
	}
	return &transport.JSONRPCResponse{JSONRPC: mcpproto.JSONRPC_VERSION, ID: req.ID, Result: json.RawMessage(`{}`)}, nil
}

func (b *fakeBase) SendNotification(_ context.Context, _ mcpproto.JSONRPCNotification) error {
	return nil
}

func (b *fakeBase) SetNotificationHandler(handler func(mcpproto.JSONRPCNotification)) {
	b.notificationHandler = handler
}

func (b *fakeBase) SetRequestHandler(handler transport.RequestHandler) {
	b.requestHandler = handler
}

func (b *fakeBase) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBase) GetSessionId() string { return "session-1" }

func newTestTransport(opts ...Option) (*Transport, *fakeBase) {
	base := &fakeBase{}
	account := &fakeAccount{address: "0x2222222222222222222222222222222222222222"}
	allOpts := append([]Option{
		WithServerID("https://example.com"),
		WithWallet(&fakeWallet{account: account}),
	}, opts...)
	return NewTransport(base, allOpts...), base
}

func toolCallRequest(id int64) transport.JSONRPCRequest {
	return transport.JSONRPCRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      mcpproto.NewRequestId(id),
		Method:  "tools/call",
		Params: map[string]any{
			"name":      "add-numbers",
			"arguments": map[string]any{"a": 10, "b": 20},
		},
	}
}

func TestSendRequestRecordsAuditTrail(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport()

	if _, err := tr.SendRequest(ctx, toolCallRequest(1)); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if len(base.sent) != 1 {
		t.Fatalf("base saw %d requests, want 1", len(base.sent))
	}

	// The send completed, so the record has left the pending namespace.
	record, found, _ := tr.Ledger().Get(ctx, "1")
	if !found {
		t.Fatal("expected audit record under the terminal key")
	}
	if record.RequestStatus != RequestCompleted {
		t.Errorf("requestStatus = %s", record.RequestStatus)
	}
	if record.Method != "tools/call" || record.ServerID != "https://example.com" {
		t.Errorf("record fields wrong: %+v", record)
	}
	if record.Params["name"] != "add-numbers" {
		t.Errorf("params not captured: %v", record.Params)
	}
}

func TestSendRequestRecordsFailure(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport()
	base.sendErr = errors.New("connection reset")

	if _, err := tr.SendRequest(ctx, toolCallRequest(2)); err == nil {
		t.Fatal("expected transport error to propagate")
	}

	record, found, _ := tr.Ledger().Get(ctx, "2")
	if !found {
		t.Fatal("expected audit record")
	}
	if record.RequestStatus != RequestFailed {
		t.Errorf("requestStatus = %s, want failed", record.RequestStatus)
	}
	if record.ErrorReason != "connection reset" {
		t.Errorf("errorReason = %q", record.ErrorReason)
	}
}

// challenge simulates the server-originated payment_required sub-request for
// an in-flight RPC.
func challenge(t *testing.T, base *fakeBase, requestID string) *transport.JSONRPCResponse {
	t.Helper()
	requirement := testRequirement(requestID)
	data, _ := json.Marshal(requirement)
	var params map[string]any
	_ = json.Unmarshal(data, &params)

	resp, err := base.requestHandler(context.Background(), transport.JSONRPCRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      mcpproto.NewRequestId(requestID),
		Method:  x402.MethodPaymentRequired,
		Params:  params,
	})
	if err != nil {
		t.Fatalf("request handler errored: %v", err)
	}
	return resp
}

func TestPaymentRequiredAnsweredForInFlightRequest(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport()

	// Record the outgoing RPC as still pending (its send has not returned).
	if err := tr.Ledger().StorePending(ctx, &AuditRecord{RequestID: "3", Method: "tools/call"}); err != nil {
		t.Fatal(err)
	}

	resp := challenge(t, base, "3")
	if resp.Error != nil {
		t.Fatalf("challenge rejected: %+v", resp.Error)
	}

	var payment x402.PaymentResponse
	if err := json.Unmarshal(resp.Result, &payment); err != nil {
		t.Fatalf("cannot decode payment response: %v", err)
	}
	if payment.Payment.Payload.Signature == "" {
		t.Error("expected signed payment in result.payment")
	}
	if payment.Payment.Scheme != x402.SchemeExact || payment.Payment.X402Version != 1 {
		t.Errorf("payment envelope wrong: %+v", payment.Payment)
	}
}

func TestPaymentRequiredRejectedForUnknownRequest(t *testing.T) {
	tr, base := newTestTransport()
	_ = tr // transport installed its handlers on base

	resp := challenge(t, base, "unknown-99")
	if resp.Error == nil {
		t.Fatal("expected error response for unsolicited challenge")
	}
	if resp.Error.Code != x402.CodePaymentInvalid {
		t.Errorf("code = %d, want %d", resp.Error.Code, x402.CodePaymentInvalid)
	}
}

func TestGuardrailRefusalReturnsCodedError(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport(WithMaxPaymentPerCall(0.0005))

	_ = tr.Ledger().StorePending(ctx, &AuditRecord{RequestID: "4", Method: "tools/call"})

	resp := challenge(t, base, "4")
	if resp.Error == nil {
		t.Fatal("expected guardrail refusal")
	}
	if resp.Error.Code != x402.CodeGuardrailViolation {
		t.Errorf("code = %d, want %d", resp.Error.Code, x402.CodeGuardrailViolation)
	}
}

func TestOtherRequestsDelegatedToInnerHandler(t *testing.T) {
	tr, base := newTestTransport()

	called := false
	tr.SetRequestHandler(func(_ context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
		called = true
		return &transport.JSONRPCResponse{JSONRPC: mcpproto.JSONRPC_VERSION, ID: req.ID, Result: json.RawMessage(`"pong"`)}, nil
	})

	resp, err := base.requestHandler(context.Background(), transport.JSONRPCRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      mcpproto.NewRequestId(int64(5)),
		Method:  "sampling/createMessage",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("inner handler should have been invoked")
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %+v", resp.Error)
	}
}

func TestUnhandledRequestsGetMethodNotFound(t *testing.T) {
	_, base := newTestTransport()

	resp, err := base.requestHandler(context.Background(), transport.JSONRPCRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      mcpproto.NewRequestId(int64(6)),
		Method:  "sampling/createMessage",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != mcpproto.METHOD_NOT_FOUND {
		t.Errorf("expected METHOD_NOT_FOUND, got %+v", resp.Error)
	}
}

func paymentResultNotification(requestID string, success bool, tx, reason string) mcpproto.JSONRPCNotification {
	fields := map[string]any{
		"success":   success,
		"network":   "base-sepolia",
		"requestId": requestID,
	}
	if tx != "" {
		fields["transaction"] = tx
	}
	if reason != "" {
		fields["errorReason"] = reason
	}
	return mcpproto.JSONRPCNotification{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		Notification: mcpproto.Notification{
			Method: x402.MethodPaymentResult,
			Params: mcpproto.NotificationParams{AdditionalFields: fields},
		},
	}
}

func TestPaymentResultReconciliation(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport()

	_ = tr.Ledger().StorePending(ctx, &AuditRecord{RequestID: "7", Method: "tools/call"})

	base.notificationHandler(paymentResultNotification("7", true, "0xabc", ""))

	record, found, _ := tr.Ledger().Get(ctx, "7")
	if !found {
		t.Fatal("expected reconciled record under terminal key")
	}
	if record.PaymentStatus != PaymentCompleted || record.TxHash != "0xabc" {
		t.Errorf("reconciliation wrong: %+v", record)
	}
}

func TestPaymentResultFailureReconciliation(t *testing.T) {
	ctx := context.Background()

	var events []PaymentEvent
	tr, base := newTestTransport(WithPaymentCallback(func(e PaymentEvent) {
		events = append(events, e)
	}))

	_ = tr.Ledger().StorePending(ctx, &AuditRecord{RequestID: "8", Method: "tools/call"})

	base.notificationHandler(paymentResultNotification("8", false, "", "insufficient gas"))

	record, _, _ := tr.Ledger().Get(ctx, "8")
	if record.PaymentStatus != PaymentFailed || record.ErrorReason != "insufficient gas" {
		t.Errorf("failure reconciliation wrong: %+v", record)
	}

	var sawFailure bool
	for _, e := range events {
		if e.Type == PaymentEventFailure {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("expected a failure event")
	}
}

func TestPaymentResultForUnknownRequestIgnored(t *testing.T) {
	_, base := newTestTransport()

	// Must not panic or error; unknown results are logged and dropped.
	base.notificationHandler(paymentResultNotification("ghost", true, "0xabc", ""))
}

func TestPaymentResultToleratedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	tr, base := newTestTransport()

	// The request finished before the notification arrived (cancellation
	// can order things this way).
	if _, err := tr.SendRequest(ctx, toolCallRequest(9)); err != nil {
		t.Fatal(err)
	}

	base.notificationHandler(paymentResultNotification("9", true, "0xabc", ""))

	record, _, _ := tr.Ledger().Get(ctx, "9")
	if record.PaymentStatus != PaymentCompleted || record.TxHash != "0xabc" {
		t.Errorf("late reconciliation wrong: %+v", record)
	}
}

func TestOtherNotificationsDelegated(t *testing.T) {
	tr, base := newTestTransport()

	var got string
	tr.SetNotificationHandler(func(n mcpproto.JSONRPCNotification) {
		got = n.Method
	})

	base.notificationHandler(mcpproto.JSONRPCNotification{
		JSONRPC:      mcpproto.JSONRPC_VERSION,
		Notification: mcpproto.Notification{Method: "notifications/progress"},
	})

	if got != "notifications/progress" {
		t.Errorf("inner handler saw %q", got)
	}
}

func TestRequestKeyCanonicalization(t *testing.T) {
	tests := []struct {
		name string
		id   mcpproto.RequestId
		want string
	}{
		{"integer id", mcpproto.NewRequestId(int64(7)), "7"},
		{"string id", mcpproto.NewRequestId("abc-1"), "abc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestKey(tt.id); got != tt.want {
				t.Errorf("requestKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
