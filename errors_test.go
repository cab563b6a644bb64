package x402mcp

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"InvalidRequest", CodeInvalidRequest, -32600},
		{"MethodNotFound", CodeMethodNotFound, -32601},
		{"InvalidParams", CodeInvalidParams, -32602},
		{"InternalError", CodeInternalError, -32603},
		{"PaymentRequired", CodePaymentRequired, 40200},
		{"PaymentInvalid", CodePaymentInvalid, 40201},
		{"InsufficientPayment", CodeInsufficientPayment, 40202},
		{"ReplayDetected", CodeReplayDetected, 40203},
		{"PaymentExecutionFailed", CodePaymentExecutionFailed, 40204},
		{"GuardrailViolation", CodeGuardrailViolation, 40210},
		{"WhitelistViolation", CodeWhitelistViolation, 40211},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.want {
				t.Errorf("code = %d, want %d", tt.code, tt.want)
			}
		})
	}
}

func TestPaymentErrorWrapping(t *testing.T) {
	err := NewPaymentError(CodePaymentInvalid, "proof rejected", ErrPaymentInvalid)

	if !errors.Is(err, ErrPaymentInvalid) {
		t.Error("expected errors.Is to match the wrapped sentinel")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	pe, ok := AsPaymentError(wrapped)
	if !ok {
		t.Fatal("expected AsPaymentError to find the payment error")
	}
	if pe.Code != CodePaymentInvalid {
		t.Errorf("code = %d, want %d", pe.Code, CodePaymentInvalid)
	}
}

func TestPaymentErrorDetails(t *testing.T) {
	err := NewPaymentError(CodeGuardrailViolation, "cap exceeded", ErrGuardrailViolation).
		WithDetails("amount", 0.02).
		WithDetails("maxPaymentPerCall", 0.01)

	if err.Details["amount"] != 0.02 {
		t.Errorf("amount detail = %v, want 0.02", err.Details["amount"])
	}
	if err.Details["maxPaymentPerCall"] != 0.01 {
		t.Errorf("maxPaymentPerCall detail = %v, want 0.01", err.Details["maxPaymentPerCall"])
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"payment error", NewPaymentError(CodePaymentRequired, "pay up", nil), CodePaymentRequired},
		{"wrapped payment error", fmt.Errorf("ctx: %w", NewPaymentError(CodeWhitelistViolation, "no", nil)), CodeWhitelistViolation},
		{"rpc error", &RPCError{Code: CodeMethodNotFound, Message: "nope"}, CodeMethodNotFound},
		{"plain error", errors.New("boom"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
