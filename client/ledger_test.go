package client

import (
	"context"
	"errors"
	"testing"
	"time"

	x402 "github.com/mark3labs/x402-mcp"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore())
}

func TestStorePendingRequiresRequestID(t *testing.T) {
	ledger := newTestLedger()

	err := ledger.StorePending(context.Background(), &AuditRecord{Method: "tools/call"})
	if !errors.Is(err, x402.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStorePendingLivesInPendingNamespace(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	err := ledger.StorePending(ctx, &AuditRecord{
		RequestID: "1",
		ServerID:  "https://example.com",
		Method:    "tools/call",
	})
	if err != nil {
		t.Fatal(err)
	}

	record, found, err := ledger.GetPending(ctx, "1")
	if err != nil || !found {
		t.Fatalf("GetPending = (%v, %v), want hit", found, err)
	}
	if record.RequestStatus != RequestPending || record.PaymentStatus != PaymentPending {
		t.Errorf("fresh record should be pending/pending: %+v", record)
	}
	if record.CreatedAt.IsZero() {
		t.Error("createdAt must be set at insertion")
	}

	if _, found, _ := ledger.Get(ctx, "1"); found {
		t.Error("fresh record must not exist in the terminal namespace")
	}
}

func TestMarkRequestCompletedRekeys(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	_ = ledger.StorePending(ctx, &AuditRecord{RequestID: "2", Method: "tools/call"})

	when := time.Now()
	if err := ledger.MarkRequestCompleted(ctx, "2", when); err != nil {
		t.Fatal(err)
	}

	// The pending namespace is the worklist: the rekey must delete the old
	// key, leaving no orphan.
	if _, found, _ := ledger.GetPending(ctx, "2"); found {
		t.Error("pending key must be deleted on rekey")
	}

	record, found, _ := ledger.Get(ctx, "2")
	if !found {
		t.Fatal("record must exist under the terminal key")
	}
	if record.RequestStatus != RequestCompleted {
		t.Errorf("requestStatus = %s", record.RequestStatus)
	}
	if record.RequestCompletedAt == nil || !record.RequestCompletedAt.Equal(when) {
		t.Errorf("requestCompletedAt = %v, want %v", record.RequestCompletedAt, when)
	}
}

func TestUpdatePaymentStatusPendingKeepsKey(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	_ = ledger.StorePending(ctx, &AuditRecord{RequestID: "3", Method: "tools/call"})

	if err := ledger.UpdatePaymentStatus(ctx, "3", PaymentPending, PaymentUpdate{}); err != nil {
		t.Fatal(err)
	}

	if _, found, _ := ledger.GetPending(ctx, "3"); !found {
		t.Error("record with pending payment must stay on the worklist")
	}
}

func TestUpdatePaymentStatusTerminalRekeys(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	tests := []struct {
		name   string
		id     string
		status PaymentStatus
		update PaymentUpdate
	}{
		{"completed", "4", PaymentCompleted, PaymentUpdate{TxHash: "0xabc", Payer: "0xpayer"}},
		{"failed", "5", PaymentFailed, PaymentUpdate{ErrorReason: "cap exceeded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = ledger.StorePending(ctx, &AuditRecord{RequestID: tt.id, Method: "tools/call"})

			if err := ledger.UpdatePaymentStatus(ctx, tt.id, tt.status, tt.update); err != nil {
				t.Fatal(err)
			}

			if _, found, _ := ledger.GetPending(ctx, tt.id); found {
				t.Error("terminal payment status must leave the pending namespace")
			}
			record, found, _ := ledger.Get(ctx, tt.id)
			if !found {
				t.Fatal("record missing from terminal namespace")
			}
			if record.PaymentStatus != tt.status {
				t.Errorf("paymentStatus = %s, want %s", record.PaymentStatus, tt.status)
			}
			if record.TxHash != tt.update.TxHash || record.ErrorReason != tt.update.ErrorReason {
				t.Errorf("update not applied: %+v", record)
			}
			if record.PaymentCompletedAt == nil {
				t.Error("paymentCompletedAt must be set on terminal status")
			}
		})
	}
}

func TestUpdatePaymentStatusAfterRequestCompleted(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	_ = ledger.StorePending(ctx, &AuditRecord{RequestID: "6", Method: "tools/call"})
	_ = ledger.MarkRequestCompleted(ctx, "6", time.Now())

	// Settlement notifications can arrive after the request itself finished.
	if err := ledger.UpdatePaymentStatus(ctx, "6", PaymentCompleted, PaymentUpdate{TxHash: "0xabc"}); err != nil {
		t.Fatalf("late reconciliation failed: %v", err)
	}

	record, _, _ := ledger.Get(ctx, "6")
	if record.PaymentStatus != PaymentCompleted || record.TxHash != "0xabc" {
		t.Errorf("late update not applied: %+v", record)
	}
}

func TestUpdatePaymentStatusUnknownRecord(t *testing.T) {
	ledger := newTestLedger()

	err := ledger.UpdatePaymentStatus(context.Background(), "ghost", PaymentCompleted, PaymentUpdate{})
	if err == nil {
		t.Fatal("expected unknown record to error")
	}
}

func TestRemovePendingDeletesTerminalKey(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	_ = ledger.StorePending(ctx, &AuditRecord{RequestID: "7", Method: "tools/call"})
	_ = ledger.MarkRequestCompleted(ctx, "7", time.Now())

	if err := ledger.RemovePending(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := ledger.Get(ctx, "7"); found {
		t.Error("record should be deleted")
	}
}

func TestSetPaymentDetails(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	_ = ledger.StorePending(ctx, &AuditRecord{RequestID: "8", Method: "tools/call"})

	err := ledger.SetPaymentDetails(ctx, "8", 0.001, "base-sepolia",
		"0x036CbD53842c5426634e7929541eC2318f3dCF7e", "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatal(err)
	}

	record, _, _ := ledger.GetPending(ctx, "8")
	if record.PaymentAmount != 0.001 || record.PaymentNetwork != "base-sepolia" {
		t.Errorf("details not recorded: %+v", record)
	}
}
