package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	x402 "github.com/mark3labs/x402-mcp"
)

// RequestStatus is the request-level lifecycle of one outgoing RPC.
type RequestStatus string

// PaymentStatus is the payment-level lifecycle of one outgoing RPC.
type PaymentStatus string

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	RequestPending   RequestStatus = StatusPending
	RequestCompleted RequestStatus = StatusCompleted
	RequestFailed    RequestStatus = StatusFailed

	PaymentPending   PaymentStatus = StatusPending
	PaymentCompleted PaymentStatus = StatusCompleted
	PaymentFailed    PaymentStatus = StatusFailed
)

// pendingPrefix namespaces records whose request and payment are both still
// pending; that namespace is always the worklist.
const pendingPrefix = "pending:"

// AuditRecord is the client-side entry for one outgoing RPC.
type AuditRecord struct {
	RequestID          string         `json:"requestId"`
	ServerID           string         `json:"serverId"`
	Method             string         `json:"method"`
	Params             map[string]any `json:"params,omitempty"`
	RequestStatus      RequestStatus  `json:"requestStatus"`
	PaymentStatus      PaymentStatus  `json:"paymentStatus"`
	PaymentAmount      float64        `json:"paymentAmount,omitempty"`
	PaymentNetwork     string         `json:"paymentNetwork,omitempty"`
	PaymentAsset       string         `json:"paymentAsset,omitempty"`
	PaymentPayTo       string         `json:"paymentPayTo,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	RequestCompletedAt *time.Time     `json:"requestCompletedAt,omitempty"`
	PaymentCompletedAt *time.Time     `json:"paymentCompletedAt,omitempty"`
	TxHash             string         `json:"txHash,omitempty"`
	PayerAddress       string         `json:"payerAddress,omitempty"`
	ErrorReason        string         `json:"errorReason,omitempty"`
}

// PaymentUpdate carries the optional fields of UpdatePaymentStatus.
type PaymentUpdate struct {
	TxHash      string
	Payer       string
	ErrorReason string
	When        time.Time
}

// Ledger maintains an AuditRecord for every outgoing RPC from the moment it
// is sent until its payment (if any) is reconciled.
type Ledger struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewLedger creates a ledger over the given store with the default record
// TTL.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		ttl:   DefaultRecordTTL,
		now:   time.Now,
	}
}

// StorePending inserts a fresh record under the pending namespace.
func (l *Ledger) StorePending(ctx context.Context, record *AuditRecord) error {
	if record == nil || record.RequestID == "" {
		return x402.NewPaymentError(x402.CodeInvalidRequest,
			"audit record requires a request id", x402.ErrInvalidRequest)
	}

	record.RequestStatus = RequestPending
	record.PaymentStatus = PaymentPending
	record.CreatedAt = l.now()

	return l.put(ctx, pendingPrefix+record.RequestID, record)
}

// GetPending reads a record from the pending namespace.
func (l *Ledger) GetPending(ctx context.Context, requestID string) (*AuditRecord, bool, error) {
	return l.get(ctx, pendingPrefix+requestID)
}

// Get reads a record that has left the pending namespace.
func (l *Ledger) Get(ctx context.Context, requestID string) (*AuditRecord, bool, error) {
	return l.get(ctx, requestID)
}

// MarkRequestCompleted records the request-level outcome and moves the
// record out of the pending namespace.
func (l *Ledger) MarkRequestCompleted(ctx context.Context, requestID string, when time.Time) error {
	return l.finishRequest(ctx, requestID, RequestCompleted, "", when)
}

// MarkRequestFailed records a request-level failure and moves the record out
// of the pending namespace.
func (l *Ledger) MarkRequestFailed(ctx context.Context, requestID, reason string, when time.Time) error {
	return l.finishRequest(ctx, requestID, RequestFailed, reason, when)
}

func (l *Ledger) finishRequest(ctx context.Context, requestID string, status RequestStatus, reason string, when time.Time) error {
	record, found, err := l.lookup(ctx, requestID)
	if err != nil {
		return err
	}
	if !found {
		return x402.NewPaymentError(x402.CodeInvalidRequest,
			fmt.Sprintf("no audit record for request %q", requestID), x402.ErrInvalidRequest)
	}

	if when.IsZero() {
		when = l.now()
	}
	record.RequestStatus = status
	record.RequestCompletedAt = &when
	if reason != "" {
		record.ErrorReason = reason
	}

	return l.rekey(ctx, record)
}

// UpdatePaymentStatus updates the payment-level fields of a record. A
// terminal status moves the record out of the pending namespace; pending
// keeps it on the worklist.
func (l *Ledger) UpdatePaymentStatus(ctx context.Context, requestID string, status PaymentStatus, update PaymentUpdate) error {
	record, found, err := l.lookup(ctx, requestID)
	if err != nil {
		return err
	}
	if !found {
		return x402.NewPaymentError(x402.CodeInvalidRequest,
			fmt.Sprintf("no audit record for request %q", requestID), x402.ErrInvalidRequest)
	}

	record.PaymentStatus = status
	if update.TxHash != "" {
		record.TxHash = update.TxHash
	}
	if update.Payer != "" {
		record.PayerAddress = update.Payer
	}
	if update.ErrorReason != "" {
		record.ErrorReason = update.ErrorReason
	}
	if status != PaymentPending {
		when := update.When
		if when.IsZero() {
			when = l.now()
		}
		record.PaymentCompletedAt = &when
		return l.rekey(ctx, record)
	}

	return l.putCurrent(ctx, record)
}

// SetPaymentDetails records the challenge's pricing data on a pending
// record.
func (l *Ledger) SetPaymentDetails(ctx context.Context, requestID string, amount float64, network, asset, payTo string) error {
	record, found, err := l.lookup(ctx, requestID)
	if err != nil {
		return err
	}
	if !found {
		return x402.NewPaymentError(x402.CodeInvalidRequest,
			fmt.Sprintf("no audit record for request %q", requestID), x402.ErrInvalidRequest)
	}

	record.PaymentAmount = amount
	record.PaymentNetwork = network
	record.PaymentAsset = asset
	record.PaymentPayTo = payTo

	return l.putCurrent(ctx, record)
}

// RemovePending deletes the terminal record for a request id.
func (l *Ledger) RemovePending(ctx context.Context, requestID string) error {
	return l.store.Delete(ctx, requestID)
}

// lookup finds a record in either namespace, pending first.
func (l *Ledger) lookup(ctx context.Context, requestID string) (*AuditRecord, bool, error) {
	record, found, err := l.get(ctx, pendingPrefix+requestID)
	if err != nil || found {
		return record, found, err
	}
	return l.get(ctx, requestID)
}

// rekey writes the record under its terminal key and deletes the pending
// key, so no orphan remains on the worklist.
func (l *Ledger) rekey(ctx context.Context, record *AuditRecord) error {
	if err := l.put(ctx, record.RequestID, record); err != nil {
		return err
	}
	return l.store.Delete(ctx, pendingPrefix+record.RequestID)
}

// putCurrent writes the record back under whichever namespace it lives in.
func (l *Ledger) putCurrent(ctx context.Context, record *AuditRecord) error {
	key := record.RequestID
	if record.RequestStatus == RequestPending && record.PaymentStatus == PaymentPending {
		key = pendingPrefix + record.RequestID
	}
	return l.put(ctx, key, record)
}

func (l *Ledger) put(ctx context.Context, key string, record *AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	return l.store.Set(ctx, key, data, l.ttl)
}

func (l *Ledger) get(ctx context.Context, key string) (*AuditRecord, bool, error) {
	data, found, err := l.store.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	var record AuditRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode audit record: %w", err)
	}
	return &record, true, nil
}
