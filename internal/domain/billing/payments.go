package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hms/hms/pkg/money"
	"github.com/shopspring/decimal"
)

// PaymentRequest is the input to RecordPayment.
type PaymentRequest struct {
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// ReversalRequest undoes all or part of a payment. A nil Amount reverses
// whatever is left of the original.
type ReversalRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

// RecordPayment appends a completed payment and settles the status.
func (b *Bill) RecordPayment(req PaymentRequest, actorID string, now time.Time) (*Payment, error) {
	if !b.Status.IsPayable() {
		return nil, lockedError(b.Status, "payments")
	}
	b.Recompute()
	if req.Method == "" {
		return nil, validationError("method", "payment method is required")
	}
	if !validMethods[req.Method] {
		return nil, validationError("method", "invalid payment method: %s", req.Method)
	}
	if !money.IsPositive(req.Amount) {
		return nil, invalidAmountError("amount", req.Amount)
	}
	if !money.HasCents(req.Amount) {
		return nil, validationError("amount", "must have at most two decimal places")
	}
	txID := strings.TrimSpace(req.TransactionID)
	if txID != "" {
		for _, p := range b.Payments {
			if p.Kind == KindPayment && p.TransactionID == txID {
				return nil, validationError("transaction_id", "transaction %s already recorded", txID)
			}
		}
	}
	if req.Amount.GreaterThan(b.BalanceAmount) {
		return nil, overpaymentError(req.Amount, b.BalanceAmount)
	}

	p := Payment{
		ID:            uuid.New(),
		Kind:          KindPayment,
		Method:        req.Method,
		Amount:        req.Amount,
		TransactionID: txID,
		PaymentDate:   now,
		Status:        PaymentCompleted,
		Notes:         strings.TrimSpace(req.Notes),
		RecordedBy:    actorID,
	}
	b.Payments = append(b.Payments, p)
	if err := b.applyLedger(now); err != nil {
		return nil, err
	}
	return &p, nil
}

// Reversible returns how much of payment id can still be reversed.
func (b *Bill) Reversible(id uuid.UUID) (decimal.Decimal, *Payment, error) {
	var orig *Payment
	for i := range b.Payments {
		if b.Payments[i].ID == id {
			orig = &b.Payments[i]
			break
		}
	}
	if orig == nil {
		return decimal.Zero, nil, validationError("payment_id", "payment %s not found on bill", id)
	}
	if orig.Kind != KindPayment || orig.Status != PaymentCompleted {
		return decimal.Zero, nil, validationError("payment_id", "payment %s cannot be reversed", id)
	}
	left := orig.Amount
	for _, p := range b.Payments {
		if p.Kind == KindReversal && p.ReversesPaymentID != nil && *p.ReversesPaymentID == id && p.Status == PaymentCompleted {
			left = left.Add(p.Amount)
		}
	}
	return money.NonNegative(left), orig, nil
}

// ReversePayment appends a negative reversal entry referencing the original.
// The original is never edited.
func (b *Bill) ReversePayment(id uuid.UUID, req ReversalRequest, actorID string, now time.Time) (*Payment, error) {
	if b.Status == StatusDraft {
		return nil, lockedError(b.Status, "payments")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationError("reason", "a reversal requires a reason")
	}
	left, orig, err := b.Reversible(id)
	if err != nil {
		return nil, err
	}
	amount := left
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !money.IsPositive(amount) {
		return nil, invalidAmountError("amount", amount)
	}
	if !money.HasCents(amount) {
		return nil, validationError("amount", "must have at most two decimal places")
	}
	if amount.GreaterThan(left) {
		return nil, validationError("amount", "reversal of %s exceeds reversible amount %s", amount.StringFixed(2), left.StringFixed(2))
	}

	ref := orig.ID
	r := Payment{
		ID:                uuid.New(),
		Kind:              KindReversal,
		Method:            orig.Method,
		Amount:            amount.Neg(),
		TransactionID:     orig.TransactionID,
		PaymentDate:       now,
		Status:            PaymentCompleted,
		Notes:             reason,
		ReversesPaymentID: &ref,
		RecordedBy:        actorID,
	}
	b.Payments = append(b.Payments, r)
	if err := b.applyLedger(now); err != nil {
		return nil, err
	}
	return &r, nil
}

// applyLedger recomputes totals and status for a newly appended ledger
// entry. If the status move is not allowed the entry is dropped again.
func (b *Bill) applyLedger(now time.Time) error {
	b.Recompute()
	if err := b.settle(now); err != nil {
		b.Payments = b.Payments[:len(b.Payments)-1]
		b.Recompute()
		return err
	}
	return nil
}
