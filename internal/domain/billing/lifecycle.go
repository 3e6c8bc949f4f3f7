package billing

import (
	"time"

	"github.com/hms/hms/pkg/money"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusFinalized Status = "finalized"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusPending: true, StatusPartial: true, StatusFinalized: true,
	StatusPaid: true, StatusOverdue: true, StatusCancelled: true,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", validationError("status", "invalid bill status: %s", s)
	}
	return st, nil
}

// Charges, items and adjustments can only change in these states.
var mutableStatuses = map[Status]bool{
	StatusDraft: true, StatusPending: true,
}

// Payments are accepted in these states.
var payableStatuses = map[Status]bool{
	StatusPending: true, StatusFinalized: true, StatusPartial: true, StatusOverdue: true,
}

// Candidates for the overdue sweep.
var overdueCandidates = map[Status]bool{
	StatusPending: true, StatusFinalized: true, StatusPartial: true,
}

// transitions lists every status change the engine may perform. Moves back
// from paid or partial only happen when a payment is reversed.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusFinalized, StatusCancelled},
	StatusPending:   {StatusFinalized, StatusPartial, StatusPaid, StatusCancelled, StatusOverdue},
	StatusFinalized: {StatusPartial, StatusPaid, StatusOverdue},
	StatusPartial:   {StatusPaid, StatusCancelled, StatusOverdue, StatusPending, StatusFinalized},
	StatusPaid:      {StatusPartial, StatusPending, StatusFinalized},
	StatusOverdue:   {StatusPaid},
	StatusCancelled: {},
}

// IsMutable reports whether charges may still be edited.
func (s Status) IsMutable() bool { return mutableStatuses[s] }

// IsPayable reports whether payments may be recorded.
func (s Status) IsPayable() bool { return payableStatuses[s] }

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return len(transitions[s]) == 0 }

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the bill to the given status if the lifecycle allows it.
// Every status write goes through here.
func (b *Bill) transition(to Status) error {
	if !CanTransition(b.Status, to) {
		return lockedError(b.Status, "")
	}
	b.Status = to
	return nil
}

// HasCharges reports whether anything billable has been entered.
func (b *Bill) HasCharges() bool {
	if b.ConsultationFee != nil && money.IsPositive(b.ConsultationFee.Amount) {
		return true
	}
	hc := b.HospitalCharges
	if len(hc.LabTests) > 0 || len(hc.Scans) > 0 || len(hc.Medicines) > 0 || len(hc.ServiceFees) > 0 {
		return true
	}
	if hc.BedCharges.Days > 0 && money.IsPositive(hc.BedCharges.RatePerDay) {
		return true
	}
	return len(b.Items) > 0
}

// Finalize locks the charges. It is irreversible.
func (b *Bill) Finalize(actorID string, now time.Time) error {
	if !b.Status.IsMutable() {
		return lockedError(b.Status, "")
	}
	if !b.HasCharges() {
		return validationError("charges", "cannot finalize an empty bill")
	}
	if err := b.transition(StatusFinalized); err != nil {
		return err
	}
	b.FinalizedAt = &now
	b.FinalizedBy = actorID
	return nil
}

// Cancel moves the bill to cancelled. Finalized and paid bills cannot be cancelled.
func (b *Bill) Cancel(actorID, reason string, now time.Time) error {
	if b.Status == StatusCancelled {
		return lockedError(b.Status, "")
	}
	if err := b.transition(StatusCancelled); err != nil {
		return err
	}
	b.CancelledAt = &now
	b.CancelledBy = actorID
	b.CancelReason = reason
	return nil
}

// IsOverdue reports whether the bill is past due with money outstanding.
func (b *Bill) IsOverdue(now time.Time) bool {
	return overdueCandidates[b.Status] &&
		b.DueDate != nil && now.After(*b.DueDate) &&
		money.IsPositive(b.BalanceAmount)
}

// MarkOverdue moves a past-due bill to overdue.
func (b *Bill) MarkOverdue(now time.Time) error {
	if !b.IsOverdue(now) {
		return lockedError(b.Status, "")
	}
	return b.transition(StatusOverdue)
}

// settle re-derives the payment status after the payment ledger changed.
// Totals must be current. A move the lifecycle does not allow is BillLocked
// and leaves the status untouched.
func (b *Bill) settle(now time.Time) error {
	if b.Status.IsTerminal() {
		return nil
	}
	var to Status
	switch {
	case b.BalanceAmount.IsZero() && money.IsPositive(b.PaidAmount):
		to = StatusPaid
	case b.Status == StatusOverdue:
		// stays overdue until fully paid
		return nil
	case money.IsPositive(b.PaidAmount):
		to = StatusPartial
	case b.FinalizedAt != nil:
		to = StatusFinalized
	default:
		to = StatusPending
	}
	was := b.Status
	if err := b.transition(to); err != nil {
		return err
	}
	switch {
	case to != StatusPaid:
		b.PaidAt = nil
	case was != StatusPaid:
		b.PaidAt = &now
	}
	return nil
}
