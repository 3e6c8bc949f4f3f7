package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds. Compare with errors.Is; the concrete error is always *Error.
var (
	ErrValidation    = errors.New("validation error")
	ErrForbidden     = errors.New("forbidden")
	ErrBillLocked    = errors.New("bill locked")
	ErrConflict      = errors.New("version conflict")
	ErrOverpayment   = errors.New("overpayment rejected")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotFound      = errors.New("bill not found")
)

// Error carries the context a caller needs to explain a failure: the field
// at fault, the bill status behind a lock, the balance behind a rejected
// payment, or the version that won a conflict.
type Error struct {
	Kind           error
	Message        string
	Field          string
	Status         Status
	Balance        *decimal.Decimal
	CurrentVersion int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// KindName returns the wire name of err's kind, or "" for untyped errors.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrBillLocked):
		return "BillLocked"
	case errors.Is(err, ErrConflict):
		return "ConflictRetry"
	case errors.Is(err, ErrOverpayment):
		return "OverpaymentRejected"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	}
	return ""
}

// AsError unwraps err into *Error when it is one.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func validationError(field, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func forbiddenError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func lockedError(status Status, field string) *Error {
	msg := fmt.Sprintf("bill is %s", status)
	if field != "" {
		msg = fmt.Sprintf("%s cannot be changed while bill is %s", field, status)
	}
	return &Error{Kind: ErrBillLocked, Status: status, Field: field, Message: msg}
}

func conflictError(current int) *Error {
	return &Error{
		Kind:           ErrConflict,
		CurrentVersion: current,
		Message:        fmt.Sprintf("bill was modified, current version is %d", current),
	}
}

func invalidAmountError(field string, amount decimal.Decimal) *Error {
	return &Error{Kind: ErrInvalidAmount, Field: field, Message: fmt.Sprintf("amount must be positive, got %s", amount.StringFixed(2))}
}

func overpaymentError(amount, balance decimal.Decimal) *Error {
	b := balance
	return &Error{
		Kind:    ErrOverpayment,
		Field:   "amount",
		Balance: &b,
		Message: fmt.Sprintf("payment of %s exceeds outstanding balance %s", amount.StringFixed(2), balance.StringFixed(2)),
	}
}

func notFoundError(id fmt.Stringer) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("bill %s not found", id)}
}
