package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Routing keys for events published on the billing exchange.
const (
	EventBillCreated     = "bill.created"
	EventBillFinalized   = "bill.finalized"
	EventPaymentRecorded = "bill.payment_recorded"
	EventPaymentReversed = "bill.payment_reversed"
	EventBillPaid        = "bill.paid"
	EventBillCancelled   = "bill.cancelled"
	EventBillOverdue     = "bill.overdue"
)

// AppointmentCompletedKey is the routing key consumed from the appointment exchange.
const AppointmentCompletedKey = "appointment.completed"

// EventPublisher is satisfied by rabbitmq.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// BillEvent is the payload of every bill event.
type BillEvent struct {
	Type           string          `json:"type"`
	BillID         string          `json:"bill_id"`
	PatientRef     string          `json:"patient_ref"`
	DoctorRef      *string         `json:"doctor_ref,omitempty"`
	AppointmentRef *string         `json:"appointment_ref,omitempty"`
	Status         Status          `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceAmount  decimal.Decimal `json:"balance_amount"`
	Version        int             `json:"version"`
	ActorID        string          `json:"actor_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func newBillEvent(kind string, b *Bill, actor Actor, at time.Time) BillEvent {
	return BillEvent{
		Type:           kind,
		BillID:         b.ID.String(),
		PatientRef:     b.PatientRef,
		DoctorRef:      b.DoctorRef,
		AppointmentRef: b.AppointmentRef,
		Status:         b.Status,
		TotalAmount:    b.TotalAmount,
		PaidAmount:     b.PaidAmount,
		BalanceAmount:  b.BalanceAmount,
		Version:        b.Version,
		ActorID:        actor.ID,
		OccurredAt:     at,
	}
}

// publish runs after the write has committed. A failed publish is logged and
// never rolls back the bill.
func (s *Service) publish(ctx context.Context, kind string, b *Bill, actor Actor) {
	if s.events == nil {
		return
	}
	ev := newBillEvent(kind, b, actor, s.now())
	if err := s.events.Publish(ctx, s.exchange, kind, ev); err != nil {
		s.logger.Warn().Err(err).Str("bill_id", ev.BillID).Str("event", kind).Msg("publish bill event failed")
	}
}

// AppointmentCompleted is emitted by the appointment service.
type AppointmentCompleted struct {
	AppointmentID   string           `json:"appointment_id"`
	PatientID       string           `json:"patient_id"`
	DoctorID        string           `json:"doctor_id"`
	ConsultationFee *decimal.Decimal `json:"consultation_fee,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CompletedAt     time.Time        `json:"completed_at"`
}

func (ev *AppointmentCompleted) Validate() error {
	ev.AppointmentID = strings.TrimSpace(ev.AppointmentID)
	ev.PatientID = strings.TrimSpace(ev.PatientID)
	ev.DoctorID = strings.TrimSpace(ev.DoctorID)
	if ev.AppointmentID == "" {
		return validationError("appointment_id", "appointment_id is required")
	}
	if ev.PatientID == "" {
		return validationError("patient_id", "patient_id is required")
	}
	if ev.DoctorID == "" {
		return validationError("doctor_id", "doctor_id is required")
	}
	return nil
}

// AppointmentHandler adapts CreateBillFromAppointment to a queue consumer.
// It returns true to ack and false to requeue. Malformed or invalid
// messages are acked and dropped; store failures are requeued.
// tenantCtx scopes each message to the tenant store and returns a release func.
func AppointmentHandler(svc *Service, tenantCtx func(context.Context) (context.Context, func(), error), logger zerolog.Logger) func([]byte) bool {
	return func(body []byte) bool {
		var ev AppointmentCompleted
		if err := json.Unmarshal(body, &ev); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed appointment event")
			return true
		}

		ctx := context.Background()
		release := func() {}
		if tenantCtx != nil {
			var err error
			ctx, release, err = tenantCtx(ctx)
			if err != nil {
				logger.Error().Err(err).Str("appointment_id", ev.AppointmentID).Msg("tenant scope for appointment event")
				return false
			}
		}
		defer release()

		b, created, err := svc.CreateBillFromAppointment(ctx, ev)
		switch {
		case err == nil:
			logger.Info().Str("appointment_id", ev.AppointmentID).Str("bill_id", b.ID.String()).
				Bool("created", created).Msg("appointment event processed")
			return true
		case errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden):
			logger.Warn().Err(err).Str("appointment_id", ev.AppointmentID).Msg("dropping invalid appointment event")
			return true
		default:
			logger.Error().Err(err).Str("appointment_id", ev.AppointmentID).Msg("appointment event failed, requeueing")
			return false
		}
	}
}
