package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Directory supplies the display snapshot captured at bill creation.
// Implementations return an error wrapping ErrNotFound for unknown ids.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*Snapshot, error)
	GetDoctor(ctx context.Context, id string) (*Snapshot, error)
}

// DefaultMaxConflictRetries bounds the automatic retry loop on version conflicts.
const DefaultMaxConflictRetries = 3

type Service struct {
	bills        BillRepository
	directory    Directory
	policy       Policy
	events       EventPublisher
	exchange     string
	paymentTerms time.Duration
	maxRetries   int
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(bills BillRepository, directory Directory, policy Policy) *Service {
	return &Service{
		bills:      bills,
		directory:  directory,
		policy:     policy,
		maxRetries: DefaultMaxConflictRetries,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     zerolog.Nop(),
	}
}

// SetEventPublisher attaches a publisher for bill events on exchange.
func (s *Service) SetEventPublisher(p EventPublisher, exchange string) {
	s.events = p
	s.exchange = exchange
}

// SetPaymentTerms sets the default due date offset for new bills. Zero
// leaves DueDate unset.
func (s *Service) SetPaymentTerms(d time.Duration) { s.paymentTerms = d }

func (s *Service) SetMaxConflictRetries(n int) {
	if n >= 0 {
		s.maxRetries = n
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l.With().Str("component", "billing").Logger() }

// Policy returns the access policy the service enforces.
func (s *Service) Policy() Policy { return s.policy }

// CreateBillRequest is the input to CreateBill.
type CreateBillRequest struct {
	PatientRef        string           `json:"patient_ref"`
	DoctorRef         *string          `json:"doctor_ref,omitempty"`
	ConsultationFee   *decimal.Decimal `json:"consultation_fee,omitempty"`
	ConsultationNotes string           `json:"consultation_notes,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	DueDate           *time.Time       `json:"due_date,omitempty"`
}

func (s *Service) snapshot(ctx context.Context, patientRef string, doctorRef *string) (Snapshot, *Snapshot, error) {
	if s.directory == nil {
		var doc *Snapshot
		if doctorRef != nil {
			doc = &Snapshot{}
		}
		return Snapshot{}, doc, nil
	}
	p, err := s.directory.GetPatient(ctx, patientRef)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, nil, validationError("patient_ref", "unknown patient %s", patientRef)
	}
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("lookup patient: %w", err)
	}
	var doc *Snapshot
	if doctorRef != nil {
		doc, err = s.directory.GetDoctor(ctx, *doctorRef)
		if errors.Is(err, ErrNotFound) {
			return Snapshot{}, nil, validationError("doctor_ref", "unknown doctor %s", *doctorRef)
		}
		if err != nil {
			return Snapshot{}, nil, fmt.Errorf("lookup doctor: %w", err)
		}
	}
	return *p, doc, nil
}

// CreateBill opens a draft bill. A doctor creating a bill is assigned to it
// unless another doctor is named.
func (s *Service) CreateBill(ctx context.Context, actor Actor, req CreateBillRequest) (*Bill, error) {
	withFee := req.ConsultationFee != nil && !req.ConsultationFee.IsZero()
	if err := s.policy.AuthorizeCreate(actor, withFee); err != nil {
		return nil, err
	}
	req.PatientRef = strings.TrimSpace(req.PatientRef)
	if req.PatientRef == "" {
		return nil, validationError("patient_ref", "patient_ref is required")
	}
	if req.DoctorRef != nil {
		ref := strings.TrimSpace(*req.DoctorRef)
		req.DoctorRef = &ref
		if ref == "" {
			req.DoctorRef = nil
		}
	}
	if req.DoctorRef == nil && actor.Role == RoleDoctor {
		ref := actor.ID
		req.DoctorRef = &ref
	}
	if withFee && (actor.Role != RoleDoctor || req.DoctorRef == nil || *req.DoctorRef != actor.ID) {
		return nil, forbiddenError("only the assigned doctor may set the consultation fee")
	}
	return s.create(ctx, actor, StatusDraft, req, nil)
}

func (s *Service) create(ctx context.Context, actor Actor, status Status, req CreateBillRequest, appointmentRef *string) (*Bill, error) {
	patient, doctor, err := s.snapshot(ctx, req.PatientRef, req.DoctorRef)
	if err != nil {
		return nil, err
	}
	now := s.now()
	b := &Bill{
		ID:             uuid.New(),
		PatientRef:     req.PatientRef,
		DoctorRef:      req.DoctorRef,
		AppointmentRef: appointmentRef,
		Patient:        patient,
		Doctor:         doctor,
		Status:         status,
		BillDate:       now,
		DueDate:        req.DueDate,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b.DueDate == nil && s.paymentTerms > 0 {
		due := now.Add(s.paymentTerms)
		b.DueDate = &due
	}
	if req.ConsultationFee != nil {
		addedBy := actor.ID
		if req.DoctorRef != nil {
			addedBy = *req.DoctorRef
		}
		if err := b.SetConsultationFee(*req.ConsultationFee, req.ConsultationNotes, addedBy, now); err != nil {
			return nil, err
		}
	}
	b.Recompute()
	if err := s.bills.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("bill_id", b.ID.String()).Str("status", string(b.Status)).Str("actor_id", actor.ID).Msg("bill created")
	s.publish(ctx, EventBillCreated, b, actor)
	return b, nil
}

// CreateBillFromAppointment opens a pending bill for a completed appointment.
// Repeated events for the same appointment return the existing bill with
// created=false.
func (s *Service) CreateBillFromAppointment(ctx context.Context, ev AppointmentCompleted) (*Bill, bool, error) {
	if err := ev.Validate(); err != nil {
		return nil, false, err
	}
	if existing, err := s.bills.GetByAppointment(ctx, ev.AppointmentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	doctor := ev.DoctorID
	req := CreateBillRequest{
		PatientRef:      ev.PatientID,
		DoctorRef:       &doctor,
		ConsultationFee: ev.ConsultationFee,
		Notes:           ev.Notes,
	}
	ref := ev.AppointmentID
	b, err := s.create(ctx, SystemActor, StatusPending, req, &ref)
	if errors.Is(err, ErrDuplicateAppointment) {
		existing, gerr := s.bills.GetByAppointment(ctx, ev.AppointmentID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Service) GetBill(ctx context.Context, actor Actor, id uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.AuthorizeRead(actor, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListBills(ctx context.Context, actor Actor, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	f, err := s.policy.ScopeFilter(actor, f)
	if err != nil {
		return nil, 0, err
	}
	return s.bills.List(ctx, f, limit, offset)
}

// mutate loads the bill, applies fn and writes it back under the version
// guard. A positive expectedVersion pins the version the caller edited; a
// mismatch fails at once. Otherwise conflicts are retried up to maxRetries
// times against a fresh copy.
func (s *Service) mutate(ctx context.Context, actor Actor, id uuid.UUID, expectedVersion int, event string, fn func(b *Bill, now time.Time) error) (*Bill, error) {
	for attempt := 0; ; attempt++ {
		b, err := s.bills.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if expectedVersion > 0 && b.Version != expectedVersion {
			return nil, conflictError(b.Version)
		}
		from := b.Status
		now := s.now()
		if err := fn(b, now); err != nil {
			return nil, err
		}
		b.Recompute()
		b.UpdatedAt = now

		err = s.bills.Update(ctx, b)
		if err == nil {
			if from != b.Status {
				s.logger.Info().Str("bill_id", b.ID.String()).Str("from", string(from)).
					Str("to", string(b.Status)).Str("actor_id", actor.ID).Msg("bill status changed")
			}
			if event != "" {
				s.publish(ctx, event, b, actor)
			}
			if b.Status == StatusPaid && from != StatusPaid {
				s.publish(ctx, EventBillPaid, b, actor)
			}
			return b, nil
		}
		if !errors.Is(err, ErrConflict) || expectedVersion > 0 || attempt >= s.maxRetries {
			return nil, err
		}
		s.logger.Debug().Str("bill_id", id.String()).Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
}

func (s *Service) SetConsultationFee(ctx context.Context, actor Actor, id uuid.UUID, version int, amount decimal.Decimal, notes string) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizeField(actor, b, FieldConsultationFee); err != nil {
			return err
		}
		return b.SetConsultationFee(amount, notes, actor.ID, now)
	})
}

func (s *Service) SetHospitalCharges(ctx context.Context, actor Actor, id uuid.UUID, version int, charges HospitalCharges) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizeField(actor, b, FieldHospitalCharges); err != nil {
			return err
		}
		return b.SetHospitalCharges(charges, actor.ID, now)
	})
}

func (s *Service) AddItem(ctx context.Context, actor Actor, id uuid.UUID, version int, item Item) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, _ time.Time) error {
		if err := s.policy.AuthorizeField(actor, b, FieldItems); err != nil {
			return err
		}
		return b.AddItem(item)
	})
}

func (s *Service) UpdateItem(ctx context.Context, actor Actor, id uuid.UUID, version, index int, patch ItemPatch) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, _ time.Time) error {
		if err := s.policy.AuthorizeField(actor, b, FieldItems); err != nil {
			return err
		}
		return b.UpdateItem(index, patch)
	})
}

func (s *Service) RemoveItem(ctx context.Context, actor Actor, id uuid.UUID, version, index int) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, _ time.Time) error {
		if err := s.policy.AuthorizeField(actor, b, FieldItems); err != nil {
			return err
		}
		return b.RemoveItem(index)
	})
}

func (s *Service) SetAdjustments(ctx context.Context, actor Actor, id uuid.UUID, version int, adj Adjustments) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, "", func(b *Bill, _ time.Time) error {
		if adj.TaxRate != nil {
			if err := s.policy.AuthorizeField(actor, b, FieldTaxRate); err != nil {
				return err
			}
		}
		if adj.Discount != nil || adj.DiscountReason != nil {
			if err := s.policy.AuthorizeField(actor, b, FieldDiscount); err != nil {
				return err
			}
		}
		return b.SetAdjustments(adj)
	})
}

func (s *Service) FinalizeBill(ctx context.Context, actor Actor, id uuid.UUID, version int) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, EventBillFinalized, func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizeStatusChange(actor, b, StatusFinalized); err != nil {
			return err
		}
		return b.Finalize(actor.ID, now)
	})
}

func (s *Service) CancelBill(ctx context.Context, actor Actor, id uuid.UUID, version int, reason string) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, EventBillCancelled, func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizeStatusChange(actor, b, StatusCancelled); err != nil {
			return err
		}
		return b.Cancel(actor.ID, strings.TrimSpace(reason), now)
	})
}

// RecordPayment appends a payment. On a conflict retry the balance is
// re-read, so a payment that no longer fits is rejected rather than capped.
func (s *Service) RecordPayment(ctx context.Context, actor Actor, id uuid.UUID, version int, req PaymentRequest) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, EventPaymentRecorded, func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizePayment(actor, b); err != nil {
			return err
		}
		_, err := b.RecordPayment(req, actor.ID, now)
		return err
	})
}

func (s *Service) ReversePayment(ctx context.Context, actor Actor, id uuid.UUID, version int, paymentID uuid.UUID, req ReversalRequest) (*Bill, error) {
	return s.mutate(ctx, actor, id, version, EventPaymentReversed, func(b *Bill, now time.Time) error {
		if err := s.policy.AuthorizeReversal(actor, b); err != nil {
			return err
		}
		_, err := b.ReversePayment(paymentID, req, actor.ID, now)
		return err
	})
}

// SweepOverdue moves past-due bills to overdue through the same
// version-guarded path as user writes. Bills that changed underneath are
// re-evaluated by the retry loop; bills that no longer qualify are skipped.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time, batch int) (int, error) {
	candidates, err := s.bills.ListOverdueCandidates(ctx, now, batch)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		_, err := s.mutate(ctx, SystemActor, c.ID, 0, EventBillOverdue, func(b *Bill, _ time.Time) error {
			return b.MarkOverdue(now)
		})
		switch {
		case err == nil:
			moved++
		case errors.Is(err, ErrBillLocked), errors.Is(err, ErrNotFound):
			continue
		default:
			s.logger.Error().Err(err).Str("bill_id", c.ID.String()).Msg("overdue sweep failed for bill")
		}
	}
	return moved, nil
}
