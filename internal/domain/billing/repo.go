package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateAppointment is returned by Create when a bill already exists
// for the appointment.
var ErrDuplicateAppointment = errors.New("bill already exists for appointment")

// BillRepository persists bills. Update is version-guarded: it succeeds only
// if the stored version equals b.Version, then increments b.Version. A stale
// version yields ErrConflict, a missing row ErrNotFound.
type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetByAppointment(ctx context.Context, appointmentRef string) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error)
	// ListOverdueCandidates returns past-due bills. limit <= 0 means no limit.
	ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]*Bill, error)
}
