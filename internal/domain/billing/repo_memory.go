package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local BillRepository used by tests and by
// BILL_STORE=memory. Bills are cloned on the way in and out.
type MemoryRepository struct {
	mu    sync.RWMutex
	bills map[uuid.UUID]*Bill
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bills: make(map[uuid.UUID]*Bill)}
}

func (r *MemoryRepository) Create(_ context.Context, b *Bill) error {
	if err := b.CheckTotals(); err != nil {
		return fmt.Errorf("create bill: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.AppointmentRef != nil {
		for _, existing := range r.bills {
			if existing.AppointmentRef != nil && *existing.AppointmentRef == *b.AppointmentRef {
				return ErrDuplicateAppointment
			}
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Version = 1
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	r.bills[b.ID] = b.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Bill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bills[id]
	if !ok {
		return nil, notFoundError(id)
	}
	return b.Clone(), nil
}

func (r *MemoryRepository) GetByAppointment(_ context.Context, appointmentRef string) (*Bill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bills {
		if b.AppointmentRef != nil && *b.AppointmentRef == appointmentRef {
			return b.Clone(), nil
		}
	}
	return nil, &Error{Kind: ErrNotFound, Message: fmt.Sprintf("no bill for appointment %s", appointmentRef)}
}

func (r *MemoryRepository) Update(_ context.Context, b *Bill) error {
	if err := b.CheckTotals(); err != nil {
		return fmt.Errorf("update bill %s: %w", b.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bills[b.ID]
	if !ok {
		return notFoundError(b.ID)
	}
	if cur.Version != b.Version {
		return conflictError(cur.Version)
	}
	b.Version++
	r.bills[b.ID] = b.Clone()
	return nil
}

func (r *MemoryRepository) matching(f ListFilter) []*Bill {
	var out []*Bill
	for _, b := range r.bills {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.PatientRef != "" && b.PatientRef != f.PatientRef {
			continue
		}
		if f.DoctorRef != "" && (b.DoctorRef == nil || *b.DoctorRef != f.DoctorRef) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.matching(f)
	total := len(all)
	if offset >= total {
		return []*Bill{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]*Bill, 0, end-offset)
	for _, b := range all[offset:end] {
		page = append(page, b.Clone())
	}
	return page, total, nil
}

func (r *MemoryRepository) ListOverdueCandidates(_ context.Context, now time.Time, limit int) ([]*Bill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Bill
	for _, b := range r.bills {
		if !b.IsOverdue(now) {
			continue
		}
		out = append(out, b.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
