package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository backs the directory when BILL_STORE=memory and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	people map[Kind]map[string]Person
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{people: map[Kind]map[string]Person{
		KindPatient: {},
		KindDoctor:  {},
	}}
}

func (m *MemoryRepository) Get(_ context.Context, kind Kind, id string) (*Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, p *Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if cur, ok := m.people[p.Kind][p.ID]; ok {
		p.CreatedAt = cur.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if m.people[p.Kind] == nil {
		m.people[p.Kind] = map[string]Person{}
	}
	m.people[p.Kind][p.ID] = *p
	return nil
}

func (m *MemoryRepository) List(_ context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	m.mu.RLock()
	all := make([]Person, 0, len(m.people[kind]))
	for _, p := range m.people[kind] {
		all = append(all, p)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].LastName != all[j].LastName {
			return all[i].LastName < all[j].LastName
		}
		if all[i].FirstName != all[j].FirstName {
			return all[i].FirstName < all[j].FirstName
		}
		return all[i].ID < all[j].ID
	})

	out := []*Person{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		p := all[i]
		out = append(out, &p)
	}
	return out, len(all), nil
}
