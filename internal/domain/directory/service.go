package directory

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ValidationError reports a rejected directory entry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (s *Service) Register(ctx context.Context, p *Person) error {
	p.ID = strings.TrimSpace(p.ID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)

	switch {
	case p.Kind != KindPatient && p.Kind != KindDoctor:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", p.Kind)}
	case p.ID == "":
		return &ValidationError{Field: "id", Message: "id is required"}
	case len(p.ID) > 64:
		return &ValidationError{Field: "id", Message: "id must be at most 64 characters"}
	case p.FirstName == "" && p.LastName == "":
		return &ValidationError{Field: "last_name", Message: "a name is required"}
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return &ValidationError{Field: "email", Message: fmt.Sprintf("invalid email %q", p.Email)}
		}
	}
	p.Active = true
	return s.repo.Upsert(ctx, p)
}

func (s *Service) Get(ctx context.Context, kind Kind, id string) (*Person, error) {
	return s.repo.Get(ctx, kind, strings.TrimSpace(id))
}

func (s *Service) List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	return s.repo.List(ctx, kind, limit, offset)
}
