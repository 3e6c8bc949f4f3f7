package directory

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("directory: not found")

type Kind string

const (
	KindPatient Kind = "patient"
	KindDoctor  Kind = "doctor"
)

// table is the backing table for each kind.
func (k Kind) table() string {
	if k == KindDoctor {
		return "practitioner"
	}
	return "patient"
}

// Person is a patient or doctor as far as billing cares: a stable reference,
// a display name and a contact email.
type Person struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Person) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
