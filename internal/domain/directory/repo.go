package directory

import "context"

type Repository interface {
	Get(ctx context.Context, kind Kind, id string) (*Person, error)
	// Upsert inserts p or replaces the names and email of an existing entry.
	Upsert(ctx context.Context, p *Person) error
	List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error)
}
