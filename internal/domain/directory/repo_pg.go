package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const personCols = `id, first_name, last_name, email, active, created_at, updated_at`

func (r *repoPG) Get(ctx context.Context, kind Kind, id string) (*Person, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+personCols+` FROM `+kind.table()+` WHERE id = $1`, id)
	p, err := scanPerson(row, kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return p, nil
}

func (r *repoPG) Upsert(ctx context.Context, p *Person) error {
	now := time.Now().UTC()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+p.Kind.table()+` (id, first_name, last_name, email, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			email      = EXCLUDED.email,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, nullable(p.Email), p.Active, now,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", p.Kind, err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	var total int
	people := []*Person{}
	err := db.ReadSnapshot(ctx, func(ctx context.Context) error {
		if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+kind.table()).Scan(&total); err != nil {
			return fmt.Errorf("count %s: %w", kind, err)
		}
		rows, err := r.conn(ctx).Query(ctx,
			`SELECT `+personCols+` FROM `+kind.table()+` ORDER BY last_name, first_name, id LIMIT $1 OFFSET $2`,
			limit, offset)
		if err != nil {
			return fmt.Errorf("list %s: %w", kind, err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPerson(rows, kind)
			if err != nil {
				return err
			}
			people = append(people, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return people, total, nil
}

func scanPerson(row pgx.Row, kind Kind) (*Person, error) {
	p := Person{Kind: kind}
	var email *string
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &email, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
