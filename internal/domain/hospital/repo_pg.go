package hospital

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ems/ems/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const profileCols = `id, name, canonical, live, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var canonical, live []byte
	if err := row.Scan(&p.ID, &p.Name, &canonical, &live, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(canonical, &p.Canonical); err != nil {
		return nil, fmt.Errorf("decoding canonical snapshot: %w", err)
	}
	if err := json.Unmarshal(live, &p.Live); err != nil {
		return nil, fmt.Errorf("decoding live snapshot: %w", err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	canonical, err := json.Marshal(p.Canonical)
	if err != nil {
		return err
	}
	live, err := json.Marshal(p.Live)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO hospital_profile (id, name, canonical, live)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, canonical, live)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	// The whole profile comes back in one row read so the ranker never sees
	// a torn update between the two layers.
	return scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+profileCols+` FROM hospital_profile WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Profile) error {
	canonical, err := json.Marshal(p.Canonical)
	if err != nil {
		return err
	}
	live, err := json.Marshal(p.Live)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE hospital_profile SET name = $2, canonical = $3, live = $4, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, canonical, live)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM hospital_profile WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Profile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospital_profile`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+profileCols+` FROM hospital_profile ORDER BY name ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
