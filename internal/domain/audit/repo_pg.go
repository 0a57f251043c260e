package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ems/ems/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	detail := e.Detail
	if detail == nil {
		detail = []byte("null")
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, case_id, kind, actor_id, detail)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.CaseID, e.Kind, e.ActorID, detail)
	return err
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, case_id, kind, actor_id, detail, created_at
		FROM audit_event
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Kind, &e.ActorID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
