package override

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

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO override_record (id, case_id, previous_hospital_id, previous_hospital_name,
			previous_score, new_hospital_id, new_hospital_name, new_score,
			score_difference, reason_code, reason_text, actor_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.CaseID, rec.PreviousHospitalID, rec.PreviousHospitalName,
		rec.PreviousScore, rec.NewHospitalID, rec.NewHospitalName, rec.NewScore,
		rec.ScoreDifference, rec.ReasonCode, rec.ReasonText, rec.ActorID)
	return err
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, case_id, previous_hospital_id, previous_hospital_name,
			previous_score, new_hospital_id, new_hospital_name, new_score,
			score_difference, reason_code, reason_text, actor_id, created_at
		FROM override_record
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.PreviousHospitalID, &rec.PreviousHospitalName,
			&rec.PreviousScore, &rec.NewHospitalID, &rec.NewHospitalName, &rec.NewScore,
			&rec.ScoreDifference, &rec.ReasonCode, &rec.ReasonText, &rec.ActorID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}
