package handover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ems/ems/internal/domain/dispatch"
	"github.com/ems/ems/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return dispatch.ErrNotFound
	}
	if db.IsTransient(err) {
		return fmt.Errorf("%w: %v", dispatch.ErrTransientStore, err)
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, s *Summary) error {
	vitals, err := json.Marshal(s.Vitals)
	if err != nil {
		return fmt.Errorf("encoding vitals: %w", err)
	}
	flags := s.TriageFlags
	if flags == nil {
		flags = []string{}
	}
	triageFlags, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encoding triage flags: %w", err)
	}
	timeline, err := json.Marshal(s.Timeline)
	if err != nil {
		return fmt.Errorf("encoding timeline: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO handover_summary (id, case_id, hospital_id, patient_name, patient_age,
			emergency_type, acuity_level, vitals, triage_flags, timeline, initiated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.CaseID, s.HospitalID, s.PatientName, s.PatientAge,
		s.EmergencyType, s.AcuityLevel, vitals, triageFlags, timeline, s.InitiatedBy)
	return wrapErr(err)
}

func (r *repoPG) GetByCase(ctx context.Context, caseID uuid.UUID) (*Summary, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, case_id, hospital_id, patient_name, patient_age,
			emergency_type, acuity_level, vitals, triage_flags, timeline,
			initiated_by, created_at
		FROM handover_summary
		WHERE case_id = $1`, caseID)

	var s Summary
	var vitals, triageFlags, timeline []byte
	err := row.Scan(&s.ID, &s.CaseID, &s.HospitalID, &s.PatientName, &s.PatientAge,
		&s.EmergencyType, &s.AcuityLevel, &vitals, &triageFlags, &timeline,
		&s.InitiatedBy, &s.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	if err := json.Unmarshal(vitals, &s.Vitals); err != nil {
		return nil, fmt.Errorf("decoding vitals: %w", err)
	}
	if err := json.Unmarshal(triageFlags, &s.TriageFlags); err != nil {
		return nil, fmt.Errorf("decoding triage flags: %w", err)
	}
	if err := json.Unmarshal(timeline, &s.Timeline); err != nil {
		return nil, fmt.Errorf("decoding timeline: %w", err)
	}
	return &s, nil
}
