package dispatch

import (
	"context"
	"encoding/json"
	"errors"
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

// wrapErr translates store failures into package sentinels: row absence to
// ErrNotFound, connectivity loss to ErrTransientStore.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if db.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

func (r *repoPG) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithTx(ctx, r.pool, fn)
	if err != nil && db.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

const caseCols = `id, emergency_type, acuity_level, patient_name, patient_age,
	vitals, location, triage_flags, status, rejection_count,
	awaiting_response_since, override_used, handover_status,
	accepted_hospital_id, override_hospital_id, notification_log,
	created_at, dispatched_at, accepted_at, enroute_at,
	escalation_triggered_at, completed_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var vitals, location, triageFlags, notificationLog []byte
	err := row.Scan(&c.ID, &c.EmergencyType, &c.AcuityLevel, &c.PatientName, &c.PatientAge,
		&vitals, &location, &triageFlags, &c.Status, &c.RejectionCount,
		&c.AwaitingResponseSince, &c.OverrideUsed, &c.HandoverStatus,
		&c.AcceptedHospitalID, &c.OverrideHospitalID, &notificationLog,
		&c.CreatedAt, &c.DispatchedAt, &c.AcceptedAt, &c.EnrouteAt,
		&c.EscalationTriggeredAt, &c.CompletedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vitals, &c.Vitals); err != nil {
		return nil, fmt.Errorf("decoding vitals: %w", err)
	}
	if err := json.Unmarshal(location, &c.Location); err != nil {
		return nil, fmt.Errorf("decoding location: %w", err)
	}
	if err := json.Unmarshal(triageFlags, &c.TriageFlags); err != nil {
		return nil, fmt.Errorf("decoding triage flags: %w", err)
	}
	if err := json.Unmarshal(notificationLog, &c.NotificationLog); err != nil {
		return nil, fmt.Errorf("decoding notification log: %w", err)
	}
	return &c, nil
}

func marshalCaseJSON(c *Case) (vitals, location, triageFlags, notificationLog []byte, err error) {
	if vitals, err = json.Marshal(c.Vitals); err != nil {
		return
	}
	if location, err = json.Marshal(c.Location); err != nil {
		return
	}
	if c.TriageFlags == nil {
		triageFlags = []byte("[]")
	} else if triageFlags, err = json.Marshal(c.TriageFlags); err != nil {
		return
	}
	if c.NotificationLog == nil {
		notificationLog = []byte("[]")
	} else if notificationLog, err = json.Marshal(c.NotificationLog); err != nil {
		return
	}
	return
}

func (r *repoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	vitals, location, triageFlags, notificationLog, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO emergency_case (id, emergency_type, acuity_level, patient_name, patient_age,
			vitals, location, triage_flags, status, rejection_count,
			override_used, handover_status, notification_log)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.EmergencyType, c.AcuityLevel, c.PatientName, c.PatientAge,
		vitals, location, triageFlags, c.Status, c.RejectionCount,
		c.OverrideUsed, c.HandoverStatus, notificationLog)
	return wrapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM emergency_case WHERE id = $1`, id))
	return c, wrapErr(err)
}

// GetForUpdate locks the case row until the surrounding transaction ends.
// This is the guard primitive: the status every transition validates against
// cannot change underneath it before the write commits.
func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM emergency_case WHERE id = $1 FOR UPDATE`, id))
	return c, wrapErr(err)
}

func (r *repoPG) Save(ctx context.Context, c *Case) error {
	vitals, location, triageFlags, notificationLog, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE emergency_case SET
			emergency_type = $2, acuity_level = $3, patient_name = $4, patient_age = $5,
			vitals = $6, location = $7, triage_flags = $8, status = $9,
			rejection_count = $10, awaiting_response_since = $11, override_used = $12,
			handover_status = $13, accepted_hospital_id = $14, override_hospital_id = $15,
			notification_log = $16, dispatched_at = $17, accepted_at = $18,
			enroute_at = $19, escalation_triggered_at = $20, completed_at = $21,
			updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.EmergencyType, c.AcuityLevel, c.PatientName, c.PatientAge,
		vitals, location, triageFlags, c.Status,
		c.RejectionCount, c.AwaitingResponseSince, c.OverrideUsed,
		c.HandoverStatus, c.AcceptedHospitalID, c.OverrideHospitalID,
		notificationLog, c.DispatchedAt, c.AcceptedAt,
		c.EnrouteAt, c.EscalationTriggeredAt, c.CompletedAt)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	query := `SELECT ` + caseCols + ` FROM emergency_case`
	countQuery := `SELECT COUNT(*) FROM emergency_case`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		countQuery += ` WHERE status = $1`
		args = append(args, status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr(err)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr(err)
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, wrapErr(rows.Err())
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status) ([]*Case, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM emergency_case WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, wrapErr(rows.Err())
}
