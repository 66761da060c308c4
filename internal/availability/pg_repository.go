package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPool is the part of *pgxpool.Pool the repository uses.
type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool dbPool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const templateCols = `id, doctor_id, day_of_week, start_minute, end_minute, enabled, created_at, updated_at`

const statusCols = `id, doctor_id, status, reason, effective_until, changed_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var day, start, end int

	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&day,
		&start,
		&end,
		&t.Enabled,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	t.Day = Weekday(day)
	t.Start = TimeOfDay(start)
	t.End = TimeOfDay(end)
	return &t, nil
}

func scanStatus(row pgx.Row) (*StatusRecord, error) {
	var s StatusRecord
	var status string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&status,
		&s.Reason,
		&s.EffectiveUntil,
		&s.ChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}

	s.Status = Status(status)
	return &s, nil
}

func collectTemplates(rows pgx.Rows) ([]Template, error) {
	defer rows.Close()

	var result []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectStatuses(rows pgx.Rows) ([]StatusRecord, error) {
	defer rows.Close()

	var result []StatusRecord
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Templates

func (r *PgRepository) UpsertTemplate(ctx context.Context, doctorID uuid.UUID, day Weekday, start, end TimeOfDay) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_time_slots (id, doctor_id, day_of_week, start_minute, end_minute, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
		ON CONFLICT (doctor_id, day_of_week, start_minute, end_minute)
		DO UPDATE SET enabled = TRUE, updated_at = now()
		RETURNING `+templateCols,
		uuid.New(), doctorID, int(day), int(start), int(end))
	return scanTemplate(row)
}

func (r *PgRepository) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateCols+`
		FROM doctor_time_slots
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_minute, end_minute
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectTemplates(rows)
}

func (r *PgRepository) ListEnabledTemplates(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateCols+`
		FROM doctor_time_slots
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND enabled
		ORDER BY start_minute
	`, doctorID, int(day))
	if err != nil {
		return nil, err
	}
	return collectTemplates(rows)
}

func (r *PgRepository) SetTemplateEnabled(ctx context.Context, doctorID, id uuid.UUID, enabled bool) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_time_slots
		SET enabled = $3,
		    updated_at = CASE WHEN enabled = $3 THEN updated_at ELSE now() END
		WHERE id = $1
		  AND doctor_id = $2
		RETURNING `+templateCols,
		id, doctorID, enabled)
	return scanTemplate(row)
}

func (r *PgRepository) DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_time_slots
		WHERE id = $1
		  AND doctor_id = $2
	`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Status history

// Appends for one doctor are serialised on a transaction-scoped advisory lock. The insert runs
// as its own statement after the lock is granted so its snapshot sees any append that committed
// while this one waited.
const statusAppendLock = `SELECT pg_advisory_xact_lock(hashtext($1::text))`

func (r *PgRepository) appendStatusLocked(ctx context.Context, doctorID uuid.UUID, insert func(tx pgx.Tx) (*StatusRecord, error)) (*StatusRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, statusAppendLock, doctorID.String()); err != nil {
		return nil, fmt.Errorf("lock status history: %w", err)
	}

	rec, err := insert(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (r *PgRepository) AppendStatus(ctx context.Context, rec StatusRecord) (*StatusRecord, error) {
	return r.appendStatusLocked(ctx, rec.DoctorID, func(tx pgx.Tx) (*StatusRecord, error) {
		row := tx.QueryRow(ctx, `
			INSERT INTO doctor_status_history (doctor_id, status, reason, effective_until, changed_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+statusCols,
			rec.DoctorID, string(rec.Status), rec.Reason, rec.EffectiveUntil, rec.ChangedAt)
		return scanStatus(row)
	})
}

func (r *PgRepository) AppendStatusIfLatest(ctx context.Context, rec StatusRecord, latestID int64) (*StatusRecord, error) {
	return r.appendStatusLocked(ctx, rec.DoctorID, func(tx pgx.Tx) (*StatusRecord, error) {
		row := tx.QueryRow(ctx, `
			INSERT INTO doctor_status_history (doctor_id, status, reason, effective_until, changed_at)
			SELECT $1, $2, $3, $4, $5
			WHERE (
				SELECT id FROM doctor_status_history
				WHERE doctor_id = $1
				ORDER BY id DESC
				LIMIT 1
			) = $6
			RETURNING `+statusCols,
			rec.DoctorID, string(rec.Status), rec.Reason, rec.EffectiveUntil, rec.ChangedAt, latestID)

		s, err := scanStatus(row)
		if errors.Is(err, ErrStatusNotFound) {
			return nil, ErrStatusSuperseded
		}
		return s, err
	})
}

func (r *PgRepository) LatestStatus(ctx context.Context, doctorID uuid.UUID) (*StatusRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+statusCols+`
		FROM doctor_status_history
		WHERE doctor_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, doctorID)
	return scanStatus(row)
}

func (r *PgRepository) StatusPage(ctx context.Context, doctorID uuid.UUID, beforeID int64, limit int) ([]StatusRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+statusCols+`
		FROM doctor_status_history
		WHERE doctor_id = $1
		  AND ($2 <= 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`, doctorID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return collectStatuses(rows)
}

func (r *PgRepository) ExpiredStatuses(ctx context.Context, now time.Time) ([]StatusRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+statusCols+`
		FROM (
			SELECT DISTINCT ON (doctor_id) `+statusCols+`
			FROM doctor_status_history
			ORDER BY doctor_id, id DESC
		) latest
		WHERE status <> 'available'
		  AND effective_until IS NOT NULL
		  AND effective_until < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectStatuses(rows)
}
