package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// PgxPool is the subset of *pgxpool.Pool used by PGStore.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists prescription records to PostgreSQL.
type PGStore struct {
	db PgxPool
}

var _ Store = (*PGStore)(nil)

// NewPGStore builds a Postgres-backed Store.
func NewPGStore(db PgxPool) *PGStore {
	if db == nil {
		panic("prescription: pgx pool cannot be nil")
	}
	return &PGStore{db: db}
}

const selectColumns = `id, user_id, file_key, file_url, original_filename, content_type,
	analysis_text, status, error_message, created_at, updated_at, analyzed_at`

// Create inserts a pending record and fills in its id and timestamps.
func (s *PGStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("prescription: record cannot be nil")
	}
	if strings.TrimSpace(rec.UserID) == "" {
		return errors.New("prescription: user id required")
	}

	now := time.Now().UTC()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := s.db.QueryRow(ctx, `
		INSERT INTO prescriptions (
			user_id, file_key, file_url, original_filename, content_type,
			status, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, rec.UserID, rec.FileKey, rec.FileURL, rec.OriginalFilename, rec.ContentType,
		string(rec.Status), now, now).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("prescription: failed to persist record: %w", err)
	}
	return nil
}

// Get loads a record by id.
func (s *PGStore) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM prescriptions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prescription: failed to fetch record %d: %w", id, err)
	}
	return rec, nil
}

// ListByUser returns the user's records, newest first.
func (s *PGStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+selectColumns+`
		FROM prescriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("prescription: failed to list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("prescription: failed to scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prescription: failed to list records: %w", err)
	}
	return out, nil
}

// MarkCompleted stores the analysis. A record that is already completed keeps
// its first analysis.
func (s *PGStore) MarkCompleted(ctx context.Context, id int64, analysis string) error {
	now := time.Now().UTC()
	result, err := s.db.Exec(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    analysis_text = $3,
		    error_message = '',
		    updated_at = $4,
		    analyzed_at = $4
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, id, string(StatusCompleted), analysis, now)
	if err != nil {
		return fmt.Errorf("prescription: failed to complete record %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return s.ensureExists(ctx, id)
	}
	return nil
}

// MarkFailed records a failed attempt. Only pending records can fail.
func (s *PGStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    error_message = $3,
		    updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, string(StatusFailed), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("prescription: failed to fail record %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return s.ensureExists(ctx, id)
	}
	return nil
}

// ResetForRetry moves a failed record back to pending.
func (s *PGStore) ResetForRetry(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    error_message = '',
		    updated_at = $3
		WHERE id = $1 AND status = 'failed'
	`, id, string(StatusPending), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("prescription: failed to reset record %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return false, s.ensureExists(ctx, id)
	}
	return true, nil
}

// Delete removes a record.
func (s *PGStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("prescription: failed to delete record %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ensureExists(ctx context.Context, id int64) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1 FROM prescriptions WHERE id = $1`, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("prescription: failed to check record %d: %w", id, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec        Record
		status     string
		filename   pgtype.Text
		ctype      pgtype.Text
		analysis   pgtype.Text
		errMsg     pgtype.Text
		analyzedAt pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.FileKey, &rec.FileURL, &filename, &ctype,
		&analysis, &status, &errMsg, &rec.CreatedAt, &rec.UpdatedAt, &analyzedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.OriginalFilename = filename.String
	rec.ContentType = ctype.String
	rec.AnalysisText = analysis.String
	rec.ErrorMessage = errMsg.String
	if analyzedAt.Valid {
		t := analyzedAt.Time
		rec.AnalyzedAt = &t
	}
	return &rec, nil
}
