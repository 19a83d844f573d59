package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// PgxPool is the subset of *pgxpool.Pool used by PGStore.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists turns to the conversation_turns table.
type PGStore struct {
	db  PgxPool
	now func() time.Time
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db PgxPool) *PGStore {
	if db == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PGStore{db: db, now: time.Now}
}

// Append inserts turns in one transaction and writes the assigned ids back
// into turns.
func (s *PGStore) Append(ctx context.Context, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := validate(turns); err != nil {
		return err
	}
	stamp(turns, s.now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conversation: begin append: %w", err)
	}
	for i := range turns {
		t := &turns[i]
		var rxID pgtype.Int8
		if t.PrescriptionID != nil {
			rxID = pgtype.Int8{Int64: *t.PrescriptionID, Valid: true}
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO conversation_turns (user_id, sender, text, prescription_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, t.UserID, string(t.Sender), t.Text, rxID, t.CreatedAt).Scan(&t.ID); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("conversation: insert turn: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conversation: commit append: %w", err)
	}
	return nil
}

func (s *PGStore) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, `
			SELECT id, user_id, sender, text, prescription_id, created_at
			FROM (
				SELECT id, user_id, sender, text, prescription_id, created_at
				FROM conversation_turns
				WHERE user_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			) recent
			ORDER BY created_at ASC, id ASC
		`, userID, limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, user_id, sender, text, prescription_id, created_at
			FROM conversation_turns
			WHERE user_id = $1
			ORDER BY created_at ASC, id ASC
		`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: query history: %w", err)
	}
	return scanTurns(rows)
}

// ByPrescription returns the user's turns that reference prescriptionID,
// oldest first.
func (s *PGStore) ByPrescription(ctx context.Context, userID string, prescriptionID int64) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, sender, text, prescription_id, created_at
		FROM conversation_turns
		WHERE user_id = $1 AND prescription_id = $2
		ORDER BY created_at ASC, id ASC
	`, userID, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("conversation: query prescription turns: %w", err)
	}
	return scanTurns(rows)
}

func (s *PGStore) ClearUser(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversation_turns WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("conversation: clear history: %w", err)
	}
	return nil
}

func scanTurns(rows pgx.Rows) ([]Turn, error) {
	defer rows.Close()

	out := []Turn{}
	for rows.Next() {
		var (
			t      Turn
			sender string
			rxID   pgtype.Int8
		)
		if err := rows.Scan(&t.ID, &t.UserID, &sender, &t.Text, &rxID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		t.Sender = Sender(sender)
		if rxID.Valid {
			id := rxID.Int64
			t.PrescriptionID = &id
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: read history: %w", err)
	}
	return out, nil
}
