// Package conversation keeps the ordered chat history of each user.
// Postgres is the source of truth; Redis holds a bounded, recent-first
// window of it.
package conversation

import (
	"context"
	"errors"
	"time"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ErrInvalidTurn is returned when a turn is missing its user or sender.
var ErrInvalidTurn = errors.New("conversation: invalid turn")

// Turn is one message in a user's conversation.
type Turn struct {
	ID             int64     `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	Sender         Sender    `json:"sender"`
	Text           string    `json:"text"`
	PrescriptionID *int64    `json:"prescription_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists turns.
type Store interface {
	// Append writes all turns atomically, in order.
	Append(ctx context.Context, turns ...Turn) error
	// Recent returns at most limit turns, oldest first. A non-positive limit
	// returns the whole history.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)
	// ByPrescription returns the user's turns that reference one
	// prescription, oldest first.
	ByPrescription(ctx context.Context, userID string, prescriptionID int64) ([]Turn, error)
	ClearUser(ctx context.Context, userID string) error
}

func validate(turns []Turn) error {
	for _, t := range turns {
		if t.UserID == "" {
			return errors.Join(ErrInvalidTurn, errors.New("user id required"))
		}
		if t.Sender != SenderUser && t.Sender != SenderAssistant {
			return errors.Join(ErrInvalidTurn, errors.New("unknown sender "+string(t.Sender)))
		}
	}
	return nil
}

// stamp assigns strictly increasing creation times so turns appended
// together keep their order under (created_at, id) sorting.
func stamp(turns []Turn, now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	for i := range turns {
		turns[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
	}
}
