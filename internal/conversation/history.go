package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

// History reads through the session cache and writes to the durable store.
// Cache failures never fail a call.
type History struct {
	store  Store
	cache  *SessionCache
	logger *logging.Logger
}

var _ Store = (*History)(nil)

// NewHistory wires a durable store with an optional cache.
func NewHistory(store Store, cache *SessionCache, logger *logging.Logger) *History {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &History{store: store, cache: cache, logger: logger}
}

func (h *History) Append(ctx context.Context, turns ...Turn) error {
	if err := h.store.Append(ctx, turns...); err != nil {
		return err
	}
	if h.cache == nil || len(turns) == 0 {
		return nil
	}
	userID := turns[0].UserID
	if err := h.cache.Push(ctx, userID, turns...); err != nil {
		h.logger.Warn("conversation cache push failed, dropping cached window", "user_id", userID, "error", err)
		if err := h.cache.Clear(ctx, userID); err != nil {
			h.logger.Warn("conversation cache clear failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (h *History) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if h.cache == nil || limit <= 0 || limit > h.cache.Size() {
		return h.store.Recent(ctx, userID, limit)
	}

	turns, ok, err := h.cache.Recent(ctx, userID, limit)
	if err != nil {
		h.logger.Warn("conversation cache read failed", "user_id", userID, "error", err)
	}
	if ok {
		return turns, nil
	}

	// The version is read before the durable snapshot so a turn committed
	// in between makes the fill a no-op instead of caching a gap.
	version, verr := h.cache.Version(ctx, userID)
	turns, err = h.store.Recent(ctx, userID, h.cache.Size())
	if err != nil {
		return nil, err
	}
	switch {
	case verr != nil:
		h.logger.Warn("conversation cache version read failed, skipping fill", "user_id", userID, "error", verr)
	default:
		if err := h.cache.Fill(ctx, userID, turns, version); errors.Is(err, ErrStaleWindow) {
			h.logger.Debug("conversation cache fill skipped, window changed", "user_id", userID)
		} else if err != nil {
			h.logger.Warn("conversation cache fill failed", "user_id", userID, "error", err)
		}
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// ByPrescription always reads the durable store; the cache only holds the
// recent window.
func (h *History) ByPrescription(ctx context.Context, userID string, prescriptionID int64) ([]Turn, error) {
	return h.store.ByPrescription(ctx, userID, prescriptionID)
}

func (h *History) ClearUser(ctx context.Context, userID string) error {
	if err := h.store.ClearUser(ctx, userID); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.Clear(ctx, userID); err != nil {
			h.logger.Warn("conversation cache clear failed", "user_id", userID, "error", err)
		}
	}
	return nil
}
