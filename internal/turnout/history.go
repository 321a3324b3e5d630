package turnout

import (
	"context"
	"time"
)

// historyWriteTimeout bounds each repository write made by the recorder.
const historyWriteTimeout = 5 * time.Second

// HistoryRecorder persists every change it observes and keeps the stored
// known state current so the next start is seeded from it.
type HistoryRecorder struct {
	*AsyncObserver
	repo   Repository
	logger Logger
}

// NewHistoryRecorder starts a recorder writing to repo. Stop it to flush.
func NewHistoryRecorder(repo Repository, logger Logger) *HistoryRecorder {
	h := &HistoryRecorder{repo: repo, logger: logger}
	h.AsyncObserver = NewAsyncObserver("history", h.record, 0, logger)
	return h
}

func (h *HistoryRecorder) record(c Change) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	err := h.repo.RecordStateChange(ctx, HistoryEntry{
		Address:   c.Address,
		Property:  c.Property,
		OldValue:  c.Old,
		NewValue:  c.New,
		CreatedAt: c.At,
	})
	if err != nil && h.logger != nil {
		h.logger.Error("recording turnout history", "address", c.Address, "error", err)
	}

	if c.Property != PropertyKnownState {
		return
	}
	if s := stateFromString(c.New); s == Closed || s == Thrown {
		if err := h.repo.UpdateKnownState(ctx, c.Address, s); err != nil && h.logger != nil {
			h.logger.Error("storing known state", "address", c.Address, "error", err)
		}
	}
}
