package turnout

import (
	"context"
	"time"
)

// Record is the persisted form of a turnout definition.
type Record struct {
	Address      int
	Name         string
	FeedbackMode FeedbackMode
	Inverted     bool

	// KnownState is the last position confirmed by the layout. It seeds the
	// turnout on the next start.
	KnownState State

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one recorded property change.
type HistoryEntry struct {
	ID        int64
	Address   int
	Property  Property
	OldValue  string
	NewValue  string
	CreatedAt time.Time
}

// Repository persists turnout definitions and their change history.
type Repository interface {
	// UpsertTurnout creates or updates a definition. The stored known state
	// is only replaced when rec.KnownState is Closed or Thrown.
	UpsertTurnout(ctx context.Context, rec Record) error

	// GetTurnout returns ErrNotFound for unknown addresses.
	GetTurnout(ctx context.Context, address int) (Record, error)

	// ListTurnouts returns all definitions ordered by address.
	ListTurnouts(ctx context.Context) ([]Record, error)

	// DeleteTurnout removes a definition and its history.
	DeleteTurnout(ctx context.Context, address int) error

	// UpdateKnownState stores the last confirmed position.
	UpdateKnownState(ctx context.Context, address int, s State) error

	// RecordStateChange appends a history entry.
	RecordStateChange(ctx context.Context, entry HistoryEntry) error

	// GetHistory returns recent entries for address, newest first.
	GetHistory(ctx context.Context, address int, limit int) ([]HistoryEntry, error)
}
