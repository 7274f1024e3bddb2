// Package store is the typed client for the message table: full-history reads
// and appends, both scoped to a single room. Appends publish exactly one
// insert notification on the live-update bus; the caller's own log is fed by
// that echo, never written directly.
package store

import (
	"context"
	"errors"

	"github.com/huddleapp/huddle/pkg/model"
)

var (
	// ErrStoreUnavailable wraps network or store failures. Reads are safe to
	// retry as-is; for writes the caller keeps the unsent text and retries.
	ErrStoreUnavailable = errors.New("message store unavailable")

	// ErrEmptyContent rejects empty or whitespace-only message content. It is
	// returned before any network round-trip.
	ErrEmptyContent = errors.New("empty message content")
)

// Notifier publishes the insert notification observed by live subscribers of
// the inserted row's room.
type Notifier interface {
	PublishInsert(ctx context.Context, msg model.Message) error
}

// Store is the message-table contract the rest of the system consumes.
type Store interface {
	// LoadHistory returns the full current history of a room in canonical
	// (created_at, id) order. Safe to call repeatedly.
	LoadHistory(ctx context.Context, room string) ([]model.Message, error)

	// HasMessages reports whether at least one message exists for the room.
	HasMessages(ctx context.Context, room string) (bool, error)

	// Append durably stores one message and notifies the room's subscribers.
	Append(ctx context.Context, room, userName, content string) (model.Message, error)
}
