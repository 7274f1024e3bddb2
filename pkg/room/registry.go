// Package room decides whether a room exists and lazily materializes it.
// Rooms have no record of their own: a room exists once at least one message
// carries its key, so creation means inserting a sentinel announcement.
package room

import (
	"context"
	"fmt"

	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/store"
)

// Registry lazily creates rooms on first use.
type Registry struct {
	store store.Store
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// SentinelContent is the announcement that materializes a new room.
func SentinelContent(room string) string {
	return fmt.Sprintf("Room %q created!", room)
}

// EnsureExists checks for any message in the room and inserts the creation
// sentinel when there is none. It reports whether this call created the room.
//
// Two clients can race here, both observe an empty room and both insert a
// sentinel. The duplicate is a cosmetic line in the history and nothing more;
// it never corrupts state, so no distributed locking is attempted.
//
// A store failure on the existence check is returned as-is: the room is not
// fabricated when the store cannot be reached.
func (r *Registry) EnsureExists(ctx context.Context, room string) (bool, error) {
	exists, err := r.store.HasMessages(ctx, room)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := r.store.Append(ctx, room, model.SystemUser, SentinelContent(room)); err != nil {
		return false, err
	}
	return true, nil
}
