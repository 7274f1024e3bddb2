// Package profile stores per-user settings: display name and current room.
// The gateway resolves a user's room from here at connect time; the
// leaderboard reads room membership from the by-room table.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/huddleapp/huddle/pkg/db"
)

// DefaultRoom is assigned to users who have never picked a room.
const DefaultRoom = "default"

var ErrNotFound = errors.New("profile not found")

type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Room        string `json:"room"`
}

// Store reads and writes profiles. Rows are kept twice: keyed by user for
// lookups and keyed by room for membership scans.
type Store struct {
	session *db.Session
}

func NewStore(session *db.Session) *Store {
	return &Store{session: session}
}

func (s *Store) Get(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.session.Query(
		`SELECT user_id, display_name, room FROM profiles WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Scan(&p.UserID, &p.DisplayName, &p.Room)
	if errors.Is(err, gocql.ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile %q: %w", userID, err)
	}
	return p, nil
}

// Put upserts a profile and keeps the by-room table in sync, removing the
// old membership row when the user moved rooms.
func (s *Store) Put(ctx context.Context, p Profile) error {
	if p.Room == "" {
		p.Room = DefaultRoom
	}

	old, err := s.Get(ctx, p.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	err = s.session.Query(
		`INSERT INTO profiles (user_id, display_name, room) VALUES (?, ?, ?)`,
		p.UserID, p.DisplayName, p.Room,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("put profile %q: %w", p.UserID, err)
	}

	if old.Room != "" && old.Room != p.Room {
		err = s.session.Query(
			`DELETE FROM profiles_by_room WHERE room = ? AND user_id = ?`,
			old.Room, p.UserID,
		).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("clear old room membership for %q: %w", p.UserID, err)
		}
	}

	err = s.session.Query(
		`INSERT INTO profiles_by_room (room, user_id, display_name) VALUES (?, ?, ?)`,
		p.Room, p.UserID, p.DisplayName,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("put room membership for %q: %w", p.UserID, err)
	}
	return nil
}

// RoomMembers lists the profiles whose current room is the given one.
func (s *Store) RoomMembers(ctx context.Context, room string) ([]Profile, error) {
	iter := s.session.Query(
		`SELECT room, user_id, display_name FROM profiles_by_room WHERE room = ?`,
		room,
	).WithContext(ctx).Iter()

	var members []Profile
	var p Profile
	for iter.Scan(&p.Room, &p.UserID, &p.DisplayName) {
		members = append(members, p)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list members of %q: %w", room, err)
	}
	return members, nil
}
