// Package challenge manages the challenge catalog, per-user completions and
// the room leaderboard. Completing a challenge publishes an event that the
// announcer turns into a System message in the user's room; the chat core
// treats that content as opaque rich markup.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/huddleapp/huddle/pkg/db"
	"github.com/huddleapp/huddle/pkg/profile"
)

var (
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrAlreadyCompleted = errors.New("challenge already completed")
)

type Challenge struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
}

// CompletionEvent is the at-least-once record published when a user completes
// a challenge. The id deduplicates redelivery on the consumer side.
type CompletionEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Room        string    `json:"room"`
	ChallengeID int64     `json:"challenge_id"`
	Title       string    `json:"title"`
	Points      int       `json:"points"`
	PhotoURL    string    `json:"photo_url"`
	Caption     string    `json:"caption"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher hands completion events to the announcement pipeline.
type Publisher interface {
	PublishCompletion(ctx context.Context, ev CompletionEvent) error
}

// Entry is one leaderboard row.
type Entry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
}

type Service struct {
	session   *db.Session
	profiles  *profile.Store
	publisher Publisher
}

func NewService(session *db.Session, profiles *profile.Store, publisher Publisher) *Service {
	return &Service{session: session, profiles: profiles, publisher: publisher}
}

// List returns the full challenge catalog.
func (s *Service) List(ctx context.Context) ([]Challenge, error) {
	iter := s.session.Query(
		`SELECT id, title, description, points FROM challenges`,
	).WithContext(ctx).Iter()

	var all []Challenge
	var c Challenge
	for iter.Scan(&c.ID, &c.Title, &c.Description, &c.Points) {
		all = append(all, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// ListOpen returns the challenges the user has not completed yet.
func (s *Service) ListOpen(ctx context.Context, userID string) ([]Challenge, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	done, err := s.completedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	open := all[:0]
	for _, c := range all {
		if _, ok := done[c.ID]; !ok {
			open = append(open, c)
		}
	}
	return open, nil
}

// Complete records a completion and publishes the announcement event. Photo
// URL and caption end up embedded in the announcement content.
func (s *Service) Complete(ctx context.Context, userID string, challengeID int64, photoURL, caption string) (CompletionEvent, error) {
	ch, err := s.get(ctx, challengeID)
	if err != nil {
		return CompletionEvent{}, err
	}

	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return CompletionEvent{}, err
	}

	done, err := s.completedIDs(ctx, userID)
	if err != nil {
		return CompletionEvent{}, err
	}
	if _, ok := done[challengeID]; ok {
		return CompletionEvent{}, ErrAlreadyCompleted
	}

	ev := CompletionEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: p.DisplayName,
		Room:        p.Room,
		ChallengeID: ch.ID,
		Title:       ch.Title,
		Points:      ch.Points,
		PhotoURL:    photoURL,
		Caption:     caption,
		CompletedAt: time.Now().UTC(),
	}

	err = s.session.Query(
		`INSERT INTO user_challenges (user_id, challenge_id, completed_at) VALUES (?, ?, ?)`,
		userID, challengeID, ev.CompletedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return CompletionEvent{}, fmt.Errorf("record completion: %w", err)
	}

	if err := s.publisher.PublishCompletion(ctx, ev); err != nil {
		// The completion is durable; only the announcement is lost. Surfacing
		// the error lets the caller retry the announcement path.
		return CompletionEvent{}, fmt.Errorf("publish completion: %w", err)
	}
	return ev, nil
}

// Leaderboard sums completed-challenge points for every member of a room,
// highest first, ties broken by display name.
func (s *Service) Leaderboard(ctx context.Context, room string) ([]Entry, error) {
	members, err := s.profiles.RoomMembers(ctx, room)
	if err != nil {
		return nil, err
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	points := make(map[int64]int, len(all))
	for _, c := range all {
		points[c.ID] = c.Points
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		done, err := s.completedIDs(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		total := 0
		for id := range done {
			total += points[id]
		}
		entries = append(entries, Entry{UserID: m.UserID, DisplayName: m.DisplayName, Points: total})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return entries, nil
}

func (s *Service) get(ctx context.Context, id int64) (Challenge, error) {
	var c Challenge
	err := s.session.Query(
		`SELECT id, title, description, points FROM challenges WHERE id = ?`,
		id,
	).WithContext(ctx).Scan(&c.ID, &c.Title, &c.Description, &c.Points)
	if errors.Is(err, gocql.ErrNotFound) {
		return Challenge{}, ErrUnknownChallenge
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("get challenge %d: %w", id, err)
	}
	return c, nil
}

func (s *Service) completedIDs(ctx context.Context, userID string) (map[int64]struct{}, error) {
	iter := s.session.Query(
		`SELECT challenge_id FROM user_challenges WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()

	done := make(map[int64]struct{})
	var id int64
	for iter.Scan(&id) {
		done[id] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list completions for %q: %w", userID, err)
	}
	return done, nil
}

// AnnouncementContent renders the System chat line for a completion. The
// photo and caption are embedded as markup; chat clients render announcement
// content as rich HTML. User-provided caption text is escaped, the markup
// around it is not.
func AnnouncementContent(ev CompletionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s completed %q (+%d pts)!", html.EscapeString(ev.DisplayName), ev.Title, ev.Points)
	if ev.PhotoURL != "" {
		fmt.Fprintf(&b, `<br><img src=%q alt="challenge photo">`, ev.PhotoURL)
	}
	if ev.Caption != "" {
		fmt.Fprintf(&b, "<br><em>%s</em>", html.EscapeString(ev.Caption))
	}
	return b.String()
}
