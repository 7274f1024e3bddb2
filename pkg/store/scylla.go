package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/db"
	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/snowflake"
)

// Scylla stores messages in the `messages` table, partitioned by room and
// clustered by id ascending, so a partition read returns a room's history in
// insert order.
type Scylla struct {
	session *db.Session
	ids     *snowflake.Node
	notify  Notifier
}

var _ Store = (*Scylla)(nil)

func NewScylla(session *db.Session, ids *snowflake.Node, notify Notifier) *Scylla {
	return &Scylla{session: session, ids: ids, notify: notify}
}

func (s *Scylla) LoadHistory(ctx context.Context, room string) ([]model.Message, error) {
	iter := s.session.Query(
		`SELECT room, id, user_name, content, created_at FROM messages WHERE room = ?`,
		room,
	).WithContext(ctx).Iter()

	var messages []model.Message
	var m model.Message
	for iter.Scan(&m.Room, &m.ID, &m.UserName, &m.Content, &m.CreatedAt) {
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: load history for %q: %v", ErrStoreUnavailable, room, err)
	}

	// Clustering order is by id; the canonical order keys on created_at first.
	// The two agree for ids from well-behaved clocks, but the contract is
	// (created_at, id), so enforce it here.
	sort.Slice(messages, func(i, j int) bool { return messages[i].Less(messages[j]) })
	return messages, nil
}

func (s *Scylla) HasMessages(ctx context.Context, room string) (bool, error) {
	var id int64
	err := s.session.Query(
		`SELECT id FROM messages WHERE room = ? LIMIT 1`,
		room,
	).WithContext(ctx).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check room %q: %v", ErrStoreUnavailable, room, err)
	}
	return true, nil
}

func (s *Scylla) Append(ctx context.Context, room, userName, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyContent
	}

	msg := model.Message{
		ID:        s.ids.Generate(),
		Room:      room,
		UserName:  userName,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	err := s.session.Query(
		`INSERT INTO messages (room, id, user_name, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.Room, msg.ID, msg.UserName, msg.Content, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: append to %q: %v", ErrStoreUnavailable, room, err)
	}

	if err := s.notify.PublishInsert(ctx, msg); err != nil {
		// The row is durable; subscribers that miss the notification pick the
		// message up on their next history load.
		zap.L().Error("insert stored but notification failed",
			zap.String("room", room),
			zap.Int64("id", msg.ID),
			zap.Error(err))
	}

	return msg, nil
}
