package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/model"
)

// Redis carries insert events over Redis pub/sub. Reconnection after a
// dropped connection is handled inside go-redis; subscribers keep their
// channel across reconnects.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// PublishInsert notifies all current subscribers of msg's room about one
// durable row insert.
func (b *Redis) PublishInsert(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(InsertEvent{
		Event: EventInsert,
		Table: TableMessages,
		Room:  msg.Room,
		New:   msg,
	})
	if err != nil {
		return fmt.Errorf("marshal insert event: %w", err)
	}
	if err := b.rdb.Publish(ctx, ChannelFor(msg.Room), payload).Err(); err != nil {
		return fmt.Errorf("publish insert event: %w", err)
	}
	return nil
}

// Subscribe installs a listener for a single room. It returns once the server
// has acknowledged the subscription, so no insert published after Subscribe
// returns can be missed. The returned Subscription must be closed when the
// room view is torn down.
func (b *Redis) Subscribe(ctx context.Context, room string, h Handler) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, ChannelFor(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", ChannelFor(room), err)
	}

	sub := &Subscription{
		ps:   ps,
		done: make(chan struct{}),
	}
	go sub.loop(room, h)
	return sub, nil
}

// Subscription is a single room's live listener. Close releases the
// underlying pub/sub channel; it is safe to call more than once.
type Subscription struct {
	ps        *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *Subscription) loop(room string, h Handler) {
	defer close(s.done)

	for raw := range s.ps.Channel() {
		var ev InsertEvent
		if err := json.Unmarshal([]byte(raw.Payload), &ev); err != nil {
			zap.L().Warn("dropping malformed insert event",
				zap.String("room", room),
				zap.Error(err))
			continue
		}
		if ev.Event != EventInsert || ev.Table != TableMessages || ev.New.Room != room {
			zap.L().Warn("dropping insert event for wrong scope",
				zap.String("room", room),
				zap.String("event_room", ev.New.Room))
			continue
		}
		h(ev.New)
	}
}

func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ps.Close()
		<-s.done
	})
	return s.closeErr
}

// Done is closed once the listener goroutine has exited and no further
// handler invocations will occur.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
