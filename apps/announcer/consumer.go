package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/challenge"
	"github.com/huddleapp/huddle/pkg/model"
)

// Appender is the slice of the message store the announcer writes through.
type Appender interface {
	Append(ctx context.Context, room, userName, content string) (model.Message, error)
}

// Deduper remembers which completion events were already announced, so
// at-least-once redelivery does not produce duplicate announcements.
type Deduper interface {
	// FirstSeen marks the event id and reports whether this was its first
	// sighting.
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	// Forget releases an id whose announcement failed, so a redelivery gets
	// another attempt.
	Forget(ctx context.Context, eventID string) error
}

type Consumer struct {
	reader *kafka.Reader
	store  Appender
	dedup  Deduper
}

func NewConsumer(brokers []string, groupID string, st Appender, dedup Deduper) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    challenge.CompletionsTopic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, store: st, dedup: dedup}
}

// Run fetches, announces and commits until the context is cancelled. A
// message is committed only after its announcement is durable; anything else
// stays uncommitted and comes back on redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			zap.L().Error("fetch failed, retrying", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := c.process(ctx, m.Value); err != nil {
			zap.L().Error("announcement failed, leaving event uncommitted", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			zap.L().Error("commit failed", zap.Error(err))
		}
	}
}

// process announces one completion event. A nil return means the event is
// finished with (announced, duplicate or unusable) and may be committed.
func (c *Consumer) process(ctx context.Context, value []byte) error {
	var ev challenge.CompletionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		zap.L().Warn("dropping malformed completion event", zap.Error(err))
		return nil
	}
	if ev.ID == "" || ev.Room == "" {
		zap.L().Warn("dropping completion event with missing id or room",
			zap.String("event_id", ev.ID))
		return nil
	}

	first, err := c.dedup.FirstSeen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("dedup check for %s: %w", ev.ID, err)
	}
	if !first {
		zap.L().Debug("skipping already-announced completion", zap.String("event_id", ev.ID))
		return nil
	}

	content := challenge.AnnouncementContent(ev)
	if _, err := c.store.Append(ctx, ev.Room, model.SystemUser, content); err != nil {
		if derr := c.dedup.Forget(ctx, ev.ID); derr != nil {
			zap.L().Error("failed to release dedup mark", zap.String("event_id", ev.ID), zap.Error(derr))
		}
		return fmt.Errorf("announce completion %s: %w", ev.ID, err)
	}

	zap.L().Info("announced challenge completion",
		zap.String("event_id", ev.ID),
		zap.String("room", ev.Room),
		zap.String("user", ev.DisplayName))
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// redisDeduper tracks announced event ids in Redis. Marks expire after a day;
// Kafka redelivery lag is far shorter than that.
type redisDeduper struct {
	rdb *redis.Client
}

const dedupTTL = 24 * time.Hour

func (d *redisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, "challenge:announced:"+eventID, 1, dedupTTL).Result()
}

func (d *redisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, "challenge:announced:"+eventID).Err()
}
