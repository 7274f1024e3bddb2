package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleapp/huddle/pkg/challenge"
	"github.com/huddleapp/huddle/pkg/model"
)

type fakeAppender struct {
	appended []model.Message
	fail     bool
}

func (f *fakeAppender) Append(ctx context.Context, room, userName, content string) (model.Message, error) {
	if f.fail {
		return model.Message{}, errors.New("store down")
	}
	m := model.Message{Room: room, UserName: userName, Content: content}
	f.appended = append(f.appended, m)
	return m, nil
}

type memDeduper struct {
	seen map[string]struct{}
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: make(map[string]struct{})} }

func (d *memDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = struct{}{}
	return true, nil
}

func (d *memDeduper) Forget(ctx context.Context, id string) error {
	delete(d.seen, id)
	return nil
}

func testEvent() []byte {
	payload, _ := json.Marshal(challenge.CompletionEvent{
		ID:          "ev-1",
		UserID:      "u1",
		DisplayName: "Ava",
		Room:        "lunch",
		ChallengeID: 7,
		Title:       "Lunch selfie",
		Points:      20,
		PhotoURL:    "https://photos.example.com/abc.jpg",
	})
	return payload
}

func TestProcessAnnouncesOnce(t *testing.T) {
	st := &fakeAppender{}
	c := &Consumer{store: st, dedup: newMemDeduper()}

	require.NoError(t, c.process(context.Background(), testEvent()))

	require.Len(t, st.appended, 1)
	assert.Equal(t, "lunch", st.appended[0].Room)
	assert.Equal(t, model.SystemUser, st.appended[0].UserName)
	assert.Contains(t, st.appended[0].Content, "Ava completed")
	assert.Contains(t, st.appended[0].Content, "<img")
}

func TestProcessSkipsRedelivery(t *testing.T) {
	st := &fakeAppender{}
	c := &Consumer{store: st, dedup: newMemDeduper()}

	require.NoError(t, c.process(context.Background(), testEvent()))
	require.NoError(t, c.process(context.Background(), testEvent()))

	assert.Len(t, st.appended, 1, "redelivered event must not announce twice")
}

func TestProcessDropsMalformedEvent(t *testing.T) {
	st := &fakeAppender{}
	c := &Consumer{store: st, dedup: newMemDeduper()}

	assert.NoError(t, c.process(context.Background(), []byte("{not json")))
	assert.NoError(t, c.process(context.Background(), []byte(`{"id":"","room":""}`)))
	assert.Empty(t, st.appended)
}

func TestProcessReleasesDedupOnAppendFailure(t *testing.T) {
	st := &fakeAppender{fail: true}
	dedup := newMemDeduper()
	c := &Consumer{store: st, dedup: dedup}

	err := c.process(context.Background(), testEvent())
	require.Error(t, err)

	// The id was released, so the redelivery can announce.
	st.fail = false
	require.NoError(t, c.process(context.Background(), testEvent()))
	assert.Len(t, st.appended, 1)
}
