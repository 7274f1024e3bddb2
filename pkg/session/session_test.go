package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/room"
	"github.com/huddleapp/huddle/pkg/store"
)

// backend fakes the persistence store and the live-update bus as one shared
// in-memory system, so an append is echoed to subscribers the way a real
// insert notification would be.
type backend struct {
	mu            sync.Mutex
	rows          map[string][]model.Message
	nextID        int64
	subs          map[*fakeSub]struct{}
	appends       int
	subscribes    int
	echo          bool
	failSubscribe bool
	failHistory   bool
	historyGate   chan struct{}
}

func newBackend() *backend {
	return &backend{
		rows: make(map[string][]model.Message),
		subs: make(map[*fakeSub]struct{}),
		echo: true,
	}
}

func (b *backend) LoadHistory(ctx context.Context, roomKey string) ([]model.Message, error) {
	b.mu.Lock()
	gate := b.historyGate
	fail := b.failHistory
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, store.ErrStoreUnavailable
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	history := append([]model.Message(nil), b.rows[roomKey]...)
	sort.Slice(history, func(i, j int) bool { return history[i].Less(history[j]) })
	return history, nil
}

func (b *backend) HasMessages(ctx context.Context, roomKey string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows[roomKey]) > 0, nil
}

func (b *backend) Append(ctx context.Context, roomKey, userName, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, store.ErrEmptyContent
	}
	b.mu.Lock()
	b.appends++
	b.mu.Unlock()
	return b.insert(roomKey, userName, content), nil
}

// insert stores a row and echoes it to subscribers, as any durable insert
// would be, whoever produced it.
func (b *backend) insert(roomKey, userName, content string) model.Message {
	b.mu.Lock()
	b.nextID++
	m := model.Message{
		ID:        b.nextID,
		Room:      roomKey,
		UserName:  userName,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	b.rows[roomKey] = append(b.rows[roomKey], m)
	echo := b.echo
	b.mu.Unlock()
	if echo {
		b.publish(m)
	}
	return m
}

// publish delivers a notification without storing anything, to simulate bus
// duplicates or crafted events.
func (b *backend) publish(m model.Message) {
	b.mu.Lock()
	var targets []*fakeSub
	for sub := range b.subs {
		if sub.room == m.Room {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range targets {
		sub.h(m)
	}
}

func (b *backend) Subscribe(ctx context.Context, roomKey string, h func(model.Message)) (Subscription, error) {
	b.mu.Lock()
	b.subscribes++
	fail := b.failSubscribe
	b.mu.Unlock()
	if fail {
		return nil, store.ErrStoreUnavailable
	}

	sub := &fakeSub{backend: b, room: roomKey, h: h, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *backend) setEcho(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echo = on
}

func (b *backend) appendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appends
}

func (b *backend) activeSubs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *backend) activeSub() *fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		return sub
	}
	return nil
}

type fakeSub struct {
	backend *backend
	room    string
	h       func(model.Message)
	done    chan struct{}
	once    sync.Once
}

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func newTestSession(b *backend) *RoomSession {
	s := New(b, room.NewRegistry(b), b)
	s.retryBase = 5 * time.Millisecond
	return s
}

func contents(log []model.Message) []string {
	out := make([]string, len(log))
	for i, m := range log {
		out[i] = m.UserName + ": " + m.Content
	}
	return out
}

func requireCanonical(t *testing.T, log []model.Message) {
	t.Helper()
	for i := 1; i < len(log); i++ {
		require.True(t, log[i-1].Less(log[i]),
			"log out of canonical order at %d: %+v then %+v", i, log[i-1], log[i])
	}
}

func TestJoinEmptyRoomEndToEnd(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)

	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))
	assert.Equal(t, Active, s.State())

	log := s.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, model.SystemUser, log[0].UserName)
	assert.Equal(t, `Room "lunch" created!`, log[0].Content)

	require.NoError(t, s.Send(context.Background(), "hi"))

	log = s.Messages()
	require.Equal(t, []string{
		"System: " + `Room "lunch" created!`,
		"Ava: hi",
	}, contents(log))
	requireCanonical(t, log)
}

func TestJoinExistingRoomSkipsSentinel(t *testing.T) {
	b := newBackend()
	b.insert("lunch", "Ben", "already here")

	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	log := s.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, "Ben", log[0].UserName)
}

func TestDuplicateNotificationMergedOnce(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	m := b.insert("lunch", "Ben", "hello")
	require.Len(t, s.Messages(), 2)

	// Simulated bus duplicate of the same insert.
	b.publish(m)
	b.publish(m)

	assert.Len(t, s.Messages(), 2)
}

func TestSendNeverWritesLocalLog(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	b.setEcho(false)
	require.NoError(t, s.Send(context.Background(), "hi"))

	// Without the echo the message must not appear: the live path is the only
	// writer into the log.
	log := s.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, model.SystemUser, log[0].UserName)
}

func TestSendValidationIsLocal(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	before := b.appendCount()

	err := s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, store.ErrEmptyContent)
	assert.Equal(t, before, b.appendCount(), "no store write for whitespace content")
}

func TestSendWithoutJoin(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)

	err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestRoomSwitchTeardown(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)

	require.NoError(t, s.Join(context.Background(), "roomA", "Ava"))
	require.NoError(t, s.Join(context.Background(), "roomB", "Ava"))

	assert.Equal(t, 1, b.activeSubs(), "exactly one live subscription after switch")
	assert.Equal(t, "roomB", b.activeSub().room)

	b.insert("roomA", "Ben", "for room A only")

	for _, m := range s.Messages() {
		assert.Equal(t, "roomB", m.Room, "no roomA message may reach the session")
	}
}

func TestLeaveClearsSession(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))
	require.NoError(t, s.Send(context.Background(), "hi"))

	s.Leave()

	assert.Equal(t, Detached, s.State())
	assert.Empty(t, s.Messages())
	assert.Equal(t, 0, b.activeSubs())
	assert.ErrorIs(t, s.Send(context.Background(), "again"), ErrNotJoined)

	// Leave when already detached is a no-op.
	s.Leave()
}

func TestJoinRollsBackOnHistoryFailure(t *testing.T) {
	b := newBackend()
	b.failHistory = true
	s := newTestSession(b)

	err := s.Join(context.Background(), "lunch", "Ava")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	assert.Equal(t, Detached, s.State())
	assert.Equal(t, 0, b.activeSubs(), "no half-subscribed state after failed join")
}

func TestJoinFailsWhenSubscribeFails(t *testing.T) {
	b := newBackend()
	b.failSubscribe = true
	s := newTestSession(b)

	err := s.Join(context.Background(), "lunch", "Ava")
	assert.ErrorIs(t, err, ErrSubscriptionFailed)
	assert.Equal(t, Detached, s.State())
}

// A live insert arriving while the history load is still pending is buffered
// and spliced into canonical position once history resolves, exactly once
// even when the insert was also captured by the history read.
func TestLiveInsertDuringHistoryLoad(t *testing.T) {
	b := newBackend()
	b.insert("lunch", "Ben", "first")

	gate := make(chan struct{})
	b.historyGate = gate

	s := newTestSession(b)

	joined := make(chan error, 1)
	go func() { joined <- s.Join(context.Background(), "lunch", "Ava") }()

	require.Eventually(t, func() bool { return b.activeSubs() == 1 },
		time.Second, time.Millisecond, "subscription installed before history")

	// Lands in both the live feed and the gated history read.
	b.insert("lunch", "Ben", "second")

	b.mu.Lock()
	b.historyGate = nil
	b.mu.Unlock()
	close(gate)
	require.NoError(t, <-joined)

	log := s.Messages()
	require.Equal(t, []string{"Ben: first", "Ben: second"}, contents(log))
	requireCanonical(t, log)
}

// Leaving while a join is still loading history discards the late result: a
// response for a room the session already navigated away from never lands.
func TestStaleJoinResultDiscarded(t *testing.T) {
	b := newBackend()
	b.insert("roomA", "Ben", "old news")

	gate := make(chan struct{})
	b.historyGate = gate

	s := newTestSession(b)

	joined := make(chan error, 1)
	go func() { joined <- s.Join(context.Background(), "roomA", "Ava") }()

	require.Eventually(t, func() bool { return b.activeSubs() == 1 },
		time.Second, time.Millisecond)

	s.Leave()

	b.mu.Lock()
	b.historyGate = nil
	b.mu.Unlock()
	close(gate)

	require.NoError(t, <-joined, "superseded join reports no error")
	assert.Empty(t, s.Messages())
	assert.Equal(t, Detached, s.State())
	assert.Equal(t, 0, b.activeSubs())
}

func TestResubscribeAfterDrop(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	// Missed while detached; must appear after the automatic resubscribe
	// reloads history.
	dropped := b.activeSub()
	require.NotNil(t, dropped)
	_ = dropped.Close()
	b.insert("lunch", "Ben", "missed while down")

	require.Eventually(t, func() bool { return s.State() == Active && b.activeSubs() == 1 },
		time.Second, time.Millisecond, "session resubscribes on its own")

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 },
		time.Second, time.Millisecond)
	requireCanonical(t, s.Messages())
}

func TestPresentationEvents(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)

	var mu sync.Mutex
	var kinds []EventKind
	s.OnEvent(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))
	require.NoError(t, s.Send(context.Background(), "hi"))

	// A crafted notification with an old timestamp splices before the tail
	// and forces a full resync instead of a bare append.
	b.publish(model.Message{
		ID:        9999,
		Room:      "lunch",
		UserName:  "Ben",
		Content:   "late echo of an early insert",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventKind{Seeded, Appended, Resynced}, kinds)
	requireCanonical(t, s.Messages())
}

// Appending messages in real-time order keeps every observed log prefix in
// canonical order.
func TestOrderingUnderInterleavedSends(t *testing.T) {
	b := newBackend()
	s := newTestSession(b)
	require.NoError(t, s.Join(context.Background(), "lunch", "Ava"))

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			require.NoError(t, s.Send(context.Background(), "mine"))
		} else {
			b.insert("lunch", "Ben", "theirs")
		}
		requireCanonical(t, s.Messages())
	}

	assert.Len(t, s.Messages(), 21) // sentinel + 20 sends
}
