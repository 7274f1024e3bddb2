// Package session implements the per-client room view: join a room, seed the
// log from history, keep it live through the update bus, and tear everything
// down on leave or room switch.
//
// The in-memory log has a single writer: the live-update path. Send never
// touches the log; the sender sees their own message when its echo arrives on
// the bus like everyone else's. That makes the duplicate-entry class of bug
// impossible by construction.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/store"
)

// Store is the slice of the message store a session consumes.
type Store interface {
	LoadHistory(ctx context.Context, room string) ([]model.Message, error)
	Append(ctx context.Context, room, userName, content string) (model.Message, error)
}

// Registry lazily creates rooms on first use.
type Registry interface {
	EnsureExists(ctx context.Context, room string) (bool, error)
}

// Bus delivers row-insert notifications for a single room, in the order the
// bus received them. Subscribe returns once the subscription is acknowledged.
type Bus interface {
	Subscribe(ctx context.Context, room string, h func(model.Message)) (Subscription, error)
}

// Subscription is a live listener handle. Close is idempotent; Done is closed
// once no further notifications will be delivered.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
}

// State is the subscription lifecycle of a session. There is no terminal
// error state: a dropped subscription goes back to Subscribing and retries.
type State int32

const (
	Detached State = iota
	Subscribing
	Active
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	default:
		return "detached"
	}
}

// EventKind classifies log-change notifications to the presentation layer.
type EventKind int

const (
	// Seeded: the log was (re)built from history; Log holds the full view.
	Seeded EventKind = iota
	// Appended: one live message landed at the tail; Message holds it.
	Appended
	// Resynced: a live message spliced before the tail; Log holds the full
	// reordered view so the presentation never shows out-of-order history.
	Resynced
)

// Event notifies the presentation layer of a log change.
type Event struct {
	Kind    EventKind
	Message model.Message
	Log     []model.Message
}

var (
	// ErrNotJoined is returned by Send when the session has no current room.
	ErrNotJoined = errors.New("session not joined to a room")

	// ErrSubscriptionFailed wraps a bus failure to establish the live channel.
	ErrSubscriptionFailed = errors.New("live subscription failed")

	// errStale marks a response for a room the session has navigated away
	// from. It is swallowed internally, never surfaced.
	errStale = errors.New("stale generation")
)

const (
	defaultRetryBase = time.Second
	maxRetryBackoff  = 30 * time.Second
)

// RoomSession is one client's view of one room at a time. All methods are
// safe for concurrent use.
type RoomSession struct {
	store    Store
	registry Registry
	bus      Bus

	retryBase time.Duration

	mu          sync.Mutex
	state       State
	room        string
	displayName string
	generation  uint64
	sub         Subscription
	log         []model.Message
	seen        map[int64]struct{}
	seeded      bool
	pending     []model.Message
	onEvent     func(Event)
}

func New(st Store, reg Registry, bus Bus) *RoomSession {
	return &RoomSession{
		store:     st,
		registry:  reg,
		bus:       bus,
		retryBase: defaultRetryBase,
	}
}

// OnEvent installs the presentation callback. Set it before the first Join.
// The callback runs on the session's internal lock and must not call back
// into the session.
func (s *RoomSession) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// Join switches the session to a room: ensure it exists, subscribe to its
// live feed, then seed the log from history. The previous room's subscription
// is retired before the new one is installed, so at no point are two rooms
// attached at once. On failure nothing stays half-subscribed.
//
// A Join issued while another is still in flight supersedes it: the older
// join's generation token is stale, so its late responses are discarded and
// any subscription it established is closed, never installed.
func (s *RoomSession) Join(ctx context.Context, room, displayName string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	old := s.sub
	s.sub = nil
	s.state = Detached
	s.room = room
	s.displayName = displayName
	s.log = nil
	s.seen = make(map[int64]struct{})
	s.pending = nil
	s.seeded = false
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	err := s.join(ctx, gen, room)
	if errors.Is(err, errStale) {
		// A later Join or Leave took over while this one was in flight; its
		// result belongs to a room the session no longer shows.
		return nil
	}
	return err
}

func (s *RoomSession) join(ctx context.Context, gen uint64, room string) error {
	if _, err := s.registry.EnsureExists(ctx, room); err != nil {
		return fmt.Errorf("ensure room %q exists: %w", room, err)
	}
	return s.attach(ctx, gen, room)
}

// attach subscribes and seeds in that order: no insert can slip between the
// history read and the subscription. Anything the subscription sees before
// history resolves is buffered and spliced in once it does.
func (s *RoomSession) attach(ctx context.Context, gen uint64, room string) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return errStale
	}
	s.state = Subscribing
	s.seeded = false
	s.mu.Unlock()

	sub, err := s.bus.Subscribe(ctx, room, func(m model.Message) {
		s.deliver(gen, m)
	})
	if err != nil {
		s.detach(gen)
		return fmt.Errorf("%w: %v", ErrSubscriptionFailed, err)
	}

	// Install the handle right away so a superseding Join or Leave can retire
	// it while the history load below is still pending.
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = sub.Close()
		return errStale
	}
	s.sub = sub
	s.mu.Unlock()

	history, err := s.store.LoadHistory(ctx, room)
	if err != nil {
		s.mu.Lock()
		if gen == s.generation {
			s.sub = nil
			s.state = Detached
		}
		s.mu.Unlock()
		_ = sub.Close()
		return fmt.Errorf("load history for %q: %w", room, err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = sub.Close()
		return errStale
	}
	s.state = Active

	sort.Slice(history, func(i, j int) bool { return history[i].Less(history[j]) })
	for _, m := range history {
		s.mergeLocked(m)
	}
	s.seeded = true
	for _, m := range s.pending {
		s.mergeLocked(m)
	}
	s.pending = nil
	s.emitLocked(Event{Kind: Seeded, Log: s.snapshotLocked()})
	s.mu.Unlock()

	go s.watch(gen, room, sub)
	return nil
}

// Send appends to the current room. The local log is not written here; the
// authoritative copy arrives through the live-update echo. On failure the
// caller keeps the text and may retry.
func (s *RoomSession) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return store.ErrEmptyContent
	}

	s.mu.Lock()
	room, name := s.room, s.displayName
	s.mu.Unlock()
	if room == "" {
		return ErrNotJoined
	}

	_, err := s.store.Append(ctx, room, name, text)
	return err
}

// Leave tears down the live subscription and clears the log. Safe to call at
// any time, including when never joined.
func (s *RoomSession) Leave() {
	s.mu.Lock()
	s.generation++
	sub := s.sub
	s.sub = nil
	s.state = Detached
	s.room = ""
	s.displayName = ""
	s.log = nil
	s.seen = nil
	s.pending = nil
	s.seeded = false
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
}

// Messages returns the ordered log as currently known.
func (s *RoomSession) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Room returns the current room key, or "" when not joined.
func (s *RoomSession) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// DisplayName returns the name the session sends under.
func (s *RoomSession) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// State returns the live-subscription state.
func (s *RoomSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// deliver is the bus callback. Events for a superseded generation belong to
// a room the session already left and are discarded without notice.
func (s *RoomSession) deliver(gen uint64, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || m.Room != s.room {
		return
	}
	if !s.seeded {
		s.pending = append(s.pending, m)
		return
	}
	added, atTail := s.mergeLocked(m)
	if !added {
		return
	}
	if atTail {
		s.emitLocked(Event{Kind: Appended, Message: m})
	} else {
		s.emitLocked(Event{Kind: Resynced, Log: s.snapshotLocked()})
	}
}

// mergeLocked inserts m at its canonical position unless its id is already
// present. Duplicate bus deliveries and inserts captured by both the history
// load and the live path land here exactly once.
func (s *RoomSession) mergeLocked(m model.Message) (added, atTail bool) {
	if _, ok := s.seen[m.ID]; ok {
		return false, false
	}
	s.seen[m.ID] = struct{}{}

	i := len(s.log)
	for i > 0 && m.Less(s.log[i-1]) {
		i--
	}
	s.log = append(s.log, model.Message{})
	copy(s.log[i+1:], s.log[i:])
	s.log[i] = m
	return true, i == len(s.log)-1
}

func (s *RoomSession) snapshotLocked() []model.Message {
	return append([]model.Message(nil), s.log...)
}

func (s *RoomSession) emitLocked(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *RoomSession) detach(gen uint64) {
	s.mu.Lock()
	if gen == s.generation {
		s.state = Detached
	}
	s.mu.Unlock()
}

// watch waits for the subscription to end. A deliberate teardown bumps the
// generation first, so anything else is a drop: resubscribe with backoff,
// reloading history to cover the gap. Until that succeeds the session shows a
// stale history-only view, never an error.
func (s *RoomSession) watch(gen uint64, room string, sub Subscription) {
	<-sub.Done()

	backoff := s.retryBase
	for {
		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if stale {
			return
		}

		err := s.attach(context.Background(), gen, room)
		if err == nil || errors.Is(err, errStale) {
			return
		}

		zap.L().Warn("live subscription lost, retrying",
			zap.String("room", room),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		time.Sleep(backoff)
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
}
