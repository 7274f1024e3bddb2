package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleapp/huddle/pkg/model"
	"github.com/huddleapp/huddle/pkg/store"
)

// memStore is an in-memory store.Store with optional failure injection.
type memStore struct {
	mu       sync.Mutex
	rows     map[string][]model.Message
	nextID   int64
	failRead bool
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]model.Message)}
}

func (s *memStore) LoadHistory(ctx context.Context, room string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead {
		return nil, store.ErrStoreUnavailable
	}
	return append([]model.Message(nil), s.rows[room]...), nil
}

func (s *memStore) HasMessages(ctx context.Context, room string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead {
		return false, store.ErrStoreUnavailable
	}
	return len(s.rows[room]) > 0, nil
}

func (s *memStore) Append(ctx context.Context, room, userName, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, store.ErrEmptyContent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := model.Message{
		ID:        s.nextID,
		Room:      room,
		UserName:  userName,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.rows[room] = append(s.rows[room], m)
	return m, nil
}

func TestEnsureExistsCreatesSentinel(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st)

	created, err := reg.EnsureExists(context.Background(), "lunch")
	require.NoError(t, err)
	assert.True(t, created)

	history, err := st.LoadHistory(context.Background(), "lunch")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.SystemUser, history[0].UserName)
	assert.Equal(t, `Room "lunch" created!`, history[0].Content)
}

func TestEnsureExistsNoopOnExistingRoom(t *testing.T) {
	st := newMemStore()
	_, err := st.Append(context.Background(), "lunch", "Ava", "hi")
	require.NoError(t, err)

	reg := NewRegistry(st)
	created, err := reg.EnsureExists(context.Background(), "lunch")
	require.NoError(t, err)
	assert.False(t, created)

	history, err := st.LoadHistory(context.Background(), "lunch")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEnsureExistsDoesNotFabricateOnStoreFailure(t *testing.T) {
	st := newMemStore()
	st.failRead = true

	reg := NewRegistry(st)
	_, err := reg.EnsureExists(context.Background(), "lunch")
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))

	st.failRead = false
	history, err := st.LoadHistory(context.Background(), "lunch")
	require.NoError(t, err)
	assert.Empty(t, history, "no sentinel may be written when the check fails")
}

// Two concurrent EnsureExists calls for the same absent room may both insert
// a sentinel. Both must succeed and the room must be non-empty afterwards.
func TestEnsureExistsConcurrentCreation(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st)

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := reg.EnsureExists(context.Background(), "newroom")
			errs <- err
		}()
	}
	close(start)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	history, err := st.LoadHistory(context.Background(), "newroom")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history), 1)
	assert.LessOrEqual(t, len(history), 2, "at most one duplicate sentinel")
	for _, m := range history {
		assert.Equal(t, model.SystemUser, m.UserName)
	}
}
