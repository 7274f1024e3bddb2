package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeRange(t *testing.T) {
	_, err := NewNode(0)
	assert.NoError(t, err)

	_, err = NewNode(1023)
	assert.NoError(t, err)

	_, err = NewNode(1024)
	assert.Error(t, err)

	_, err = NewNode(-1)
	assert.Error(t, err)
}

func TestGenerateMonotonic(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateUniqueAcrossGoroutines(t *testing.T) {
	node, err := NewNode(2)
	require.NoError(t, err)

	const perWorker = 2000
	ids := make(chan int64, 4*perWorker)
	for w := 0; w < 4; w++ {
		go func() {
			for i := 0; i < perWorker; i++ {
				ids <- node.Generate()
			}
		}()
	}

	seen := make(map[int64]struct{}, 4*perWorker)
	for i := 0; i < 4*perWorker; i++ {
		id := <-ids
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestTimeRoundtrip(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	before := time.Now().Truncate(time.Millisecond)
	id := node.Generate()
	after := time.Now()

	ts := Time(id)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
}
