package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleapp/huddle/pkg/model"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "room:lunch:inserts", ChannelFor("lunch"))
}

func TestInsertEventRoundtrip(t *testing.T) {
	ev := InsertEvent{
		Event: EventInsert,
		Table: TableMessages,
		Room:  "lunch",
		New: model.Message{
			ID:        42,
			Room:      "lunch",
			UserName:  "Ava",
			Content:   "hi",
			CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		},
	}

	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	var got InsertEvent
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, ev, got)
}
