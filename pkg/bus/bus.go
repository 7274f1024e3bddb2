// Package bus is the live-update transport. Every durable message insert is
// published as an InsertEvent on a per-room Redis pub/sub channel; clients
// subscribe to the channel of the room they are viewing and receive each
// insert, including the echo of their own sends.
package bus

import "github.com/huddleapp/huddle/pkg/model"

const (
	// EventInsert is the only event kind carried on the bus. History is
	// append-only; there are no updates or deletes to notify about.
	EventInsert = "INSERT"

	// TableMessages scopes events to the messages table.
	TableMessages = "messages"
)

// InsertEvent is the wire envelope for a row-insert notification.
type InsertEvent struct {
	Event string        `json:"event"`
	Table string        `json:"table"`
	Room  string        `json:"room"`
	New   model.Message `json:"new"`
}

// Handler consumes insert notifications for a single room subscription.
// Handlers are invoked in the order events were received for the room.
type Handler func(model.Message)

// ChannelFor returns the pub/sub channel name carrying inserts for a room.
func ChannelFor(room string) string {
	return "room:" + room + ":inserts"
}
