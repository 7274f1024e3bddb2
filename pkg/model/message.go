package model

import "time"

// SystemUser is the reserved sender name for automated announcements
// (room-creation sentinels, challenge completions). Rows carrying it are
// produced by the system, never by an interactive user.
const SystemUser = "System"

// Message is one row of a room's chat history. A room has no record of its
// own; it exists the moment its first message is durably stored.
type Message struct {
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Less reports whether m precedes other in the canonical room order:
// ascending created_at, with the server-assigned id as tiebreak.
func (m Message) Less(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// System reports whether the message is an automated announcement. Announcement
// content may carry inline HTML and is rendered as rich markup by clients.
func (m Message) System() bool {
	return m.UserName == SystemUser
}
