package domain

import (
	"strconv"
	"time"
)

// DefaultGraphID is stored in thread metadata when the client sends none.
const DefaultGraphID = "agent"

// DefaultThreadTitle names threads created without a title.
const DefaultThreadTitle = "New conversation"

// Thread is a persisted conversation addressed by an external thread ID.
type Thread struct {
	ID        string
	UserID    int64
	Title     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ThreadMessage is one stored message of a thread.
type ThreadMessage struct {
	ID        int64
	ThreadID  string
	Role      Role // RoleUser or RoleAssistant
	Content   string
	CreatedAt time.Time
}

// ExternalID returns the message ID exposed by the façade ("m-<id>").
func (m ThreadMessage) ExternalID() string {
	return "m-" + strconv.FormatInt(m.ID, 10)
}

// ParseMessageRole maps façade message types to stored roles.
func ParseMessageRole(s string) (Role, bool) {
	switch s {
	case "human", "user":
		return RoleUser, true
	case "ai", "assistant":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// HistoryMessages converts stored messages to prompt messages, keeping the last n turns.
// n <= 0 yields nothing.
func HistoryMessages(msgs []ThreadMessage, turns int) []Message {
	if turns <= 0 || len(msgs) == 0 {
		return nil
	}
	start := len(msgs) - turns*2
	if start < 0 {
		start = 0
	}
	out := make([]Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// ThreadSummary is a listed thread with its opening message, if any.
type ThreadSummary struct {
	Thread Thread
	First  *ThreadMessage
}
