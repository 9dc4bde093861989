// Package chat keeps the per-poem conversation with the literature assistant.
//
// A [Session] appends the user's message and an empty assistant placeholder,
// streams the reply into the placeholder token by token and publishes
// throttled [Snapshot]s while it does. The flat message list is regrouped into
// question/answer [Turn]s on every publish.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/jerryz/poems/internal/store"
	"github.com/jerryz/poems/pkg/provider/llm"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = llm.RoleUser
	RoleAssistant Role = llm.RoleAssistant
)

// Message is one entry of the conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(role Role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// Record returns the persisted form of m.
func (m Message) Record() store.MessageRecord {
	return store.MessageRecord{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
	}
}

// FromRecords rebuilds messages from their persisted form. Any role other
// than "user" reads as the assistant.
func FromRecords(recs []store.MessageRecord) []Message {
	out := make([]Message, len(recs))
	for i, r := range recs {
		role := RoleAssistant
		if r.Role == string(RoleUser) {
			role = RoleUser
		}
		out[i] = Message{
			ID:        r.ID,
			Role:      role,
			Content:   r.Content,
			Timestamp: time.UnixMilli(r.Timestamp),
		}
	}
	return out
}

// Records returns the persisted form of msgs.
func Records(msgs []Message) []store.MessageRecord {
	out := make([]store.MessageRecord, len(msgs))
	for i, m := range msgs {
		out[i] = m.Record()
	}
	return out
}

// Turn is a user message and the assistant reply that follows it. Either
// side may be nil, but not both.
type Turn struct {
	User      *Message `json:"user,omitempty"`
	Assistant *Message `json:"assistant,omitempty"`
}

// ID returns the message ID a turn is addressed by: the user's if present,
// else the assistant's.
func (t Turn) ID() string {
	switch {
	case t.User != nil:
		return t.User.ID
	case t.Assistant != nil:
		return t.Assistant.ID
	}
	return ""
}

// BuildTurns groups msgs in one pass. A user message takes the assistant
// message immediately after it, if any; an assistant message with no user
// message before it stands alone. The turns point into msgs.
func BuildTurns(msgs []Message) []Turn {
	var turns []Turn
	for i := 0; i < len(msgs); i++ {
		m := &msgs[i]
		if m.Role != RoleUser {
			turns = append(turns, Turn{Assistant: m})
			continue
		}
		t := Turn{User: m}
		if i+1 < len(msgs) && msgs[i+1].Role == RoleAssistant {
			t.Assistant = &msgs[i+1]
			i++
		}
		turns = append(turns, t)
	}
	return turns
}

// pairedIDs returns the ID at index idx and, when adjacent, its complement:
// the following assistant reply for a user message, the preceding user
// message for an assistant reply.
func pairedIDs(msgs []Message, idx int) []string {
	ids := []string{msgs[idx].ID}
	if msgs[idx].Role == RoleUser {
		if idx+1 < len(msgs) && msgs[idx+1].Role == RoleAssistant {
			ids = append(ids, msgs[idx+1].ID)
		}
	} else if idx > 0 && msgs[idx-1].Role == RoleUser {
		ids = append(ids, msgs[idx-1].ID)
	}
	return ids
}
