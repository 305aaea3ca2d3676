// Package chat models branching conversations and the navigation state the
// UI renders. Messages form a tree; the UI always shows a single root-to-leaf
// branch, and alternate children of any message are reachable as siblings.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageID tags server-confirmed ids apart from locally-minted pending
// ones. Optimistic messages carry Pending ids until the backend confirms
// them; reconciliation filters by the tag, never by inspecting the value.
type MessageID struct {
	Value   string
	Pending bool
}

// ConfirmedID wraps a server-assigned id.
func ConfirmedID(value string) MessageID {
	return MessageID{Value: value}
}

// NewPendingID mints a local id for an optimistic message.
func NewPendingID() MessageID {
	return MessageID{Value: uuid.NewString(), Pending: true}
}

// IsZero reports whether the id is unset. Root messages have a zero ParentID.
func (id MessageID) IsZero() bool {
	return id.Value == ""
}

func (id MessageID) String() string {
	return id.Value
}

// Message is a single node of the conversation tree.
type Message struct {
	ID           MessageID
	ParentID     MessageID
	Role         Role
	Content      string
	SiblingCount int
	SiblingIndex int
	CreatedAt    time.Time
}

// IsRoot reports whether the message has no parent.
func (m Message) IsRoot() bool {
	return m.ParentID.IsZero()
}

// NewPendingUser builds the optimistic user message appended during send and
// edit flows.
func NewPendingUser(parent MessageID, content string) Message {
	return Message{
		ID:        NewPendingID(),
		ParentID:  parent,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
