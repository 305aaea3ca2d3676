package chat

import (
	"fmt"
)

// Branch is a root-to-leaf slice of the conversation tree, oldest first.
type Branch []Message

// Validate checks branch linearity: every message's parent is the message
// right before it, and only the first element may be a root.
func (b Branch) Validate() error {
	for i := range b {
		if i == 0 {
			continue
		}
		if b[i].ParentID != b[i-1].ID {
			return fmt.Errorf("branch broken at %d: parent %q, previous %q",
				i, b[i].ParentID.Value, b[i-1].ID.Value)
		}
	}
	return nil
}

// Leaf returns the last message, or false when the branch is empty.
func (b Branch) Leaf() (Message, bool) {
	if len(b) == 0 {
		return Message{}, false
	}
	return b[len(b)-1], true
}

// IndexOf returns the position of id in the branch, or -1.
func (b Branch) IndexOf(id MessageID) int {
	for i := range b {
		if b[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy so rollback snapshots can't be mutated
// through the live slice.
func (b Branch) Clone() Branch {
	if b == nil {
		return nil
	}
	out := make(Branch, len(b))
	copy(out, b)
	return out
}

// WithoutPending returns the branch with all optimistic messages removed.
func (b Branch) WithoutPending() Branch {
	out := make(Branch, 0, len(b))
	for _, m := range b {
		if m.ID.Pending {
			continue
		}
		out = append(out, m)
	}
	return out
}

// HasPending reports whether any optimistic message remains.
func (b Branch) HasPending() bool {
	for _, m := range b {
		if m.ID.Pending {
			return true
		}
	}
	return false
}
