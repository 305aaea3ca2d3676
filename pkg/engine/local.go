package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// localChatPrefix marks chats that exist only inside this process. Api-key
// and local provider modes have no backend to persist messages, so their
// trees live here and end with the session.
const localChatPrefix = "local-"

// IsLocalChat reports whether a chat id names an in-process chat.
func IsLocalChat(chatID string) bool {
	return strings.HasPrefix(chatID, localChatPrefix)
}

func newLocalChatID() string {
	return localChatPrefix + uuid.NewString()
}

type localNode struct {
	msg      chat.Message
	children []string // child ids in creation order
}

// localTree is an in-memory conversation store implementing chat.BranchSource,
// so the navigator treats direct-mode chats exactly like backend ones. All
// messages it hands out carry confirmed ids.
type localTree struct {
	mu     sync.Mutex
	nodes  map[string]*localNode
	roots  map[string][]string // chat id -> root ids in creation order
	owner  map[string]string   // message id -> chat id
	leaves map[string]string   // chat id -> most recently written leaf
}

func newLocalTree() *localTree {
	return &localTree{
		nodes:  make(map[string]*localNode),
		roots:  make(map[string][]string),
		owner:  make(map[string]string),
		leaves: make(map[string]string),
	}
}

// append records a message under the chat and returns it. An empty or
// unknown parent makes the message a root.
func (t *localTree) append(chatID, parentID string, role chat.Role, content string) chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	msg := chat.Message{
		ID:        chat.ConfirmedID(id),
		ParentID:  chat.ConfirmedID(parentID),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	t.nodes[id] = &localNode{msg: msg}
	t.owner[id] = chatID
	if parent, ok := t.nodes[parentID]; ok {
		parent.children = append(parent.children, id)
	} else {
		t.roots[chatID] = append(t.roots[chatID], id)
	}
	t.leaves[chatID] = id
	return msg
}

// deleteChat drops every message belonging to the chat. Unknown chats are a
// no-op.
func (t *localTree) deleteChat(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, owner := range t.owner {
		if owner != chatID {
			continue
		}
		delete(t.owner, id)
		delete(t.nodes, id)
	}
	delete(t.roots, chatID)
	delete(t.leaves, chatID)
}

// FetchBranch serves the full root-to-leaf chain. The tree is in memory, so
// there is nothing to paginate; HasMore is always false.
func (t *localTree) FetchBranch(ctx context.Context, chatID string, q chat.BranchQuery) (chat.BranchPage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := q.LeafID
	if leaf == "" {
		leaf = t.leaves[chatID]
	}
	if leaf == "" || t.owner[leaf] != chatID {
		return chat.BranchPage{}, werrors.New(werrors.ErrCodeChatFetch, "unknown local chat").
			WithContext("chat_id", chatID).
			WithUserMessage("That conversation is gone. Local chats do not survive a restart.")
	}
	chain, ok := t.chainTo(leaf)
	if !ok {
		return chat.BranchPage{}, werrors.New(werrors.ErrCodeBranchFetch, "unknown local leaf").
			WithContext("message_id", leaf)
	}
	return chat.BranchPage{
		Items:         chain,
		LeafMessageID: leaf,
	}, nil
}

// FetchChildren lists the children of a message in creation order.
func (t *localTree) FetchChildren(ctx context.Context, messageID string) (chat.SiblingPage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[messageID]
	if !ok {
		return chat.SiblingPage{}, werrors.New(werrors.ErrCodeSiblingFetch, "unknown local message").
			WithContext("message_id", messageID)
	}
	chatID := t.owner[messageID]
	items := make([]chat.Message, 0, len(node.children))
	for _, id := range node.children {
		items = append(items, t.withSiblings(chatID, t.nodes[id]))
	}
	return chat.SiblingPage{Items: items, Total: len(items)}, nil
}

// FetchBranchTo returns the chain from the root down to the given message.
func (t *localTree) FetchBranchTo(ctx context.Context, messageID string) ([]chat.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chain, ok := t.chainTo(messageID)
	if !ok {
		return nil, werrors.New(werrors.ErrCodeBranchFetch, "unknown local message").
			WithContext("message_id", messageID)
	}
	return chain, nil
}

// FetchBranchFrom returns the chain from the given message down to its
// newest descendant, which is what the leaf becomes after a sibling switch.
func (t *localTree) FetchBranchFrom(ctx context.Context, messageID string) ([]chat.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[messageID]
	if !ok {
		return nil, werrors.New(werrors.ErrCodeBranchFetch, "unknown local message").
			WithContext("message_id", messageID)
	}
	chatID := t.owner[messageID]
	out := []chat.Message{t.withSiblings(chatID, node)}
	for len(node.children) > 0 {
		node = t.nodes[node.children[len(node.children)-1]]
		out = append(out, t.withSiblings(chatID, node))
	}
	return out, nil
}

// chainTo walks parents up from id and returns the chain oldest first.
// Callers hold mu.
func (t *localTree) chainTo(id string) ([]chat.Message, bool) {
	var rev []chat.Message
	for cur := id; cur != ""; {
		node, ok := t.nodes[cur]
		if !ok {
			if len(rev) == 0 {
				return nil, false
			}
			break
		}
		rev = append(rev, t.withSiblings(t.owner[cur], node))
		cur = node.msg.ParentID.Value
	}
	out := make([]chat.Message, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out, true
}

// withSiblings fills sibling metadata from the parent's live child list, so
// counts stay current without bookkeeping on every append. Callers hold mu.
func (t *localTree) withSiblings(chatID string, node *localNode) chat.Message {
	msg := node.msg
	group := t.roots[chatID]
	if parent, ok := t.nodes[msg.ParentID.Value]; ok {
		group = parent.children
	}
	msg.SiblingCount = len(group)
	for i, id := range group {
		if id == msg.ID.Value {
			msg.SiblingIndex = i
			break
		}
	}
	return msg
}
