package chat

import "context"

// BranchQuery selects which window of a branch to fetch.
type BranchQuery struct {
	// LeafID pins the branch to a specific leaf; empty means the chat's
	// server-side default leaf.
	LeafID string
	// Cursor continues backward pagination from a previous page.
	Cursor string
	// Limit caps the page size; zero means the server default.
	Limit int
}

// BranchPage is one window of a branch, oldest first.
type BranchPage struct {
	Items         []Message
	LeafMessageID string
	HasMore       bool
	NextCursor    string
}

// SiblingPage lists the children of one parent in creation order.
type SiblingPage struct {
	Items []Message
	Total int
}

// BranchSource is the read side of the backend the navigator needs.
// *api.Client implements it; tests supply fakes.
type BranchSource interface {
	// FetchBranch returns the branch window ending at the query's leaf.
	FetchBranch(ctx context.Context, chatID string, q BranchQuery) (BranchPage, error)
	// FetchChildren returns all children of a message.
	FetchChildren(ctx context.Context, messageID string) (SiblingPage, error)
	// FetchBranchTo returns the full chain from root to the given message.
	FetchBranchTo(ctx context.Context, messageID string) ([]Message, error)
	// FetchBranchFrom returns the chain from the given message down to its
	// current leaf.
	FetchBranchFrom(ctx context.Context, messageID string) ([]Message, error)
}

// GenerateRequest asks for an assistant reply below a parent message.
type GenerateRequest struct {
	ChatID          string
	ParentMessageID string
	Prompt          string
}

// GenerateResult is the terminal payload of a successful generation.
type GenerateResult struct {
	Text      string
	MessageID string
	ChatID    string
	Credits   float64
}

// Generator produces an assistant reply, streaming deltas through onDelta
// and settling exactly once.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, onDelta func(string)) (*GenerateResult, error)
}

// LeafStore persists the last-viewed leaf per chat so reopening a chat
// restores the previous position. Failures must never block navigation.
type LeafStore interface {
	SaveLeaf(chatID, leafID string) error
	Leaf(chatID string) (string, error)
	DeleteLeaf(chatID string) error
}
