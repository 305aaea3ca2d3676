package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// Chat is one conversation summary as the backend returns it.
type Chat struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	LeafMessageID string    `json:"leaf_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChatPage is one page of the chat list. NextPage and PreviousPage are nil
// on the last and first page respectively.
type ChatPage struct {
	Count        int    `json:"count"`
	NextPage     *int   `json:"next_page"`
	PreviousPage *int   `json:"previous_page"`
	Results      []Chat `json:"results"`
}

// ChatPatch is a partial chat update; nil fields are left unchanged.
type ChatPatch struct {
	Title *string `json:"title,omitempty"`
}

// ListChats fetches one page of the user's chats, newest first.
func (c *Client) ListChats(ctx context.Context, page, pageSize int) (ChatPage, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	var out ChatPage
	if err := c.do(ctx, http.MethodGet, "/winky/chats/", query, nil, &out); err != nil {
		return ChatPage{}, werrors.Wrap(err, werrors.ErrCodeChatFetch, "list chats")
	}
	return out, nil
}

// GetChat fetches a single chat by id.
func (c *Client) GetChat(ctx context.Context, id string) (Chat, error) {
	var out Chat
	if err := c.do(ctx, http.MethodGet, chatPath(id), nil, nil, &out); err != nil {
		return Chat{}, werrors.Wrap(err, werrors.ErrCodeChatFetch, "get chat").
			WithContext("chat_id", id)
	}
	return out, nil
}

// UpdateChat applies a partial update (currently: rename).
func (c *Client) UpdateChat(ctx context.Context, id string, patch ChatPatch) (Chat, error) {
	var out Chat
	if err := c.do(ctx, http.MethodPatch, chatPath(id), nil, patch, &out); err != nil {
		return Chat{}, werrors.Wrap(err, werrors.ErrCodeChatFetch, "update chat").
			WithContext("chat_id", id)
	}
	return out, nil
}

// DeleteChat removes a chat and its messages on the backend.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, chatPath(id), nil, nil, nil); err != nil {
		return werrors.Wrap(err, werrors.ErrCodeChatDelete, "delete chat").
			WithContext("chat_id", id).
			WithUserMessage("Couldn't delete the chat.")
	}
	return nil
}

func chatPath(id string) string {
	return "/winky/chats/" + url.PathEscape(id) + "/"
}

func messagePath(id, suffix string) string {
	return "/winky/messages/" + url.PathEscape(id) + "/" + suffix + "/"
}

// wireMessage is the backend's message row shape.
type wireMessage struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	SiblingCount int       `json:"sibling_count"`
	SiblingIndex int       `json:"sibling_index"`
	CreatedAt    time.Time `json:"created_at"`
}

func (w wireMessage) toMessage() chat.Message {
	m := chat.Message{
		ID:           chat.ConfirmedID(w.ID),
		Role:         chat.Role(w.Role),
		Content:      w.Content,
		SiblingCount: w.SiblingCount,
		SiblingIndex: w.SiblingIndex,
		CreatedAt:    w.CreatedAt,
	}
	if w.ParentID != "" {
		m.ParentID = chat.ConfirmedID(w.ParentID)
	}
	return m
}

func toMessages(rows []wireMessage) []chat.Message {
	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toMessage())
	}
	return out
}

type branchEnvelope struct {
	Items         []wireMessage `json:"items"`
	LeafMessageID string        `json:"leaf_message_id"`
	HasMore       bool          `json:"has_more"`
	NextCursor    string        `json:"next_cursor"`
}

type childrenEnvelope struct {
	Items []wireMessage `json:"items"`
	Total int           `json:"total"`
}

type itemsEnvelope struct {
	Items []wireMessage `json:"items"`
}

// FetchBranch returns the window of the branch ending at the given leaf, or
// the server-default branch when no leaf is passed. Callers classify
// failures, so errors come back with transport/backend codes only.
func (c *Client) FetchBranch(ctx context.Context, chatID string, q chat.BranchQuery) (chat.BranchPage, error) {
	query := url.Values{}
	if q.LeafID != "" {
		query.Set("leaf_message_id", q.LeafID)
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	var env branchEnvelope
	if err := c.do(ctx, http.MethodGet, "/winky/chats/"+url.PathEscape(chatID)+"/branch/", query, nil, &env); err != nil {
		return chat.BranchPage{}, err
	}
	return chat.BranchPage{
		Items:         toMessages(env.Items),
		LeafMessageID: env.LeafMessageID,
		HasMore:       env.HasMore,
		NextCursor:    env.NextCursor,
	}, nil
}

// FetchChildren returns all children of a message, ordered by creation.
func (c *Client) FetchChildren(ctx context.Context, messageID string) (chat.SiblingPage, error) {
	var env childrenEnvelope
	if err := c.do(ctx, http.MethodGet, messagePath(messageID, "children"), nil, nil, &env); err != nil {
		return chat.SiblingPage{}, err
	}
	return chat.SiblingPage{Items: toMessages(env.Items), Total: env.Total}, nil
}

// FetchBranchTo returns the root-to-message chain.
func (c *Client) FetchBranchTo(ctx context.Context, messageID string) ([]chat.Message, error) {
	var env itemsEnvelope
	if err := c.do(ctx, http.MethodGet, messagePath(messageID, "branch"), nil, nil, &env); err != nil {
		return nil, err
	}
	return toMessages(env.Items), nil
}

// FetchBranchFrom returns the message and its downstream chain to the
// current leaf on that side of the tree.
func (c *Client) FetchBranchFrom(ctx context.Context, messageID string) ([]chat.Message, error) {
	var env itemsEnvelope
	if err := c.do(ctx, http.MethodGet, messagePath(messageID, "downstream"), nil, nil, &env); err != nil {
		return nil, err
	}
	return toMessages(env.Items), nil
}
