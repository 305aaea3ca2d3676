package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/artasov/winky-cli/pkg/werrors"
)

// Note mirrors the backend's note rows. Timestamps stay RFC 3339 strings so
// the local notes backend can round-trip them unchanged.
type Note struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XUsername   string `json:"x_username"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// NotePage is one DRF-style page of notes.
type NotePage struct {
	Count        int    `json:"count"`
	NextPage     *int   `json:"next_page"`
	PreviousPage *int   `json:"previous_page"`
	Results      []Note `json:"results"`
}

// NoteInput creates a note. Title is required; the rest defaults to empty.
type NoteInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	XUsername   string `json:"x_username,omitempty"`
}

// NotePatch is a partial note update; nil fields are left unchanged.
type NotePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	XUsername   *string `json:"x_username,omitempty"`
}

// ListNotes fetches one page of notes, newest first.
func (c *Client) ListNotes(ctx context.Context, page, pageSize int) (NotePage, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	var out NotePage
	if err := c.do(ctx, http.MethodGet, "/winky/notes/", query, nil, &out); err != nil {
		return NotePage{}, err
	}
	return out, nil
}

// CreateNote stores a new note.
func (c *Client) CreateNote(ctx context.Context, input NoteInput) (Note, error) {
	var out Note
	if err := c.do(ctx, http.MethodPost, "/winky/notes/", nil, input, &out); err != nil {
		return Note{}, err
	}
	return out, nil
}

// UpdateNote applies a partial update to a note.
func (c *Client) UpdateNote(ctx context.Context, id string, patch NotePatch) (Note, error) {
	var out Note
	if err := c.do(ctx, http.MethodPatch, notePath(id), nil, patch, &out); err != nil {
		return Note{}, mapNoteError(err, id)
	}
	return out, nil
}

// DeleteNote removes one note.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, notePath(id), nil, nil, nil); err != nil {
		return mapNoteError(err, id)
	}
	return nil
}

// BulkDeleteNotes removes the given notes in one call and reports how many
// the backend actually deleted.
func (c *Client) BulkDeleteNotes(ctx context.Context, ids []string) (int, error) {
	payload := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	var out struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := c.do(ctx, http.MethodPost, "/winky/notes/bulk-delete/", nil, payload, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

func notePath(id string) string {
	return "/winky/notes/" + url.PathEscape(id) + "/"
}

func mapNoteError(err error, id string) error {
	if StatusOf(err) == http.StatusNotFound {
		return werrors.Wrap(err, werrors.ErrCodeNoteNotFound, "note not found").
			WithContext("note_id", id).
			WithUserMessage("That note no longer exists.")
	}
	return err
}
