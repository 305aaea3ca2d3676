// Package notes manages the user's notes over one of two backends: the
// local SQLite store or the remote API, chosen by configuration. Both
// present the same paged shape so the UI never cares which one is active.
package notes

import (
	"context"
	"strings"

	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// Note is one note as surfaced to the UI. Timestamps stay RFC3339 strings
// end to end.
type Note struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XUsername   string `json:"x_username"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Page is one page of notes with DRF-style page numbers, nil when there is
// no adjacent page.
type Page struct {
	Count        int    `json:"count"`
	NextPage     *int   `json:"next_page"`
	PreviousPage *int   `json:"previous_page"`
	Results      []Note `json:"results"`
}

// Input is the payload for creating a note.
type Input struct {
	Title       string
	Description string
	XUsername   string
}

// Patch is a partial note update. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	XUsername   *string
}

// Backend stores notes somewhere. Implementations map their own not-found
// conditions to ErrCodeNoteNotFound.
type Backend interface {
	List(ctx context.Context, page, pageSize int) (*Page, error)
	Create(ctx context.Context, input Input) (*Note, error)
	Update(ctx context.Context, id string, patch Patch) (*Note, error)
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) (int, error)
}

// Service validates and runs note operations, publishing notes.updated
// after every successful mutation.
type Service struct {
	backend Backend
	hub     *events.Hub
	logger  *logging.Logger
}

// NewService wires a notes service over the given backend. Hub and logger
// may be nil.
func NewService(backend Backend, hub *events.Hub, logger *logging.Logger) *Service {
	return &Service{backend: backend, hub: hub, logger: logger}
}

const defaultPageSize = 20

// List returns one page of notes, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return s.backend.List(ctx, page, pageSize)
}

// Create validates and stores a new note.
func (s *Service) Create(ctx context.Context, input Input) (*Note, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.XUsername = strings.TrimSpace(input.XUsername)
	if input.Title == "" {
		return nil, werrors.New(werrors.ErrCodeInvalidInput, "note title cannot be empty").
			WithUserMessage("A note needs a title.")
	}

	note, err := s.backend.Create(ctx, input)
	if err != nil {
		s.logError("create_failed", err)
		return nil, err
	}
	s.notesUpdated("create", note.ID)
	return note, nil
}

// Update applies a partial update to an existing note.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Note, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return nil, werrors.New(werrors.ErrCodeInvalidInput, "note title cannot be empty").
				WithUserMessage("A note needs a title.")
		}
		patch.Title = &trimmed
	}
	if patch.XUsername != nil {
		trimmed := strings.TrimSpace(*patch.XUsername)
		patch.XUsername = &trimmed
	}

	note, err := s.backend.Update(ctx, strings.TrimSpace(id), patch)
	if err != nil {
		s.logError("update_failed", err)
		return nil, err
	}
	s.notesUpdated("update", note.ID)
	return note, nil
}

// Delete removes one note.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, strings.TrimSpace(id)); err != nil {
		s.logError("delete_failed", err)
		return err
	}
	s.notesUpdated("delete", id)
	return nil
}

// BulkDelete removes the given notes and returns how many were deleted.
func (s *Service) BulkDelete(ctx context.Context, ids []string) (int, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return 0, werrors.New(werrors.ErrCodeInvalidInput, "no note ids provided").
			WithUserMessage("Select at least one note to delete.")
	}

	count, err := s.backend.BulkDelete(ctx, cleaned)
	if err != nil {
		s.logError("bulk_delete_failed", err)
		return 0, err
	}
	s.notesUpdated("bulk_delete", "")
	return count, nil
}

func (s *Service) notesUpdated(op, id string) {
	data := map[string]any{"op": op}
	if id != "" {
		data["id"] = id
	}
	s.hub.Publish(events.Event{Type: events.EventNotesUpdated, Data: data})
}

func (s *Service) logError(event string, err error) {
	if s.logger == nil {
		return
	}
	_ = s.logger.Error(logging.CategoryNotes, event, err.Error(), nil)
}
