package notes

import (
	"context"

	"github.com/artasov/winky-cli/pkg/storage"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// LocalBackend stores notes in the local SQLite database.
type LocalBackend struct {
	store *storage.Store
}

// NewLocalBackend wraps the store as a notes backend.
func NewLocalBackend(store *storage.Store) *LocalBackend {
	return &LocalBackend{store: store}
}

// List pages through local notes, computing the same page envelope the
// backend API returns.
func (b *LocalBackend) List(ctx context.Context, page, pageSize int) (*Page, error) {
	offset := (page - 1) * pageSize
	rows, total, err := b.store.ListNotes(pageSize, offset)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeStorageRead, "list notes")
	}

	result := &Page{
		Count:   total,
		Results: make([]Note, 0, len(rows)),
	}
	for _, row := range rows {
		result.Results = append(result.Results, fromRecord(row))
	}
	if offset+len(rows) < total {
		next := page + 1
		result.NextPage = &next
	}
	if page > 1 {
		previous := page - 1
		result.PreviousPage = &previous
	}
	return result, nil
}

// Create inserts a local note.
func (b *LocalBackend) Create(ctx context.Context, input Input) (*Note, error) {
	row, err := b.store.CreateNote(input.Title, input.Description, input.XUsername)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeStorageWrite, "create note")
	}
	note := fromRecord(*row)
	return &note, nil
}

// Update applies a partial update to a local note.
func (b *LocalBackend) Update(ctx context.Context, id string, patch Patch) (*Note, error) {
	row, err := b.store.UpdateNote(id, storage.NotePatch{
		Title:       patch.Title,
		Description: patch.Description,
		XUsername:   patch.XUsername,
	})
	if err != nil {
		return nil, werrors.Wrap(err, werrors.ErrCodeStorageWrite, "update note")
	}
	if row == nil {
		return nil, noteNotFound(id)
	}
	note := fromRecord(*row)
	return &note, nil
}

// Delete removes a local note.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	deleted, err := b.store.DeleteNote(id)
	if err != nil {
		return werrors.Wrap(err, werrors.ErrCodeStorageWrite, "delete note")
	}
	if !deleted {
		return noteNotFound(id)
	}
	return nil
}

// BulkDelete removes the given local notes in one statement.
func (b *LocalBackend) BulkDelete(ctx context.Context, ids []string) (int, error) {
	count, err := b.store.DeleteNotes(ids)
	if err != nil {
		return 0, werrors.Wrap(err, werrors.ErrCodeStorageWrite, "bulk delete notes")
	}
	return count, nil
}

func noteNotFound(id string) error {
	return werrors.New(werrors.ErrCodeNoteNotFound, "note "+id+" not found").
		WithUserMessage("That note no longer exists.")
}

func fromRecord(row storage.Note) Note {
	return Note{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		XUsername:   row.XUsername,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
