package notes

import (
	"context"

	"github.com/artasov/winky-cli/pkg/api"
)

// APIBackend stores notes on the remote backend.
type APIBackend struct {
	client *api.Client
}

// NewAPIBackend wraps the REST client as a notes backend.
func NewAPIBackend(client *api.Client) *APIBackend {
	return &APIBackend{client: client}
}

func (b *APIBackend) List(ctx context.Context, page, pageSize int) (*Page, error) {
	remote, err := b.client.ListNotes(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	result := &Page{
		Count:        remote.Count,
		NextPage:     remote.NextPage,
		PreviousPage: remote.PreviousPage,
		Results:      make([]Note, 0, len(remote.Results)),
	}
	for _, n := range remote.Results {
		result.Results = append(result.Results, fromRemote(n))
	}
	return result, nil
}

func (b *APIBackend) Create(ctx context.Context, input Input) (*Note, error) {
	remote, err := b.client.CreateNote(ctx, api.NoteInput{
		Title:       input.Title,
		Description: input.Description,
		XUsername:   input.XUsername,
	})
	if err != nil {
		return nil, err
	}
	note := fromRemote(remote)
	return &note, nil
}

func (b *APIBackend) Update(ctx context.Context, id string, patch Patch) (*Note, error) {
	remote, err := b.client.UpdateNote(ctx, id, api.NotePatch{
		Title:       patch.Title,
		Description: patch.Description,
		XUsername:   patch.XUsername,
	})
	if err != nil {
		return nil, err
	}
	note := fromRemote(remote)
	return &note, nil
}

func (b *APIBackend) Delete(ctx context.Context, id string) error {
	return b.client.DeleteNote(ctx, id)
}

func (b *APIBackend) BulkDelete(ctx context.Context, ids []string) (int, error) {
	return b.client.BulkDeleteNotes(ctx, ids)
}

func fromRemote(n api.Note) Note {
	return Note{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		XUsername:   n.XUsername,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}
