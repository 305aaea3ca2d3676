package notes

import (
	"context"
	"testing"
	"time"

	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/werrors"
)

type fakeBackend struct {
	list    func(ctx context.Context, page, pageSize int) (*Page, error)
	create  func(ctx context.Context, input Input) (*Note, error)
	update  func(ctx context.Context, id string, patch Patch) (*Note, error)
	del     func(ctx context.Context, id string) error
	bulkDel func(ctx context.Context, ids []string) (int, error)
}

func (f *fakeBackend) List(ctx context.Context, page, pageSize int) (*Page, error) {
	if f.list == nil {
		return &Page{}, nil
	}
	return f.list(ctx, page, pageSize)
}

func (f *fakeBackend) Create(ctx context.Context, input Input) (*Note, error) {
	if f.create == nil {
		return &Note{ID: "n1", Title: input.Title}, nil
	}
	return f.create(ctx, input)
}

func (f *fakeBackend) Update(ctx context.Context, id string, patch Patch) (*Note, error) {
	if f.update == nil {
		return &Note{ID: id}, nil
	}
	return f.update(ctx, id, patch)
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	if f.del == nil {
		return nil
	}
	return f.del(ctx, id)
}

func (f *fakeBackend) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if f.bulkDel == nil {
		return len(ids), nil
	}
	return f.bulkDel(ctx, ids)
}

func TestCreateTrimsInput(t *testing.T) {
	var got Input
	backend := &fakeBackend{
		create: func(ctx context.Context, input Input) (*Note, error) {
			got = input
			return &Note{ID: "n1", Title: input.Title}, nil
		},
	}
	service := NewService(backend, nil, nil)

	if _, err := service.Create(context.Background(), Input{Title: "  groceries  ", XUsername: " artas "}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.Title != "groceries" {
		t.Errorf("title = %q, want trimmed", got.Title)
	}
	if got.XUsername != "artas" {
		t.Errorf("x_username = %q, want trimmed", got.XUsername)
	}
}

func TestCreateEmptyTitleRejected(t *testing.T) {
	called := false
	backend := &fakeBackend{
		create: func(ctx context.Context, input Input) (*Note, error) {
			called = true
			return nil, nil
		},
	}
	service := NewService(backend, nil, nil)

	_, err := service.Create(context.Background(), Input{Title: "   "})
	if !werrors.IsCode(err, werrors.ErrCodeInvalidInput) {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}
	if called {
		t.Error("backend should not be reached on invalid input")
	}
}

func TestUpdateEmptyTitleRejected(t *testing.T) {
	service := NewService(&fakeBackend{}, nil, nil)

	blank := "  "
	_, err := service.Update(context.Background(), "n1", Patch{Title: &blank})
	if !werrors.IsCode(err, werrors.ErrCodeInvalidInput) {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}

	// A nil title means the title is untouched, so no validation applies.
	if _, err := service.Update(context.Background(), "n1", Patch{}); err != nil {
		t.Fatalf("Update with empty patch: %v", err)
	}
}

func TestBulkDeleteRequiresIDs(t *testing.T) {
	service := NewService(&fakeBackend{}, nil, nil)

	if _, err := service.BulkDelete(context.Background(), nil); !werrors.IsCode(err, werrors.ErrCodeInvalidInput) {
		t.Errorf("nil ids err = %v, want INVALID_INPUT", err)
	}
	if _, err := service.BulkDelete(context.Background(), []string{"  ", ""}); !werrors.IsCode(err, werrors.ErrCodeInvalidInput) {
		t.Errorf("blank ids err = %v, want INVALID_INPUT", err)
	}

	var got []string
	backend := &fakeBackend{
		bulkDel: func(ctx context.Context, ids []string) (int, error) {
			got = ids
			return len(ids), nil
		},
	}
	service = NewService(backend, nil, nil)
	count, err := service.BulkDelete(context.Background(), []string{"a", " ", "b"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("backend ids = %v, want blanks dropped", got)
	}
}

func TestMutationsPublishNotesUpdated(t *testing.T) {
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	ch, cancel := hub.Subscribe(events.EventNotesUpdated)
	t.Cleanup(cancel)

	service := NewService(&fakeBackend{}, hub, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, Input{Title: "t"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := service.Update(ctx, "n1", Patch{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := service.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	wantOps := []string{"create", "update", "delete"}
	for _, want := range wantOps {
		select {
		case ev := <-ch:
			if ev.Type != events.EventNotesUpdated {
				t.Errorf("event type = %s", ev.Type)
			}
			if op, _ := ev.Data["op"].(string); op != want {
				t.Errorf("op = %q, want %q", op, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no event for %s", want)
		}
	}
}

func TestFailedMutationDoesNotPublish(t *testing.T) {
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	ch, cancel := hub.Subscribe(events.EventNotesUpdated)
	t.Cleanup(cancel)

	backend := &fakeBackend{
		del: func(ctx context.Context, id string) error {
			return werrors.New(werrors.ErrCodeNoteNotFound, "gone")
		},
	}
	service := NewService(backend, hub, nil)

	if err := service.Delete(context.Background(), "n1"); !werrors.IsCode(err, werrors.ErrCodeNoteNotFound) {
		t.Fatalf("err = %v, want NOTE_NOT_FOUND", err)
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected event %+v after failed delete", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListClampsPaging(t *testing.T) {
	var gotPage, gotSize int
	backend := &fakeBackend{
		list: func(ctx context.Context, page, pageSize int) (*Page, error) {
			gotPage, gotSize = page, pageSize
			return &Page{}, nil
		},
	}
	service := NewService(backend, nil, nil)

	if _, err := service.List(context.Background(), 0, -5); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotPage != 1 {
		t.Errorf("page = %d, want 1", gotPage)
	}
	if gotSize != defaultPageSize {
		t.Errorf("pageSize = %d, want %d", gotSize, defaultPageSize)
	}
}
