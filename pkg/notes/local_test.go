package notes

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/artasov/winky-cli/pkg/storage"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func newLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewLocalBackend(store)
}

func TestLocalPageMath(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := backend.Create(ctx, Input{Title: fmt.Sprintf("note %d", i)}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	first, err := backend.List(ctx, 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if first.Count != 5 {
		t.Errorf("count = %d, want 5", first.Count)
	}
	if len(first.Results) != 2 {
		t.Errorf("page 1 len = %d, want 2", len(first.Results))
	}
	if first.PreviousPage != nil {
		t.Errorf("page 1 previous = %v, want nil", *first.PreviousPage)
	}
	if first.NextPage == nil || *first.NextPage != 2 {
		t.Errorf("page 1 next = %v, want 2", first.NextPage)
	}

	middle, err := backend.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if middle.PreviousPage == nil || *middle.PreviousPage != 1 {
		t.Errorf("page 2 previous = %v, want 1", middle.PreviousPage)
	}
	if middle.NextPage == nil || *middle.NextPage != 3 {
		t.Errorf("page 2 next = %v, want 3", middle.NextPage)
	}

	last, err := backend.List(ctx, 3, 2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(last.Results) != 1 {
		t.Errorf("page 3 len = %d, want 1", len(last.Results))
	}
	if last.NextPage != nil {
		t.Errorf("page 3 next = %v, want nil", *last.NextPage)
	}
	if last.PreviousPage == nil || *last.PreviousPage != 2 {
		t.Errorf("page 3 previous = %v, want 2", last.PreviousPage)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	created, err := backend.Create(ctx, Input{Title: "first", Description: "body", XUsername: "artas"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "renamed"
	updated, err := backend.Update(ctx, created.ID, Patch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "renamed" || updated.Description != "body" {
		t.Errorf("updated = %+v", updated)
	}

	page, err := backend.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Results) != 1 || page.Results[0].Title != "renamed" {
		t.Errorf("list results = %+v", page.Results)
	}

	if err := backend.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	page, err = backend.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if page.Count != 0 {
		t.Errorf("count after delete = %d, want 0", page.Count)
	}
}

func TestLocalNotFoundMapping(t *testing.T) {
	backend := newLocalBackend(t)
	ctx := context.Background()

	title := "x"
	_, err := backend.Update(ctx, "missing", Patch{Title: &title})
	if !werrors.IsCode(err, werrors.ErrCodeNoteNotFound) {
		t.Errorf("update err = %v, want NOTE_NOT_FOUND", err)
	}
	if got := werrors.NoticeOf(err); got != "That note no longer exists." {
		t.Errorf("notice = %q", got)
	}

	if err := backend.Delete(ctx, "missing"); !werrors.IsCode(err, werrors.ErrCodeNoteNotFound) {
		t.Errorf("delete err = %v, want NOTE_NOT_FOUND", err)
	}

	// Bulk deletes are best-effort; unknown ids just don't count.
	count, err := backend.BulkDelete(ctx, []string{"missing"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if count != 0 {
		t.Errorf("bulk delete count = %d, want 0", count)
	}
}
