package storage

import (
	"fmt"
	"testing"
	"time"
)

func TestCreateNoteAssignsIDAndTimestamps(t *testing.T) {
	store := newTestStore(t)

	note, err := store.CreateNote("groceries", "milk, eggs", "")
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.ID == "" {
		t.Error("expected an assigned id")
	}
	if note.Title != "groceries" || note.Description != "milk, eggs" {
		t.Errorf("note = %+v", note)
	}
	if _, err := time.Parse(time.RFC3339, note.CreatedAt); err != nil {
		t.Errorf("created_at %q is not RFC3339: %v", note.CreatedAt, err)
	}
	if note.CreatedAt != note.UpdatedAt {
		t.Errorf("fresh note timestamps differ: %q vs %q", note.CreatedAt, note.UpdatedAt)
	}
}

func TestListNotesNewestFirst(t *testing.T) {
	store := newTestStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		note, err := store.CreateNote(fmt.Sprintf("note %d", i), "", "")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, note.ID)
	}

	notes, total, err := store.ListNotes(10, 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(notes) != 5 {
		t.Fatalf("len = %d, want 5", len(notes))
	}
	// Most recent insert comes back first.
	for i, n := range notes {
		if want := ids[len(ids)-1-i]; n.ID != want {
			t.Errorf("notes[%d].ID = %s, want %s", i, n.ID, want)
		}
	}
}

func TestListNotesPaging(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 7; i++ {
		if _, err := store.CreateNote(fmt.Sprintf("note %d", i), "", ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, total, err := store.ListNotes(3, 3)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(page) != 3 {
		t.Errorf("page len = %d, want 3", len(page))
	}

	tail, _, err := store.ListNotes(3, 6)
	if err != nil {
		t.Fatalf("ListNotes tail: %v", err)
	}
	if len(tail) != 1 {
		t.Errorf("tail len = %d, want 1", len(tail))
	}
}

func TestUpdateNotePartial(t *testing.T) {
	store := newTestStore(t)

	note, err := store.CreateNote("draft", "original text", "artas")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "final"
	updated, err := store.UpdateNote(note.ID, NotePatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if updated == nil {
		t.Fatal("updated note is nil")
	}
	if updated.Title != "final" {
		t.Errorf("title = %q, want final", updated.Title)
	}
	// Untouched fields survive.
	if updated.Description != "original text" || updated.XUsername != "artas" {
		t.Errorf("unpatched fields changed: %+v", updated)
	}
	if updated.CreatedAt != note.CreatedAt {
		t.Errorf("created_at changed on update")
	}
}

func TestUpdateNoteUnknownID(t *testing.T) {
	store := newTestStore(t)

	title := "x"
	updated, err := store.UpdateNote("missing", NotePatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if updated != nil {
		t.Errorf("expected nil for unknown id, got %+v", updated)
	}
}

func TestDeleteNote(t *testing.T) {
	store := newTestStore(t)

	note, err := store.CreateNote("gone soon", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := store.DeleteNote(note.ID)
	if err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if !deleted {
		t.Error("expected deleted=true")
	}

	deleted, err = store.DeleteNote(note.ID)
	if err != nil {
		t.Fatalf("DeleteNote again: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false for missing note")
	}
}

func TestDeleteNotesBulk(t *testing.T) {
	store := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		note, err := store.CreateNote(fmt.Sprintf("note %d", i), "", "")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, note.ID)
	}

	// Unknown ids are simply not counted.
	count, err := store.DeleteNotes(append(ids[:2:2], "missing"))
	if err != nil {
		t.Fatalf("DeleteNotes: %v", err)
	}
	if count != 2 {
		t.Errorf("deleted count = %d, want 2", count)
	}

	_, total, err := store.ListNotes(10, 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 1 {
		t.Errorf("remaining = %d, want 1", total)
	}

	count, err = store.DeleteNotes(nil)
	if err != nil {
		t.Fatalf("DeleteNotes empty: %v", err)
	}
	if count != 0 {
		t.Errorf("empty delete count = %d, want 0", count)
	}
}
