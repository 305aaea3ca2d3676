package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is one locally stored note. Timestamps are RFC3339 strings so rows
// look the same whether they came from here or from the backend API.
type Note struct {
	ID          string
	Title       string
	Description string
	XUsername   string
	CreatedAt   string
	UpdatedAt   string
}

// NotePatch carries the fields of a partial note update. Nil fields are
// left unchanged.
type NotePatch struct {
	Title       *string
	Description *string
	XUsername   *string
}

// CreateNote inserts a note, assigning its id and timestamps. Validation
// happens in the notes service; this persists what it is given.
func (s *Store) CreateNote(title, description, xUsername string) (*Note, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	now := time.Now().UTC().Format(time.RFC3339)
	note := &Note{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		XUsername:   xUsername,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(`
		INSERT INTO notes (id, title, description, x_username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, note.ID, note.Title, note.Description, note.XUsername, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ListNotes returns one page of notes, newest first, plus the total count.
func (s *Store) ListNotes(limit, offset int) ([]Note, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT id, title, description, x_username, created_at, updated_at
		FROM notes
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Description, &n.XUsername, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, 0, err
		}
		notes = append(notes, n)
	}
	return notes, total, rows.Err()
}

// UpdateNote applies a partial update and returns the updated note, nil
// when the id is unknown.
func (s *Store) UpdateNote(id string, patch NotePatch) (*Note, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	id = strings.TrimSpace(id)

	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.XUsername != nil {
		sets = append(sets, "x_username = ?")
		args = append(args, *patch.XUsername)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC().Format(time.RFC3339))
		args = append(args, id)

		res, err := s.db.Exec("UPDATE notes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return nil, nil
		}
	}
	return s.getNote(id)
}

func (s *Store) getNote(id string) (*Note, error) {
	var n Note
	err := s.db.QueryRow(`
		SELECT id, title, description, x_username, created_at, updated_at
		FROM notes WHERE id = ?
	`, id).Scan(&n.ID, &n.Title, &n.Description, &n.XUsername, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// DeleteNote removes one note, reporting whether a row was deleted.
func (s *Store) DeleteNote(id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreClosed
	}
	res, err := s.db.Exec(`DELETE FROM notes WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteNotes removes the given ids in one statement and returns how many
// rows were deleted.
func (s *Store) DeleteNotes(ids []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query := "DELETE FROM notes WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = strings.TrimSpace(id)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
