package storage

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ActionHistoryEntry is one recorded action run.
type ActionHistoryEntry struct {
	ID            string
	ActionID      string
	ActionName    string
	ActionPrompt  string
	Transcription string
	LLMResponse   string
	ResultText    string
	CreatedAt     time.Time
}

// AppendActionHistory records an action run. The id is assigned here; ULIDs
// keep ids time-ordered.
func (s *Store) AppendActionHistory(entry ActionHistoryEntry) (*ActionHistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	entry.ID = strings.ToLower(ulid.Make().String())
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO action_history (id, action_id, action_name, action_prompt, transcription, llm_response, result_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ActionID, entry.ActionName, entry.ActionPrompt,
		entry.Transcription, entry.LLMResponse, entry.ResultText, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListActionHistory returns recent action runs, newest first.
func (s *Store) ListActionHistory(limit int) ([]ActionHistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// ULID ids sort by creation time, with sub-second runs still in order.
	rows, err := s.db.Query(`
		SELECT id, action_id, action_name, action_prompt, transcription, llm_response, result_text, created_at
		FROM action_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ActionHistoryEntry
	for rows.Next() {
		var e ActionHistoryEntry
		if err := rows.Scan(&e.ID, &e.ActionID, &e.ActionName, &e.ActionPrompt,
			&e.Transcription, &e.LLMResponse, &e.ResultText, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearActionHistory deletes all recorded runs and returns how many were
// removed.
func (s *Store) ClearActionHistory() (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	res, err := s.db.Exec(`DELETE FROM action_history`)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
