package storage

import (
	"database/sql"
	"errors"
	"strings"
)

// SaveLeaf records the last-viewed leaf for a chat. An empty leaf id clears
// the record, matching DeleteLeaf.
func (s *Store) SaveLeaf(chatID, leafID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil
	}
	leafID = strings.TrimSpace(leafID)
	if leafID == "" {
		return s.DeleteLeaf(chatID)
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_leaves (chat_id, leaf_message_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id) DO UPDATE SET leaf_message_id = excluded.leaf_message_id, updated_at = CURRENT_TIMESTAMP
	`, chatID, leafID)
	return err
}

// Leaf returns the last-viewed leaf for a chat, "" when none is recorded.
func (s *Store) Leaf(chatID string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrStoreClosed
	}
	var leafID string
	err := s.db.QueryRow(
		`SELECT leaf_message_id FROM chat_leaves WHERE chat_id = ?`,
		strings.TrimSpace(chatID),
	).Scan(&leafID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return leafID, nil
}

// DeleteLeaf removes the recorded leaf for a chat. Called when the chat
// itself is deleted.
func (s *Store) DeleteLeaf(chatID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM chat_leaves WHERE chat_id = ?`, strings.TrimSpace(chatID))
	return err
}
