package storage

import (
	"fmt"
	"time"
)

// AppendMessage appends one conversation turn. Messages are append-only;
// there is no update path.
func (s *Store) AppendMessage(m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	bookmarked := 0
	if m.IsBookmarked {
		bookmarked = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, created_at, token_count, is_bookmarked)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content,
		createdAt.Format(time.RFC3339), m.TokenCount, bookmarked,
	)
	return err
}

// ListMessages returns all turns of a conversation in chronological order.
// RFC3339 timestamps have second resolution, so rowid breaks ties to keep
// same-second appends in submission order.
func (s *Store) ListMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at, token_count, is_bookmarked
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		var bookmarked int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt, &m.TokenCount, &bookmarked); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		m.IsBookmarked = bookmarked != 0
		results = append(results, m)
	}
	return results, rows.Err()
}
