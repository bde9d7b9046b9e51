package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Profile        string `json:"profile,omitempty"`
	TokenCount     int    `json:"token_count"`
	CreatedAt      string `json:"created_at"`
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewConversationID mints an id for conversations started by a gateway
// rather than named by the channel (webchat "new chat", TUI sessions).
func NewConversationID() string {
	return newID()
}

// EnsureConversation creates the conversation row if it does not exist yet
// and bumps updated_at either way.
func (s *Store) EnsureConversation(id, channel string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("conversation id is required")
	}
	now := nowUTC()
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, title, channel, created_at, updated_at)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, channel, now, now)
	return err
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(`
		SELECT id, title, channel, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Channel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, title, channel, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Channel, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetConversationTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(title), nowUTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages_fts WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendMessage persists one turn message and indexes it for search.
// tokenCount is the completion-token cost of producing the message; user
// turns carry zero.
func (s *Store) AppendMessage(conversationID, role, content, profile string, tokenCount int) (Message, error) {
	msg := Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Profile:        profile,
		TokenCount:     tokenCount,
		CreatedAt:      nowUTC(),
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, profile, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Profile, msg.TokenCount, msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO messages_fts (content, message_id, conversation_id)
		VALUES (?, ?, ?)`,
		msg.Content, msg.ID, msg.ConversationID); err != nil {
		return Message{}, fmt.Errorf("index message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt, conversationID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// RecentMessages returns the most recent limit messages in chronological
// order, oldest first.
func (s *Store) RecentMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, profile, token_count, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Profile, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) MessageCount(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&n)
	return n, err
}

func (s *Store) SearchMessages(query string, limit int) ([]Message, error) {
	q := ftsQuote(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT m.id, m.conversation_id, m.role, m.content, m.profile, m.token_count, m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.message_id
		WHERE messages_fts MATCH ?
		ORDER BY rank LIMIT ?`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Profile, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
