package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID          string    `json:"id"`
	Summary     string    `json:"conversation_summary"`
	LastUpdated time.Time `json:"last_updated"`
}

// Message is immutable once persisted.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Store) CreateConversation(ctx context.Context, id string) error {
	query := s.q(`INSERT INTO conversations (id, conversation_summary, last_updated) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, id, "", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	query := s.q(`SELECT id, conversation_summary, last_updated FROM conversations WHERE id = ?`)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Summary, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateConversationSummary persists the rolling summary. The summary
// remains a per-process cache; this write is opportunistic so a restart
// can seed from it.
func (s *Store) UpdateConversationSummary(ctx context.Context, id string, summary string) error {
	query := s.q(`UPDATE conversations SET conversation_summary = ?, last_updated = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessagePair writes a user/assistant exchange and its two link
// rows in a single transaction. The assistant timestamp is nudged past
// the user timestamp so ordering by timestamp is total within a pair.
func (s *Store) AppendMessagePair(ctx context.Context, conversationID, userContent, assistantContent string) error {
	now := time.Now().UTC()
	userMsg := Message{ID: uuid.NewString(), Role: "user", Content: userContent, Timestamp: now}
	aiMsg := Message{ID: uuid.NewString(), Role: "assistant", Content: assistantContent, Timestamp: now.Add(time.Microsecond)}

	insertMsg := s.q(`INSERT INTO messages (id, message_type, content, timestamp) VALUES (?, ?, ?, ?)`)
	insertLink := s.q(`INSERT INTO conversation_message_links (id, conversation_id, message_id, timestamp) VALUES (?, ?, ?, ?)`)
	touchConv := s.q(`UPDATE conversations SET last_updated = ? WHERE id = ?`)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range []Message{userMsg, aiMsg} {
			if _, err := tx.ExecContext(ctx, insertMsg, m.ID, m.Role, m.Content, m.Timestamp); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
			if _, err := tx.ExecContext(ctx, insertLink, uuid.NewString(), conversationID, m.ID, m.Timestamp); err != nil {
				return fmt.Errorf("failed to insert message link: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, touchConv, aiMsg.Timestamp, conversationID); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
}

// ListMessages returns every message linked to the conversation ordered
// by timestamp ascending.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := s.q(`
SELECT m.id, m.message_type, m.content, m.timestamp
FROM messages m
JOIN conversation_message_links l ON l.message_id = m.id
WHERE l.conversation_id = ?
ORDER BY m.timestamp ASC`)

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessageLinks returns how many link rows exist for a message id.
func (s *Store) CountMessageLinks(ctx context.Context, messageID string) (int, error) {
	var n int
	query := s.q(`SELECT COUNT(*) FROM conversation_message_links WHERE message_id = ?`)
	if err := s.db.QueryRowContext(ctx, query, messageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count message links: %w", err)
	}
	return n, nil
}

// DeleteConversation removes the conversation, its messages and all
// link rows in a single transaction.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	selectLinks := s.q(`SELECT message_id FROM conversation_message_links WHERE conversation_id = ?`)
	deleteMsg := s.q(`DELETE FROM messages WHERE id = ?`)
	deleteLinks := s.q(`DELETE FROM conversation_message_links WHERE conversation_id = ?`)
	deleteUserLinks := s.q(`DELETE FROM conversation_user_links WHERE conversation_id = ?`)
	deleteConv := s.q(`DELETE FROM conversations WHERE id = ?`)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectLinks, conversationID)
		if err != nil {
			return fmt.Errorf("failed to fetch message links: %w", err)
		}
		var messageIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan message id: %w", err)
			}
			messageIDs = append(messageIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range messageIDs {
			if _, err := tx.ExecContext(ctx, deleteMsg, id); err != nil {
				return fmt.Errorf("failed to delete message: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, deleteLinks, conversationID); err != nil {
			return fmt.Errorf("failed to delete message links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteUserLinks, conversationID); err != nil {
			return fmt.Errorf("failed to delete user links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteConv, conversationID); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// LinkConversationToUser records conversation ownership.
func (s *Store) LinkConversationToUser(ctx context.Context, conversationID, userID string) error {
	query := s.q(`INSERT INTO conversation_user_links (id, conversation_id, user_id) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to link conversation to user: %w", err)
	}
	return nil
}
