package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateConversation inserts a new chat-UI conversation.
func (s *Store) CreateConversation(ctx context.Context, c *bridge.Conversation) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO conversations (id, title, provider_id, proxy_id, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, nullStr(c.ProviderID), nullStr(c.ProxyID), c.Model, timeToStr(c.CreatedAt), timeToStr(c.UpdatedAt),
	)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*bridge.Conversation, error) {
	row := s.read.QueryRowContext(ctx, conversationSelect+` WHERE id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, offset, limit int) ([]*bridge.Conversation, error) {
	rows, err := s.read.QueryContext(ctx,
		conversationSelect+` ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversation renames a conversation and refreshes its timestamp.
func (s *Store) UpdateConversation(ctx context.Context, c *bridge.Conversation) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE conversations SET title=?, model=?, updated_at=? WHERE id=?`,
		c.Title, c.Model, timeToStr(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "conversation")
}

// DeleteConversation removes a conversation; messages cascade via foreign key.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "conversation")
}

const conversationSelect = `SELECT id, title, provider_id, proxy_id, model, created_at, updated_at FROM conversations`

func scanConversation(row scanner) (*bridge.Conversation, error) {
	var c bridge.Conversation
	var providerID, proxyID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Title, &providerID, &proxyID, &c.Model, &createdAt, &updatedAt); err != nil {
		return nil, notFoundErr(err)
	}
	c.ProviderID = providerID.String
	c.ProxyID = proxyID.String
	c.CreatedAt = mustParseTime(createdAt)
	c.UpdatedAt = mustParseTime(updatedAt)
	return &c, nil
}

// AppendMessage inserts one chat message, keeping its conversation fresh.
func (s *Store) AppendMessage(ctx context.Context, m *bridge.ChatMessage) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, conversation_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Text, timeToStr(m.CreatedAt),
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at=? WHERE id=?`, timeToStr(m.CreatedAt), m.ConversationID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages in turn order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*bridge.ChatMessage, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, conversation_id, role, text, created_at FROM chat_messages WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.ChatMessage
	for rows.Next() {
		var m bridge.ChatMessage
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		m.Role = bridge.Role(role)
		m.CreatedAt = mustParseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMessage removes a single chat message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM chat_messages WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "chat message")
}

// DeleteMessagePair removes the message with the given ID along with its
// conversational partner -- the adjacent message in the same conversation
// (by created_at), since send-message always appends a user turn
// immediately followed by the assistant's reply.
func (s *Store) DeleteMessagePair(ctx context.Context, id string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var conversationID, createdAt string
	err = tx.QueryRowContext(ctx, `SELECT conversation_id, created_at FROM chat_messages WHERE id=?`, id).
		Scan(&conversationID, &createdAt)
	if err != nil {
		return notFoundErr(err)
	}

	var partnerID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_messages WHERE conversation_id=? AND id!=?
		 ORDER BY ABS(strftime('%s', created_at) - strftime('%s', ?)) ASC LIMIT 1`,
		conversationID, id, createdAt,
	).Scan(&partnerID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE id=?`, id); err != nil {
		return err
	}
	if partnerID.Valid {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE id=?`, partnerID.String); err != nil {
			return err
		}
	}
	return tx.Commit()
}
