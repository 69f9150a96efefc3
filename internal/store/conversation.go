package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martydill/aixplosion/internal/message"
)

// Conversation is a persisted conversation record. Messages are loaded
// separately.
type Conversation struct {
	ID           string
	Model        string
	SystemPrompt string
	SubAgent     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UsageIn      int
	UsageOut     int
}

// CreateConversation inserts a new conversation and returns it.
func (s *Store) CreateConversation(model, systemPrompt, subAgent string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := &Conversation{
		ID:           uuid.NewString(),
		Model:        model,
		SystemPrompt: systemPrompt,
		SubAgent:     subAgent,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	err := withRetry(func() error {
		_, err := s.db.Exec(
			`INSERT INTO conversations (id, model, system_prompt, sub_agent, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.Model, conv.SystemPrompt, conv.SubAgent,
			conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation record by ID.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Conversation
	var created, updated int64
	err := s.db.QueryRow(
		`SELECT id, model, system_prompt, sub_agent, created_at, updated_at, usage_in, usage_out
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Model, &c.SystemPrompt, &c.SubAgent, &created, &updated, &c.UsageIn, &c.UsageOut)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, model, system_prompt, sub_agent, created_at, updated_at, usage_in, usage_out
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Model, &c.SystemPrompt, &c.SubAgent,
			&created, &updated, &c.UsageIn, &c.UsageOut); err != nil {
			continue
		}
		c.CreatedAt = time.Unix(created, 0)
		c.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateConversation persists model, system prompt, and sub-agent changes.
// Callers must only do this between turns.
func (s *Store) UpdateConversation(id, model, systemPrompt, subAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.db.Exec(
			`UPDATE conversations SET model = ?, system_prompt = ?, sub_agent = ?, updated_at = ?
			 WHERE id = ?`,
			model, systemPrompt, subAgent, time.Now().Unix(), id,
		)
		return err
	})
}

// AddUsage accumulates token usage onto a conversation.
func (s *Store) AddUsage(id string, usage message.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.db.Exec(
			`UPDATE conversations SET usage_in = usage_in + ?, usage_out = usage_out + ? WHERE id = ?`,
			usage.InputTokens, usage.OutputTokens, id,
		)
		return err
	})
}

// DeleteConversation removes a conversation; messages and context files
// cascade.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM messages_fts WHERE conversation_id = ?", id); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// AppendMessage persists one message atomically, updating the full-text
// index and the conversation's updated_at stamp.
func (s *Store) AppendMessage(conversationID string, msg message.Message) error {
	blocks, err := message.EncodeBlocks(msg.Blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (id, conversation_id, role, blocks_json, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, conversationID, string(msg.Role), string(blocks), createdAt.UnixNano(),
		); err != nil {
			tx.Rollback()
			return err
		}
		if text := msg.FlattenText(); text != "" {
			if _, err := tx.Exec(
				`INSERT INTO messages_fts (content, message_id, conversation_id) VALUES (?, ?, ?)`,
				text, id, conversationID,
			); err != nil {
				tx.Rollback()
				return err
			}
		}
		if _, err := tx.Exec(
			"UPDATE conversations SET updated_at = ? WHERE id = ?",
			time.Now().Unix(), conversationID,
		); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Messages returns all messages of a conversation in append order.
func (s *Store) Messages(conversationID string) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT role, blocks_json, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var role, blocksJSON string
		var created int64
		if err := rows.Scan(&role, &blocksJSON, &created); err != nil {
			return nil, err
		}
		blocks, err := message.DecodeBlocks([]byte(blocksJSON))
		if err != nil {
			return nil, fmt.Errorf("decode blocks: %w", err)
		}
		msgs = append(msgs, message.Message{
			Role:      message.Role(role),
			Blocks:    blocks,
			CreatedAt: time.Unix(0, created),
		})
	}
	return msgs, rows.Err()
}

// ClearMessages removes all messages of a conversation, keeping the
// conversation record itself.
func (s *Store) ClearMessages(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM messages_fts WHERE conversation_id = ?", conversationID); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// AddContextFile records a context-file path for a conversation. Adding the
// same path twice is a no-op.
func (s *Store) AddContextFile(conversationID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(func() error {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO context_files (conversation_id, path) VALUES (?, ?)",
			conversationID, path,
		)
		return err
	})
}

// ContextFiles returns the context-file paths of a conversation.
func (s *Store) ContextFiles(conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT path FROM context_files WHERE conversation_id = ? ORDER BY path", conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SearchHit is one full-text search result.
type SearchHit struct {
	ConversationID string
	MessageID      string
	Snippet        string
}

// SearchMessages runs a full-text query over all message text.
func (s *Store) SearchMessages(query string) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT conversation_id, message_id, snippet(messages_fts, 0, '', '', '…', 16)
		 FROM messages_fts WHERE messages_fts MATCH ? LIMIT 50`, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ConversationID, &h.MessageID, &h.Snippet); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Plan is a persisted implementation plan.
type Plan struct {
	ID             string
	ConversationID string
	Title          string
	UserRequest    string
	PlanMarkdown   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SavePlan inserts or updates a plan. A zero ID allocates one.
func (s *Store) SavePlan(p *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()

	return withRetry(func() error {
		_, err := s.db.Exec(
			`INSERT INTO plans (id, conversation_id, title, user_request, plan_markdown, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				user_request = excluded.user_request,
				plan_markdown = excluded.plan_markdown,
				updated_at = excluded.updated_at`,
			p.ID, p.ConversationID, p.Title, p.UserRequest, p.PlanMarkdown,
			p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
		)
		return err
	})
}

// ListPlans returns all plans, most recently updated first.
func (s *Store) ListPlans() ([]*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, COALESCE(conversation_id, ''), title, user_request, plan_markdown, created_at, updated_at
		 FROM plans ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		var p Plan
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.Title, &p.UserRequest,
			&p.PlanMarkdown, &created, &updated); err != nil {
			continue
		}
		p.CreatedAt = time.Unix(created, 0)
		p.UpdatedAt = time.Unix(updated, 0)
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}
