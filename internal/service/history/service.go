package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"robomind/internal/models"
)

// Service persists conversations, turns, and reminders so a restart does not
// lose transcripts. The in-memory session remains the source of truth while
// the process lives; this layer mirrors it.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("database handle required")
	}
	return &Service{db: db}, nil
}

// CreateConversation inserts a new conversation and returns the record.
func (s *Service) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New Conversation"
	}
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &models.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// ListConversations returns all conversations ordered by last activity.
func (s *Service) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetConversationWithTurns returns one conversation and its ordered turns.
func (s *Service) GetConversationWithTurns(ctx context.Context, id string) (*models.Conversation, []models.Turn, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`,
		id,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, language, created_at FROM turns WHERE conversation_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return &conv, nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.Language, &t.CreatedAt); err != nil {
			return &conv, nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return &conv, turns, rows.Err()
}

// AppendTurn stores a turn and updates the conversation's updated_at.
func (s *Service) AppendTurn(ctx context.Context, turn models.Turn) (*models.Turn, error) {
	if turn.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if turn.Language == "" {
		turn.Language = models.LangAuto
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, language, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ConversationID, turn.Role, turn.Content, turn.Language, turn.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("turn id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		turn.CreatedAt, turn.ConversationID,
	); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	turn.ID = id
	return &turn, nil
}

// ClearTurns deletes all turns for a conversation; the conversation itself
// survives.
func (s *Service) ClearTurns(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("invalid conversation id")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// UpdateConversationTitle sets a conversation title.
func (s *Service) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ?`,
		title, conversationID,
	)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteConversation removes a conversation and everything attached to it.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("invalid conversation id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reminders WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete reminders: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

// SaveReminder persists a pending reminder so it survives a restart.
func (s *Service) SaveReminder(ctx context.Context, r models.Reminder) (*models.Reminder, error) {
	if r.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (conversation_id, message, fire_at, created_at) VALUES (?, ?, ?, ?)`,
		r.ConversationID, r.Message, r.FireAt, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reminder id: %w", err)
	}
	r.ID = id
	return &r, nil
}

// DeleteReminder removes a fired reminder.
func (s *Service) DeleteReminder(ctx context.Context, id int64) error {
	if id <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

// LoadPendingReminders returns all saved reminders, oldest FireAt first,
// used to rehydrate the scheduler at startup.
func (s *Service) LoadPendingReminders(ctx context.Context) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, message, fire_at, created_at FROM reminders ORDER BY fire_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Message, &r.FireAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
