package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/model"
)

var ErrNotFound = errors.New("not found")

// MessageStore is the relay's durable message log. Implementations: MessageRepository
// (Postgres) and MemoryStore (tests, runs without a database).
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// Between returns the last limit messages exchanged by a and b, oldest first.
	Between(ctx context.Context, a, b string, limit int) ([]model.Message, error)
	// Conversations lists userID's conversations with their last message and unread count.
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
	UpdateText(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string, readAt int64) error
	// MarkConversationRead marks everything peerID sent to userID as read.
	MarkConversationRead(ctx context.Context, userID, peerID string, readAt int64) error
}

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `id, conversation_id, sender_id, recipient_id, text, message_type,
	COALESCE(reply_to_id, '') AS reply_to_id, is_edited, created_at, COALESCE(read_at, 0) AS read_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Text, &m.Type,
		&m.ReplyToID, &m.IsEdited, &m.Timestamp, &m.ReadAt)
	if err != nil {
		return m, err
	}
	m.Status = model.MessageStatusDelivered
	if m.ReadAt > 0 {
		m.Status = model.MessageStatusSeen
	}
	return m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	var replyTo *string
	if m.ReplyToID != "" {
		replyTo = &m.ReplyToID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, recipient_id, text, message_type, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Text, m.Type, replyTo, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return &m, nil
}

func (r *MessageRepository) Between(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Between", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		 ) t ORDER BY created_at ASC`,
		model.ConversationID(a, b), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Between query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.Between scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Between rows: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("msg.Conversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (conversation_id) `+messageColumns+`
		 FROM messages
		 WHERE sender_id = $1 OR recipient_id = $1
		 ORDER BY conversation_id, created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations query: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.Conversations scan: %w", err)
		}
		last := m
		convs = append(convs, model.Conversation{
			ID:          m.ConversationID,
			Participant: m.Peer(userID),
			LastMessage: &last,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations rows: %w", err)
	}

	unread, err := r.unreadBySender(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].Participant]
	}
	return convs, nil
}

func (r *MessageRepository) unreadBySender(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM messages
		 WHERE recipient_id = $1 AND read_at IS NULL
		 GROUP BY sender_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.unreadBySender: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.unreadBySender scan: %w", err)
		}
		out[sender] = n
	}
	return out, rows.Err()
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string) error {
	defer logger.DeferLogDuration("msg.UpdateText", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET text = $1, is_edited = true WHERE id = $2`, text, id)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateText: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string, readAt int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_at = $1 WHERE id = $2 AND read_at IS NULL`, readAt, id)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *MessageRepository) MarkConversationRead(ctx context.Context, userID, peerID string, readAt int64) error {
	defer logger.DeferLogDuration("msg.MarkConversationRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_at = $1
		 WHERE recipient_id = $2 AND sender_id = $3 AND read_at IS NULL`,
		readAt, userID, peerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkConversationRead: %w", err)
	}
	return nil
}
