package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists conversations and their messages.
type Store interface {
	// OpenConversation returns the patient's active or escalated
	// conversation, creating an active one when none exists.
	OpenConversation(ctx context.Context, clinicID, patientID uuid.UUID, address string) (*Conversation, error)
	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	SaveMessage(ctx context.Context, m Message) error
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db dbtx
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool}
}

func newPgStoreWithDB(db dbtx) *PgStore {
	return &PgStore{db: db}
}

const conversationColumns = `id, clinic_id, patient_id, channel_address, status, escalated_at, last_message_at, created_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var status string
	if err := row.Scan(
		&c.ID,
		&c.ClinicID,
		&c.PatientID,
		&c.ChannelAddress,
		&status,
		&c.EscalatedAt,
		&c.LastMessageAt,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = ConversationStatus(status)
	return &c, nil
}

func (s *PgStore) OpenConversation(ctx context.Context, clinicID, patientID uuid.UUID, address string) (*Conversation, error) {
	q := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE clinic_id = $1 AND patient_id = $2 AND status IN ('active', 'escalated')
		ORDER BY created_at DESC
		LIMIT 1`

	c, err := scanConversation(s.db.QueryRow(ctx, q, clinicID, patientID))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	ins := `INSERT INTO conversations (id, clinic_id, patient_id, channel_address, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING ` + conversationColumns

	c, err = scanConversation(s.db.QueryRow(ctx, ins, uuid.New(), clinicID, patientID, address))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *PgStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	// newest N, flipped back to chronological order by the outer query
	q := `SELECT id, conversation_id, role, content, channel_message_id, created_at FROM (
			SELECT id, conversation_id, role, content, channel_message_id, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ChannelMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = MessageRole(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *PgStore) SaveMessage(ctx context.Context, m Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	q := `INSERT INTO messages (id, conversation_id, role, content, channel_message_id)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.Exec(ctx, q, m.ID, m.ConversationID, string(m.Role), m.Content, m.ChannelMessageID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PgStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *PgStore) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := `UPDATE conversations SET status = 'escalated', escalated_at = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("mark conversation escalated: %w", err)
	}
	return nil
}
