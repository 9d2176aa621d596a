package inbound

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationResolved  ConversationStatus = "resolved"
	ConversationEscalated ConversationStatus = "escalated"
)

type MessageRole string

const (
	MessagePatient MessageRole = "patient"
	MessageAgent   MessageRole = "agent"
	MessageStaff   MessageRole = "staff"
)

type Conversation struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	ChannelAddress string
	Status         ConversationStatus
	EscalatedAt    *time.Time
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

type Message struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	Role             MessageRole
	Content          string
	ChannelMessageID *string
	CreatedAt        time.Time
}

// InboundMessage is one patient message as delivered by a messaging channel.
type InboundMessage struct {
	ChannelID   string `json:"-"`
	From        string `json:"from"`
	ProfileName string `json:"profile_name"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	MessageID   string `json:"message_id"`
}

// Outcome names the terminal state a handled message reached.
type Outcome string

const (
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnsupported   Outcome = "unsupported"
	OutcomeEmpty         Outcome = "empty"
	OutcomeEscalated     Outcome = "escalated"
	OutcomeReminderReply Outcome = "reminder_reply"
	OutcomeFirstContact  Outcome = "first_contact"
	OutcomeReplied       Outcome = "replied"
	OutcomeFailed        Outcome = "failed"
)
