package model

import (
	"time"
)

// EventType represents the type of inbox event.
type EventType string

const (
	EventMessageSent      EventType = "message_sent"
	EventConversationRead EventType = "conversation_read"
	EventMessagesDeleted  EventType = "messages_deleted"
	EventInboxSynced      EventType = "inbox_synced"
)

// InboxEvent is published whenever the landlord changes the inbox.
type InboxEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Actor          UserID    `json:"actor,omitempty"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	MessageIDs     []int64   `json:"message_ids,omitempty"`
	Count          int       `json:"count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
