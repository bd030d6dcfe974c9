package model

import (
	"time"
)

// SenderRole tells who wrote a message from the landlord's point of view.
type SenderRole string

const (
	SenderTenant   SenderRole = "tenant"
	SenderLandlord SenderRole = "landlord"
)

// ReadStatus is the read state shown in the inbox.
type ReadStatus string

const (
	StatusRead   ReadStatus = "read"
	StatusUnread ReadStatus = "unread"
)

// OrderedMessage is a message inside a conversation.
type OrderedMessage struct {
	ID        int64      `json:"id"`
	Sender    SenderRole `json:"sender"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Read      bool       `json:"read"`
}

// Conversation is the per-tenant chat thread derived from chat messages.
// It is a view and is rebuilt on every aggregation.
type Conversation struct {
	ID              int64            `json:"id"`
	TenantUserID    UserID           `json:"tenant_user_id"`
	Tenant          string           `json:"tenant"`
	TenantEmail     string           `json:"tenantEmail"`
	Property        string           `json:"property"`
	Unit            string           `json:"unit"`
	Messages        []OrderedMessage `json:"messages"`
	LastMessage     string           `json:"lastMessage"`
	LastMessageTime time.Time        `json:"lastMessageTime"`
	Unread          bool             `json:"unread"`
	Status          ReadStatus       `json:"status"`
}

// TableRow is one message in the email-style inbox.
type TableRow struct {
	ID             string     `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	Tenant         string     `json:"tenant"`
	Property       string     `json:"property"`
	Unit           string     `json:"unit"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Sender         SenderRole `json:"sender"`
	Status         ReadStatus `json:"status"`
}

// Page is one page of inbox rows.
type Page struct {
	Rows       []TableRow `json:"rows"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}
