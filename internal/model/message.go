// Package model defines data structures shared by the portal packages.
package model

// UserID is a backend user primary key.
type UserID int64

// ChatMessage is a chat message as returned by the backend.
type ChatMessage struct {
	ID             int64  `json:"id"`
	Sender         UserID `json:"sender"`
	Recipient      UserID `json:"recipient"`
	SenderEmail    string `json:"sender_email,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Property       *int64 `json:"property,omitempty"`
	Unit           *int64 `json:"unit,omitempty"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
	IsRead         bool   `json:"is_read"`
}

// SendMessageRequest is the body posted to create a chat message.
type SendMessageRequest struct {
	Recipient UserID `json:"recipient"`
	Message   string `json:"message"`
	Property  *int64 `json:"property,omitempty"`
	Unit      *int64 `json:"unit,omitempty"`
}

// MarkReadRequest is the partial update that flips a message to read.
type MarkReadRequest struct {
	IsRead bool `json:"is_read"`
}
