package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/edo-homes/portal/internal/model"
)

const chatMessagesEndpoint = "/chat-messages/"

// ChatMessages lists every chat message the user sent or received.
func (c *Client) ChatMessages(ctx context.Context) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	if err := c.do(ctx, http.MethodGet, chatMessagesEndpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendChatMessage creates a chat message and returns the stored record.
func (c *Client) SendChatMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
	var out model.ChatMessage
	if err := c.do(ctx, http.MethodPost, chatMessagesEndpoint, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkChatMessageRead persists the read flag of one message.
func (c *Client) MarkChatMessageRead(ctx context.Context, id int64) error {
	endpoint := fmt.Sprintf("%s%d/", chatMessagesEndpoint, id)
	return c.do(ctx, http.MethodPatch, endpoint, model.MarkReadRequest{IsRead: true}, nil)
}

// DeleteChatMessage deletes one message.
func (c *Client) DeleteChatMessage(ctx context.Context, id int64) error {
	endpoint := fmt.Sprintf("%s%d/", chatMessagesEndpoint, id)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}
