package conversation

import (
	"time"

	"github.com/edo-homes/portal/internal/model"
)

// ApplyLocalSend appends a message the landlord just sent to the tenant's
// conversation, creating the conversation from the directory when there
// is none yet. New conversations go to the end; existing ones keep their
// position.
func ApplyLocalSend(conversations []model.Conversation, tenantID int64, msg model.OrderedMessage, directory []model.Tenant) []model.Conversation {
	msg.Sender = model.SenderLandlord

	out := make([]model.Conversation, len(conversations), len(conversations)+1)
	copy(out, conversations)

	for i := range out {
		if out[i].ID == tenantID {
			out[i] = withSent(out[i], msg)
			return out
		}
	}

	return append(out, withSent(synthesize(tenantID, directory), msg))
}

func withSent(c model.Conversation, msg model.OrderedMessage) model.Conversation {
	msgs := make([]model.OrderedMessage, len(c.Messages), len(c.Messages)+1)
	copy(msgs, c.Messages)
	c.Messages = append(msgs, msg)

	if len(c.Messages) == 1 || !msg.Timestamp.Before(c.LastMessageTime) {
		c.LastMessage = msg.Content
		c.LastMessageTime = msg.Timestamp
	}
	c.Unread = false
	c.Status = model.StatusRead
	return c
}

func synthesize(tenantID int64, directory []model.Tenant) model.Conversation {
	for _, t := range directory {
		if t.ID == tenantID {
			return newConversation(t)
		}
	}
	return model.Conversation{
		ID:       tenantID,
		Property: model.NotAvailable,
		Unit:     model.NotAvailable,
		Status:   model.StatusRead,
	}
}

// MarkRead clears the unread flag of one conversation.
func MarkRead(conversations []model.Conversation, tenantID int64) []model.Conversation {
	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)

	for i := range out {
		if out[i].ID == tenantID {
			out[i].Unread = false
			out[i].Status = model.StatusRead
		}
	}
	return out
}

// RemoveMessages drops the given message ids and recomputes the preview of
// every conversation that lost a message. When the latest message is among
// the dropped ones the unread flag follows the new latest message.
func RemoveMessages(conversations []model.Conversation, ids []int64) []model.Conversation {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)

	for i := range out {
		kept := make([]model.OrderedMessage, 0, len(out[i].Messages))
		for _, m := range out[i].Messages {
			if _, gone := drop[m.ID]; !gone {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(out[i].Messages) {
			continue
		}

		c := out[i]
		prev, _ := latest(c.Messages)
		c.Messages = kept
		c.LastMessage = ""
		c.LastMessageTime = time.Time{}

		next, ok := latest(kept)
		switch {
		case !ok:
			c.Unread = false
		case next.ID != prev.ID:
			c.LastMessage = next.Content
			c.LastMessageTime = next.Timestamp
			c.Unread = !next.Read && next.Sender == model.SenderTenant
		default:
			c.LastMessage = next.Content
			c.LastMessageTime = next.Timestamp
		}
		c.Status = statusOf(c.Unread)
		out[i] = c
	}
	return out
}

// latest returns the first message carrying the newest timestamp.
func latest(msgs []model.OrderedMessage) (model.OrderedMessage, bool) {
	if len(msgs) == 0 {
		return model.OrderedMessage{}, false
	}
	best := msgs[0]
	for _, m := range msgs[1:] {
		if m.Timestamp.After(best.Timestamp) {
			best = m
		}
	}
	return best, true
}

// UnreadCount returns how many conversations are unread.
func UnreadCount(conversations []model.Conversation) int {
	n := 0
	for _, c := range conversations {
		if c.Unread {
			n++
		}
	}
	return n
}
