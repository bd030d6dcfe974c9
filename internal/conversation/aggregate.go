// Package conversation turns the flat chat message list into the
// landlord's per-tenant conversations and inbox rows. Every function is
// pure: inputs are never modified and results share no mutable state with
// them.
package conversation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edo-homes/portal/internal/model"
)

// SkipReason says why a message was left out of every conversation.
type SkipReason string

const (
	SkipNoTenant     SkipReason = "no_tenant"
	SkipBadTimestamp SkipReason = "bad_timestamp"
)

// Stats summarises an aggregation pass.
type Stats struct {
	Attributed int
	Skipped    map[SkipReason]int
}

// TotalSkipped returns the number of dropped messages.
func (s Stats) TotalSkipped() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

func (s *Stats) skip(r SkipReason) {
	if s.Skipped == nil {
		s.Skipped = make(map[SkipReason]int)
	}
	s.Skipped[r]++
}

// Aggregator groups chat messages into conversations.
type Aggregator struct {
	// CurrentUserID is the signed-in landlord. When set, a message is the
	// landlord's iff the landlord sent it. When zero, a message whose
	// sender equals its recipient is taken as the landlord's.
	CurrentUserID model.UserID
}

// Aggregate groups messages with the zero Aggregator.
func Aggregate(messages []model.ChatMessage, tenants []model.Tenant) []model.Conversation {
	convs, _ := (&Aggregator{}).Aggregate(messages, tenants)
	return convs
}

// Aggregate groups messages by the tenant they involve. Messages keep
// their arrival order inside a conversation; conversations are ordered by
// last message time, newest first, ties by first appearance. Messages that
// match no tenant or carry an unparseable timestamp are skipped.
func (a *Aggregator) Aggregate(messages []model.ChatMessage, tenants []model.Tenant) ([]model.Conversation, Stats) {
	var stats Stats
	dir := newDirectory(tenants)

	var convs []model.Conversation
	position := make(map[int64]int)

	for _, msg := range messages {
		tenant, ok := dir.lookup(msg.Sender, msg.Recipient)
		if !ok {
			stats.skip(SkipNoTenant)
			continue
		}
		ts, err := ParseTimestamp(msg.Timestamp)
		if err != nil {
			stats.skip(SkipBadTimestamp)
			continue
		}

		i, seen := position[tenant.ID]
		if !seen {
			convs = append(convs, newConversation(tenant))
			i = len(convs) - 1
			position[tenant.ID] = i
		}
		conv := &convs[i]

		role := a.role(msg)
		conv.Messages = append(conv.Messages, model.OrderedMessage{
			ID:        msg.ID,
			Sender:    role,
			Content:   msg.Message,
			Timestamp: ts,
			Read:      msg.IsRead,
		})
		stats.Attributed++

		if len(conv.Messages) == 1 || ts.After(conv.LastMessageTime) {
			conv.LastMessage = msg.Message
			conv.LastMessageTime = ts
			conv.Unread = !msg.IsRead && role == model.SenderTenant
		}
	}

	for i := range convs {
		convs[i].Status = statusOf(convs[i].Unread)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageTime.After(convs[j].LastMessageTime)
	})

	return convs, stats
}

func (a *Aggregator) role(msg model.ChatMessage) model.SenderRole {
	if a.CurrentUserID != 0 {
		if msg.Sender == a.CurrentUserID {
			return model.SenderLandlord
		}
		return model.SenderTenant
	}
	if msg.Sender == msg.Recipient {
		return model.SenderLandlord
	}
	return model.SenderTenant
}

// directory resolves a user id to the first tenant linked to it.
type directory struct {
	tenants []model.Tenant
	byUser  map[model.UserID]int
}

func newDirectory(tenants []model.Tenant) directory {
	d := directory{tenants: tenants, byUser: make(map[model.UserID]int, len(tenants))}
	for i, t := range tenants {
		if t.User == 0 {
			continue
		}
		if _, ok := d.byUser[t.User]; !ok {
			d.byUser[t.User] = i
		}
	}
	return d
}

// lookup returns the earliest tenant in the directory linked to either user.
func (d directory) lookup(sender, recipient model.UserID) (model.Tenant, bool) {
	best := -1
	for _, u := range [2]model.UserID{sender, recipient} {
		if i, ok := d.byUser[u]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return model.Tenant{}, false
	}
	return d.tenants[best], true
}

func newConversation(t model.Tenant) model.Conversation {
	return model.Conversation{
		ID:           t.ID,
		TenantUserID: t.User,
		Tenant:       t.DisplayName(),
		TenantEmail:  t.Email,
		Property:     t.PropertyName(),
		Unit:         t.UnitLabel(),
		Status:       model.StatusRead,
	}
}

func statusOf(unread bool) model.ReadStatus {
	if unread {
		return model.StatusUnread
	}
	return model.StatusRead
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend ISO 8601 timestamp. Timestamps without a
// zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
