package conversation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edo-homes/portal/internal/model"
)

const (
	// DefaultPageSize is the number of inbox rows per page.
	DefaultPageSize = 5

	// MaxPageSize caps the rows returned in one page.
	MaxPageSize = 100
)

// ToTableRows flattens conversations into one row per message, newest
// first across all conversations. A row is unread only when it was sent by
// the tenant and its conversation is unread.
func ToTableRows(conversations []model.Conversation) []model.TableRow {
	var rows []model.TableRow
	for _, c := range conversations {
		for _, m := range c.Messages {
			status := model.StatusRead
			if c.Unread && m.Sender == model.SenderTenant {
				status = model.StatusUnread
			}
			rows = append(rows, model.TableRow{
				ID:             fmt.Sprintf("%d-%d", c.ID, m.ID),
				ConversationID: c.ID,
				MessageID:      m.ID,
				Tenant:         c.Tenant,
				Property:       c.Property,
				Unit:           c.Unit,
				Content:        m.Content,
				Timestamp:      m.Timestamp,
				Sender:         m.Sender,
				Status:         status,
			})
		}
	}
	sortRows(rows, SortLatest)
	return rows
}

// Box selects rows by direction.
type Box string

const (
	BoxAll      Box = "all"
	BoxReceived Box = "received"
	BoxSent     Box = "sent"
)

// SortOrder orders rows by timestamp.
type SortOrder string

const (
	SortLatest SortOrder = "latest"
	SortOldest SortOrder = "oldest"
)

// Query narrows the email-style inbox. Zero fields match everything.
type Query struct {
	Box      Box
	Search   string
	Status   model.ReadStatus
	Property string
	// StartDate and EndDate bound the row date inclusively, by whole day
	// in their own location.
	StartDate time.Time
	EndDate   time.Time
	Sort      SortOrder
}

// Filter returns the rows matching q in q's sort order.
func Filter(rows []model.TableRow, q Query) []model.TableRow {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	var from, until time.Time
	if !q.StartDate.IsZero() {
		from = startOfDay(q.StartDate)
	}
	if !q.EndDate.IsZero() {
		until = startOfDay(q.EndDate).AddDate(0, 0, 1)
	}

	out := make([]model.TableRow, 0, len(rows))
	for _, r := range rows {
		switch q.Box {
		case BoxReceived:
			if r.Sender != model.SenderTenant {
				continue
			}
		case BoxSent:
			if r.Sender != model.SenderLandlord {
				continue
			}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(r.Tenant), search) &&
			!strings.Contains(strings.ToLower(r.Property), search) &&
			!strings.Contains(strings.ToLower(r.Content), search) {
			continue
		}
		if q.Status != "" && q.Status != "all" && r.Status != q.Status {
			continue
		}
		if q.Property != "" && q.Property != "all" && r.Property != q.Property {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !until.IsZero() && !r.Timestamp.Before(until) {
			continue
		}
		out = append(out, r)
	}

	sortRows(out, q.Sort)
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sortRows(rows []model.TableRow, order SortOrder) {
	if order == SortOldest {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
}

// Paginate returns one page of rows. Pages are 1-based; out of range pages
// and page sizes are clamped.
func Paginate(rows []model.TableRow, page, perPage int) model.Page {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	total := len(rows)
	totalPages := total / perPage
	if total%perPage != 0 {
		totalPages++
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = max(totalPages, 1)
	}

	start := (page - 1) * perPage
	end := min(start+perPage, total)

	pageRows := make([]model.TableRow, end-start)
	copy(pageRows, rows[start:end])

	return model.Page{
		Rows:       pageRows,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Properties lists the distinct property names in rows, sorted.
func Properties(rows []model.TableRow) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		if r.Property == "" || r.Property == model.NotAvailable {
			continue
		}
		if _, ok := seen[r.Property]; ok {
			continue
		}
		seen[r.Property] = struct{}{}
		out = append(out, r.Property)
	}
	sort.Strings(out)
	return out
}
