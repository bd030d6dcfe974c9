package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength bounds a chat message.
const MaxMessageLength = 5000

// DateLayout is the layout of date query parameters.
const DateLayout = "2006-01-02"

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ParseTenantID validates a tenant id path parameter.
func ParseTenantID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid tenant ID")
	}
	return id, nil
}

// ParseMessageIDs validates a list of message ids.
func ParseMessageIDs(ids []int64) error {
	if len(ids) == 0 {
		return errors.New("no message IDs given")
	}
	for _, id := range ids {
		if id <= 0 {
			return errors.New("invalid message ID")
		}
	}
	return nil
}

// ParseDate parses an optional YYYY-MM-DD query parameter.
func ParseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, errors.New("dates must be YYYY-MM-DD")
	}
	return t, nil
}

// ParsePage parses an optional positive integer query parameter, returning
// def when it is absent.
func ParsePage(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("page parameters must be positive integers")
	}
	return n, nil
}
