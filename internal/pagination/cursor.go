// Package pagination provides cursor-based pagination over sequence-ordered
// result sets.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor represents a position in a paginated result set: everything with a
// sequence number greater than Sequence comes after it.
type Cursor struct {
	Sequence uint64
	ID       string
}

// Encode returns an opaque cursor string from a sequence number and ID.
func Encode(seq uint64, id string) string {
	raw := fmt.Sprintf("%d|%s", seq, id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Sequence: seq, ID: parts[1]}, nil
}

// Page returns up to limit items following cursor from items, which must be
// sorted by ascending sequence. key extracts (sequence, id) from an item. It
// returns the page, the cursor for the next page, and whether more remain.
// A nil cursor starts from the beginning; limit <= 0 returns everything.
func Page[T any](items []T, cursor *Cursor, limit int, key func(T) (uint64, string)) ([]T, string, bool) {
	start := 0
	if cursor != nil {
		for start < len(items) {
			seq, _ := key(items[start])
			if seq > cursor.Sequence {
				break
			}
			start++
		}
	}
	items = items[start:]

	if limit <= 0 || len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	seq, id := key(items[len(items)-1])
	return items, Encode(seq, id), true
}
