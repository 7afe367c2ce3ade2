// Package pagination implements keyset cursor pagination for list
// endpoints. Cursors encode the sort key of the last returned row so
// the next page can resume without OFFSET scans.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultLimit is used when a request does not specify a page size.
	DefaultLimit = 50
	// MaxLimit caps the page size a client may request.
	MaxLimit = 200
)

// Cursor represents a pagination cursor
type Cursor struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
}

// Encode encodes the cursor to a string
func (c *Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes a cursor string
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	return &cursor, nil
}

// NewCursor creates a new cursor from an ID and timestamp
func NewCursor(id string, timestamp time.Time) *Cursor {
	return &Cursor{
		ID:        id,
		Timestamp: timestamp,
	}
}

// Params contains pagination parameters parsed from a request.
type Params struct {
	Limit  int
	Cursor *Cursor
}

// NewParams builds pagination parameters, clamping the limit and
// decoding the cursor. An empty cursor string yields a nil cursor.
func NewParams(limit int, cursor string) (*Params, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	return &Params{Limit: limit, Cursor: c}, nil
}

// Page is one page of results. NextCursor is empty when the listing
// is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	TotalCount int64  `json:"totalCount"`
}

// NewPage builds a page from items fetched with limit+1 semantics:
// callers fetch one extra row to detect whether another page exists.
func NewPage[T any](items []T, limit int, getCursor func(T) *Cursor, totalCount int64) *Page[T] {
	page := &Page[T]{TotalCount: totalCount}

	if len(items) > limit {
		items = items[:limit]
		if last := getCursor(items[len(items)-1]); last != nil {
			page.NextCursor = last.Encode()
		}
	}
	page.Items = items

	return page
}
