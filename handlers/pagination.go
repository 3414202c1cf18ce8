package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var errInvalidCursor = errors.New("must be an RFC 3339 timestamp or a next_cursor value")

// Cursor is a keyset position in a listing ordered by time, then by Keys,
// all descending. A cursor without keys starts at the next earlier time.
type Cursor struct {
	Time time.Time `json:"t"`
	Keys []string  `json:"k,omitempty"`
}

// String encodes the cursor for next_cursor. Time-only cursors stay
// readable timestamps.
func (c Cursor) String() string {
	if len(c.Keys) == 0 {
		return c.Time.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// Key returns the i-th tie-breaker, or "" which sorts before every value.
func (c Cursor) Key(i int) string {
	if i < len(c.Keys) {
		return c.Keys[i]
	}
	return ""
}

func ParseCursor(s string) (Cursor, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Cursor{Time: t}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, errInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil || c.Time.IsZero() {
		return Cursor{}, errInvalidCursor
	}
	return c, nil
}

type PaginationParams struct {
	Limit  int
	Before *Cursor
}

// CursorKey renders the cursor for use in cache keys.
func (p PaginationParams) CursorKey() string {
	if p.Before == nil {
		return ""
	}
	return p.Before.String()
}

type CursorResponse struct {
	Data       any    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ParsePagination reads limit and before. Limits above MaxLimit are capped;
// malformed values are rejected.
func ParsePagination(c *gin.Context) (PaginationParams, error) {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			return p, fmt.Errorf("invalid limit %q, must be a positive integer", limitStr)
		}
		p.Limit = min(l, MaxLimit)
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		cur, err := ParseCursor(beforeStr)
		if err != nil {
			return p, fmt.Errorf("invalid before %q, %w", beforeStr, err)
		}
		p.Before = &cur
	}

	return p, nil
}
