// Package pagination adapts the teacher's cursor-token pagination
// primitive (PageRequest/PageResponse, base64-JSON cursor) from
// SQL-rewriting over a live database to slicing an already-materialized
// QueryResult, since this router holds its entire result set in memory
// before a client ever asks for a page.
package pagination

import (
	"encoding/base64"
	"encoding/json"

	"github.com/querymesh/router/internal/queryresult"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 5000
)

// PageRequest describes what page of a result the caller wants.
type PageRequest struct {
	PageSize  int    `json:"page_size"`
	PageToken string `json:"page_token,omitempty"`
}

// PageResponse is one page of rows plus cursors for its neighbors.
type PageResponse struct {
	Rows          []queryresult.Row `json:"rows"`
	NextPageToken string            `json:"next_page_token,omitempty"`
	TotalCount    int               `json:"total_count"`
	PageSize      int               `json:"page_size"`
	HasMore       bool              `json:"has_more"`
}

type cursorToken struct {
	Offset int `json:"offset"`
}

// Normalize clamps req's page size into [1, MaxPageSize], defaulting to
// DefaultPageSize when unset.
func (req PageRequest) Normalize() PageRequest {
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	return req
}

// Apply slices rows according to req, returning a PageResponse with a
// cursor for the next page when more rows remain.
func Apply(rows []queryresult.Row, req PageRequest) PageResponse {
	req = req.Normalize()
	offset := decodeToken(req.PageToken)
	if offset < 0 || offset > len(rows) {
		offset = 0
	}

	end := offset + req.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]

	resp := PageResponse{
		Rows:       page,
		TotalCount: len(rows),
		PageSize:   req.PageSize,
		HasMore:    end < len(rows),
	}
	if resp.HasMore {
		resp.NextPageToken = encodeToken(end)
	}
	return resp
}

func encodeToken(offset int) string {
	data, _ := json.Marshal(cursorToken{Offset: offset})
	return base64.URLEncoding.EncodeToString(data)
}

func decodeToken(token string) int {
	if token == "" {
		return 0
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	var ct cursorToken
	if err := json.Unmarshal(data, &ct); err != nil {
		return 0
	}
	return ct.Offset
}
