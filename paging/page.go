package paging

import (
	"context"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/client"
)

// Page is one response of a Box collection endpoint.
type Page[T any] struct {
	Entries    []T    `json:"entries"`
	TotalCount *int64 `json:"total_count,omitempty"`
	Offset     *int64 `json:"offset,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
	NextMarker string `json:"next_marker,omitempty"`
}

// FetchFunc fetches the page at cursor. Errors are returned unchanged to the
// iterator's caller, so they should already be classified.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (*Page[T], error)

// Sender is the part of client.Connection the paging code needs.
type Sender interface {
	Send(ctx context.Context, req *client.Request) (*client.Response, error)
}

// Collection fetches pages of a collection endpoint by sending req with the
// cursor's query parameters through s. A body that is not a collection page
// is reported as an *APIError carrying the raw body.
func Collection[T any](s Sender, req *client.Request) FetchFunc[T] {
	return func(ctx context.Context, cursor Cursor) (*Page[T], error) {
		resp, err := s.Send(ctx, cursor.Apply(req))
		if err != nil {
			return nil, err
		}
		var page Page[T]
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, &bc.APIError{StatusCode: resp.StatusCode, Body: string(resp.Body), Message: err.Error()}
		}
		return &page, nil
	}
}

// fetchPage reads the page at cursor and returns it with the following cursor.
func fetchPage[T any](ctx context.Context, fetch FetchFunc[T], cursor Cursor) (*Page[T], Cursor, error) {
	page, err := fetch(ctx, cursor)
	if err != nil {
		return nil, cursor, err
	}
	if page == nil {
		page = &Page[T]{}
	}
	return page, cursor.next(pageMeta{
		n:          len(page.Entries),
		nextMarker: page.NextMarker,
		total:      page.TotalCount,
		offset:     page.Offset,
		limit:      page.Limit,
	}), nil
}
