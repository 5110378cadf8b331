package paging

import (
	"context"

	"google.golang.org/api/iterator"
)

// Pager fetches one page per call and never chains on its own. Callers
// persist Cursor (or Marker) between calls to continue later.
type Pager[T any] struct {
	fetch  FetchFunc[T]
	cursor Cursor
	total  *int64
}

// NewPager creates a pager positioned at start.
func NewPager[T any](fetch FetchFunc[T], start Cursor) *Pager[T] {
	return &Pager[T]{fetch: fetch, cursor: start}
}

// FetchPage fetches the page at the current cursor and advances past it. It
// returns iterator.Done when there are no more pages. On error the cursor
// does not move, so the same page can be requested again.
func (p *Pager[T]) FetchPage(ctx context.Context) ([]T, error) {
	if p.cursor.Exhausted() {
		return nil, iterator.Done
	}
	page, next, err := fetchPage(ctx, p.fetch, p.cursor)
	if err != nil {
		return nil, err
	}
	p.cursor = next
	if page.TotalCount != nil {
		p.total = page.TotalCount
	}
	return page.Entries, nil
}

// Cursor returns the cursor of the next page.
func (p *Pager[T]) Cursor() Cursor { return p.cursor }

// Marker returns the marker of the next page.
func (p *Pager[T]) Marker() string {
	if p.cursor.Exhausted() {
		return ""
	}
	return p.cursor.Marker()
}

// Done reports whether the last page has been fetched.
func (p *Pager[T]) Done() bool { return p.cursor.Exhausted() }

// TotalCount returns the collection size reported by the server, if any.
func (p *Pager[T]) TotalCount() (int64, bool) {
	if p.total == nil {
		return 0, false
	}
	return *p.total, true
}
