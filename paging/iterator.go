// Package paging walks Box collection endpoints page by page.
//
// An Iterator fetches pages lazily as items are consumed; a Pager hands out
// whole pages and never fetches on its own. Both start from a Cursor, which
// is either marker- or offset-based, and expose the cursor of the next page
// so a walk can be resumed later by a fresh Iterator or Pager.
//
// Resuming from a saved marker after the collection changed server-side is
// not detected: items may be skipped or repeated, exactly as the API itself
// would return them.
package paging

import (
	"context"
	"iter"

	"google.golang.org/api/iterator"
)

// Iterator yields the items of a collection in server order. It is not safe
// for concurrent use. Once Next returns an error, every later call returns
// the same error.
type Iterator[T any] struct {
	fetch  FetchFunc[T]
	cursor Cursor
	buf    []T
	pos    int
	err    error
	total  *int64
}

// NewIterator creates an iterator that starts at cursor. No request is made
// until the first call to Next.
func NewIterator[T any](fetch FetchFunc[T], start Cursor) *Iterator[T] {
	return &Iterator[T]{fetch: fetch, cursor: start}
}

// Next returns the next item, fetching the next page when the buffered one
// is used up. It returns iterator.Done when the collection is exhausted.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for it.err == nil && it.pos >= len(it.buf) {
		if it.cursor.Exhausted() {
			it.err = iterator.Done
			break
		}
		page, next, err := fetchPage(ctx, it.fetch, it.cursor)
		if err != nil {
			it.err = err
			break
		}
		it.buf, it.pos, it.cursor = page.Entries, 0, next
		if page.TotalCount != nil {
			it.total = page.TotalCount
		}
	}
	if it.err != nil {
		return zero, it.err
	}
	item := it.buf[it.pos]
	it.pos++
	return item, nil
}

// Cursor returns the cursor of the next page fetch. Items still buffered from
// the current page are not covered by it.
func (it *Iterator[T]) Cursor() Cursor {
	return it.cursor
}

// Marker returns the marker of the next page, or "" at the start or end of a
// marker-paginated collection.
func (it *Iterator[T]) Marker() string {
	if it.cursor.Exhausted() {
		return ""
	}
	return it.cursor.Marker()
}

// Buffered returns how many fetched items have not been returned yet.
func (it *Iterator[T]) Buffered() int {
	return len(it.buf) - it.pos
}

// TotalCount returns the collection size reported by the server, if any.
func (it *Iterator[T]) TotalCount() (int64, bool) {
	if it.total == nil {
		return 0, false
	}
	return *it.total, true
}

// All ranges over the remaining items. A failed fetch is yielded once as
// (zero, err) and ends the sequence.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := it.Next(ctx)
			if err == iterator.Done {
				return
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the iterator into a slice.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for item, err := range it.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
