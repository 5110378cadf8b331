package paging

import (
	"fmt"
	"strconv"

	"github.com/panyam/boxconn/client"
)

// Kind selects how a collection endpoint paginates.
type Kind int

const (
	// Marker paging follows an opaque next_marker returned by the server.
	Marker Kind = iota
	// Offset paging counts items from the start of the collection.
	Offset
)

func (k Kind) String() string {
	if k == Offset {
		return "offset"
	}
	return "marker"
}

// DefaultLimit is the page size used when a cursor is built with limit <= 0.
const DefaultLimit = 100

// Cursor is the position of the next page to fetch. A marker cursor with an
// empty marker and an offset cursor at 0 both mean the start of the
// collection. Once a fetch reports no further pages the cursor is exhausted.
type Cursor struct {
	kind      Kind
	marker    string
	offset    int64
	limit     int
	exhausted bool
}

// StartMarker starts a marker-paginated collection from the beginning.
func StartMarker(limit int) Cursor {
	return AtMarker("", limit)
}

// AtMarker resumes a marker-paginated collection at a marker saved earlier.
func AtMarker(marker string, limit int) Cursor {
	return Cursor{kind: Marker, marker: marker, limit: normLimit(limit)}
}

// StartOffset starts an offset-paginated collection from the beginning.
func StartOffset(limit int) Cursor {
	return AtOffset(0, limit)
}

// AtOffset resumes an offset-paginated collection at offset.
func AtOffset(offset int64, limit int) Cursor {
	if offset < 0 {
		offset = 0
	}
	return Cursor{kind: Offset, offset: offset, limit: normLimit(limit)}
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func (c Cursor) Kind() Kind      { return c.kind }
func (c Cursor) Marker() string  { return c.marker }
func (c Cursor) Offset() int64   { return c.offset }
func (c Cursor) Limit() int      { return c.limit }
func (c Cursor) Exhausted() bool { return c.exhausted }

// IsStart reports whether the cursor points at the first page.
func (c Cursor) IsStart() bool {
	return !c.exhausted && c.marker == "" && c.offset == 0
}

func (c Cursor) String() string {
	if c.exhausted {
		return "exhausted"
	}
	if c.kind == Offset {
		return fmt.Sprintf("offset=%d limit=%d", c.offset, c.limit)
	}
	return fmt.Sprintf("marker=%q limit=%d", c.marker, c.limit)
}

// Apply returns a copy of req with the cursor's query parameters set.
func (c Cursor) Apply(req *client.Request) *client.Request {
	r := req.Clone()
	r.SetQuery("limit", strconv.Itoa(c.limit))
	switch c.kind {
	case Marker:
		r.SetQuery("usemarker", "true")
		if c.marker != "" {
			r.SetQuery("marker", c.marker)
		}
	case Offset:
		r.SetQuery("offset", strconv.FormatInt(c.offset, 10))
	}
	return r
}

// pageMeta is what a fetched page says about where the collection continues.
type pageMeta struct {
	n          int
	nextMarker string
	total      *int64
	offset     *int64 // server's echo of the offset it served
	limit      *int   // server's echo of the limit it applied
}

// next returns the cursor for the page after one described by m. In offset
// mode the server's offset and limit echoes win over the requested values,
// since the server may cap the limit.
func (c Cursor) next(m pageMeta) Cursor {
	out := c
	if m.n == 0 {
		out.exhausted = true
		return out
	}
	switch c.kind {
	case Marker:
		out.marker = m.nextMarker
		out.exhausted = m.nextMarker == ""
	case Offset:
		base := c.offset
		if m.offset != nil && *m.offset >= 0 {
			base = *m.offset
		}
		out.offset = base + int64(m.n)
		limit := c.limit
		if m.limit != nil && *m.limit > 0 {
			limit = *m.limit
		}
		if m.total != nil {
			out.exhausted = out.offset >= *m.total
		} else {
			out.exhausted = m.n < limit
		}
	}
	return out
}
