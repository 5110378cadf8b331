package paging

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/api/iterator"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/client"
	"github.com/panyam/boxconn/internal/boxtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const itemsPath = "/2.0/folders/0/items"

func setup(t *testing.T, n int) (*boxtest.Server, *client.Connection, *client.Request) {
	t.Helper()
	srv := boxtest.New(t)
	srv.Items = boxtest.MakeItems(n)
	access, refresh := srv.IssueTokens()
	c, err := client.New(srv.Credentials(), bc.TokenState{
		AccessToken:  access,
		RefreshToken: refresh,
		LastRefresh:  time.Now(),
		TTL:          time.Hour,
	}, client.WithConfig(srv.Config()))
	require.NoError(t, err)
	return srv, c, client.NewRequest(http.MethodGet, c.URL("folders/0/items"))
}

func names(items []boxtest.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestIterator_MarkerTwoPages(t *testing.T) {
	srv, c, req := setup(t, 105)
	it := NewIterator(Collection[boxtest.Item](c, req), StartMarker(100))

	assert.Zero(t, srv.Hits(itemsPath), "no fetch before Next")

	first, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-0", first.Name)
	assert.Equal(t, "m1", it.Marker())
	assert.Equal(t, 99, it.Buffered())

	rest, err := it.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, rest, 104)
	assert.Equal(t, "file-104", rest[len(rest)-1].Name)
	assert.Equal(t, 2, srv.Hits(itemsPath))
	assert.Equal(t, "", it.Marker())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, iterator.Done)
	assert.Equal(t, 2, srv.Hits(itemsPath))
}

func TestIterator_ResumeAtMarker(t *testing.T) {
	srv, c, req := setup(t, 105)
	it := NewIterator(Collection[boxtest.Item](c, req), AtMarker("m1", 100))

	items, err := it.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"file-100", "file-101", "file-102", "file-103", "file-104"}, names(items))
	assert.Equal(t, 1, srv.Hits(itemsPath))
}

func TestIterator_Offset(t *testing.T) {
	srv, c, req := setup(t, 105)
	it := NewIterator(Collection[boxtest.Item](c, req), StartOffset(50))

	items, err := it.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 105)
	// exhaustion is detected from total_count, not from an extra empty page
	assert.Equal(t, 3, srv.Hits(itemsPath))

	total, ok := it.TotalCount()
	assert.True(t, ok)
	assert.Equal(t, int64(105), total)
	assert.Equal(t, int64(105), it.Cursor().Offset())
}

func TestIterator_EmptyCollection(t *testing.T) {
	srv, c, req := setup(t, 0)
	it := NewIterator(Collection[boxtest.Item](c, req), StartMarker(0))

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, iterator.Done)
	assert.Equal(t, 1, srv.Hits(itemsPath))
}

func TestIterator_ErrorPropagates(t *testing.T) {
	srv, c, req := setup(t, 105)
	it := NewIterator(Collection[boxtest.Item](c, req), StartMarker(100))

	for range 100 {
		_, err := it.Next(context.Background())
		require.NoError(t, err)
	}
	srv.Fail(itemsPath, boxtest.Fault{Status: http.StatusNotFound, Body: `{"type":"error","status":404,"code":"not_found","message":"Not Found"}`})

	_, err := it.Next(context.Background())
	var apiErr *bc.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	// sticky: no further request is made
	_, err2 := it.Next(context.Background())
	assert.Equal(t, err, err2)
	assert.Equal(t, 2, srv.Hits(itemsPath))
	assert.Equal(t, "m1", it.Marker(), "cursor stays at the failed page")
}

func TestIterator_All_StopsEarly(t *testing.T) {
	fetches := 0
	fetch := func(_ context.Context, cur Cursor) (*Page[int], error) {
		fetches++
		return &Page[int]{Entries: []int{1, 2, 3}, NextMarker: "next"}, nil
	}
	it := NewIterator(fetch, StartMarker(3))

	var got []int
	for v, err := range it.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 4 {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3, 1}, got)
	assert.Equal(t, 2, fetches)
}

func TestIterator_All_YieldsErrorOnce(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(context.Context, Cursor) (*Page[int], error) { return nil, boom }
	it := NewIterator(fetch, StartOffset(10))

	var errs []error
	for _, err := range it.All(context.Background()) {
		errs = append(errs, err)
	}
	assert.Equal(t, []error{boom}, errs)
}

func TestPager(t *testing.T) {
	srv, c, req := setup(t, 105)
	p := NewPager(Collection[boxtest.Item](c, req), StartMarker(100))

	page, err := p.FetchPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 100)
	assert.Equal(t, "m1", p.Marker())
	assert.False(t, p.Done())
	assert.Equal(t, 1, srv.Hits(itemsPath), "a pager never fetches ahead")

	// a fresh pager resumes from the saved marker
	p2 := NewPager(Collection[boxtest.Item](c, req), AtMarker(p.Marker(), 100))
	page, err = p2.FetchPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.True(t, p2.Done())

	_, err = p2.FetchPage(context.Background())
	assert.ErrorIs(t, err, iterator.Done)
	assert.Equal(t, 2, srv.Hits(itemsPath))
}

func TestPager_ErrorKeepsCursor(t *testing.T) {
	srv, c, req := setup(t, 30)
	p := NewPager(Collection[boxtest.Item](c, req), StartOffset(10))
	srv.Fail(itemsPath, boxtest.Fault{Status: http.StatusBadRequest})

	_, err := p.FetchPage(context.Background())
	require.Error(t, err)
	assert.True(t, p.Cursor().IsStart())

	page, err := p.FetchPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 10)
	assert.Equal(t, int64(10), p.Cursor().Offset())
	total, ok := p.TotalCount()
	assert.True(t, ok)
	assert.Equal(t, int64(30), total)
}

func TestCursor_Apply(t *testing.T) {
	base := client.NewRequest(http.MethodGet, "https://api.box.com/2.0/folders/0/items?fields=name")

	tests := []struct {
		name   string
		cursor Cursor
		want   string
	}{
		{"marker start", StartMarker(0), "https://api.box.com/2.0/folders/0/items?fields=name&limit=100&usemarker=true"},
		{"marker resume", AtMarker("abc", 50), "https://api.box.com/2.0/folders/0/items?fields=name&limit=50&marker=abc&usemarker=true"},
		{"offset", AtOffset(200, 100), "https://api.box.com/2.0/folders/0/items?fields=name&limit=100&offset=200"},
		{"negative offset", AtOffset(-5, 10), "https://api.box.com/2.0/folders/0/items?fields=name&limit=10&offset=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cursor.Apply(base).URL
			if got != tt.want {
				t.Errorf("Apply().URL = %q, want %q", got, tt.want)
			}
		})
	}
	assert.Equal(t, "https://api.box.com/2.0/folders/0/items?fields=name", base.URL, "Apply must not modify its input")
}

func TestIterator_OffsetHonorsServerLimit(t *testing.T) {
	const size, maxLimit = 2500, 1000
	fetches := 0
	fetch := func(_ context.Context, c Cursor) (*Page[int], error) {
		fetches++
		limit := min(c.Limit(), maxLimit)
		start := min(int(c.Offset()), size)
		end := min(start+limit, size)
		entries := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, i)
		}
		offset := c.Offset()
		return &Page[int]{Entries: entries, Offset: &offset, Limit: &limit}, nil
	}

	got, err := NewIterator(fetch, StartOffset(5000)).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, size)
	assert.Equal(t, 2499, got[len(got)-1])
	assert.Equal(t, 3, fetches)
}

func TestIterator_MalformedPageIsAPIError(t *testing.T) {
	srv, c, req := setup(t, 5)
	srv.Fail(itemsPath, boxtest.Fault{Status: http.StatusOK, Body: `<html>maintenance</html>`})

	_, err := NewIterator(Collection[boxtest.Item](c, req), StartMarker(10)).Next(context.Background())
	var apiErr *bc.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Equal(t, "<html>maintenance</html>", apiErr.Body)
}

func TestCursor_Next(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }
	iptr := func(v int) *int { return &v }

	tests := []struct {
		name       string
		cursor     Cursor
		meta       pageMeta
		wantDone   bool
		wantOffset int64
	}{
		{name: "marker continues", cursor: StartMarker(10), meta: pageMeta{n: 10, nextMarker: "m1"}},
		{name: "marker ends", cursor: StartMarker(10), meta: pageMeta{n: 3}, wantDone: true},
		{name: "empty page ends", cursor: AtMarker("m1", 10), meta: pageMeta{nextMarker: "m2"}, wantDone: true},
		{name: "offset total known", cursor: AtOffset(90, 10), meta: pageMeta{n: 10, total: i64(100)}, wantDone: true, wantOffset: 100},
		{name: "offset more", cursor: AtOffset(0, 10), meta: pageMeta{n: 10, total: i64(100)}, wantOffset: 10},
		{name: "offset short page", cursor: AtOffset(0, 10), meta: pageMeta{n: 4}, wantDone: true, wantOffset: 4},
		{name: "offset capped by server", cursor: AtOffset(0, 5000), meta: pageMeta{n: 1000, limit: iptr(1000)}, wantOffset: 1000},
		{name: "offset short against echo", cursor: AtOffset(0, 5000), meta: pageMeta{n: 400, limit: iptr(1000)}, wantDone: true, wantOffset: 400},
		{name: "offset rebased on echo", cursor: AtOffset(30, 10), meta: pageMeta{n: 10, offset: i64(20), total: i64(100)}, wantOffset: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cursor.next(tt.meta)
			if got.Exhausted() != tt.wantDone {
				t.Errorf("next().Exhausted() = %v, want %v", got.Exhausted(), tt.wantDone)
			}
			if tt.cursor.Kind() == Offset && got.Offset() != tt.wantOffset {
				t.Errorf("next().Offset() = %d, want %d", got.Offset(), tt.wantOffset)
			}
		})
	}
}
