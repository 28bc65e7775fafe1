package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bookery/bookery-service/internal/errs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(zap.NewExample(), Config{
		BaseURL: srv.URL,
		RPS:     1000,
		Timeout: time.Second,
	})
}

func Test_bestCover(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		links imageLinks
		want  string
	}{
		{
			name:  "no image links",
			links: imageLinks{},
			want:  "",
		},
		{
			name: "forces https and rewrites zoom on the catalog cdn",
			links: imageLinks{
				Thumbnail: "http://books.google.com/books/content?id=abc&zoom=1",
			},
			want: "https://books.google.com/books/content?id=abc&zoom=5",
		},
		{
			name: "appends zoom when absent",
			links: imageLinks{
				Thumbnail: "https://books.google.com/books/content?id=abc",
			},
			want: "https://books.google.com/books/content?id=abc&zoom=5",
		},
		{
			name: "appends zoom without existing query",
			links: imageLinks{
				Thumbnail: "https://books.google.com/books/content",
			},
			want: "https://books.google.com/books/content?zoom=5",
		},
		{
			name: "prefers the largest image",
			links: imageLinks{
				ExtraLarge:     "https://img.example.com/xl",
				Large:          "https://img.example.com/l",
				SmallThumbnail: "https://img.example.com/st",
			},
			want: "https://img.example.com/xl",
		},
		{
			name: "falls back down the preference order",
			links: imageLinks{
				Medium:         "https://img.example.com/m",
				SmallThumbnail: "https://img.example.com/st",
			},
			want: "https://img.example.com/m",
		},
		{
			name: "foreign hosts keep their zoom untouched",
			links: imageLinks{
				Thumbnail: "http://img.example.com/cover?zoom=1",
			},
			want: "https://img.example.com/cover?zoom=1",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, bestCover(tt.links))
		})
	}
}

func TestClient_GetBook(t *testing.T) {
	t.Parallel()

	t.Run("maps fields with defaults", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/volumes/vol-1", r.URL.Path)
			fmt.Fprint(w, `{"id":"vol-1","volumeInfo":{"authors":["A. Writer"],"pageCount":320}}`)
		})

		rec, err := c.GetBook(context.Background(), "vol-1")
		require.NoError(t, err)
		require.Equal(t, "vol-1", rec.CatalogID)
		require.Equal(t, "Untitled", rec.Title)
		require.Equal(t, []string{"A. Writer"}, rec.Authors)
		require.Equal(t, "", rec.CoverImage)
		require.Equal(t, []string{}, rec.Categories)
		require.NotNil(t, rec.PageCount)
		require.Equal(t, 320, *rec.PageCount)
	})

	t.Run("empty id", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := c.GetBook(context.Background(), "   ")
		require.Error(t, err)
	})

	t.Run("upstream not found", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := c.GetBook(context.Background(), "missing")
		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("upstream failure is transient", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := c.GetBook(context.Background(), "vol-1")
		require.True(t, errs.IsUpstream(err))
		var ue *errs.UpstreamError
		require.True(t, errors.As(err, &ue))
		require.Equal(t, http.StatusInternalServerError, ue.Status)
	})
}

func TestClient_Search(t *testing.T) {
	t.Parallel()

	t.Run("clamps maxResults and maps items", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "dune", r.URL.Query().Get("q"))
			require.Equal(t, "24", r.URL.Query().Get("maxResults"))
			fmt.Fprint(w, `{"items":[
				{"id":"b1","volumeInfo":{"title":"Dune","authors":["Frank Herbert"],
					"imageLinks":{"thumbnail":"http://books.google.com/books/content?id=b1&zoom=1"}}},
				{"id":"b2","volumeInfo":{}}
			]}`)
		})

		items, err := c.Search(context.Background(), " dune ", 100)
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, "Dune", items[0].Title)
		require.Equal(t, "https://books.google.com/books/content?id=b1&zoom=5", items[0].CoverImage)
		require.Equal(t, "Untitled", items[1].Title)
		require.Equal(t, []string{}, items[1].Authors)
	})

	t.Run("empty query", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := c.Search(context.Background(), "   ", 10)
		require.ErrorIs(t, err, errs.ErrBadQuery)
	})

	t.Run("no items degrades to empty", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		})
		items, err := c.Search(context.Background(), "obscure", 10)
		require.NoError(t, err)
		require.Empty(t, items)
	})

	t.Run("upstream failure", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := c.Search(context.Background(), "dune", 10)
		require.True(t, errs.IsUpstream(err))
	})
}
