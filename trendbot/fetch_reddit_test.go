package trendbot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedditFetcher(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	var sawPath string
	var sawUserAgent string

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				sawPath = r.URL.Path
				sawUserAgent = r.Header.Get("User-Agent")
				fmt.Fprintf(
					w,
					`{"data":{"children":[
						{"data":{"title":"Go 1.25 released","permalink":"/r/programming/comments/abc/go/","subreddit":"programming","author":"carol","score":1800,"created_utc":%[1]d}},
						{"data":{"title":"Weekly thread","permalink":"/r/programming/comments/def/weekly/","subreddit":"programming","author":"mod","score":9000,"created_utc":%[1]d,"stickied":true}},
						{"data":{"title":"","permalink":"/r/programming/comments/ghi/empty/","subreddit":"programming","author":"dave","score":50,"created_utc":%[1]d}}
					]}}`,
					now.Add(-3*time.Hour).Unix(),
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewRedditFetcher(
		newTestFetcherEnv(t),
		[]string{"programming", "golang"},
		10,
	)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	// stickied and untitled posts are dropped
	require.Len(t, items, 1)

	assert.Equal(t, "/r/programming+golang/top.json", sawPath)
	assert.Equal(t, DefaultFetchUserAgent, sawUserAgent)

	post := items[0]
	assert.Equal(t, "Go 1.25 released", post.Title)
	assert.Equal(t, srv.URL+"/r/programming/comments/abc/go/", post.URL)
	assert.Equal(t, SourceReddit, post.Source)
	assert.Equal(t, 1800, post.Magnitude)
	assert.True(t, post.Hot)
	assert.Equal(t, "r/programming, u/carol", post.Detail)
}

func TestRedditFetcherDefaults(t *testing.T) {
	t.Parallel()

	f := NewRedditFetcher(newTestFetcherEnv(t), nil, 0)
	assert.Equal(t, DefaultRedditSubreddits, f.subreddits)
	assert.Equal(t, DefaultSectionLimit, f.limit)
}

func TestRedditFetcherError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewRedditFetcher(newTestFetcherEnv(t), nil, 10)
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reddit")
}
