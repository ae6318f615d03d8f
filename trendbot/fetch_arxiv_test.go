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

func TestArxivFetcher(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	var sawQuery string

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				sawQuery = r.URL.Query().Get("search_query")
				w.Header().Set("Content-Type", "application/atom+xml")
				fmt.Fprintf(
					w,
					`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query Results</title>
  <entry>
    <id>http://arxiv.org/abs/2608.00001</id>
    <title>Fresh   Paper
  With Wrapped Title</title>
    <link href="http://arxiv.org/abs/2608.00001"/>
    <published>%s</published>
    <author><name>A. Author</name></author>
    <author><name>B. Coauthor</name></author>
    <category term="cs.AI"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2607.09999</id>
    <title>Older Paper</title>
    <link href="http://arxiv.org/abs/2607.09999"/>
    <published>%s</published>
    <author><name>C. Solo</name></author>
    <category term="cs.LG"/>
  </entry>
</feed>`,
					now.Add(-5*time.Hour).Format(time.RFC3339),
					now.Add(-72*time.Hour).Format(time.RFC3339),
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewArxivFetcher(newTestFetcherEnv(t), []string{"cs.AI", "cs.LG"}, 10)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	// the decoded query must use space-separated OR terms; arXiv treats
	// a literal '+' as part of the term, not a separator
	assert.Equal(t, "cat:cs.AI OR cat:cs.LG", sawQuery)

	fresh := items[0]
	// internal whitespace in feed titles collapses to single spaces
	assert.Equal(t, "Fresh Paper With Wrapped Title", fresh.Title)
	assert.Equal(t, "http://arxiv.org/abs/2608.00001", fresh.URL)
	assert.Equal(t, SourceArxiv, fresh.Source)
	assert.Zero(t, fresh.Magnitude)
	assert.True(t, fresh.Hot)
	assert.Equal(t, "A. Author et al., cs.AI", fresh.Detail)

	older := items[1]
	assert.Equal(t, "Older Paper", older.Title)
	assert.False(t, older.Hot)
	assert.Equal(t, "C. Solo, cs.LG", older.Detail)
	// recency ranking: the fresher paper has the higher velocity
	assert.Greater(t, fresh.Velocity, older.Velocity)
}

func TestArxivFetcherDefaults(t *testing.T) {
	t.Parallel()

	f := NewArxivFetcher(newTestFetcherEnv(t), nil, 0)
	assert.Equal(t, DefaultArxivCategories, f.categories)
	assert.Equal(t, DefaultSectionLimit, f.limit)

	// '+' in the raw URL is the encoding of the OR separator's space
	assert.Contains(
		t, f.queryURL(), "search_query=cat%3Acs.AI+OR+cat%3Acs.LG",
	)
}

func TestArxivFetcherError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewArxivFetcher(newTestFetcherEnv(t), nil, 10)
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arxiv")
}
