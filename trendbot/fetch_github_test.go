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

func TestGitHubFetcher(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	var sawAuth string
	var sawQuery string

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/search/repositories", r.URL.Path)
				sawAuth = r.Header.Get("Authorization")
				sawQuery = r.URL.Query().Get("q")
				fmt.Fprintf(
					w,
					`{"items":[
						{"full_name":"acme/rocket","html_url":"https://github.com/acme/rocket","language":"Go","stargazers_count":2400,"created_at":%q},
						{"full_name":"acme/slow","html_url":"https://github.com/acme/slow","stargazers_count":4,"created_at":%q}
					]}`,
					now.Add(-24*time.Hour).Format(time.RFC3339),
					now.Add(-6*24*time.Hour).Format(time.RFC3339),
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewGitHubFetcher(newTestFetcherEnv(t), "gh-token", 10)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Bearer gh-token", sawAuth)
	assert.Contains(t, sawQuery, "created:>")

	top := items[0]
	assert.Equal(t, "acme/rocket", top.Title)
	assert.Equal(t, SourceGitHub, top.Source)
	assert.Equal(t, 2400, top.Magnitude)
	// ~2400 stars in a day
	assert.InDelta(t, 2400, top.Velocity, 100)
	assert.True(t, top.Hot)
	assert.Equal(t, "Go", top.Detail)

	assert.Equal(t, "acme/slow", items[1].Title)
	assert.False(t, items[1].Hot)
	assert.Equal(t, "unknown", items[1].Detail)
}

func TestGitHubFetcherNoToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
				fmt.Fprint(w, `{"items":[]}`)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewGitHubFetcher(newTestFetcherEnv(t), "", 10)
	f.baseURL = srv.URL

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGitHubFetcherError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		),
	)
	t.Cleanup(srv.Close)

	f := NewGitHubFetcher(newTestFetcherEnv(t), "", 10)
	f.baseURL = srv.URL

	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github")
}
