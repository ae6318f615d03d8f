package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestFetcherEnv returns a fetcherEnv suitable for hitting httptest
// servers, with an effectively unlimited request limiter.
func newTestFetcherEnv(t testing.TB) fetcherEnv {
	t.Helper()
	return newFetcherEnv(
		http.DefaultClient,
		rate.NewLimiter(rate.Limit(1000), 1),
		slog.Default().With("test_name", t.Name()),
		DefaultFetchUserAgent,
	)
}

func TestRankItems(t *testing.T) {
	t.Parallel()

	items := []TrendItem{
		{Title: "slow", Velocity: 1.0, Magnitude: 10},
		{Title: "fast", Velocity: 50.0, Magnitude: 5},
		{Title: "beta", Velocity: 10.0, Magnitude: 100},
		{Title: "alpha", Velocity: 10.0, Magnitude: 100},
		{Title: "heavy", Velocity: 10.0, Magnitude: 200},
	}

	ranked := rankItems(items, 0)
	require.Len(t, ranked, 5)
	assert.Equal(t, "fast", ranked[0].Title)
	assert.Equal(t, "heavy", ranked[1].Title)
	// velocity and magnitude tie, so title breaks it
	assert.Equal(t, "alpha", ranked[2].Title)
	assert.Equal(t, "beta", ranked[3].Title)
	assert.Equal(t, "slow", ranked[4].Title)
}

func TestRankItemsTruncates(t *testing.T) {
	t.Parallel()

	items := make([]TrendItem, 0, 30)
	for i := 0; i < 30; i++ {
		items = append(
			items,
			TrendItem{Title: fmt.Sprintf("item-%02d", i), Velocity: float64(i)},
		)
	}
	ranked := rankItems(items, 10)
	require.Len(t, ranked, 10)
	assert.Equal(t, "item-29", ranked[0].Title)
	assert.Equal(t, "item-20", ranked[9].Title)
}

func TestHoursSince(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	assert.InDelta(t, 3.0, hoursSince(now.Add(-3*time.Hour), now), 0.001)

	// items posted moments ago (or with clock skew) floor to a small
	// positive value so velocity division stays sane
	assert.Equal(t, 0.1, hoursSince(now, now))
	assert.Equal(t, 0.1, hoursSince(now.Add(time.Hour), now))
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	var sawUserAgent string
	var sawAccept string
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				sawUserAgent = r.Header.Get("User-Agent")
				sawAccept = r.Header.Get("Accept")
				fmt.Fprint(w, `{"name":"trendbot"}`)
			},
		),
	)
	t.Cleanup(srv.Close)

	env := newTestFetcherEnv(t)
	var payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, env.getJSON(context.Background(), srv.URL, nil, &payload))
	assert.Equal(t, "trendbot", payload.Name)
	assert.Equal(t, DefaultFetchUserAgent, sawUserAgent)
	assert.Equal(t, "application/json", sawAccept)
}

func TestGetJSONUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		),
	)
	t.Cleanup(srv.Close)

	env := newTestFetcherEnv(t)
	var payload any
	err := env.getJSON(context.Background(), srv.URL, nil, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestGetJSONContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{}`)
			},
		),
	)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := newTestFetcherEnv(t)
	var payload any
	require.Error(t, env.getJSON(ctx, srv.URL, nil, &payload))
}

func TestNewFetchers(t *testing.T) {
	t.Parallel()

	cfg := DefaultTestConfig(t)
	fetchers := newFetchers(newTestFetcherEnv(t), cfg.Sources)
	require.Len(t, fetchers, len(sourceNames))
	for i, f := range fetchers {
		assert.Equal(t, sourceNames[i], f.Name())
		assert.Equal(t, cfg.Sources.SectionLimit, f.Limit())
	}
}
