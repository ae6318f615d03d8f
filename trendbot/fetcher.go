package trendbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/time/rate"
)

const (
	// fetchMaxResponseBytes caps how much of any source API response
	// body will be read.
	fetchMaxResponseBytes = 4 << 20

	// DefaultSectionLimit is the maximum number of items a fetcher
	// contributes to a report section.
	DefaultSectionLimit = 10

	// DefaultSourceTimeout bounds a single fetcher run. A source that
	// can't answer in time degrades to an empty report section.
	DefaultSourceTimeout = 15 * time.Second

	// DefaultFetchUserAgent is sent on outbound API requests. Reddit in
	// particular rejects requests with a generic Go user agent.
	DefaultFetchUserAgent = "trendbot/1.0 (+https://github.com/mholwick/trendbot)"
)

// Source names, used for report section headers, slash command choices
// and the '!' prefix command table.
const (
	SourceGitHub      = "github"
	SourceHackerNews  = "hackernews"
	SourceReddit      = "reddit"
	SourceArxiv       = "arxiv"
	SourceHuggingFace = "huggingface"
	SourceProductHunt = "producthunt"
)

// sourceNames lists every source in report section order.
var sourceNames = []string{
	SourceGitHub,
	SourceHackerNews,
	SourceReddit,
	SourceArxiv,
	SourceHuggingFace,
	SourceProductHunt,
}

// TrendItem is the normalized record every fetcher produces. Items live
// for the duration of one report generation - they're rendered and
// discarded. Only the URLs of items dispatched in scheduled reports are
// recorded, for dedup (see [SeenItem]).
//
// Magnitude is the source's raw popularity number (stars, points,
// score, likes, votes). Velocity is the rate the fetcher computed from
// it (typically magnitude divided by the item's age); items in a
// section are sorted descending by Velocity. Hot is set when Velocity
// meets the fetcher's static threshold.
type TrendItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Magnitude   int       `json:"magnitude"`
	Velocity    float64   `json:"velocity"`
	Hot         bool      `json:"hot"`
	PublishedAt time.Time `json:"published_at"`

	// Detail is a short source-specific annotation (author, language,
	// subreddit, category) shown after the title.
	Detail string `json:"detail,omitempty"`
}

func (t TrendItem) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", t.Source),
		slog.String("title", t.Title),
		slog.Int("magnitude", t.Magnitude),
		slog.Float64("velocity", t.Velocity),
		slog.Bool("hot", t.Hot),
	)
}

// Fetcher is implemented once per source. Fetch queries the source's
// API (single page, hardcoded query), normalizes the response into
// TrendItems, computes each item's velocity, and returns at most
// Limit() items sorted descending by velocity.
//
// Fetch errors are logged and swallowed by the aggregator; a failing
// source degrades to an empty report section.
type Fetcher interface {
	Name() string
	Limit() int
	Fetch(ctx context.Context) ([]TrendItem, error)
}

// fetcherEnv bundles the pieces every fetcher needs: a shared HTTP
// client, the shared outbound request limiter, and a named logger.
type fetcherEnv struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
}

func newFetcherEnv(
	httpClient *http.Client,
	limiter *rate.Limiter,
	logger *slog.Logger,
	userAgent string,
) fetcherEnv {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if userAgent == "" {
		userAgent = DefaultFetchUserAgent
	}
	return fetcherEnv{
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// getJSON performs a rate-limited GET and decodes the JSON response
// into v, reading at most fetchMaxResponseBytes.
func (f fetcherEnv) getJSON(
	ctx context.Context,
	url string,
	header http.Header,
	v any,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vals := range header {
		for _, hv := range vals {
			req.Header.Add(k, hv)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	if f.limiter != nil {
		if err = f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting on request limiter: %w", err)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body := io.LimitReader(resp.Body, fetchMaxResponseBytes)
	if err = json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// rankItems sorts items descending by velocity and truncates to limit.
// Ties break on magnitude, then title, so section ordering is stable.
func rankItems(items []TrendItem, limit int) []TrendItem {
	slices.SortStableFunc(
		items, func(a, b TrendItem) int {
			switch {
			case a.Velocity > b.Velocity:
				return -1
			case a.Velocity < b.Velocity:
				return 1
			}
			switch {
			case a.Magnitude > b.Magnitude:
				return -1
			case a.Magnitude < b.Magnitude:
				return 1
			}
			switch {
			case a.Title < b.Title:
				return -1
			case a.Title > b.Title:
				return 1
			}
			return 0
		},
	)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// hoursSince returns the elapsed hours between ts and now, floored to
// a small positive value so velocity division is safe for items posted
// moments ago.
func hoursSince(ts time.Time, now time.Time) float64 {
	h := now.Sub(ts).Hours()
	if h < 0.1 {
		h = 0.1
	}
	return h
}
