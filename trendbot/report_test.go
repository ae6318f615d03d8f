package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher is a canned Fetcher for exercising report generation
// without HTTP.
type stubFetcher struct {
	name  string
	items []TrendItem
	err   error
	delay time.Duration
}

func (s stubFetcher) Name() string {
	return s.name
}

func (s stubFetcher) Limit() int {
	return DefaultSectionLimit
}

func (s stubFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.items, s.err
}

func newReportTestBot(t testing.TB, fetchers ...Fetcher) *Trendbot {
	t.Helper()
	return &Trendbot{
		config:   DefaultTestConfig(t),
		logger:   slog.Default().With("test_name", t.Name()),
		fetchers: fetchers,
	}
}

func TestGenerateTrendReport(t *testing.T) {
	t.Parallel()

	bot := newReportTestBot(
		t,
		stubFetcher{
			name: SourceGitHub,
			items: []TrendItem{
				{Title: "acme/zap", Source: SourceGitHub, Velocity: 100},
				{Title: "acme/quiet", Source: SourceGitHub, Velocity: 2},
			},
		},
		stubFetcher{
			name: SourceHackerNews,
			err:  fmt.Errorf("unexpected status 503"),
		},
		stubFetcher{
			name:  SourceReddit,
			items: []TrendItem{{Title: "Go 1.25", Source: SourceReddit, Velocity: 40}},
		},
	)

	report := bot.GenerateTrendReport(context.Background())
	require.NotNil(t, report)
	require.Len(t, report.Sections, 3)

	// sections stay in registration order even though fetchers run
	// concurrently
	assert.Equal(t, SourceGitHub, report.Sections[0].Source)
	assert.Equal(t, SourceHackerNews, report.Sections[1].Source)
	assert.Equal(t, SourceReddit, report.Sections[2].Source)

	assert.Len(t, report.Sections[0].Items, 2)

	// the failing source degrades to an empty section; the report
	// itself never fails
	failed := report.Sections[1]
	assert.True(t, failed.Empty())
	assert.Equal(t, "unexpected status 503", failed.Err)

	assert.Equal(t, 3, report.ItemCount())
	assert.False(t, report.GeneratedAt.IsZero())

	// the generated report is retained for the API
	assert.Equal(t, report, bot.LastReport())
}

func TestGenerateTrendReportSlowSourceTimesOut(t *testing.T) {
	t.Parallel()

	bot := newReportTestBot(
		t,
		stubFetcher{
			name:  SourceGitHub,
			items: []TrendItem{{Title: "acme/zap", Source: SourceGitHub}},
		},
		stubFetcher{
			name:  SourceHackerNews,
			items: []TrendItem{{Title: "never arrives", Source: SourceHackerNews}},
			delay: time.Minute,
		},
	)
	bot.config.Sources.Timeout = 100 * time.Millisecond

	report := bot.GenerateTrendReport(context.Background())
	require.Len(t, report.Sections, 2)

	assert.Len(t, report.Sections[0].Items, 1)
	assert.True(t, report.Sections[1].Empty())
	assert.NotEmpty(t, report.Sections[1].Err)
}

func TestGenerateSection(t *testing.T) {
	t.Parallel()

	bot := newReportTestBot(
		t,
		stubFetcher{
			name:  SourceGitHub,
			items: []TrendItem{{Title: "acme/zap", Source: SourceGitHub}},
		},
		stubFetcher{
			name: SourceHackerNews,
			err:  fmt.Errorf("boom"),
		},
	)

	section, found := bot.generateSection(context.Background(), SourceGitHub)
	require.True(t, found)
	assert.Len(t, section.Items, 1)
	assert.Empty(t, section.Err)

	section, found = bot.generateSection(context.Background(), SourceHackerNews)
	require.True(t, found)
	assert.True(t, section.Empty())
	assert.Equal(t, "boom", section.Err)

	_, found = bot.generateSection(context.Background(), "nonesuch")
	assert.False(t, found)
}

func TestTrendReportSection(t *testing.T) {
	t.Parallel()

	report := &TrendReport{
		Sections: []ReportSection{
			{Source: SourceGitHub},
			{Source: SourceReddit, Items: []TrendItem{{Title: "post"}}},
		},
	}

	section := report.Section(SourceReddit)
	require.NotNil(t, section)
	assert.Len(t, section.Items, 1)

	assert.Nil(t, report.Section("nonesuch"))
	assert.Equal(t, 1, report.ItemCount())
}
