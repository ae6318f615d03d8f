package trendbot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	hackerNewsDefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

	// hackerNewsMaxStories is how many entries from topstories.json are
	// hydrated. The front page is 30 items; anything past that never
	// ranks into a section.
	hackerNewsMaxStories = 30

	// hackerNewsItemConcurrency bounds the parallel item lookups.
	hackerNewsItemConcurrency = 8

	// hackerNewsHotPointsPerHour marks a story as hot.
	hackerNewsHotPointsPerHour = 50.0
)

// HackerNewsFetcher ranks current front-page stories by points per
// hour, via the official Firebase API. Listing the top story IDs and
// hydrating each item are separate calls, so item lookups fan out with
// bounded concurrency; individual item failures are logged and skipped.
type HackerNewsFetcher struct {
	fetcherEnv
	baseURL string
	limit   int
}

func NewHackerNewsFetcher(env fetcherEnv, limit int) *HackerNewsFetcher {
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &HackerNewsFetcher{
		fetcherEnv: env,
		baseURL:    hackerNewsDefaultBaseURL,
		limit:      limit,
	}
}

func (h *HackerNewsFetcher) Name() string {
	return SourceHackerNews
}

func (h *HackerNewsFetcher) Limit() int {
	return h.limit
}

type hackerNewsItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

func (h *HackerNewsFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	var ids []int
	if err := h.getJSON(
		ctx, h.baseURL+"/topstories.json", nil, &ids,
	); err != nil {
		return nil, fmt.Errorf("hackernews: %w", err)
	}
	if len(ids) > hackerNewsMaxStories {
		ids = ids[:hackerNewsMaxStories]
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, hackerNewsItemConcurrency)
		stories = make([]hackerNewsItem, 0, len(ids))
	)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()

			var item hackerNewsItem
			err := h.getJSON(
				ctx,
				fmt.Sprintf("%s/item/%d.json", h.baseURL, id),
				nil,
				&item,
			)
			if err != nil {
				h.logger.WarnContext(
					ctx,
					"error fetching story",
					"id", id,
					tint.Err(err),
				)
				return
			}
			if item.Type != "story" || item.Title == "" {
				return
			}

			mu.Lock()
			stories = append(stories, item)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	now := time.Now().UTC()
	items := make([]TrendItem, 0, len(stories))
	for _, story := range stories {
		submitted := time.Unix(story.Time, 0).UTC()
		pointsPerHour := float64(story.Score) / hoursSince(submitted, now)

		storyURL := story.URL
		if storyURL == "" {
			storyURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		items = append(
			items, TrendItem{
				Title:       story.Title,
				URL:         storyURL,
				Source:      SourceHackerNews,
				Magnitude:   story.Score,
				Velocity:    pointsPerHour,
				Hot:         pointsPerHour >= hackerNewsHotPointsPerHour,
				PublishedAt: submitted,
				Detail:      fmt.Sprintf("by %s, %d comments", story.By, story.Descendants),
			},
		)
	}

	return rankItems(items, h.limit), nil
}
