package trendbot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	redditDefaultBaseURL = "https://www.reddit.com"

	// redditHotScorePerHour marks a post as hot.
	redditHotScorePerHour = 75.0

	redditListingLimit = 50
)

var DefaultRedditSubreddits = []string{"programming", "MachineLearning"}

// RedditFetcher ranks the day's top posts from a fixed set of
// subreddits by score per hour, via Reddit's public listing JSON.
// No OAuth; the only requirement is a descriptive User-Agent.
type RedditFetcher struct {
	fetcherEnv
	baseURL    string
	subreddits []string
	limit      int
}

func NewRedditFetcher(env fetcherEnv, subreddits []string, limit int) *RedditFetcher {
	if len(subreddits) == 0 {
		subreddits = DefaultRedditSubreddits
	}
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &RedditFetcher{
		fetcherEnv: env,
		baseURL:    redditDefaultBaseURL,
		subreddits: subreddits,
		limit:      limit,
	}
}

func (r *RedditFetcher) Name() string {
	return SourceReddit
}

func (r *RedditFetcher) Limit() int {
	return r.limit
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				Permalink  string  `json:"permalink"`
				Subreddit  string  `json:"subreddit"`
				Author     string  `json:"author"`
				Score      int     `json:"score"`
				CreatedUTC float64 `json:"created_utc"`
				Stickied   bool    `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *RedditFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	listingURL := fmt.Sprintf(
		"%s/r/%s/top.json?t=day&limit=%d",
		r.baseURL,
		strings.Join(r.subreddits, "+"),
		redditListingLimit,
	)

	var listing redditListing
	if err := r.getJSON(ctx, listingURL, nil, &listing); err != nil {
		return nil, fmt.Errorf("reddit: %w", err)
	}

	now := time.Now().UTC()
	items := make([]TrendItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || post.Title == "" {
			continue
		}
		posted := time.Unix(int64(post.CreatedUTC), 0).UTC()
		scorePerHour := float64(post.Score) / hoursSince(posted, now)
		items = append(
			items, TrendItem{
				Title:       post.Title,
				URL:         r.baseURL + post.Permalink,
				Source:      SourceReddit,
				Magnitude:   post.Score,
				Velocity:    scorePerHour,
				Hot:         scorePerHour >= redditHotScorePerHour,
				PublishedAt: posted,
				Detail:      fmt.Sprintf("r/%s, u/%s", post.Subreddit, post.Author),
			},
		)
	}

	return rankItems(items, r.limit), nil
}
