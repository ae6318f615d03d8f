package trendbot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	githubDefaultBaseURL = "https://api.github.com"

	// githubSearchWindow is how far back the repository search looks.
	// Only repos created inside the window are considered, so the
	// velocity is stars accumulated since creation.
	githubSearchWindow = 7 * 24 * time.Hour

	// githubHotStarsPerDay marks a repo as hot.
	githubHotStarsPerDay = 100.0

	githubSearchPageSize = 50
)

// GitHubFetcher surfaces the fastest-growing repositories created in
// the last week, via the GitHub search API. An API token is optional;
// without one the search runs against the anonymous quota.
type GitHubFetcher struct {
	fetcherEnv
	baseURL string
	token   string
	limit   int
}

func NewGitHubFetcher(env fetcherEnv, token string, limit int) *GitHubFetcher {
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &GitHubFetcher{
		fetcherEnv: env,
		baseURL:    githubDefaultBaseURL,
		token:      token,
		limit:      limit,
	}
}

func (g *GitHubFetcher) Name() string {
	return SourceGitHub
}

func (g *GitHubFetcher) Limit() int {
	return g.limit
}

type githubSearchResponse struct {
	Items []struct {
		FullName        string    `json:"full_name"`
		HTMLURL         string    `json:"html_url"`
		Description     string    `json:"description"`
		Language        string    `json:"language"`
		StargazersCount int       `json:"stargazers_count"`
		CreatedAt       time.Time `json:"created_at"`
	} `json:"items"`
}

func (g *GitHubFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-githubSearchWindow).Format("2006-01-02")

	q := url.Values{}
	q.Set("q", fmt.Sprintf("created:>%s", cutoff))
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", fmt.Sprintf("%d", githubSearchPageSize))

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}

	var rv githubSearchResponse
	err := g.getJSON(
		ctx,
		fmt.Sprintf("%s/search/repositories?%s", g.baseURL, q.Encode()),
		header,
		&rv,
	)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}

	items := make([]TrendItem, 0, len(rv.Items))
	for _, repo := range rv.Items {
		ageDays := hoursSince(repo.CreatedAt, now) / 24
		starsPerDay := float64(repo.StargazersCount) / ageDays
		detail := repo.Language
		if detail == "" {
			detail = "unknown"
		}
		items = append(
			items, TrendItem{
				Title:       repo.FullName,
				URL:         repo.HTMLURL,
				Source:      SourceGitHub,
				Magnitude:   repo.StargazersCount,
				Velocity:    starsPerDay,
				Hot:         starsPerDay >= githubHotStarsPerDay,
				PublishedAt: repo.CreatedAt,
				Detail:      detail,
			},
		)
	}

	return rankItems(items, g.limit), nil
}
