package trendbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	productHuntDefaultBaseURL = "https://api.producthunt.com/v2/api/graphql"

	// productHuntHotVotesPerHour marks a launch as hot.
	productHuntHotVotesPerHour = 20.0

	productHuntPageSize = 20
)

// productHuntQuery fetches today's launches ordered by votes. One page,
// no cursors.
const productHuntQuery = `{
  posts(order: VOTES, first: %d) {
    edges {
      node {
        name
        tagline
        url
        votesCount
        createdAt
      }
    }
  }
}`

// ProductHuntFetcher ranks today's launches by votes per hour, via the
// Product Hunt v2 GraphQL API. Unlike the other sources this one
// requires a developer token; with no token configured the fetcher
// reports itself disabled and contributes an empty section.
type ProductHuntFetcher struct {
	fetcherEnv
	baseURL string
	token   string
	limit   int
}

func NewProductHuntFetcher(env fetcherEnv, token string, limit int) *ProductHuntFetcher {
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &ProductHuntFetcher{
		fetcherEnv: env,
		baseURL:    productHuntDefaultBaseURL,
		token:      token,
		limit:      limit,
	}
}

func (p *ProductHuntFetcher) Name() string {
	return SourceProductHunt
}

func (p *ProductHuntFetcher) Limit() int {
	return p.limit
}

type productHuntResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node struct {
					Name       string    `json:"name"`
					Tagline    string    `json:"tagline"`
					URL        string    `json:"url"`
					VotesCount int       `json:"votesCount"`
					CreatedAt  time.Time `json:"createdAt"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *ProductHuntFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	if p.token == "" {
		p.logger.InfoContext(ctx, "no product hunt token configured, skipping")
		return nil, nil
	}

	payload, err := json.Marshal(
		map[string]string{
			"query": fmt.Sprintf(productHuntQuery, productHuntPageSize),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("producthunt: marshaling query: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("producthunt: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("User-Agent", p.userAgent)

	if p.limiter != nil {
		if err = p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("producthunt: waiting on request limiter: %w", err)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("producthunt: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producthunt: unexpected status %d", resp.StatusCode)
	}

	var rv productHuntResponse
	body := io.LimitReader(resp.Body, fetchMaxResponseBytes)
	if err = json.NewDecoder(body).Decode(&rv); err != nil {
		return nil, fmt.Errorf("producthunt: decoding response: %w", err)
	}
	if len(rv.Errors) > 0 {
		return nil, fmt.Errorf("producthunt: graphql error: %s", rv.Errors[0].Message)
	}

	now := time.Now().UTC()
	items := make([]TrendItem, 0, len(rv.Data.Posts.Edges))
	for _, edge := range rv.Data.Posts.Edges {
		post := edge.Node
		if post.Name == "" {
			continue
		}
		votesPerHour := float64(post.VotesCount) / hoursSince(post.CreatedAt, now)
		items = append(
			items, TrendItem{
				Title:       post.Name,
				URL:         post.URL,
				Source:      SourceProductHunt,
				Magnitude:   post.VotesCount,
				Velocity:    votesPerHour,
				Hot:         votesPerHour >= productHuntHotVotesPerHour,
				PublishedAt: post.CreatedAt,
				Detail:      post.Tagline,
			},
		)
	}

	return rankItems(items, p.limit), nil
}
