package trendbot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	braveWebSearchPath     = "/web/search"
	braveSearchResultCount = 5
)

// BraveClient is a minimal client for the Brave Search Web API, backing
// the search command.
type BraveClient struct {
	fetcherEnv
	baseURL string
	token   string
}

func newBraveClient(env fetcherEnv, token string) *BraveClient {
	env.logger = env.logger.With(loggerNameKey, "brave")
	return &BraveClient{
		fetcherEnv: env,
		baseURL:    DefaultBraveBaseURL,
		token:      token,
	}
}

// Enabled reports whether a subscription token was configured.
func (b *BraveClient) Enabled() bool {
	return b != nil && b.token != ""
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

// BraveResult is a single web search hit.
type BraveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

// WebSearch runs a web search and returns up to
// [braveSearchResultCount] results.
func (b *BraveClient) WebSearch(ctx context.Context, query string) ([]BraveResult, error) {
	if !b.Enabled() {
		return nil, fmt.Errorf("no brave subscription token configured")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", braveSearchResultCount))

	var payload braveSearchResponse
	err := b.getJSON(
		ctx,
		fmt.Sprintf("%s%s?%s", b.baseURL, braveWebSearchPath, q.Encode()),
		http.Header{
			"Accept":               []string{"application/json"},
			"X-Subscription-Token": []string{b.token},
		},
		&payload,
	)
	if err != nil {
		return nil, err
	}

	results := make([]BraveResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if r.Title == "" || r.URL == "" {
			continue
		}
		results = append(
			results, BraveResult{
				Title:       r.Title,
				URL:         r.URL,
				Description: r.Description,
				Age:         r.Age,
			},
		)
		if len(results) == braveSearchResultCount {
			break
		}
	}
	return results, nil
}

func renderSearchResults(query string, results []BraveResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("no results for %q", query)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\U0001F50E **Results for %q**\n", query))
	for i, r := range results {
		b.WriteString(
			fmt.Sprintf(
				"%d. [%s](<%s>)\n", i+1, shortenString(r.Title, 100), r.URL,
			),
		)
		if r.Description != "" {
			b.WriteString(
				fmt.Sprintf("   %s\n", shortenString(r.Description, 200)),
			)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleSearch runs the search command, editing the deferred
// interaction response with the rendered results.
func (t *Trendbot) handleSearch(
	ctx context.Context,
	handler InteractionHandler,
	query string,
) {
	logger := handler.Logger()

	if !t.brave.Enabled() {
		content := "web search isn't configured"
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	results, err := t.brave.WebSearch(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "web search failed", tint.Err(err), "query", query)
		content := t.config.Discord.ErrorMessage
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	content := shortenString(renderSearchResults(query, results), discordMaxMessageLength)
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing search response", tint.Err(err))
	}
}
