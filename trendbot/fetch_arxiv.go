package trendbot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	arxivDefaultBaseURL = "http://export.arxiv.org/api/query"

	// arxivHotAgeHours: papers submitted within this window are hot.
	arxivHotAgeHours = 24.0

	arxivQueryMaxResults = 40
)

var DefaultArxivCategories = []string{"cs.AI", "cs.LG"}

// ArxivFetcher lists the most recent submissions in a fixed set of
// categories via the arXiv Atom API, parsed with gofeed. Papers carry
// no popularity score, so the velocity metric here is pure recency:
// fresher submissions rank higher, and magnitude is always zero.
type ArxivFetcher struct {
	fetcherEnv
	baseURL    string
	categories []string
	limit      int
}

func NewArxivFetcher(env fetcherEnv, categories []string, limit int) *ArxivFetcher {
	if len(categories) == 0 {
		categories = DefaultArxivCategories
	}
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &ArxivFetcher{
		fetcherEnv: env,
		baseURL:    arxivDefaultBaseURL,
		categories: categories,
		limit:      limit,
	}
}

func (a *ArxivFetcher) Name() string {
	return SourceArxiv
}

func (a *ArxivFetcher) Limit() int {
	return a.limit
}

func (a *ArxivFetcher) queryURL() string {
	terms := make([]string, 0, len(a.categories))
	for _, cat := range a.categories {
		terms = append(terms, "cat:"+cat)
	}
	q := url.Values{}
	// Encode() turns the spaces into the '+' separators arXiv expects
	q.Set("search_query", strings.Join(terms, " OR "))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	q.Set("max_results", fmt.Sprintf("%d", arxivQueryMaxResults))
	return fmt.Sprintf("%s?%s", a.baseURL, q.Encode())
}

func (a *ArxivFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("arxiv: waiting on request limiter: %w", err)
		}
	}

	parser := gofeed.NewParser()
	parser.Client = a.httpClient
	parser.UserAgent = a.userAgent

	feed, err := parser.ParseURLWithContext(a.queryURL(), ctx)
	if err != nil {
		return nil, fmt.Errorf("arxiv: parsing feed: %w", err)
	}

	now := time.Now().UTC()
	items := make([]TrendItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil || entry.Title == "" {
			continue
		}
		published := now
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}
		age := hoursSince(published, now)

		var detail string
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			detail = entry.Authors[0].Name
			if len(entry.Authors) > 1 {
				detail += " et al."
			}
		}
		if len(entry.Categories) > 0 {
			if detail != "" {
				detail += ", "
			}
			detail += entry.Categories[0]
		}

		items = append(
			items, TrendItem{
				Title:       strings.Join(strings.Fields(entry.Title), " "),
				URL:         entry.Link,
				Source:      SourceArxiv,
				Velocity:    arxivHotAgeHours / (1 + age),
				Hot:         age <= arxivHotAgeHours,
				PublishedAt: published,
				Detail:      detail,
			},
		)
	}

	return rankItems(items, a.limit), nil
}
