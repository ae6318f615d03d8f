package trendbot

import (
	"context"
	"fmt"
	"time"
)

const (
	huggingFaceDefaultBaseURL = "https://huggingface.co"

	// huggingFaceNewModelWindow filters the likes-sorted listing down
	// to recently created models, so long-established models with big
	// absolute counts don't drown out what's actually trending.
	huggingFaceNewModelWindow = 30 * 24 * time.Hour

	// huggingFaceHotLikesPerDay marks a model as hot.
	huggingFaceHotLikesPerDay = 25.0

	huggingFaceListingLimit = 100
)

// HuggingFaceFetcher ranks recently published models by likes per day,
// via the Hugging Face Hub model listing API.
type HuggingFaceFetcher struct {
	fetcherEnv
	baseURL string
	limit   int
}

func NewHuggingFaceFetcher(env fetcherEnv, limit int) *HuggingFaceFetcher {
	if limit <= 0 {
		limit = DefaultSectionLimit
	}
	return &HuggingFaceFetcher{
		fetcherEnv: env,
		baseURL:    huggingFaceDefaultBaseURL,
		limit:      limit,
	}
}

func (h *HuggingFaceFetcher) Name() string {
	return SourceHuggingFace
}

func (h *HuggingFaceFetcher) Limit() int {
	return h.limit
}

type huggingFaceModel struct {
	ID           string    `json:"id"`
	Likes        int       `json:"likes"`
	Downloads    int       `json:"downloads"`
	PipelineTag  string    `json:"pipeline_tag"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

func (h *HuggingFaceFetcher) Fetch(ctx context.Context) ([]TrendItem, error) {
	listingURL := fmt.Sprintf(
		"%s/api/models?sort=likes&direction=-1&limit=%d",
		h.baseURL,
		huggingFaceListingLimit,
	)

	var models []huggingFaceModel
	if err := h.getJSON(ctx, listingURL, nil, &models); err != nil {
		return nil, fmt.Errorf("huggingface: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-huggingFaceNewModelWindow)

	items := make([]TrendItem, 0, len(models))
	for _, model := range models {
		if model.ID == "" || model.CreatedAt.Before(cutoff) {
			continue
		}
		ageDays := hoursSince(model.CreatedAt, now) / 24
		likesPerDay := float64(model.Likes) / ageDays

		detail := model.PipelineTag
		if model.Downloads > 0 {
			if detail != "" {
				detail += ", "
			}
			detail += fmt.Sprintf("%d downloads", model.Downloads)
		}

		items = append(
			items, TrendItem{
				Title:       model.ID,
				URL:         fmt.Sprintf("%s/%s", h.baseURL, model.ID),
				Source:      SourceHuggingFace,
				Magnitude:   model.Likes,
				Velocity:    likesPerDay,
				Hot:         likesPerDay >= huggingFaceHotLikesPerDay,
				PublishedAt: model.CreatedAt,
				Detail:      detail,
			},
		)
	}

	return rankItems(items, h.limit), nil
}
