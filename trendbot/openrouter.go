package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const openRouterModelListLimit = 10

// OpenRouterClient lists recently published models from the OpenRouter
// API, which is OpenAI-compatible.
type OpenRouterClient struct {
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newOpenRouterClient(
	token string,
	httpClient *http.Client,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *OpenRouterClient {
	if token == "" {
		return &OpenRouterClient{}
	}
	cfg := openai.DefaultConfig(token)
	cfg.BaseURL = DefaultOpenRouterBaseURL
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenRouterClient{
		client:  openai.NewClientWithConfig(cfg),
		limiter: limiter,
		logger:  logger.With(loggerNameKey, "openrouter"),
	}
}

// Enabled reports whether an API token was configured.
func (o *OpenRouterClient) Enabled() bool {
	return o != nil && o.client != nil
}

// RecentModels returns the most recently published models, newest
// first.
func (o *OpenRouterClient) RecentModels(ctx context.Context) ([]openai.Model, error) {
	if !o.Enabled() {
		return nil, fmt.Errorf("no openrouter token configured")
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting on request limiter: %w", err)
		}
	}

	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}

	models := list.Models
	slices.SortStableFunc(
		models, func(a, b openai.Model) int {
			switch {
			case a.CreatedAt > b.CreatedAt:
				return -1
			case a.CreatedAt < b.CreatedAt:
				return 1
			default:
				return strings.Compare(a.ID, b.ID)
			}
		},
	)
	if len(models) > openRouterModelListLimit {
		models = models[:openRouterModelListLimit]
	}
	return models, nil
}

func renderModels(models []openai.Model) string {
	if len(models) == 0 {
		return "no models found"
	}
	var b strings.Builder
	b.WriteString("\U0001F916 **Recently added OpenRouter models**\n")
	for i, m := range models {
		b.WriteString(fmt.Sprintf("%d. `%s`", i+1, m.ID))
		if m.CreatedAt > 0 {
			b.WriteString(
				fmt.Sprintf(
					" — added %s",
					time.Unix(m.CreatedAt, 0).UTC().Format("2006-01-02"),
				),
			)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleModels runs the models command, editing the deferred
// interaction response with the rendered model list.
func (t *Trendbot) handleModels(ctx context.Context, handler InteractionHandler) {
	logger := handler.Logger()

	if !t.openrouter.Enabled() {
		content := "the models command isn't configured"
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	models, err := t.openrouter.RecentModels(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "listing models failed", tint.Err(err))
		content := t.config.Discord.ErrorMessage
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	content := shortenString(renderModels(models), discordMaxMessageLength)
	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing models response", tint.Err(err))
	}
}
