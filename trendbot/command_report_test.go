package trendbot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCommandStateIsFinal(t *testing.T) {
	t.Parallel()

	assert.False(t, ReportCommandStateReceived.IsFinal())
	assert.False(t, ReportCommandStateInProgress.IsFinal())
	assert.True(t, ReportCommandStateCompleted.IsFinal())
	assert.True(t, ReportCommandStateFailed.IsFinal())
	assert.True(t, ReportCommandStateIgnored.IsFinal())
}

func TestReportCommandExecute(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	bot.fetchers = []Fetcher{
		stubFetcher{
			name: SourceGitHub,
			items: []TrendItem{
				{
					Title:     "widget/factory",
					URL:       "https://github.com/widget/factory",
					Source:    SourceGitHub,
					Magnitude: 900,
					Velocity:  300,
					Hot:       true,
				},
			},
		},
	}

	i := newDiscordInteraction(t, newDiscordUser(t), t.Name(), DiscordSlashCommandNews)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	cmd := NewReportCommand(i, DiscordSlashCommandNews, "")
	cmd.handler = handler
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	// header edited into the deferred response, section as a followup
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Contains(t, *edit.WebhookEdit.Content, "**Trend report**")
	default:
		t.Fatal("expected the deferred response to be edited")
	}
	select {
	case followup := <-handler.callFollowup:
		assert.Contains(t, followup.Params.Content, "widget/factory")
	default:
		t.Fatal("expected a followup message")
	}

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where("interaction_id = ?", i.ID).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateCompleted, stored.State)
	assert.Equal(t, ReportCommandStepDelivering, stored.Step)
	assert.Equal(t, 1, stored.ItemCount)
	require.NotNil(t, stored.Response)
	assert.Contains(t, *stored.Response, "widget/factory")
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.FinishedAt)
}

func TestReportCommandExecuteEmptySource(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	bot.fetchers = []Fetcher{stubFetcher{name: SourceReddit}}

	i := newDiscordInteraction(
		t, newDiscordUser(t), t.Name(), DiscordSlashCommandTrending,
	)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	cmd := NewReportCommand(i, DiscordSlashCommandTrending, SourceReddit)
	cmd.handler = handler
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	expected := fmt.Sprintf(
		"nothing trending on %s right now", sectionTitles[SourceReddit],
	)
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, expected, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected the deferred response to be edited")
	}
	assert.Empty(t, handler.callFollowup)

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where("interaction_id = ?", i.ID).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateCompleted, stored.State)
	assert.Zero(t, stored.ItemCount)
}

func TestReportCommandExecuteUnknownSource(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	i := newDiscordInteraction(
		t, newDiscordUser(t), t.Name(), DiscordSlashCommandTrending,
	)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	cmd := NewReportCommand(i, DiscordSlashCommandTrending, "nonesuch")
	cmd.handler = handler
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, bot.config.Discord.ErrorMessage, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected an error message edit")
	}

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where("interaction_id = ?", i.ID).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateFailed, stored.State)
	assert.Contains(t, stored.Error.String(), "unknown source: nonesuch")
}

func TestReportCommandExecuteTokenExpired(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	bot.fetchers = []Fetcher{
		stubFetcher{
			name: SourceGitHub,
			items: []TrendItem{
				{Title: "a", URL: "https://example.com/a", Source: SourceGitHub},
			},
		},
	}

	i := newDiscordInteraction(t, newDiscordUser(t), t.Name(), DiscordSlashCommandNews)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	cmd := NewReportCommand(i, DiscordSlashCommandNews, "")
	cmd.handler = handler
	cmd.TokenExpires = time.Now().UTC().Add(-time.Minute).UnixMilli()
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where("interaction_id = ?", i.ID).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateFailed, stored.State)
	assert.Contains(t, stored.Error.String(), "token expired")
}

func TestReportCommandExecutePrefixDelivery(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	captureSession := newChannelMessageCaptureSession(t)
	bot.discord.session = captureSession

	bot.fetchers = []Fetcher{
		stubFetcher{
			name: SourceHackerNews,
			items: []TrendItem{
				{
					Title:     "Show HN: things",
					URL:       "https://example.com/hn",
					Source:    SourceHackerNews,
					Magnitude: 240,
					Velocity:  80,
				},
			},
		},
	}

	m := newDiscordMessageCreate(t, newDiscordUser(t), "!hn")
	cmd := newPrefixReportCommand(m, "hn", SourceHackerNews)
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	select {
	case sent := <-captureSession.messagesSent:
		assert.Equal(t, m.ChannelID, sent.ChannelID)
		assert.Contains(t, sent.Content, "Show HN: things")
	default:
		t.Fatal("expected a channel message")
	}

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where(
			"interaction_id = ?", fmt.Sprintf("msg:%s", m.ID),
		).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateCompleted, stored.State)
	assert.Equal(t, 1, stored.ItemCount)
}

func TestReportCommandExecutePrefixDeliveryError(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	captureSession := newChannelMessageCaptureSession(t)
	bot.discord.session = captureSession
	captureSession.errCh <- errors.New("channel gone")

	bot.fetchers = []Fetcher{
		stubFetcher{
			name: SourceHackerNews,
			items: []TrendItem{
				{Title: "a", URL: "https://example.com/a", Source: SourceHackerNews},
			},
		},
	}

	m := newDiscordMessageCreate(t, newDiscordUser(t), "!hn")
	cmd := newPrefixReportCommand(m, "hn", SourceHackerNews)
	_, err := bot.writeDB.Create(ctx, cmd)
	require.NoError(t, err)

	cmd.execute(ctx, bot)

	var stored ReportCommand
	require.NoError(
		t,
		bot.db.Where(
			"interaction_id = ?", fmt.Sprintf("msg:%s", m.ID),
		).First(&stored).Error,
	)
	assert.Equal(t, ReportCommandStateFailed, stored.State)
	assert.Contains(t, stored.Error.String(), "channel gone")
}

func TestNewPrefixReportCommand(t *testing.T) {
	t.Parallel()

	m := newDiscordMessageCreate(t, newDiscordUser(t), "!github")
	cmd := newPrefixReportCommand(m, "github", SourceGitHub)

	assert.Equal(t, ReportCommandStateReceived, cmd.State)
	assert.Equal(t, "github", cmd.CommandName)
	assert.Equal(t, SourceGitHub, cmd.Source)
	assert.Equal(t, fmt.Sprintf("msg:%s", m.ID), cmd.InteractionID)
	assert.Equal(t, "message", cmd.Type)
	assert.Equal(t, m.ChannelID, cmd.ChannelID)
	assert.Equal(t, m.Author.ID, cmd.UserID)
	assert.Equal(t, m.Content, cmd.Content)
}

func TestInteractionTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	cmd := &ReportCommand{}
	assert.False(t, cmd.InteractionTokenExpired(now))

	cmd.TokenExpires = now.Add(time.Minute).UnixMilli()
	assert.False(t, cmd.InteractionTokenExpired(now))

	cmd.TokenExpires = now.Add(-time.Minute).UnixMilli()
	assert.True(t, cmd.InteractionTokenExpired(now))
}
