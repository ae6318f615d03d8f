package trendbot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSubscribe(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	i := newDiscordInteraction(
		t, newDiscordUser(t), t.Name(), DiscordSlashCommandSubscribe,
	)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	bot.handleSubscribe(ctx, handler)

	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, subscribeConfirmation, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected the deferred response to be edited")
	}

	sub := bot.writeDB.GetSubscription(i.ChannelID)
	require.NotNil(t, sub)
	assert.Equal(t, i.GuildID, sub.GuildID)

	// subscribing the same channel twice reports as much
	bot.handleSubscribe(ctx, handler)
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, subscribeAlready, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected the deferred response to be edited")
	}
}

func TestHandleUnsubscribe(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	i := newDiscordInteraction(
		t, newDiscordUser(t), t.Name(), DiscordSlashCommandUnsubscribe,
	)
	handler := newStubInteractionHandler(t)
	handler.GatewayHandler.interaction = i

	bot.handleUnsubscribe(ctx, handler)
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, unsubscribeNotFound, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected the deferred response to be edited")
	}

	_, created, err := bot.writeDB.Subscribe(
		ctx, i.ChannelID, i.GuildID, "user", "user#1",
	)
	require.NoError(t, err)
	require.True(t, created)

	bot.handleUnsubscribe(ctx, handler)
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.WebhookEdit.Content)
		assert.Equal(t, unsubscribeConfirmation, *edit.WebhookEdit.Content)
	default:
		t.Fatal("expected the deferred response to be edited")
	}
	assert.Nil(t, bot.writeDB.GetSubscription(i.ChannelID))
}

func TestPrefixSubscribeSendError(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	captureSession := newChannelMessageCaptureSession(t)
	bot.discord.session = captureSession
	captureSession.errCh <- errors.New("channel gone")

	m := newDiscordMessageCreate(t, newDiscordUser(t), "!subscribe")
	bot.prefixSubscribe(ctx, m, true)

	// the reply failed, but the subscription itself was recorded
	assert.Empty(t, captureSession.messagesSent)
	assert.NotNil(t, bot.writeDB.GetSubscription(m.ChannelID))
}
