package trendbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	subscribeConfirmation   = "This channel is now subscribed to scheduled trend reports."
	subscribeAlready        = "This channel is already subscribed."
	unsubscribeConfirmation = "This channel will no longer receive scheduled trend reports."
	unsubscribeNotFound     = "This channel isn't subscribed."
)

// handleSubscribe subscribes the interaction's channel to scheduled
// reports and edits the deferred response with the result.
func (t *Trendbot) handleSubscribe(
	ctx context.Context,
	handler InteractionHandler,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	var userID, username string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
		username = u.String()
	}

	content := subscribeConfirmation
	_, created, err := t.writeDB.Subscribe(
		ctx, i.ChannelID, i.GuildID, userID, username,
	)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "error subscribing channel", tint.Err(err))
		content = t.config.Discord.ErrorMessage
	case !created:
		content = subscribeAlready
	}

	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing subscribe response", tint.Err(err))
	}
}

// handleUnsubscribe removes the interaction channel's subscription.
func (t *Trendbot) handleUnsubscribe(
	ctx context.Context,
	handler InteractionHandler,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	content := unsubscribeConfirmation
	removed, err := t.writeDB.Unsubscribe(ctx, i.ChannelID)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "error unsubscribing channel", tint.Err(err))
		content = t.config.Discord.ErrorMessage
	case !removed:
		content = unsubscribeNotFound
	}

	if _, err := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing unsubscribe response", tint.Err(err))
	}
}

// prefixSubscribe handles the '!subscribe' and '!unsubscribe' message
// commands, replying in the originating channel.
func (t *Trendbot) prefixSubscribe(
	ctx context.Context,
	m *discordgo.MessageCreate,
	subscribe bool,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}

	var userID, username string
	if m.Author != nil {
		userID = m.Author.ID
		username = m.Author.String()
	}

	var content string
	if subscribe {
		content = subscribeConfirmation
		_, created, err := t.writeDB.Subscribe(
			ctx, m.ChannelID, m.GuildID, userID, username,
		)
		switch {
		case err != nil:
			logger.ErrorContext(ctx, "error subscribing channel", tint.Err(err))
			content = t.config.Discord.ErrorMessage
		case !created:
			content = subscribeAlready
		}
	} else {
		content = unsubscribeConfirmation
		removed, err := t.writeDB.Unsubscribe(ctx, m.ChannelID)
		switch {
		case err != nil:
			logger.ErrorContext(ctx, "error unsubscribing channel", tint.Err(err))
			content = t.config.Discord.ErrorMessage
		case !removed:
			content = unsubscribeNotFound
		}
	}

	if err := t.discord.channelMessageSend(m.ChannelID, content); err != nil {
		logger.ErrorContext(
			ctx,
			fmt.Sprintf("error replying in channel %s", m.ChannelID),
			tint.Err(err),
		)
	}
}
