package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ReportCommandStateReceived   ReportCommandState = "received"
	ReportCommandStateInProgress ReportCommandState = "in_progress"
	ReportCommandStateCompleted  ReportCommandState = "completed"
	ReportCommandStateFailed     ReportCommandState = "failed"
	ReportCommandStateIgnored    ReportCommandState = "ignored"
)

const (
	ReportCommandStepFetching   ReportCommandStep = "fetching"
	ReportCommandStepRendering  ReportCommandStep = "rendering"
	ReportCommandStepDelivering ReportCommandStep = "delivering"
)

// ReportCommandState is the current or final processing state for a
// ReportCommand
type ReportCommandState string

// IsFinal returns true if the ReportCommandState is one in which a
// ReportCommand should not be executed
func (s ReportCommandState) IsFinal() bool {
	switch s {
	case ReportCommandStateCompleted:
		return true
	case ReportCommandStateFailed:
		return true
	case ReportCommandStateIgnored:
		return true
	default:
		return false
	}
}

func (s ReportCommandState) String() string {
	return string(s)
}

// ReportCommandStep reflects an execution step in the ReportCommand
type ReportCommandStep string

func (s ReportCommandStep) String() string {
	return string(s)
}

// ReportCommand is a single `/news` or `/trending` slash command (or
// the equivalent '!' prefix command).
//
// When Trendbot receives a new interaction for these commands, a new
// ReportCommand record is created with State set to
// ReportCommandStateReceived. The record tracks the command through
// fetching, rendering and delivery, and keeps the final response (or
// error) for inspection.
//
//goland:noinspection GoMixedReceiverTypes
type ReportCommand struct {
	ModelUintID
	ModelUnixTime
	Interaction

	// State is the overall execution state of this command
	State ReportCommandState `json:"state" gorm:"type:string"`

	// Step is the current, or most recent step in the command execution
	Step ReportCommandStep `json:"step" gorm:"type:string"`

	// CommandName is the slash or prefix command that created this
	// record ("news", "trending")
	CommandName string `json:"command_name" gorm:"type:string"`

	// Source restricts the report to a single source. Empty means all
	// sources.
	Source string `json:"source" gorm:"type:string"`

	// ItemCount is the number of items in the delivered report
	ItemCount int `json:"item_count"`

	handler InteractionHandler
}

// NewReportCommand creates a new ReportCommand from a discord
// interaction. A `source` from the trending command's option narrows
// the report to that source.
func NewReportCommand(
	i *discordgo.InteractionCreate,
	commandName string,
	source string,
) *ReportCommand {
	interaction := newInteraction(i)
	return &ReportCommand{
		Interaction: *interaction,
		State:       ReportCommandStateReceived,
		CommandName: commandName,
		Source:      source,
	}
}

// newPrefixReportCommand creates a ReportCommand from a '!' prefix
// message rather than an interaction.
func newPrefixReportCommand(
	m *discordgo.MessageCreate,
	commandName string,
	source string,
) *ReportCommand {
	rec := &ReportCommand{
		State:       ReportCommandStateReceived,
		CommandName: commandName,
		Source:      source,
	}
	rec.ChannelID = m.ChannelID
	rec.GuildID = m.GuildID
	rec.Type = "message"
	// message IDs are unique, so this satisfies the unique index on
	// interaction_id
	rec.InteractionID = fmt.Sprintf("msg:%s", m.ID)
	if m.Author != nil {
		rec.UserID = m.Author.ID
		rec.Username = m.Author.String()
	}
	rec.Content = m.Content
	return rec
}

func (c ReportCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(c.ID)),
		slog.String("command", c.CommandName),
		slog.String("source", c.Source),
		slog.String("state", c.State.String()),
		slog.String("step", c.Step.String()),
		slog.Any("interaction", c.Interaction),
	)
}

func (c *ReportCommand) InteractionTokenExpired(t time.Time) bool {
	return c.TokenExpires > 0 && t.UnixMilli() >= c.TokenExpires
}

// execute runs the report command end to end: generate, render,
// deliver. The handler is nil for prefix commands, in which case
// delivery falls back to plain channel messages.
func (c *ReportCommand) execute(ctx context.Context, t *Trendbot) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}
	logger = logger.With("report_command", c)
	ctx = WithLogger(ctx, logger)

	startedAt := time.Now().UTC()
	c.StartedAt = &startedAt
	if _, err := t.writeDB.ReportCommandUpdates(
		ctx, c, map[string]any{
			columnReportCommandState:     ReportCommandStateInProgress,
			columnReportCommandStep:      ReportCommandStepFetching,
			columnReportCommandStartedAt: &startedAt,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error updating report command", tint.Err(err))
	}

	messages, itemCount, err := c.buildMessages(ctx, t)
	if err != nil {
		c.finalize(ctx, t, nil, err)
		return
	}
	c.ItemCount = itemCount

	c.Step = ReportCommandStepDelivering
	if _, updErr := t.writeDB.Update(
		ctx, c, columnReportCommandStep, ReportCommandStepDelivering,
	); updErr != nil {
		logger.ErrorContext(ctx, "error updating report command", tint.Err(updErr))
	}

	deliverErr := c.deliver(ctx, t, messages)
	c.finalize(ctx, t, messages, deliverErr)
}

// buildMessages generates and renders the report for this command.
func (c *ReportCommand) buildMessages(ctx context.Context, t *Trendbot) (
	[]string,
	int,
	error,
) {
	if c.Source != "" {
		section, found := t.generateSection(ctx, c.Source)
		if !found {
			return nil, 0, fmt.Errorf("unknown source: %s", c.Source)
		}
		c.Step = ReportCommandStepRendering
		if section.Empty() {
			return []string{
				fmt.Sprintf(
					"nothing trending on %s right now",
					sectionTitles[c.Source],
				),
			}, 0, nil
		}
		return []string{renderSection(section)}, len(section.Items), nil
	}

	report := t.GenerateTrendReport(ctx)
	c.Step = ReportCommandStepRendering
	return renderReport(report), report.ItemCount(), nil
}

// deliver sends the rendered messages. Interaction-based commands edit
// the deferred response and follow up with the remaining messages;
// prefix commands send plain channel messages.
func (c *ReportCommand) deliver(
	ctx context.Context,
	t *Trendbot,
	messages []string,
) error {
	if len(messages) == 0 {
		return nil
	}

	if c.handler == nil {
		for _, msg := range messages {
			if err := t.discord.channelMessageSend(c.ChannelID, msg); err != nil {
				return err
			}
		}
		return nil
	}

	if c.InteractionTokenExpired(time.Now().UTC()) {
		return fmt.Errorf("interaction token expired before delivery")
	}

	first := messages[0]
	msg, err := c.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &first})
	if err != nil {
		return err
	}
	if msg != nil {
		c.DiscordMessageID = msg.ID
	}
	for _, followup := range messages[1:] {
		if _, err := c.handler.Followup(
			ctx, &discordgo.WebhookParams{Content: followup},
		); err != nil {
			return err
		}
	}
	return nil
}

// finalize records the command's final state, and sends the configured
// error message to the user if execution failed.
func (c *ReportCommand) finalize(
	ctx context.Context,
	t *Trendbot,
	messages []string,
	err error,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}

	finishedAt := time.Now().UTC()
	c.FinishedAt = &finishedAt
	updates := map[string]any{
		columnReportCommandFinishedAt: &finishedAt,
		"item_count":                  c.ItemCount,
	}

	if err != nil {
		logger.ErrorContext(ctx, "report command failed", tint.Err(err), "report_command", c)
		c.State = ReportCommandStateFailed
		c.Error = NullableString(err.Error())
		updates[columnReportCommandState] = ReportCommandStateFailed
		updates[columnReportCommandError] = c.Error

		errMsg := t.config.Discord.ErrorMessage
		if errMsg == "" {
			errMsg = DefaultDiscordErrorMessage
		}
		if c.handler != nil {
			_, _ = c.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
		} else if c.ChannelID != "" {
			_ = t.discord.channelMessageSend(c.ChannelID, errMsg)
		}
	} else {
		c.State = ReportCommandStateCompleted
		response := strings.Join(messages, "\n")
		c.Response = &response
		updates[columnReportCommandState] = ReportCommandStateCompleted
		updates[columnReportCommandResponse] = &response
		logger.InfoContext(
			ctx,
			"report command completed",
			"report_command", c,
			"elapsed", finishedAt.Sub(valueOrZero(c.StartedAt)),
		)
	}

	if _, updErr := t.writeDB.ReportCommandUpdates(ctx, c, updates); updErr != nil {
		logger.ErrorContext(ctx, "error finalizing report command", tint.Err(updErr))
	}
}

func valueOrZero(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
