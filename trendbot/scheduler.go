package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

const (
	reportTriggerScheduled = "scheduled"
	reportTriggerAPI       = "api"
	reportTriggerCommand   = "command"
)

// Scheduler runs the twice-daily report dispatch on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	t       *Trendbot
	logger  *slog.Logger
}

func newScheduler(t *Trendbot) (*Scheduler, error) {
	s := &Scheduler{
		t:      t,
		logger: t.logger.With(loggerNameKey, "scheduler"),
	}
	s.cron = cron.New(
		cron.WithLogger(cron.PrintfLogger(slogPrintfAdapter{s.logger})),
		cron.WithChain(cron.Recover(cron.PrintfLogger(slogPrintfAdapter{s.logger}))),
	)

	entryID, err := s.cron.AddFunc(
		t.config.ReportSchedule, func() {
			ctx, cancel := context.WithTimeout(
				context.Background(),
				2*t.config.Sources.Timeout,
			)
			defer cancel()
			s.dispatchScheduledReport(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid report schedule %q: %w", t.config.ReportSchedule, err,
		)
	}
	s.entryID = entryID
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info(
		"starting scheduler",
		"schedule", s.t.config.ReportSchedule,
		"next_run", s.cron.Entry(s.entryID).Schedule.Next(time.Now()),
	)
	s.cron.Start()
}

// Stop stops the cron scheduler and waits for any running dispatch to
// finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// dispatchScheduledReport generates a trend report, drops items already
// dispatched within the dedup retention window, and sends the result to
// every subscribed channel. A run with no subscribers still prunes the
// dedup table but skips generation.
func (s *Scheduler) dispatchScheduledReport(ctx context.Context) {
	logger := s.logger
	ctx = WithLogger(ctx, logger)

	if pruned, err := s.t.writeDB.PruneSeenItems(ctx); err != nil {
		logger.ErrorContext(ctx, "error pruning seen items", tint.Err(err))
	} else if pruned > 0 {
		logger.InfoContext(ctx, "pruned seen items", "count", pruned)
	}

	subs := s.t.writeDB.LoadSubscriptions()
	if len(subs) == 0 {
		logger.InfoContext(ctx, "no subscribed channels, skipping scheduled report")
		return
	}

	report := s.t.GenerateTrendReport(ctx)

	// filter a copy: the generated report is already published via
	// LastReport, and the API may be serializing it right now
	dispatch := &TrendReport{
		GeneratedAt: report.GeneratedAt,
		Elapsed:     report.Elapsed,
		Sections:    make([]ReportSection, len(report.Sections)),
	}
	copy(dispatch.Sections, report.Sections)

	var sourceErrors []string
	for i := range dispatch.Sections {
		section := &dispatch.Sections[i]
		if section.Err != "" {
			sourceErrors = append(
				sourceErrors,
				fmt.Sprintf("%s: %s", section.Source, section.Err),
			)
		}
		fresh, err := s.t.writeDB.FilterSeen(ctx, section.Items)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"error filtering seen items",
				tint.Err(err),
				"source", section.Source,
			)
			continue
		}
		section.Items = fresh
	}

	messages := renderReport(dispatch)
	notified := 0
	for _, sub := range subs {
		sendErr := s.sendToChannel(sub.ChannelID, messages)
		if sendErr != nil {
			logger.ErrorContext(
				ctx,
				"error sending scheduled report",
				tint.Err(sendErr),
				"subscription", sub,
			)
			continue
		}
		notified++
	}

	logger.InfoContext(
		ctx,
		"dispatched scheduled report",
		"channels_notified", notified,
		"item_count", dispatch.ItemCount(),
		"elapsed", report.Elapsed,
	)

	reportLog := &ReportLog{
		Trigger:          reportTriggerScheduled,
		ItemCount:        dispatch.ItemCount(),
		SectionCount:     len(dispatch.Sections),
		SourceErrors:     strings.Join(sourceErrors, "; "),
		Elapsed:          Duration{report.Elapsed},
		ChannelsNotified: notified,
	}
	if _, err := s.t.writeDB.Create(ctx, reportLog); err != nil {
		logger.ErrorContext(ctx, "error recording report log", tint.Err(err))
	}
}

func (s *Scheduler) sendToChannel(channelID string, messages []string) error {
	for _, msg := range messages {
		if err := s.t.discord.channelMessageSend(channelID, msg); err != nil {
			return err
		}
	}
	return nil
}

// slogPrintfAdapter lets the cron library log through slog.
type slogPrintfAdapter struct {
	logger *slog.Logger
}

func (a slogPrintfAdapter) Printf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
