package trendbot

import (
	"context"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// ReportSection holds one source's contribution to a TrendReport.
// A failed or timed-out source produces an empty section with Err set
// to the error string; the report as a whole never fails.
type ReportSection struct {
	Source string      `json:"source"`
	Items  []TrendItem `json:"items"`
	Err    string      `json:"error,omitempty"`
}

// Empty reports whether the section has no items to render.
func (s ReportSection) Empty() bool {
	return len(s.Items) == 0
}

// TrendReport is the aggregate of all enabled sources for a single
// generation. Sections appear in fetcher registration order regardless
// of which source answered first.
type TrendReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Elapsed     time.Duration   `json:"elapsed"`
	Sections    []ReportSection `json:"sections"`
}

// Section returns the section for the given source name, or nil.
func (r *TrendReport) Section(source string) *ReportSection {
	for i := range r.Sections {
		if r.Sections[i].Source == source {
			return &r.Sections[i]
		}
	}
	return nil
}

// ItemCount returns the total number of items across all sections.
func (r *TrendReport) ItemCount() int {
	var n int
	for _, s := range r.Sections {
		n += len(s.Items)
	}
	return n
}

// GenerateTrendReport runs every registered fetcher concurrently and
// collects the results into a single report. Each fetcher gets its own
// timeout; a slow or failing source degrades to an empty section and
// is only logged. There is no cross-source ordering guarantee during
// the fan-out - section order is fixed afterward by registration order.
func (t *Trendbot) GenerateTrendReport(ctx context.Context) *TrendReport {
	t.reportsInProgress.Add(1)
	defer t.reportsInProgress.Add(-1)

	started := time.Now().UTC()
	report := &TrendReport{
		GeneratedAt: started,
		Sections:    make([]ReportSection, len(t.fetchers)),
	}

	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, fetcher := range t.fetchers {
		i, fetcher := i, fetcher
		g.Go(
			func() error {
				fetchCtx, cancel := context.WithTimeout(gctx, t.config.Sources.Timeout)
				defer cancel()

				section := ReportSection{Source: fetcher.Name()}
				items, err := fetcher.Fetch(fetchCtx)
				if err != nil {
					logger.ErrorContext(
						gctx,
						"fetch failed",
						"source", fetcher.Name(),
						tint.Err(err),
					)
					section.Err = err.Error()
				} else {
					section.Items = items
				}
				report.Sections[i] = section
				return nil
			},
		)
	}
	// the goroutines above never return errors; failures become empty
	// sections
	_ = g.Wait()

	report.Elapsed = time.Since(started)
	t.lastReport.Store(report)
	logger.InfoContext(
		ctx,
		"generated trend report",
		"items", report.ItemCount(),
		"sources", len(report.Sections),
		"elapsed", report.Elapsed,
	)
	return report
}

// generateSection runs a single named fetcher and returns its section.
// Used by the single-source commands ('/trending source:', '!hn', ...).
func (t *Trendbot) generateSection(
	ctx context.Context,
	source string,
) (ReportSection, bool) {
	for _, fetcher := range t.fetchers {
		if fetcher.Name() != source {
			continue
		}
		fetchCtx, cancel := context.WithTimeout(ctx, t.config.Sources.Timeout)
		defer cancel()

		section := ReportSection{Source: source}
		items, err := fetcher.Fetch(fetchCtx)
		if err != nil {
			t.logger.ErrorContext(
				ctx, "fetch failed", "source", source, tint.Err(err),
			)
			section.Err = err.Error()
			return section, true
		}
		section.Items = items
		return section, true
	}
	return ReportSection{}, false
}
