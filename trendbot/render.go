package trendbot

import (
	"fmt"
	"strings"
	"time"
)

const (
	// discordMaxMessageLength is Discord's hard cap on message content.
	discordMaxMessageLength = 2000

	hotMarker = " \U0001F525"
)

// sectionTitles maps source names to rendered section headers.
var sectionTitles = map[string]string{
	SourceGitHub:      "GitHub — fastest-growing new repos",
	SourceHackerNews:  "Hacker News — front page by points/hr",
	SourceReddit:      "Reddit — today's top posts by score/hr",
	SourceArxiv:       "arXiv — latest submissions",
	SourceHuggingFace: "Hugging Face — new models by likes/day",
	SourceProductHunt: "Product Hunt — today's launches by votes/hr",
}

// velocityUnits maps source names to the unit shown after the rate.
var velocityUnits = map[string]string{
	SourceGitHub:      "★/day",
	SourceHackerNews:  "pts/hr",
	SourceReddit:      "pts/hr",
	SourceHuggingFace: "likes/day",
	SourceProductHunt: "votes/hr",
}

// renderSection formats one report section as a single Discord message.
// Lines are ranked `1. [title](url) — magnitude (+velocity unit) 🔥`,
// and the result is truncated to Discord's message limit.
func renderSection(section ReportSection) string {
	title := sectionTitles[section.Source]
	if title == "" {
		title = section.Source
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("**%s**\n", title))

	if section.Empty() {
		b.WriteString("_nothing trending right now_")
		return b.String()
	}

	for i, item := range section.Items {
		b.WriteString(fmt.Sprintf("%d. [%s](<%s>)", i+1, item.Title, item.URL))
		if unit, ok := velocityUnits[item.Source]; ok {
			b.WriteString(
				fmt.Sprintf(
					" — %d (+%.1f %s)",
					item.Magnitude,
					item.Velocity,
					unit,
				),
			)
		} else if !item.PublishedAt.IsZero() {
			b.WriteString(fmt.Sprintf(" — %s", humanizeAge(item.PublishedAt)))
		}
		if item.Hot {
			b.WriteString(hotMarker)
		}
		if item.Detail != "" {
			b.WriteString(fmt.Sprintf("\n   %s", item.Detail))
		}
		b.WriteString("\n")
	}

	return shortenString(strings.TrimRight(b.String(), "\n"), discordMaxMessageLength)
}

// renderReport formats the full report as a sequence of Discord
// messages: a header line, then one message per non-empty section.
// An entirely empty report renders as a single shrug message.
func renderReport(report *TrendReport) []string {
	messages := make([]string, 0, len(report.Sections)+1)

	if report.ItemCount() == 0 {
		return []string{"Nothing trending right now — every source came back empty. \U0001F937"}
	}

	messages = append(
		messages,
		fmt.Sprintf(
			"\U0001F4C8 **Trend report** — %s",
			report.GeneratedAt.Format("Mon Jan 2 15:04 MST"),
		),
	)
	for _, section := range report.Sections {
		if section.Empty() {
			continue
		}
		messages = append(messages, renderSection(section))
	}
	return messages
}

// RenderReport formats the full report as a sequence of Discord-ready
// message blocks. Exposed for the one-shot `trendbot report` command.
func RenderReport(report *TrendReport) []string {
	return renderReport(report)
}

// humanizeAge renders the elapsed time since ts in coarse units.
func humanizeAge(ts time.Time) string {
	elapsed := time.Since(ts)
	switch {
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	case elapsed < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	}
}
