// Package trendbot implements a Discord bot that polls public "what's
// trending" APIs and posts ranked trend reports to chat.
//
// Trendbot watches six sources - GitHub, Hacker News, Reddit, arXiv,
// Hugging Face and Product Hunt - normalizes each source's raw response
// into a small record carrying one velocity metric, and aggregates the
// sources into a single report. Reports are posted on a fixed schedule
// to subscribed channels, or on demand via slash commands.
//
// Key components of the package include:
//
//   - Trendbot: The main struct that encapsulates the bot's core functionality.
//   - Fetcher: One implementation per source; fetch, filter, rank, truncate.
//   - TrendReport: The aggregated, rendered-to-Discord report object.
//   - Scheduler: Twice-daily cron dispatch to subscribed channels.
//   - Discord: Gateway session management and slash command registration.
//   - API: A small backend HTTP API for health checks and manual triggers.
//
// The bot supports these commands:
//
//   - /news: Generate and post the full multi-source trend report.
//   - /trending: Post a single source's section.
//   - /subscribe, /unsubscribe: Manage scheduled reports for a channel.
//   - /search: Web search via the Brave Search API.
//   - /models: Recently published models from the OpenRouter catalog.
//
// Legacy '!news'-style prefix commands are accepted via the message
// gateway for parity with older deployments.
package trendbot
