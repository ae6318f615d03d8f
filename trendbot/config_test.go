package trendbot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app_%s", t.Name())
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.Sources.Timeout = 5 * time.Second
	cfg.Sources.MaxRequestsPerSecond = 1000

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.Sources.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))

	cfg.Discord.Token = ""
	require.Error(t, structValidator.Struct(cfg))
}

func TestValidateConfigSectionLimit(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Sources.SectionLimit = 0
	require.Error(t, structValidator.Struct(cfg))

	cfg.Sources.SectionLimit = 26
	require.Error(t, structValidator.Struct(cfg))

	cfg.Sources.SectionLimit = 25
	require.NoError(t, structValidator.Struct(cfg))
}

func TestValidateConfigDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	require.Error(t, structValidator.Struct(cfg))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultReportSchedule, cfg.ReportSchedule)
	assert.Equal(t, DefaultSectionLimit, cfg.Sources.SectionLimit)
	assert.Equal(t, DefaultSourceTimeout, cfg.Sources.Timeout)
	assert.Equal(t, DefaultRedditSubreddits, cfg.Sources.RedditSubreddits)
	assert.Equal(t, DefaultArxivCategories, cfg.Sources.ArxivCategories)
	assert.Equal(t, DefaultDiscordErrorMessage, cfg.Discord.ErrorMessage)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
}

func TestDefaultCORSConfig(t *testing.T) {
	corsConfig := DefaultTestConfig(t).API.CORS.GINConfig()

	assert.Equal(t, []string{"*"}, corsConfig.AllowOrigins)
	assert.Equal(t, DefaultCORSAllowMethods, corsConfig.AllowMethods)
	assert.Equal(t, DefaultCORSAllowHeaders, corsConfig.AllowHeaders)
	assert.Equal(t, DefaultCORSExposeHeaders, corsConfig.ExposeHeaders)
	assert.Equal(t, DefaultCORSMaxAge, corsConfig.MaxAge)
	assert.True(t, corsConfig.AllowCredentials)
}
