package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"github.com/joho/godotenv"
	"github.com/mholwick/trendbot/trendbot"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cfg        = trendbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "trendbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	fmt.Println(err)
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", trendbot.DefaultDatabase)
	viper.SetDefault("database_type", trendbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		trendbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		trendbot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", trendbot.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", trendbot.DefaultAPILogLevel.String())

	viper.SetDefault("report_schedule", trendbot.DefaultReportSchedule)

	viper.SetDefault("startup_timeout", trendbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", trendbot.DefaultShutdownTimeout)

	// Source config
	viper.SetDefault("sources.section_limit", trendbot.DefaultSectionLimit)
	viper.SetDefault("sources.timeout", trendbot.DefaultSourceTimeout)
	viper.SetDefault(
		"sources.max_requests_per_second",
		trendbot.DefaultSourceMaxRequestsPerSecond,
	)
	viper.SetDefault("sources.user_agent", trendbot.DefaultFetchUserAgent)
	viper.SetDefault(
		"sources.log_level",
		trendbot.DefaultSourcesLogLevel.String(),
	)
	viper.SetDefault("sources.github_token", "")
	viper.SetDefault(
		"sources.reddit_subreddits",
		trendbot.DefaultRedditSubreddits,
	)
	viper.SetDefault(
		"sources.arxiv_categories",
		trendbot.DefaultArxivCategories,
	)
	viper.SetDefault("sources.producthunt_token", "")
	viper.SetDefault("sources.brave_token", "")
	viper.SetDefault("sources.openrouter_token", "")

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		trendbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		trendbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		trendbot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", trendbot.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.custom_status", trendbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", trendbot.DefaultDiscordErrorMessage)

	// API config
	viper.SetDefault("api.listen", trendbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")

	viper.SetDefault("api.read_timeout", trendbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		trendbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", trendbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", trendbot.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		trendbot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		trendbot.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		trendbot.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", trendbot.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		trendbot.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(trendbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = trendbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)
	viper.Set(
		"sources.reddit_subreddits",
		viper.GetStringSlice("sources.reddit_subreddits"),
	)
	viper.Set(
		"sources.arxiv_categories",
		viper.GetStringSlice("sources.arxiv_categories"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("sources.log_level"))
	if err != nil {
		log.Fatalf("error parsing sources log level: %v", err)
	}
	viper.Set("sources.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
