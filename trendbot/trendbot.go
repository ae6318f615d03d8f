package trendbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/mholwick/trendbot/trendbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// prefixCommand is the leading character for message-based commands
// ('!news', '!hn', ...).
const prefixCommand = "!"

// prefixCommandSources maps '!' message commands to the source they
// report on. An empty value means the full report.
var prefixCommandSources = map[string]string{
	"news":        "",
	"github":      SourceGitHub,
	"hn":          SourceHackerNews,
	"hackernews":  SourceHackerNews,
	"reddit":      SourceReddit,
	"arxiv":       SourceArxiv,
	"hf":          SourceHuggingFace,
	"huggingface": SourceHuggingFace,
	"ph":          SourceProductHunt,
	"producthunt": SourceProductHunt,
}

// Trendbot is the main application struct. It owns the Discord
// integration, the source fetchers, the database, the backend API and
// the report scheduler, and coordinates them over a single lifecycle.
type Trendbot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [Trendbot.db]
	// is that, when using sqlite, a mutex is used. Otherwise,
	// just use [Trendbot.db].
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the back-end API
	api *API

	// Runs scheduled report dispatch
	scheduler *Scheduler

	// fetchers holds one fetcher per trend source, in section order
	fetchers []Fetcher

	// Brave Search client, backing the search command
	brave *BraveClient

	// OpenRouter client, backing the models command
	openrouter *OpenRouterClient

	// requestLimiter is shared by all fetchers, bounding outbound API
	// requests across sources
	requestLimiter *rate.Limiter

	// lastReport holds the most recently generated report, served by
	// the API
	lastReport atomic.Pointer[TrendReport]

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished
	// initializing: database connections, discord session, command
	// registration, API and scheduler startup
	signalReady chan struct{}

	// A signal is sent on this channel when [Trendbot.shutdown] finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// reportsInProgress is the number of report generations currently
	// in flight
	reportsInProgress atomic.Int64

	// getInteractionHandlerFunc returns the InteractionHandler to use
	// for an incoming interaction. Overridable for tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a Trendbot from the given config, wiring up logging, the
// discord session config, fetchers, integrations, the API server and
// the scheduler. The database isn't opened until Run.
func New(config *Config) (*Trendbot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	t := &Trendbot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	t.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     t.config.LogLevel,
			AddSource: true,
		},
	)

	t.logger = slog.New(t.logHandler)
	slog.SetDefault(t.logger)

	t.config.Discord.httpClient = t.config.HTTPClient

	disc, err := newDiscord(t.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     t.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")

		t.discord = disc
		disc.t = t
	}

	t.requestLimiter = rate.NewLimiter(
		rate.Limit(t.config.Sources.MaxRequestsPerSecond),
		1,
	)

	sourcesLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Sources.LogLevel,
				AddSource: true,
			},
		),
	)
	env := newFetcherEnv(
		t.config.HTTPClient,
		t.requestLimiter,
		sourcesLogger,
		t.config.Sources.UserAgent,
	)
	t.fetchers = newFetchers(env, t.config.Sources)

	t.brave = newBraveClient(env, t.config.Sources.BraveToken)
	t.openrouter = newOpenRouterClient(
		t.config.Sources.OpenRouterToken,
		t.config.HTTPClient,
		t.requestLimiter,
		t.logger,
	)

	api, err := newAPI(t, config.API)
	errs = append(errs, err)
	t.api = api

	scheduler, err := newScheduler(t)
	errs = append(errs, err)
	t.scheduler = scheduler

	t.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     t.discord.session,
			interaction: i,
			logger:      t.discord.logger,
		}
	}

	return t, errors.Join(errs...)
}

// newFetchers builds the full fetcher set in section order.
func newFetchers(env fetcherEnv, cfg *SourcesConfig) []Fetcher {
	return []Fetcher{
		NewGitHubFetcher(env, cfg.GitHubToken, cfg.SectionLimit),
		NewHackerNewsFetcher(env, cfg.SectionLimit),
		NewRedditFetcher(env, cfg.RedditSubreddits, cfg.SectionLimit),
		NewArxivFetcher(env, cfg.ArxivCategories, cfg.SectionLimit),
		NewHuggingFaceFetcher(env, cfg.SectionLimit),
		NewProductHuntFetcher(env, cfg.ProductHuntToken, cfg.SectionLimit),
	}
}

func (t *Trendbot) ValidateConfig() error {
	return structValidator.Struct(t.config)
}

// LastReport returns the most recently generated trend report, or nil
// if none has been generated since startup.
func (t *Trendbot) LastReport() *TrendReport {
	return t.lastReport.Load()
}

// RegisterSlashCommands registers the bot's slash commands with the
// Discord API.
func (t *Trendbot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return t.discord.registerCommands(options...)
}

func (t *Trendbot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Run starts the bot: opens the database, starts the API server,
// connects to Discord, registers commands and starts the report
// scheduler, then blocks until the context is canceled or a stop
// signal is received.
func (t *Trendbot) Run(ctx context.Context) error {
	// prevents concurrent runs
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.signalStop = make(chan struct{}, 1)
	t.startedAt = time.Now()
	logger := t.logger

	if err := t.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))
	if t.signalReady == nil {
		t.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-t.signalStop:
			t.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			t.logger.Warn("context canceled, sending stop signal")
			t.signalStop <- struct{}{}
			return
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	go func() {
		httpErr := t.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			t.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, t.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- t.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if t.api != nil && t.api.listener != nil {
				go func() {
					if e := t.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if discErr := t.initDiscordSession(ctx); discErr != nil {
		t.logger.ErrorContext(ctx, "error starting discord session", tint.Err(discErr))
		return discErr
	}

	t.scheduler.Start()

	t.signalReady <- struct{}{}
	t.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// from an interrupt
	<-ctx.Done()

	return t.shutdown(runtimeWG)
}

// initRun opens the database, runs migrations and loads the
// subscription cache.
func (t *Trendbot) initRun(ctx context.Context) error {
	db, err := CreateDB(ctx, t.config.DatabaseType, t.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	t.db = db
	t.writeDB = NewDatabase(
		db,
		slog.New(
			t.dbLogHandler(),
		),
		t.config.DatabaseType == dbTypePostgres,
	)

	subs := t.writeDB.LoadSubscriptions()
	t.logger.InfoContext(ctx, "loaded subscriptions", "count", len(subs))
	return nil
}

func (t *Trendbot) dbLogHandler() slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     t.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
}

// initDiscordSession creates the gateway session, registers event
// handlers and slash commands, opens the websocket connection and sets
// the bot's custom status.
func (t *Trendbot) initDiscordSession(ctx context.Context) error {
	if t.discord.session == nil {
		session, err := t.discord.newSession()
		if err != nil {
			return err
		}
		t.discord.session = session
	}
	session := t.discord.session

	session.SetIdentify(
		discordgo.Identify{
			Intents: t.config.Discord.GatewayIntents,
		},
	)

	t.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(t.discord.handlerReady()),
		session.AddHandler(t.discord.handlerConnect()),
		session.AddHandler(t.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := t.getInteractionHandlerFunc(ctx, i)
				go t.handleInteraction(ctx, handler)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				go t.handleDiscordMessage(ctx, m)
			},
		),
	}

	if _, err := t.RegisterSlashCommands(); err != nil {
		return fmt.Errorf("error registering slash commands: %w", err)
	}

	// validates the token and surfaces session-limit problems before we
	// try to open the websocket
	if gw, gwErr := session.GatewayBot(); gwErr != nil {
		t.logger.WarnContext(ctx, "error retrieving gateway info", tint.Err(gwErr))
	} else if gw != nil {
		t.logger.InfoContext(
			ctx,
			"gateway info",
			"url", gw.URL,
			"recommended_shards", gw.Shards,
		)
	}

	if err := session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}

	if t.config.Discord.CustomStatus != "" {
		if statusErr := t.discord.updateCustomStatus(
			t.config.Discord.CustomStatus,
		); statusErr != nil {
			t.logger.WarnContext(
				ctx, "error setting custom status", tint.Err(statusErr),
			)
		}
	}
	return nil
}

// shutdown gracefully stops the scheduler, discord session and API
// server, bounded by the configured shutdown timeout.
func (t *Trendbot) shutdown(runtimeWG *sync.WaitGroup) error {
	t.logger.Warn("shutting down")
	defer func() {
		if t.eventShutdown != nil {
			go func() {
				t.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := t.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		t.logger.Warn("immediate shutdown")
		go func() {
			_ = t.api.httpServer.Close()
		}()
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	t.logger.Info(
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()

		stopWG := &sync.WaitGroup{}

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			t.logger.Info("stopping scheduler")
			t.scheduler.Stop()
			t.logger.Info("scheduler stopped")
		}()

		if t.discord != nil && t.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				for _, removeHandler := range t.discord.discordgoRemoveHandlerFuncs {
					removeHandler()
				}
				t.logger.Info("closing discord session")
				if err := t.discord.session.Close(); err != nil {
					t.logger.Error("error closing discord session", tint.Err(err))
				}
				t.logger.Info("discord session closed")
			}()
		}

		if t.api != nil && t.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.Info("stopping http server")
				_ = t.api.httpServer.Shutdown(closeCtx)
				t.logger.Info("http server stopped")
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		t.logger.Info(
			"graceful shutdown complete",
			"elapsed", time.Since(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		t.logger.Error("shutdown deadline exceeded, forcing exit")
		_ = t.api.httpServer.Close()
		return fmt.Errorf("shutdown deadline exceeded")
	}
}

// handleInteraction processes incoming Discord interactions: it logs
// the interaction, acknowledges it with a deferred response, and
// dispatches to the appropriate command.
func (t *Trendbot) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	interactionLog, err := newInteractionLog(i, discordUser, handler)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := t.writeDB.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		t.handleApplicationCommand(ctx, handler)
	default:
		logger.WarnContext(
			ctx,
			"unexpected interaction type",
			"type", i.Type.String(),
		)
	}
}

func (t *Trendbot) handleApplicationCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	data := i.ApplicationCommandData()

	if ackErr := handler.Respond(
		ctx, t.discord.ackResponse(data.Name),
	); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
		return
	}

	optionMap := discordInteractionOptions(i)

	switch data.Name {
	case DiscordSlashCommandNews, DiscordSlashCommandTrending:
		var source string
		if opt, ok := optionMap[trendingCommandSourceOption]; ok {
			source = opt.StringValue()
		}
		cmd := NewReportCommand(i, data.Name, source)
		cmd.Acknowledged = true
		cmd.handler = handler
		if _, err := t.writeDB.Create(ctx, cmd); err != nil {
			logger.ErrorContext(ctx, "error creating report command", tint.Err(err))
		}
		cmd.execute(ctx, t)
	case DiscordSlashCommandSubscribe:
		t.handleSubscribe(ctx, handler)
	case DiscordSlashCommandUnsubscribe:
		t.handleUnsubscribe(ctx, handler)
	case DiscordSlashCommandSearch:
		var query string
		if opt, ok := optionMap[searchCommandQueryOption]; ok {
			query = strings.TrimSpace(opt.StringValue())
		}
		t.handleSearch(ctx, handler, query)
	case DiscordSlashCommandModels:
		t.handleModels(ctx, handler)
	default:
		logger.WarnContext(ctx, "unknown command", "command", data.Name)
	}
}

// mentionReply is sent in response to messages that @-mention the bot
// without carrying a prefix command.
const mentionReply = "Hi! Try `/news` for the full trend report, " +
	"`/trending <source>` for a single source, or `/subscribe` to get " +
	"scheduled reports in this channel."

// handleDiscordMessage processes incoming Discord messages, looking for
// '!' prefix commands ('!news', '!hn', '!subscribe', ...). Recognized
// commands are logged as a DiscordMessage and dispatched; messages that
// mention the bot get a short usage reply, and everything else is
// ignored.
func (t *Trendbot) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := t.getLogger(ctx)

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil {
		return
	}
	if user.Bot || user.ID == t.config.Discord.ApplicationID {
		return
	}

	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, prefixCommand) {
		if messageMentionsUser(m.Message, t.config.Discord.ApplicationID) {
			t.replyToMention(ctx, m)
		}
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefixCommand))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])

	source, isReport := prefixCommandSources[command]
	isSubscribe := command == DiscordSlashCommandSubscribe ||
		command == DiscordSlashCommandUnsubscribe
	if !isReport && !isSubscribe {
		logger.DebugContext(ctx, "ignoring unknown prefix command", "command", command)
		return
	}

	logger = logger.With("prefix_command", command)
	ctx = WithLogger(ctx, logger)

	dm := NewDiscordMessage(m.Message)
	wg := &sync.WaitGroup{}
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := t.writeDB.Create(ctx, &dm); err != nil {
			logger.ErrorContext(
				ctx,
				"error creating discord message log",
				tint.Err(err),
				"discord_message", dm,
			)
		}
	}()

	if isSubscribe {
		t.prefixSubscribe(ctx, m, command == DiscordSlashCommandSubscribe)
		return
	}

	cmd := newPrefixReportCommand(m, command, source)
	if _, err := t.writeDB.Create(ctx, cmd); err != nil {
		logger.ErrorContext(ctx, "error creating report command", tint.Err(err))
	}
	cmd.execute(ctx, t)
}

// replyToMention logs a message that @-mentions the bot and replies
// with a short usage hint.
func (t *Trendbot) replyToMention(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := t.getLogger(ctx)
	logger = logger.With("message_id", m.ID, "channel_id", m.ChannelID)

	dm := NewDiscordMessage(m.Message)
	if _, err := t.writeDB.Create(ctx, &dm); err != nil {
		logger.ErrorContext(
			ctx,
			"error creating discord message log",
			tint.Err(err),
			"discord_message", dm,
		)
	}

	if _, err := t.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		mentionReply,
		m.Reference(),
	); err != nil {
		logger.ErrorContext(ctx, "error replying to mention", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "replied to mention")
}
