package trendbot

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix            = "/api"
	apiHealthCheck       = "/healthz"
	apiPathReport        = "/report"
	apiPathReportRun     = "/report/run"
	apiPathReportLogs    = "/reports"
	apiPathSubscriptions = "/subscriptions"

	xRequestIDHeader = "X-Request-ID"
)

type httpReply struct {
	Message string `json:"message"`
}

// API is the bot's backend HTTP server. It exposes a health check, the
// most recent trend report, report run history, the subscriber list,
// and an endpoint to trigger report generation on demand.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes and returns a new instance of the API struct.
func newAPI(t *Trendbot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
	}
	api.handlers = &APIHandlers{t: t}
	api.logger = setupLogger.With(loggerNameKey, "api")

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	group := r.Group(apiPrefix)
	group.GET(apiPathReport, api.handlers.getLatestReport)
	group.POST(apiPathReportRun, api.handlers.runReport)
	group.GET(apiPathReportLogs, api.handlers.getReportLogs)
	group.GET(apiPathSubscriptions, api.handlers.getSubscriptions)

	r.NoRoute(
		func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, apiPrefix+"/") {
				c.AbortWithStatus(http.StatusNotFound)
				return
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		},
	)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return fmt.Errorf(
			"error listening on %s %s: %w",
			a.config.ListenNetwork, a.config.Listen, e,
		)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

// APIHandlers contains the HTTP handlers for the API server
type APIHandlers struct {
	t *Trendbot
}

type healthCheckResponse struct {
	Status            string    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	Uptime            string    `json:"uptime"`
	DiscordConnected  bool      `json:"discord_connected"`
	ReportsInProgress int64     `json:"reports_in_progress"`
	LastReportAt      string    `json:"last_report_at,omitempty"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		Status:            "ok",
		StartedAt:         h.t.startedAt,
		Uptime:            time.Since(h.t.startedAt).String(),
		DiscordConnected:  h.t.discord.connected.Load(),
		ReportsInProgress: h.t.reportsInProgress.Load(),
	}
	if report := h.t.LastReport(); report != nil {
		resp.LastReportAt = report.GeneratedAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// getLatestReport returns the most recently generated trend report, or
// 404 if no report has been generated since startup.
func (h *APIHandlers) getLatestReport(c *gin.Context) {
	report := h.t.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report generated yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// runReport generates a fresh trend report and returns it. The run is
// recorded in the report log with an "api" trigger.
func (h *APIHandlers) runReport(c *gin.Context) {
	logger := ginContextLogger(c)

	ctx, cancel := context.WithTimeout(
		c.Request.Context(),
		2*h.t.config.Sources.Timeout,
	)
	defer cancel()
	ctx = WithLogger(ctx, logger)

	report := h.t.GenerateTrendReport(ctx)

	var sourceErrors []string
	for _, section := range report.Sections {
		if section.Err != "" {
			sourceErrors = append(
				sourceErrors,
				fmt.Sprintf("%s: %s", section.Source, section.Err),
			)
		}
	}
	reportLog := &ReportLog{
		Trigger:      reportTriggerAPI,
		ItemCount:    report.ItemCount(),
		SectionCount: len(report.Sections),
		SourceErrors: strings.Join(sourceErrors, "; "),
		Elapsed:      Duration{report.Elapsed},
	}
	if _, err := h.t.writeDB.Create(ctx, reportLog); err != nil {
		logger.Error("error recording report log", tint.Err(err))
	}

	c.JSON(http.StatusOK, report)
}

// getReportLogs returns the 50 most recent report generation runs.
func (h *APIHandlers) getReportLogs(c *gin.Context) {
	var logs []ReportLog
	err := h.t.db.WithContext(c.Request.Context()).Order(
		"created_at desc",
	).Limit(50).Find(&logs).Error
	if err != nil {
		ginContextLogger(c).Error("error listing report logs", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error listing report logs"})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// getSubscriptions returns the active channel subscriptions.
func (h *APIHandlers) getSubscriptions(c *gin.Context) {
	var subs []Subscription
	err := h.t.db.WithContext(c.Request.Context()).Order(
		"created_at asc",
	).Find(&subs).Error
	if err != nil {
		ginContextLogger(c).Error("error listing subscriptions", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error listing subscriptions"})
		return
	}
	c.JSON(http.StatusOK, subs)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging
// HTTP requests.
//
// It logs the request method, path, remote address, user agent, referer,
// and the duration of the request. If there are any errors, it logs them
// as well.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware returns a Gin middleware function for tracking API
// request metrics.
//
// It increments the request count for each unique combination of HTTP
// method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}
