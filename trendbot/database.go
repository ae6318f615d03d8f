package trendbot

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	// seenItemRetention is how long a dispatched item URL suppresses
	// re-dispatch of the same item in scheduled reports.
	seenItemRetention = 48 * time.Hour
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// Subscription is a Discord channel subscribed to scheduled trend
// reports. Rows are soft-deleted on unsubscribe so re-subscribing a
// channel keeps its history.
type Subscription struct {
	ModelUintID
	ModelUnixTime
	ChannelID string `json:"channel_id" gorm:"uniqueIndex"`
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s Subscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", s.ChannelID),
		slog.String("guild_id", s.GuildID),
		slog.String("user_id", s.UserID),
	)
}

// SeenItem records an item URL already dispatched in a scheduled
// report. Rows older than [seenItemRetention] are pruned before each
// scheduled run.
type SeenItem struct {
	ModelUintID
	ModelUnixTime
	URL    string `json:"url" gorm:"uniqueIndex"`
	Source string `json:"source"`
	Title  string `json:"title"`
}

func (SeenItem) TableName() string {
	return "seen_items"
}

// ReportLog records one report generation run, whatever triggered it.
type ReportLog struct {
	ModelUintID
	ModelUnixTime
	// Trigger identifies what started the run ("scheduled", "api", "command")
	Trigger string `json:"trigger"`

	ItemCount    int      `json:"item_count"`
	SectionCount int      `json:"section_count"`
	SourceErrors string   `json:"source_errors"`
	Elapsed      Duration `json:"elapsed"`

	// ChannelsNotified is the number of subscribed channels that
	// received the report (scheduled runs only)
	ChannelsNotified int `json:"channels_notified"`
}

func (ReportLog) TableName() string {
	return "report_logs"
}

const (
	columnReportCommandState      = "state"
	columnReportCommandStep       = "step"
	columnReportCommandStartedAt  = "started_at"
	columnReportCommandFinishedAt = "finished_at"
	columnReportCommandError      = "error"
	columnReportCommandResponse   = "response"
)

// database wraps the GORM connection and provides the DBI methods.
//
// SQLite only supports a single writer, so unless concurrent writes
// are enabled (postgres), write operations are serialized behind a
// mutex.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	subscriptionCache      map[string]*Subscription
	cacheMu                sync.Mutex
	enableConcurrentWrites bool
}

// NewDatabase initializes a new database instance. If
// enableConcurrentWrites is false, all writes are serialized.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	d := &database{
		db:                     db,
		subscriptionCache:      map[string]*Subscription{},
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
	return d
}

func (d *database) SubscriptionCache() map[string]*Subscription {
	return d.subscriptionCache
}

func (d *database) SubscriptionCacheLock() {
	d.cacheMu.Lock()
}

func (d *database) SubscriptionCacheUnlock() {
	d.cacheMu.Unlock()
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// LoadSubscriptions replaces the in-memory subscription cache with the
// current set of active (not soft-deleted) subscriptions.
func (d *database) LoadSubscriptions() []Subscription {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.subscriptionCache = map[string]*Subscription{}

	var subs []Subscription
	_ = d.db.Find(&subs)
	for i := 0; i < len(subs); i++ {
		s := subs[i]
		d.subscriptionCache[s.ChannelID] = &s
	}
	return subs
}

func (d *database) GetSubscription(channelID string) *Subscription {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return d.subscriptionCache[channelID]
}

// Subscribe records a channel subscription, creating it if one does
// not exist. The second return value is true if a new row was created.
func (d *database) Subscribe(
	ctx context.Context,
	channelID string,
	guildID string,
	userID string,
	username string,
) (*Subscription, bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = d.logger
	}

	if sub, cached := d.subscriptionCache[channelID]; cached {
		log.InfoContext(ctx, "channel already subscribed", "subscription", sub)
		return sub, false, nil
	}

	sub := &Subscription{
		ChannelID: channelID,
		GuildID:   guildID,
		UserID:    userID,
		Username:  username,
	}
	// Unscoped so a previously-unsubscribed channel reclaims its row
	// instead of violating the unique index on channel_id.
	err := d.Transaction(
		ctx, func(tx *gorm.DB) error {
			var existing Subscription
			getErr := tx.Unscoped().Where(
				"channel_id = ?", channelID,
			).Last(&existing).Error
			switch {
			case getErr == nil:
				existing.DeletedAt = gorm.DeletedAt{}
				existing.UserID = userID
				existing.Username = username
				sub = &existing
				return tx.Unscoped().Save(&existing).Error
			case errors.Is(getErr, gorm.ErrRecordNotFound):
				return tx.Create(sub).Error
			default:
				return getErr
			}
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "error creating subscription", tint.Err(err))
		return nil, false, err
	}

	log.InfoContext(ctx, "channel subscribed", "subscription", sub)
	d.subscriptionCache[channelID] = sub
	return sub, true, nil
}

// Unsubscribe soft-deletes a channel subscription. Returns false if
// the channel was not subscribed.
func (d *database) Unsubscribe(ctx context.Context, channelID string) (bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	sub, cached := d.subscriptionCache[channelID]
	if !cached {
		return false, nil
	}
	if _, err := d.Delete(&Subscription{}, "channel_id = ?", channelID); err != nil {
		return false, err
	}
	d.logger.InfoContext(ctx, "channel unsubscribed", "subscription", sub)
	delete(d.subscriptionCache, channelID)
	return true, nil
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	db := d.db
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	db = db.WithContext(ctx)

	if len(omit) > 0 {
		rv := db.Omit(omit...).Create(value)
		return rv.RowsAffected, rv.Error
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) ReportCommandUpdates(
	ctx context.Context,
	model *ReportCommand,
	values any,
) (rowsAffected int64, err error) {
	return d.Updates(ctx, model, values)
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Transaction(fc, opts...)
	return rv
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}

	if len(omit) > 0 {
		rv := d.db.WithContext(ctx).Omit(omit...).Save(value)
		return rv.RowsAffected, rv.Error
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	rv := d.db.Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

// FilterSeen returns the subset of items whose URLs have not been
// dispatched within the retention window, and records the survivors as
// seen.
func (d *database) FilterSeen(ctx context.Context, items []TrendItem) ([]TrendItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}

	var seen []SeenItem
	err := d.db.WithContext(ctx).Where("url IN ?", urls).Find(&seen).Error
	if err != nil {
		return nil, err
	}
	seenURLs := make(map[string]bool, len(seen))
	for _, s := range seen {
		seenURLs[s.URL] = true
	}

	fresh := make([]TrendItem, 0, len(items))
	rows := make([]SeenItem, 0, len(items))
	for _, it := range items {
		if seenURLs[it.URL] {
			continue
		}
		fresh = append(fresh, it)
		rows = append(rows, SeenItem{URL: it.URL, Source: it.Source, Title: it.Title})
	}
	if len(rows) > 0 {
		if _, err := d.Create(ctx, &rows); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

// PruneSeenItems hard-deletes seen-item rows older than the retention
// window.
func (d *database) PruneSeenItems(ctx context.Context) (int64, error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	cutoff := time.Now().UTC().Add(-seenItemRetention).UnixMilli()
	rv := d.db.WithContext(ctx).Unscoped().Where(
		"created_at < ?", cutoff,
	).Delete(&SeenItem{})
	return rv.RowsAffected, rv.Error
}

// Duration is a wrapper for time.Duration that implements
// SQL Scanner and Valuer interfaces for GORM.
type Duration struct {
	time.Duration
}

// Scan implements the sql.Scanner interface.
func (d *Duration) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("unexpected type for Duration: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (d Duration) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Duration) parse(value string) error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	// Remove quotes
	s = s[1 : len(s)-1]
	return d.parse(s)
}

// MarshalJSON implements the json.Marshaller interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`%q`, d.String())), nil
}

// GormDataType is used by GORM to determine the default data type for a field.
func (Duration) GormDataType() string {
	return "string"
}

// DBI defines the interface for database operations. This is here primarily
// to enable mocking of the database operations for testing.
// [database] implements this interface for 'real' DB operations.
type DBI interface {
	// SubscriptionCacheLock locks the in-memory Subscription cache
	SubscriptionCacheLock()

	// SubscriptionCacheUnlock unlocks the in-memory Subscription cache
	SubscriptionCacheUnlock()

	// SubscriptionCache returns the in-memory cache of Subscription
	// objects, keyed by channel ID
	SubscriptionCache() map[string]*Subscription

	Lock()
	Unlock()

	DB() *gorm.DB
	LoadSubscriptions() []Subscription
	GetSubscription(channelID string) *Subscription
	Subscribe(
		ctx context.Context,
		channelID string,
		guildID string,
		userID string,
		username string,
	) (*Subscription, bool, error)
	Unsubscribe(ctx context.Context, channelID string) (bool, error)
	FilterSeen(ctx context.Context, items []TrendItem) ([]TrendItem, error)
	PruneSeenItems(ctx context.Context) (int64, error)
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(value any, conds ...any) (rowsAffected int64, err error)
	ReportCommandUpdates(ctx context.Context, model *ReportCommand, values any) (
		rowsAffected int64,
		err error,
	)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
}

// CreateDB initializes and returns a GORM database connection based on
// the specified database type, and runs auto-migration.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&Subscription{},
		&SeenItem{},
		&ReportLog{},
		&ReportCommand{},
		&InteractionLog{},
		&DiscordMessage{},
	)
	if err != nil {
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err := db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, err)
			}
		}
		return db, nil
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
