package trendbot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	sub, created, err := bot.writeDB.Subscribe(
		ctx, "chan1", "guild1", "user1", "user#1",
	)
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, sub)
	assert.Equal(t, "chan1", sub.ChannelID)

	// subscribing the same channel again is a no-op
	again, created, err := bot.writeDB.Subscribe(
		ctx, "chan1", "guild1", "user2", "user#2",
	)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, again.ID)

	assert.NotNil(t, bot.writeDB.GetSubscription("chan1"))

	removed, err := bot.writeDB.Unsubscribe(ctx, "chan1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Nil(t, bot.writeDB.GetSubscription("chan1"))

	removed, err = bot.writeDB.Unsubscribe(ctx, "chan1")
	require.NoError(t, err)
	assert.False(t, removed)

	// unsubscribe soft-deletes: the row survives for history
	var count int64
	require.NoError(
		t,
		bot.db.Unscoped().Model(&Subscription{}).Where(
			"channel_id = ?", "chan1",
		).Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestResubscribeReclaimsRow(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	sub, created, err := bot.writeDB.Subscribe(
		ctx, "chan1", "guild1", "user1", "user#1",
	)
	require.NoError(t, err)
	require.True(t, created)

	removed, err := bot.writeDB.Unsubscribe(ctx, "chan1")
	require.NoError(t, err)
	require.True(t, removed)

	// re-subscribing reclaims the soft-deleted row instead of
	// violating the unique index on channel_id
	resub, created, err := bot.writeDB.Subscribe(
		ctx, "chan1", "guild1", "user2", "user#2",
	)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, sub.ID, resub.ID)
	assert.Equal(t, "user2", resub.UserID)

	subs := bot.writeDB.LoadSubscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "chan1", subs[0].ChannelID)
}

func TestLoadSubscriptionsRefreshesCache(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	_, _, err := bot.writeDB.Subscribe(ctx, "chan1", "g", "u", "u#1")
	require.NoError(t, err)
	_, _, err = bot.writeDB.Subscribe(ctx, "chan2", "g", "u", "u#1")
	require.NoError(t, err)

	subs := bot.writeDB.LoadSubscriptions()
	assert.Len(t, subs, 2)
	assert.NotNil(t, bot.writeDB.GetSubscription("chan1"))
	assert.NotNil(t, bot.writeDB.GetSubscription("chan2"))
}

func TestFilterSeen(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	items := []TrendItem{
		{Title: "one", URL: "https://example.com/1", Source: SourceGitHub},
		{Title: "two", URL: "https://example.com/2", Source: SourceReddit},
	}

	fresh, err := bot.writeDB.FilterSeen(ctx, items)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	// the same URLs are now recorded and filtered out
	fresh, err = bot.writeDB.FilterSeen(ctx, items)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	// a new URL still passes
	fresh, err = bot.writeDB.FilterSeen(
		ctx,
		append(items, TrendItem{Title: "three", URL: "https://example.com/3"}),
	)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "three", fresh[0].Title)

	empty, err := bot.writeDB.FilterSeen(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPruneSeenItems(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.writeDB.FilterSeen(
		ctx, []TrendItem{
			{Title: "old", URL: "https://example.com/old"},
			{Title: "new", URL: "https://example.com/new"},
		},
	)
	require.NoError(t, err)

	// age one row past the retention window
	expired := time.Now().UTC().Add(-(seenItemRetention + time.Hour)).UnixMilli()
	require.NoError(
		t,
		bot.db.Model(&SeenItem{}).Where(
			"url = ?", "https://example.com/old",
		).Update("created_at", expired).Error,
	)

	pruned, err := bot.writeDB.PruneSeenItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// the pruned URL can be dispatched again
	fresh, err := bot.writeDB.FilterSeen(
		ctx, []TrendItem{
			{Title: "old", URL: "https://example.com/old"},
			{Title: "new", URL: "https://example.com/new"},
		},
	)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "old", fresh[0].Title)
}

func TestCreateDBInvalidType(t *testing.T) {
	t.Parallel()

	_, err := CreateDB(context.Background(), "mysql", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestDuration(t *testing.T) {
	t.Parallel()

	d := Duration{90 * time.Second}

	v, err := d.Value()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", v)

	var scanned Duration
	require.NoError(t, scanned.Scan("2h45m"))
	assert.Equal(t, 2*time.Hour+45*time.Minute, scanned.Duration)

	require.Error(t, scanned.Scan(42))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var decoded Duration
	require.NoError(t, json.Unmarshal([]byte(`"15m"`), &decoded))
	assert.Equal(t, 15*time.Minute, decoded.Duration)
}
