package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/postgres"
)

func TestHitRate(t *testing.T) {
	assert.Zero(t, hitRate(analytics.AggregatedStats{}))
	assert.Equal(t, 0.25, hitRate(analytics.AggregatedStats{CacheHits: 1, CacheMisses: 3}))
}

func TestUnchanged(t *testing.T) {
	prev := analytics.AggregatedStats{TotalSearches: 4, SnapshotsSeen: 1}
	assert.True(t, unchanged(prev, analytics.AggregatedStats{TotalSearches: 4, SnapshotsSeen: 1, QueriesPerMinute: 0.5}))
	assert.False(t, unchanged(prev, analytics.AggregatedStats{TotalSearches: 5, SnapshotsSeen: 1}))
	assert.False(t, unchanged(prev, analytics.AggregatedStats{TotalSearches: 4, SnapshotsSeen: 2}))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, config.Default().Postgres)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer db.Close()

	table := fmt.Sprintf("analytics_test_%d", time.Now().UnixNano())
	store := NewStore(db, table, time.Hour)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		db.DB.Exec(`DROP TABLE IF EXISTS ` + store.table)
	})

	latest, err := store.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := analytics.AggregatedStats{TotalSearches: 3, CacheHits: 1, CacheMisses: 2}
	saved, err := store.SaveSnapshot(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = store.SaveSnapshot(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, saved, "an idle interval writes nothing")

	second := analytics.AggregatedStats{TotalSearches: 7, LastSnapshot: "v2"}
	_, err = store.SaveSnapshot(context.Background(), second)
	require.NoError(t, err)

	list, err := store.ListSnapshots(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(7), list[0].TotalSearches)
	assert.Equal(t, int64(3), list[1].TotalSearches)

	latest, err = store.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "v2", latest.LastSnapshot)

	pruned, err := store.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
