package payload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/summary"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
)

func day(s string) *time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return &t
}

func fiveStudies() []corpus.Record {
	return []corpus.Record{
		{ID: "OSD-1", Organism: "Rodent", ProjectType: "Spaceflight", Title: "Bone density loss in mice after spaceflight",
			Description: "Mice were flown aboard the station for thirty days. Femurs were scanned after return to Earth.",
			ReleaseDate: day("2019-05-01"), DOI: "10.1/osd1"},
		{ID: "OSD-2", Organism: "Rodent", ProjectType: "Ground", Title: "Hindlimb unloading and muscle atrophy",
			ReleaseDate: day("2021-02-10")},
		{ID: "OSD-3", Organism: "Plant", ProjectType: "Spaceflight", Title: "Arabidopsis root growth under microgravity",
			Description: "Seedlings were grown in the vegetable production system under red and blue light."},
		{ID: "OSD-4", Organism: "Microbe", ProjectType: "Station", Title: "Biofilm formation on station surfaces"},
		{ID: "OSD-5", Organism: "Human", ProjectType: "Spaceflight", Title: "Astronaut cell-free DNA"},
	}
}

func snapshot(t *testing.T, recs []corpus.Record) *indexer.Snapshot {
	t.Helper()
	snap, err := indexer.BuildSnapshot(recs, "test", indexer.BuildOptions{Workers: 1, Spell: spell.DefaultOptions()})
	require.NoError(t, err)
	return snap
}

func newBuilder(m *metrics.Metrics, s summary.Summarizer) *Builder {
	cfg := config.Default()
	return NewBuilder(
		executor.New(cfg.Search, m),
		s,
		cache.New[Payload](cfg.Cache, nil, m),
		cfg.Search,
		m,
	)
}

func TestBuildRodentScenario(t *testing.T) {
	b := newBuilder(nil, nil)
	p, err := b.Build(context.Background(), snapshot(t, fiveStudies()), Request{
		Filter: executor.Request{Organisms: []string{"Rodent"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Counts.TotalStudies)
	assert.ElementsMatch(t, []string{"OSD-1", "OSD-2"}, ids(p.Articles.PageItems))
	assert.Len(t, p.Articles.Important, 2)
	assert.Len(t, p.Articles.LessRelevant, 2, "fewer than five results use the short tail")
	assert.Equal(t, "Rodent", p.Generated.Title)
	assert.Equal(t, "?organism=Rodent", p.Filters.QueryParams)
	assert.Equal(t, "and", p.Filters.QMode)
	assert.Nil(t, p.SpellCheck)
	assert.False(t, p.Debug.CacheHit)
	require.NotNil(t, p.Data)
	assert.Equal(t, 2, p.Data.TotalFull)
	assert.Contains(t, p.Debug.StageMillis, "filter")
	assert.Contains(t, p.Debug.StageMillis, "rank")
}

func TestBuildExplicitZeroTopics(t *testing.T) {
	b := newBuilder(nil, nil)
	snap := snapshot(t, fiveStudies())
	rodent := executor.Request{Organisms: []string{"Rodent"}}

	def, err := b.Build(context.Background(), snap, Request{Filter: rodent})
	require.NoError(t, err)
	assert.NotEmpty(t, def.Topics.Emerging)

	zero := 0
	off, err := b.Build(context.Background(), snap, Request{Filter: rodent, EmergingTopics: &zero})
	require.NoError(t, err)
	assert.False(t, off.Debug.CacheHit, "the topic count is part of the cache key")
	assert.Empty(t, off.Topics.Emerging)
}

func TestBuildLessRelevantTail(t *testing.T) {
	p, err := newBuilder(nil, nil).Build(context.Background(), snapshot(t, fiveStudies()), Request{})
	require.NoError(t, err)

	require.Equal(t, 5, p.Counts.TotalStudies)
	require.Len(t, p.Articles.LessRelevant, 5)
	for i := 1; i < len(p.Articles.LessRelevant); i++ {
		assert.LessOrEqual(t, p.Articles.LessRelevant[i-1].RankScore, p.Articles.LessRelevant[i].RankScore)
	}
	for i := 1; i < len(p.Articles.Important); i++ {
		assert.GreaterOrEqual(t, p.Articles.Important[i-1].RankScore, p.Articles.Important[i].RankScore)
	}
	assert.Len(t, p.Debug.RankingPreview, 5)
	assert.Equal(t, p.Articles.Important[0].ID, p.Debug.RankingPreview[0].ID)
}

func TestBuildCacheHitIgnoresListOrder(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	b := newBuilder(m, nil)
	snap := snapshot(t, fiveStudies())
	ctx := context.Background()

	first, err := b.Build(ctx, snap, Request{Filter: executor.Request{Organisms: []string{"Rodent", "Plant"}}})
	require.NoError(t, err)
	second, err := b.Build(ctx, snap, Request{Filter: executor.Request{Organisms: []string{"Plant", "Rodent"}}})
	require.NoError(t, err)

	assert.False(t, first.Debug.CacheHit)
	assert.True(t, second.Debug.CacheHit)
	second.Debug.CacheHit = false
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("miss")))

	third, err := b.Build(ctx, snapshot(t, fiveStudies()), Request{Filter: executor.Request{Organisms: []string{"Rodent", "Plant"}}})
	require.NoError(t, err)
	assert.False(t, third.Debug.CacheHit, "a new snapshot version never reuses entries")
}

func TestBuildPagination(t *testing.T) {
	var recs []corpus.Record
	for i := 0; i < 45; i++ {
		recs = append(recs, corpus.Record{ID: fmt.Sprintf("S-%02d", i), Organism: "Rodent", Title: strings.Repeat("t", i+1)})
	}
	snap := snapshot(t, recs)
	b := newBuilder(nil, nil)

	p, err := b.Build(context.Background(), snap, Request{Page: 99, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Counts.TotalPages)
	assert.Equal(t, 3, p.Counts.Page)
	assert.Len(t, p.Articles.PageItems, 5)

	p, err = b.Build(context.Background(), snap, Request{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200, p.Counts.PageSize)
	assert.Len(t, p.Articles.PageItems, 45)
	assert.Len(t, p.Articles.Important, 10)
	assert.Len(t, p.Debug.RankingPreview, 20)

	p, err = b.Build(context.Background(), snap, Request{PageSize: -3, Page: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Counts.PageSize)
	assert.Equal(t, 1, p.Counts.Page)
	assert.Equal(t, "S-44", p.Articles.PageItems[0].ID)
}

func TestBuildEmptyResult(t *testing.T) {
	p, err := newBuilder(nil, nil).Build(context.Background(), snapshot(t, fiveStudies()), Request{
		Filter: executor.Request{Organisms: []string{"Fungus"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Counts.TotalStudies)
	assert.Equal(t, 1, p.Counts.TotalPages)
	assert.Empty(t, p.Articles.PageItems)
	assert.Empty(t, p.Articles.LessRelevant)
	assert.Empty(t, p.Topics.Emerging)
	assert.Contains(t, p.Debug.FilterStats.OrganismDistinctSample, "Rodent")
}

func TestBuildCompactOmitsData(t *testing.T) {
	p, err := newBuilder(nil, nil).Build(context.Background(), snapshot(t, fiveStudies()), Request{Compact: true})
	require.NoError(t, err)
	assert.Nil(t, p.Data)
	assert.Equal(t, 5, p.Debug.StudiesFullCount)
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	_, err := newBuilder(nil, nil).Build(context.Background(), snapshot(t, fiveStudies()), Request{
		Filter: executor.Request{Query: "bone", Mode: "fuzzy"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
}

func TestBuildExpiredDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := newBuilder(nil, nil).Build(ctx, snapshot(t, fiveStudies()), Request{Filter: executor.Request{Query: "bone"}})
	require.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestBuildQueryCarriesSpellReport(t *testing.T) {
	p, err := newBuilder(nil, nil).Build(context.Background(), snapshot(t, fiveStudies()), Request{
		Filter: executor.Request{Query: "spaceflight bone"},
	})
	require.NoError(t, err)
	require.NotNil(t, p.SpellCheck)
	assert.Equal(t, "spaceflight bone", p.SpellCheck.Original)
	assert.Equal(t, []string{"OSD-1"}, ids(p.Articles.PageItems))
	assert.Equal(t, "?q=spaceflight%20bone", p.Filters.QueryParams)
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []corpus.Record, []string, []string) (summary.Generated, error) {
	return summary.Generated{}, errors.New("model unavailable")
}

func TestBuildSummarizerFallback(t *testing.T) {
	p, err := newBuilder(nil, failingSummarizer{}).Build(context.Background(), snapshot(t, fiveStudies()), Request{})
	require.NoError(t, err)
	assert.Equal(t, "Studies", p.Generated.Title)
	assert.Equal(t, []string{"summarizer_error"}, p.Generated.Meta.FallbackChain)
	assert.NotEmpty(t, p.Generated.Description)
}

func TestQueryParamsRoundTrip(t *testing.T) {
	f := executor.Request{
		Organisms:    []string{"Mus musculus"},
		ProjectTypes: []string{"Spaceflight"},
		Keywords:     []string{"bone", "a&b"},
		Query:        "bone loss",
	}
	qp := QueryParams(f)
	assert.Equal(t, "?organism=Mus%20musculus&project_type=Spaceflight&keywords=bone&keywords=a%26b&q=bone%20loss", qp)

	values, err := url.ParseQuery(strings.TrimPrefix(qp, "?"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bone", "a&b"}, values["keywords"])
	assert.Equal(t, "", QueryParams(executor.Request{}))
}

func ids(arts []Article) []string {
	out := make([]string, len(arts))
	for i, a := range arts {
		out[i] = a.ID
	}
	return out
}
