package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
)

func testSnapshot(t *testing.T) *indexer.Snapshot {
	t.Helper()
	snap, err := indexer.BuildSnapshot([]corpus.Record{
		{ID: "a", Organism: "Rodent", ProjectType: "Spaceflight", Title: "Bone density loss in spaceflight mice"},
		{ID: "b", Organism: "Rodent", ProjectType: "Ground", Title: "Bone marrow response to radiation"},
		{ID: "c", Organism: "Plant", ProjectType: "Spaceflight", Title: "Arabidopsis root growth under microgravity"},
		{ID: "d", Organism: "Plant", ProjectType: "Spaceflight", Title: "Arabidopsis seedling transcriptome in orbit"},
		{ID: "e", Organism: "Microbe", ProjectType: "Station", Title: "Microbial biofilm formation on station surfaces"},
		{ID: "f", Organism: "Rodent", ProjectType: "Spaceflight", Title: "Microgravity effects on muscle"},
	}, "test", indexer.BuildOptions{Workers: 1, Spell: spell.DefaultOptions()})
	require.NoError(t, err)
	return snap
}

func newExecutor() *Executor {
	return New(config.Default().Search, nil)
}

func filter(t *testing.T, req Request) Result {
	t.Helper()
	res, err := newExecutor().Filter(context.Background(), testSnapshot(t), req)
	require.NoError(t, err)
	return res
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAnd, "AND": ModeAnd, "or": ModeOr, " Smart ": ModeSmart} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("fuzzy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
}

func TestFilterUnknownModeIsInvalidRequest(t *testing.T) {
	_, err := newExecutor().Filter(context.Background(), testSnapshot(t), Request{Query: "bone", Mode: "xor"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRequest))
}

func TestFilterNoCriteriaReturnsAll(t *testing.T) {
	res := filter(t, Request{})
	assert.Equal(t, 6, res.IDs.Len())
	assert.Equal(t, 6, res.Stats.Initial)
	assert.Equal(t, 6, res.Stats.Final)
	assert.Nil(t, res.Spell)
}

func TestFilterOrganismIsCaseInsensitive(t *testing.T) {
	snap := testSnapshot(t)
	res, err := newExecutor().Filter(context.Background(), snap, Request{Organisms: []string{"  rODENT "}})
	require.NoError(t, err)

	assert.Equal(t, index.NewIDSet("a", "b", "f"), res.IDs)
	require.NotNil(t, res.Stats.AfterOrganism)
	assert.Equal(t, 3, *res.Stats.AfterOrganism)
	for id := range res.IDs {
		rec, _ := snap.Corpus.Get(id)
		assert.Equal(t, "rodent", strings.ToLower(rec.Organism))
	}
}

func TestFilterEmptyFacetShortCircuits(t *testing.T) {
	res := filter(t, Request{Organisms: []string{"Fungus"}, Query: "bone"})
	assert.Equal(t, 0, res.IDs.Len())
	assert.Contains(t, res.Stats.OrganismDistinctSample, "Rodent")
	assert.Nil(t, res.Stats.AfterQuery, "query stage does not run after an empty facet")
	assert.Nil(t, res.Spell)

	res = filter(t, Request{Organisms: []string{"Plant"}, ProjectTypes: []string{"Ground"}})
	assert.Equal(t, 0, res.IDs.Len())
	assert.Equal(t, 2, *res.Stats.AfterOrganism)
	assert.Equal(t, 0, *res.Stats.AfterProjectType)
	assert.NotEmpty(t, res.Stats.ProjectTypeDistinctSample)
}

func TestFilterKeywords(t *testing.T) {
	res := filter(t, Request{Keywords: []string{"Arabidopsis", "ORBIT"}})
	assert.Equal(t, index.NewIDSet("d"), res.IDs)

	res = filter(t, Request{Keywords: []string{"bone", "nonexistent"}})
	assert.Equal(t, 0, res.IDs.Len())
	assert.Equal(t, "nonexistent", res.Stats.MissingKeyword)
}

func TestFilterAndFallbackDisjointTerms(t *testing.T) {
	res := filter(t, Request{Query: "bone arabidopsis", Mode: ModeAnd})

	assert.Equal(t, index.NewIDSet("a", "b", "c", "d"), res.IDs)
	require.NotNil(t, res.Stats.AndFallbackLevel)
	assert.Equal(t, 2, *res.Stats.AndFallbackLevel)
	assert.Equal(t, 1, res.Stats.FallbackMinMatch)
	assert.False(t, res.Stats.SpellSubstituted)
}

func TestFilterAndFallbackStaysInPreQuerySet(t *testing.T) {
	res := filter(t, Request{Organisms: []string{"Rodent"}, Query: "bone arabidopsis"})
	assert.Equal(t, index.NewIDSet("a", "b"), res.IDs)
	assert.Equal(t, 2, *res.Stats.AndFallbackLevel)
}

func TestFilterStrictAndHit(t *testing.T) {
	res := filter(t, Request{Query: "bone density"})
	assert.Equal(t, index.NewIDSet("a"), res.IDs)
	assert.Equal(t, 0, *res.Stats.AndFallbackLevel)
	assert.Equal(t, ModeAnd, res.Stats.ResolvedMode)
}

func TestFilterOrMinMatch(t *testing.T) {
	res := filter(t, Request{Query: "bone density loss", Mode: ModeOr})
	assert.Equal(t, index.NewIDSet("a", "b"), res.IDs)
	assert.Equal(t, 1, res.Stats.MinMatch)

	res = filter(t, Request{Query: "bone density loss", Mode: ModeOr, MinMatch: 2})
	assert.Equal(t, index.NewIDSet("a"), res.IDs)
}

func TestFilterSmartMode(t *testing.T) {
	res := filter(t, Request{Query: "bone density radiation", Mode: ModeSmart})
	assert.Equal(t, ModeOr, res.Stats.ResolvedMode)
	assert.Equal(t, 2, res.Stats.MinMatch)
	assert.Equal(t, index.NewIDSet("a", "b"), res.IDs)

	res = filter(t, Request{Organisms: []string{"Rodent"}, Query: "bone density", Mode: ModeSmart})
	assert.Equal(t, ModeAnd, res.Stats.ResolvedMode)
	assert.Equal(t, index.NewIDSet("a"), res.IDs)
}

func TestFilterAndIsSubsetOfOr(t *testing.T) {
	queries := []string{"bone density", "arabidopsis orbit", "microgravity muscle", "bone arabidopsis", "spaceflight mice bone"}
	for _, q := range queries {
		and := filter(t, Request{Query: q, Mode: ModeAnd})
		or := filter(t, Request{Query: q, Mode: ModeOr, MinMatch: 1})
		assert.True(t, isSubset(and.IDs, or.IDs), q)
	}
}

func TestFallbackTiersAreMonotone(t *testing.T) {
	snap := testSnapshot(t)
	cfg := config.Default().Search
	all := index.NewIDSet("a", "b", "c", "d", "e", "f")
	termSets := [][]string{
		{"bone", "density", "loss"},
		{"bone", "arabidopsis"},
		{"microgravity", "muscle", "arabidopsis", "orbit"},
		{"spaceflight", "mice", "bone", "radiation", "station"},
	}
	for _, terms := range termSets {
		strict := MatchAll(snap.Index, terms, all)
		high := MatchAtLeast(snap.Index, terms, minMatchFor(cfg.AndFallbackHigh, len(terms)), all)
		low := MatchAtLeast(snap.Index, terms, minMatchFor(cfg.AndFallbackLow, len(terms)), all)
		anyMatch := MatchAtLeast(snap.Index, terms, 1, all)
		assert.True(t, isSubset(strict, high), "%v strict ⊆ 70%%", terms)
		assert.True(t, isSubset(high, low), "%v 70%% ⊆ 50%%", terms)
		assert.True(t, isSubset(low, anyMatch), "%v 50%% ⊆ any", terms)
	}
}

func TestMinMatchFor(t *testing.T) {
	assert.Equal(t, 2, minMatchFor(0.7, 2))
	assert.Equal(t, 1, minMatchFor(0.5, 2))
	assert.Equal(t, 7, minMatchFor(0.7, 10))
	assert.Equal(t, 2, minMatchFor(0.6, 3))
	assert.Equal(t, 1, minMatchFor(0.5, 0))
}

func TestFilterSpellSubstitution(t *testing.T) {
	res := filter(t, Request{Query: "microgravty"})
	require.NotNil(t, res.Spell)
	assert.True(t, res.Spell.HasErrors)
	assert.True(t, res.Stats.SpellSubstituted)
	assert.Equal(t, "microgravity", res.Stats.EffectiveQuery)
	assert.Equal(t, index.NewIDSet("c", "f"), res.IDs)
}

func TestFilterPhraseFallback(t *testing.T) {
	res := filter(t, Request{Query: "on st"})
	assert.Empty(t, res.Stats.QueryTerms)
	assert.True(t, res.Stats.PhraseFallback)
	assert.Equal(t, index.NewIDSet("e"), res.IDs)

	res = filter(t, Request{Query: "on"})
	assert.False(t, res.Stats.PhraseFallback, "phrases shorter than the minimum are skipped")
	assert.Equal(t, 0, res.IDs.Len())
}

func TestFilterFuzzyTitleFallback(t *testing.T) {
	res := filter(t, Request{Query: "Bnoe marow respnse to radiaton"})
	assert.True(t, res.Stats.FuzzyFallback)
	assert.Equal(t, index.NewIDSet("b"), res.IDs)
	require.NotNil(t, res.Stats.AfterQuery)
	assert.Equal(t, 1, *res.Stats.AfterQuery)
}

func TestFilterStatsAreIndependentPerCall(t *testing.T) {
	snap := testSnapshot(t)
	e := newExecutor()
	first, err := e.Filter(context.Background(), snap, Request{Query: "bone arabidopsis"})
	require.NoError(t, err)
	second, err := e.Filter(context.Background(), snap, Request{Organisms: []string{"Plant"}})
	require.NoError(t, err)

	assert.NotNil(t, first.Stats.AndFallbackLevel)
	assert.Nil(t, second.Stats.AndFallbackLevel)
	assert.Nil(t, first.Stats.AfterOrganism)
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityRatio("", ""))
	assert.Equal(t, 1.0, SimilarityRatio("bone loss", "bone loss"))
	assert.Equal(t, 0.0, SimilarityRatio("abc", "xyz"))
	assert.InDelta(t, 0.75, SimilarityRatio("abcd", "bcde"), 1e-9)
	assert.Greater(t, SimilarityRatio("bone marow", "bone marrow"), 0.9)
}

func isSubset(a, b index.IDSet) bool {
	for id := range a {
		if !b.Has(id) {
			return false
		}
	}
	return true
}

func BenchmarkFilter(b *testing.B) {
	organisms := []string{"Rodent", "Plant", "Microbe", "Human"}
	words := []string{"bone", "muscle", "radiation", "root", "biofilm", "immune", "liver", "microgravity"}
	records := make([]corpus.Record, 0, 2000)
	for i := 0; i < 2000; i++ {
		records = append(records, corpus.Record{
			ID:          fmt.Sprintf("OSD-%04d", i),
			Organism:    organisms[i%len(organisms)],
			ProjectType: "Spaceflight",
			Title:       words[i%len(words)] + " " + words[(i/3)%len(words)] + " response in flight",
		})
	}
	snap, err := indexer.BuildSnapshot(records, "bench", indexer.BuildOptions{Workers: 4, Spell: spell.DefaultOptions()})
	require.NoError(b, err)
	exec := newExecutor()

	cases := []struct {
		name string
		req  Request
	}{
		{"facet_only", Request{Organisms: []string{"Rodent"}}},
		{"and", Request{Query: "bone muscle", Mode: ModeAnd}},
		{"and_fallback", Request{Query: "bone biofilm root", Mode: ModeAnd}},
		{"or", Request{Query: "radiation liver immune", Mode: ModeOr, MinMatch: 2}},
		{"smart", Request{Query: "microgravity immune", Mode: ModeSmart}},
		{"misspelled", Request{Query: "radiaton", Mode: ModeAnd}},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := exec.Filter(context.Background(), snap, tc.req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
