// Package executor narrows a snapshot's records to those matching a filter
// request: facet filters first, then required keywords, then the free-text
// query with its fallback cascade.
package executor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
)

// facetSampleSize bounds the distinct labels reported when a facet filter
// matches nothing.
const facetSampleSize = 60

type Mode string

const (
	ModeAnd   Mode = "and"
	ModeOr    Mode = "or"
	ModeSmart Mode = "smart"
)

// ParseMode accepts and, or and smart case-insensitively; empty means and.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAnd:
		return ModeAnd, nil
	case ModeOr:
		return ModeOr, nil
	case ModeSmart:
		return ModeSmart, nil
	default:
		return "", apperrors.InvalidRequestf("unknown query mode %q (want and, or or smart)", s)
	}
}

// Request is the filter half of a study query.
type Request struct {
	Organisms    []string `json:"organism,omitempty"`
	ProjectTypes []string `json:"project_type,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Query        string   `json:"q,omitempty"`
	Mode         Mode     `json:"q_mode,omitempty"`
	MinMatch     int      `json:"q_min_match,omitempty"`
}

// HasFacets reports whether any facet or keyword filter is set.
func (r Request) HasFacets() bool {
	return len(normalizedLabels(r.Organisms)) > 0 ||
		len(normalizedLabels(r.ProjectTypes)) > 0 ||
		hasKeywords(r.Keywords)
}

func hasKeywords(keywords []string) bool {
	for _, kw := range keywords {
		if tokenizer.Normalize(kw) != "" {
			return true
		}
	}
	return false
}

// Stats are the per-call diagnostics of one Filter run. Set sizes are
// recorded after each stage that ran.
type Stats struct {
	Initial                   int               `json:"initial"`
	AfterOrganism             *int              `json:"after_organism,omitempty"`
	OrganismDistinctSample    []string          `json:"organism_distinct_sample,omitempty"`
	AfterProjectType          *int              `json:"after_project_type,omitempty"`
	ProjectTypeDistinctSample []string          `json:"project_type_distinct_sample,omitempty"`
	AfterKeywords             *int              `json:"after_keywords,omitempty"`
	MissingKeyword            string            `json:"missing_keyword,omitempty"`
	SpellSubstituted          bool              `json:"spell_substituted,omitempty"`
	EffectiveQuery            string            `json:"effective_query,omitempty"`
	QueryTerms                []string          `json:"query_terms,omitempty"`
	IgnoredTokens             []string          `json:"ignored_tokens,omitempty"`
	TokenSuggestions          map[string]string `json:"token_suggestions,omitempty"`
	ResolvedMode              Mode              `json:"resolved_mode,omitempty"`
	MinMatch                  int               `json:"min_match,omitempty"`
	AndFallbackLevel          *int              `json:"and_fallback_level,omitempty"`
	FallbackMinMatch          int               `json:"fallback_or_min_match,omitempty"`
	PhraseFallback            bool              `json:"phrase_fallback,omitempty"`
	FuzzyFallback             bool              `json:"fuzzy_fallback,omitempty"`
	AfterQuery                *int              `json:"after_q,omitempty"`
	Final                     int               `json:"final"`
}

// Result is the matching ID set plus diagnostics. Spell is set when the
// request carried a free-text query.
type Result struct {
	IDs   index.IDSet
	Stats Stats
	Spell *spell.Report
}

// Executor is stateless between calls and safe for concurrent use.
type Executor struct {
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg config.SearchConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "filter-executor"),
	}
}

// Filter runs req against snap. No results is a valid outcome, not an error;
// the only error is an unknown mode.
func (e *Executor) Filter(ctx context.Context, snap *indexer.Snapshot, req Request) (Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return Result{}, err
	}
	req.Mode = mode

	records := snap.Corpus.Records()
	working := make(index.IDSet, len(records))
	for _, rec := range records {
		working[rec.ID] = struct{}{}
	}
	res := Result{Stats: Stats{Initial: len(working)}}
	orgFacets, projFacets := snap.Facets()

	if wanted := normalizedLabels(req.Organisms); len(wanted) > 0 {
		working = matchFacet(records, func(r corpus.Record) string { return r.Organism }, wanted, working)
		res.Stats.AfterOrganism = intPtr(len(working))
		if len(working) == 0 {
			res.Stats.OrganismDistinctSample = facetSample(orgFacets, facetSampleSize)
			return e.finish(ctx, res, working), nil
		}
	}

	if wanted := normalizedLabels(req.ProjectTypes); len(wanted) > 0 {
		working = matchFacet(records, func(r corpus.Record) string { return r.ProjectType }, wanted, working)
		res.Stats.AfterProjectType = intPtr(len(working))
		if len(working) == 0 {
			res.Stats.ProjectTypeDistinctSample = facetSample(projFacets, facetSampleSize)
			return e.finish(ctx, res, working), nil
		}
	}

	if hasKeywords(req.Keywords) {
		for _, kw := range req.Keywords {
			k := tokenizer.Normalize(kw)
			if k == "" {
				continue
			}
			postings := snap.Index.Postings(k)
			if len(postings) == 0 {
				res.Stats.MissingKeyword = k
				working = make(index.IDSet)
				break
			}
			working = working.Intersect(postings)
			if len(working) == 0 {
				break
			}
		}
		res.Stats.AfterKeywords = intPtr(len(working))
		if len(working) == 0 {
			return e.finish(ctx, res, working), nil
		}
	}

	if q := strings.TrimSpace(req.Query); q != "" {
		working = e.applyQuery(snap, req, q, working, &res)
		res.Stats.AfterQuery = intPtr(len(working))
	}
	return e.finish(ctx, res, working), nil
}

// applyQuery runs the free-text stage against the pre-query working set.
func (e *Executor) applyQuery(snap *indexer.Snapshot, req Request, q string, preQuery index.IDSet, res *Result) index.IDSet {
	stats := &res.Stats
	report := snap.Spell.CheckQuery(q)
	res.Spell = &report
	e.countSpell(report)

	effective := q
	replaced := map[string]struct{}{}
	if report.HasErrors && report.Confidence < e.cfg.SpellMaxConfidence {
		effective = report.CorrectedQuery
		replaced = report.Replaced()
		stats.SpellSubstituted = true
		e.countFallback("spell_substitution")
	}
	stats.EffectiveQuery = effective

	terms, missing := e.resolveTerms(snap, effective, replaced, stats)
	stats.QueryTerms = terms
	if len(missing) > 0 {
		stats.IgnoredTokens = missing
	}

	phrase := strings.ToLower(q)
	var working index.IDSet
	phraseTried := false
	if len(terms) == 0 {
		working = e.phrase(snap, phrase, preQuery)
		phraseTried = true
		stats.PhraseFallback = len(working) > 0
	} else {
		working = e.dispatch(snap.Index, req, terms, preQuery, stats)
	}

	if len(working) == 0 && !phraseTried {
		working = e.phrase(snap, phrase, preQuery)
		stats.PhraseFallback = len(working) > 0
	}
	if len(working) == 0 {
		if len([]rune(phrase)) >= e.cfg.PhraseMinLength {
			working = matchFuzzyTitle(snap.Corpus.Records(), phrase, e.cfg.FuzzyTitleThreshold, e.cfg.FuzzyTitleTopK, preQuery)
		}
		if len(working) > 0 {
			stats.FuzzyFallback = true
			e.countFallback("fuzzy")
		}
	}
	if stats.PhraseFallback {
		e.countFallback("phrase")
	}
	return working
}

// resolveTerms splits the effective query into index terms. Missing tokens
// that the query-level correction did not produce get one more chance
// through a stricter per-token suggestion.
func (e *Executor) resolveTerms(snap *indexer.Snapshot, effective string, replaced map[string]struct{}, stats *Stats) (terms, missing []string) {
	seen := make(map[string]struct{})
	add := func(t string) {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	for _, tok := range tokenizer.QueryTokens(effective) {
		t := tokenizer.Normalize(tok)
		if t == "" {
			continue
		}
		if snap.Index.Has(t) {
			add(t)
			continue
		}
		missing = append(missing, t)
		if _, done := replaced[t]; done {
			continue
		}
		if s, ok := snap.Spell.Best(t, e.cfg.TokenSuggestMinScore); ok && snap.Index.Has(s.Word) {
			if stats.TokenSuggestions == nil {
				stats.TokenSuggestions = make(map[string]string)
			}
			stats.TokenSuggestions[t] = s.Word
			add(s.Word)
			e.countFallback("token_suggestion")
		}
	}
	return terms, missing
}

func (e *Executor) dispatch(idx *index.Index, req Request, terms []string, preQuery index.IDSet, stats *Stats) index.IDSet {
	mode := req.Mode
	minMatch := req.MinMatch
	if mode == ModeSmart {
		if req.HasFacets() {
			mode = ModeAnd
		} else {
			mode = ModeOr
			minMatch = minMatchFor(e.cfg.SmartMinMatchRatio, len(terms))
		}
	}
	stats.ResolvedMode = mode

	if mode == ModeOr {
		if minMatch < 1 {
			minMatch = 1
		}
		stats.MinMatch = minMatch
		return MatchAtLeast(idx, terms, minMatch, preQuery)
	}

	working := MatchAll(idx, terms, preQuery)
	stats.AndFallbackLevel = intPtr(0)
	if len(working) > 0 {
		return working
	}
	tiers := []int{
		minMatchFor(e.cfg.AndFallbackHigh, len(terms)),
		minMatchFor(e.cfg.AndFallbackLow, len(terms)),
		1,
	}
	for level, mm := range tiers {
		working = MatchAtLeast(idx, terms, mm, preQuery)
		stats.AndFallbackLevel = intPtr(level + 1)
		stats.FallbackMinMatch = mm
		if len(working) > 0 {
			e.countFallback("and_tier_" + strconv.Itoa(level+1))
			break
		}
	}
	return working
}

func (e *Executor) phrase(snap *indexer.Snapshot, phrase string, within index.IDSet) index.IDSet {
	if len([]rune(phrase)) < e.cfg.PhraseMinLength {
		return make(index.IDSet)
	}
	return matchPhrase(snap.Corpus.Records(), phrase, within)
}

func (e *Executor) finish(ctx context.Context, res Result, working index.IDSet) Result {
	res.IDs = working
	res.Stats.Final = len(working)
	log := e.logger
	if id := logger.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}
	log.Debug("filter complete",
		"initial", res.Stats.Initial,
		"final", res.Stats.Final,
		"phrase_fallback", res.Stats.PhraseFallback,
		"fuzzy_fallback", res.Stats.FuzzyFallback,
	)
	return res
}

func (e *Executor) countFallback(strategy string) {
	if e.metrics != nil {
		e.metrics.FallbacksTotal.WithLabelValues(strategy).Inc()
	}
}

func (e *Executor) countSpell(r spell.Report) {
	if e.metrics == nil {
		return
	}
	e.metrics.SpellTokensTotal.WithLabelValues("corrected").Add(float64(r.TokensCorrected))
	e.metrics.SpellTokensTotal.WithLabelValues("ignored").Add(float64(r.TokensIgnored))
}

func intPtr(n int) *int { return &n }
