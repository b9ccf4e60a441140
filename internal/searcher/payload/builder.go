// Package payload orchestrates one study query: filter, rank, extract
// topics, summarize and paginate, with results cached per snapshot.
package payload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/summary"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/topics"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/tracing"
)

const (
	importantCount    = 10
	lessRelevantCount = 5
	lessRelevantShort = 3
	previewCount      = 20
	suggestedKeywords = 12
	defaultRankMode   = "heuristic"
)

// Builder is safe for concurrent use; all per-query state lives on the
// stack and the snapshot is read-only.
type Builder struct {
	executor   *executor.Executor
	summarizer summary.Summarizer
	cache      *cache.QueryCache[Payload]
	cfg        config.SearchConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewBuilder wires the stages. A nil summarizer uses summary.Heuristic and
// a nil cache disables caching.
func NewBuilder(exec *executor.Executor, s summary.Summarizer, c *cache.QueryCache[Payload], cfg config.SearchConfig, m *metrics.Metrics) *Builder {
	if s == nil {
		s = summary.Heuristic{}
	}
	return &Builder{
		executor:   exec,
		summarizer: s,
		cache:      c,
		cfg:        cfg,
		metrics:    m,
		logger:     slog.Default().With("component", "payload-builder"),
	}
}

// Build returns the payload for req against snap. Hits are copies of the
// stored payload with Debug.CacheHit set.
func (b *Builder) Build(ctx context.Context, snap *indexer.Snapshot, req Request) (Payload, error) {
	start := time.Now()
	mode, err := executor.ParseMode(string(req.Filter.Mode))
	if err != nil {
		b.count("error")
		return Payload{}, err
	}
	req.Filter.Mode = mode
	req = b.withDefaults(req)

	compute := func() (Payload, error) { return b.compute(ctx, snap, req) }
	var (
		p   Payload
		hit bool
	)
	if b.cache == nil {
		p, err = compute()
	} else {
		p, hit, err = b.cache.GetOrCompute(ctx, cache.Key(keyParams(snap.Version, req)), compute)
	}
	if err != nil {
		b.count("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return Payload{}, apperrors.New(apperrors.ErrTimeout, http.StatusServiceUnavailable, "query timed out")
		}
		return Payload{}, err
	}

	status := "miss"
	if hit {
		p.Debug.CacheHit = true
		status = "hit"
	}
	if b.metrics != nil {
		b.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
		b.metrics.SearchResultsCount.Observe(float64(p.Counts.TotalStudies))
	}
	if p.Counts.TotalStudies == 0 {
		status = "zero_result"
	}
	b.count(status)
	return p, nil
}

func (b *Builder) compute(ctx context.Context, snap *indexer.Snapshot, req Request) (Payload, error) {
	t0 := time.Now()
	ctx, root := tracing.StartSpan(ctx, "build_payload", logger.RequestID(ctx))

	_, span := tracing.StartChildSpan(ctx, "filter")
	res, err := b.executor.Filter(ctx, snap, req.Filter)
	span.End()
	if err != nil {
		return Payload{}, fmt.Errorf("filtering studies: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}

	_, span = tracing.StartChildSpan(ctx, "rank")
	ranked := ranker.Rank(snap.Corpus.Select(res.IDs))
	span.End()
	records := make([]corpus.Record, len(ranked))
	for i, s := range ranked {
		records[i] = s.Record
	}

	var (
		extracted topics.Result
		generated summary.Generated
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := tracing.StartChildSpan(gctx, "topics")
		defer span.End()
		extracted = topics.Extract(records, snap.Index, *req.EmergingTopics)
		return nil
	})
	g.Go(func() error {
		_, span := tracing.StartChildSpan(gctx, "summary")
		defer span.End()
		generated = b.summarize(gctx, records, req.Filter)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Payload{}, err
	}

	total := len(ranked)
	pageSize := req.PageSize
	totalPages := max(1, (total+pageSize-1)/pageSize)
	page := min(max(req.Page, 1), totalPages)
	lo := min((page-1)*pageSize, total)
	hi := min(lo+pageSize, total)

	important := ranked[:min(importantCount, total)]
	less := lessRelevant(ranked)

	p := Payload{
		Filters:    echoFilters(req.Filter),
		Generated:  generated,
		SpellCheck: res.Spell,
		Counts: Counts{
			TotalStudies: total,
			Important:    len(important),
			LessRelevant: len(less),
			PageItems:    hi - lo,
			Page:         page,
			PageSize:     pageSize,
			TotalPages:   totalPages,
		},
		Articles: Articles{
			Important:    articles(important),
			LessRelevant: articles(less),
			PageItems:    articles(ranked[lo:hi]),
		},
		Topics: Topics{
			Emerging:       extracted.Emerging,
			FrequentSubset: extracted.Frequent,
			ByTopicIndex:   topics.ByTopic(extracted.Emerging),
		},
		Debug: Debug{
			RankingPreview:   preview(ranked),
			LLMMeta:          generated.Meta,
			FilterStats:      res.Stats,
			SnapshotVersion:  snap.Version,
			StudiesFullCount: total,
		},
		ExportedAt: time.Now().UTC(),
	}
	if !req.Compact {
		p.Data = exportData(ranked, extracted.Frequent)
	}

	root.End()
	p.Debug.StageMillis = root.Timings()
	p.Debug.GenerationTimeSec = math.Round(time.Since(t0).Seconds()*1000) / 1000
	root.Log(b.logger)
	return p, nil
}

// summarize falls back to the heuristic generator when a configured
// summarizer fails.
func (b *Builder) summarize(ctx context.Context, records []corpus.Record, f executor.Request) summary.Generated {
	gen, err := b.summarizer.Summarize(ctx, records, f.Organisms, f.ProjectTypes)
	if err == nil {
		return gen
	}
	logger.FromContext(ctx).Warn("summarizer failed, using heuristic", "error", err)
	gen, _ = summary.Heuristic{}.Summarize(ctx, records, f.Organisms, f.ProjectTypes)
	gen.Meta.FallbackChain = append(gen.Meta.FallbackChain, "summarizer_error")
	return gen
}

func (b *Builder) withDefaults(req Request) Request {
	if req.PageSize == 0 {
		req.PageSize = b.cfg.DefaultPageSize
	}
	req.PageSize = min(max(req.PageSize, 1), b.cfg.MaxPageSize)
	if req.Page < 1 {
		req.Page = 1
	}
	topicsN := b.cfg.EmergingTopics
	if req.EmergingTopics != nil {
		topicsN = *req.EmergingTopics
	}
	topicsN = max(topicsN, 0)
	req.EmergingTopics = &topicsN
	if req.RankMode == "" {
		req.RankMode = defaultRankMode
	}
	return req
}

func (b *Builder) count(resultType string) {
	if b.metrics != nil {
		b.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func keyParams(version string, req Request) cache.KeyParams {
	return cache.KeyParams{
		Version:        version,
		Organisms:      req.Filter.Organisms,
		ProjectTypes:   req.Filter.ProjectTypes,
		Keywords:       req.Filter.Keywords,
		Query:          req.Filter.Query,
		Mode:           string(req.Filter.Mode),
		MinMatch:       req.Filter.MinMatch,
		Page:           req.Page,
		PageSize:       req.PageSize,
		RankMode:       req.RankMode,
		EmergingTopics: *req.EmergingTopics,
		Compact:        req.Compact,
	}
}

// lessRelevant is the bottom five re-sorted ascending, or the bottom three
// as ranked when fewer than five matched.
func lessRelevant(ranked []ranker.Scored) []ranker.Scored {
	n := len(ranked)
	if n < lessRelevantCount {
		return ranked[n-min(lessRelevantShort, n):]
	}
	tail := append([]ranker.Scored(nil), ranked[n-lessRelevantCount:]...)
	sort.SliceStable(tail, func(i, j int) bool { return tail[i].Score < tail[j].Score })
	return tail
}

func preview(ranked []ranker.Scored) []Preview {
	out := make([]Preview, 0, min(previewCount, len(ranked)))
	for _, s := range ranked[:min(previewCount, len(ranked))] {
		out = append(out, Preview{ID: s.Record.ID, Score: s.Score})
	}
	return out
}

func exportData(ranked []ranker.Scored, frequent []topics.Token) *Data {
	full := make([]FullRecord, len(ranked))
	for i, s := range ranked {
		full[i] = FullRecord{Record: s.Record, RankScore: s.Score}
	}
	kw := make([]string, 0, min(suggestedKeywords, len(frequent)))
	for _, tok := range frequent[:min(suggestedKeywords, len(frequent))] {
		kw = append(kw, tok.Token)
	}
	return &Data{StudiesFull: full, TotalFull: len(full), SuggestedKeywords: kw}
}

func echoFilters(f executor.Request) Filters {
	out := Filters{
		Organism:    nonNil(f.Organisms),
		ProjectType: nonNil(f.ProjectTypes),
		Keywords:    nonNil(f.Keywords),
		Q:           f.Query,
		QMode:       string(f.Mode),
		QueryParams: QueryParams(f),
	}
	if f.MinMatch > 0 {
		mm := f.MinMatch
		out.QMinMatch = &mm
	}
	return out
}

// QueryParams renders the filter as a reproducible query string, "" when
// no filter is set.
func QueryParams(f executor.Request) string {
	var parts []string
	add := func(key string, values ...string) {
		for _, v := range values {
			parts = append(parts, key+"="+escape(v))
		}
	}
	add("organism", f.Organisms...)
	add("project_type", f.ProjectTypes...)
	add("keywords", f.Keywords...)
	if f.Query != "" {
		add("q", f.Query)
	}
	if len(parts) == 0 {
		return ""
	}
	return "?" + strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
