// Package indexer builds immutable search snapshots from a corpus source and
// publishes them atomically. Queries hold the snapshot they started with, so
// a reload never exposes a half-built index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
)

// Snapshot is one published corpus version with everything derived from it.
// Nothing in it is mutated after publication.
type Snapshot struct {
	Version string
	BuiltAt time.Time
	Source  string
	Corpus  *corpus.Corpus
	Index   *index.Index
	Spell   *spell.Checker
	Stats   index.BuildStats

	organisms    []corpus.FacetCount
	projectTypes []corpus.FacetCount
}

// Facets returns the distinct organism and project-type labels with counts.
func (s *Snapshot) Facets() (organisms, projectTypes []corpus.FacetCount) {
	return s.organisms, s.projectTypes
}

// Study returns one record by ID.
func (s *Snapshot) Study(id string) (corpus.Record, error) {
	rec, ok := s.Corpus.Get(id)
	if !ok {
		return corpus.Record{}, apperrors.Newf(apperrors.ErrStudyNotFound, http.StatusNotFound, "study %q not found", id)
	}
	return rec, nil
}

// BuildOptions controls snapshot construction.
type BuildOptions struct {
	Workers int
	Spell   spell.Options
}

// BuildSnapshot builds a snapshot from records. Bad records are skipped and
// counted in Stats.Skipped.
func BuildSnapshot(records []corpus.Record, source string, opts BuildOptions) (*Snapshot, error) {
	c := corpus.New(records)
	idx, stats, err := index.Build(c, opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	orgs, projects := c.Facets()
	return &Snapshot{
		Version:      uuid.NewString(),
		BuiltAt:      time.Now().UTC(),
		Source:       source,
		Corpus:       c,
		Index:        idx,
		Spell:        spell.New(idx.Frequencies(), opts.Spell),
		Stats:        stats,
		organisms:    orgs,
		projectTypes: projects,
	}, nil
}

// Engine owns the current snapshot. Reloads are serialized; reads are
// lock-free.
type Engine struct {
	source    corpus.Source
	opts      BuildOptions
	current   atomic.Pointer[Snapshot]
	reloadMu  sync.Mutex
	listenMu  sync.Mutex
	listeners []func(*Snapshot)
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewEngine(source corpus.Source, opts BuildOptions, m *metrics.Metrics) *Engine {
	return &Engine{
		source:  source,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
}

// OnPublish registers fn to run after every publication, e.g. to clear
// caches derived from the previous snapshot.
func (e *Engine) OnPublish(fn func(*Snapshot)) {
	e.listenMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenMu.Unlock()
}

// Current returns the published snapshot, or ErrIndexUnavailable before the
// first publication.
func (e *Engine) Current() (*Snapshot, error) {
	s := e.current.Load()
	if s == nil {
		return nil, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "index not loaded yet")
	}
	return s, nil
}

// Publish makes s the current snapshot.
func (e *Engine) Publish(s *Snapshot) {
	e.current.Store(s)
	if e.metrics != nil {
		e.metrics.SnapshotRecords.Set(float64(s.Corpus.Len()))
		e.metrics.SnapshotTokens.Set(float64(s.Index.Len()))
		e.metrics.RecordsSkippedTotal.Add(float64(s.Stats.Skipped))
	}
	e.listenMu.Lock()
	listeners := slices.Clone(e.listeners)
	e.listenMu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	e.logger.Info("snapshot published",
		"version", s.Version,
		"source", s.Source,
		"records", s.Stats.Records,
		"tokens", s.Stats.Tokens,
		"skipped", s.Stats.Skipped,
		"vocabulary", s.Spell.VocabularySize(),
	)
}

// Reload loads the source, builds a new snapshot and publishes it. On error
// the previous snapshot stays current.
func (e *Engine) Reload(ctx context.Context) (*Snapshot, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	snap, err := e.build(ctx)
	if err != nil {
		e.countReload("error")
		e.logger.Error("snapshot reload failed", "source", e.source.Name(), "error", err)
		return nil, err
	}
	e.Publish(snap)
	e.countReload("ok")
	e.logger.Info("snapshot reload complete", "duration_ms", time.Since(start).Milliseconds())
	return snap, nil
}

func (e *Engine) build(ctx context.Context) (*Snapshot, error) {
	records, err := e.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus from %s: %w", e.source.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := BuildSnapshot(records, e.source.Name(), e.opts)
	if err != nil {
		return nil, err
	}
	if snap.Stats.Skipped > 0 {
		e.logger.Warn("records skipped during index build", "skipped", snap.Stats.Skipped)
	}
	return snap, nil
}

func (e *Engine) countReload(status string) {
	if e.metrics != nil {
		e.metrics.SnapshotReloadsTotal.WithLabelValues(status).Inc()
	}
}
