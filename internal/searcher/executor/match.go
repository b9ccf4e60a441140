package executor

import (
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/index"
)

// MatchAll returns the IDs in within whose indexed tokens include every term.
func MatchAll(idx *index.Index, terms []string, within index.IDSet) index.IDSet {
	out := within.Clone()
	for _, term := range terms {
		out = out.Intersect(idx.Postings(term))
		if len(out) == 0 {
			break
		}
	}
	return out
}

// MatchAtLeast returns the IDs in within whose indexed tokens include at
// least minMatch of terms.
func MatchAtLeast(idx *index.Index, terms []string, minMatch int, within index.IDSet) index.IDSet {
	counts := make(map[string]int)
	for _, term := range terms {
		for id := range idx.Postings(term) {
			if within.Has(id) {
				counts[id]++
			}
		}
	}
	out := make(index.IDSet)
	for id, n := range counts {
		if n >= minMatch {
			out[id] = struct{}{}
		}
	}
	return out
}

// minMatchFor is the number of terms a ratio of n requires, at least one.
func minMatchFor(ratio float64, n int) int {
	return max(1, int(math.Ceil(ratio*float64(n)-1e-9)))
}

// matchPhrase returns the records in within whose lowercase title or
// description contains phrase.
func matchPhrase(records []corpus.Record, phrase string, within index.IDSet) index.IDSet {
	out := make(index.IDSet)
	for _, rec := range records {
		if !within.Has(rec.ID) {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Title), phrase) ||
			strings.Contains(strings.ToLower(rec.Description), phrase) {
			out[rec.ID] = struct{}{}
		}
	}
	return out
}

// matchFuzzyTitle scores every title in within against text and keeps the
// topK at or above threshold.
func matchFuzzyTitle(records []corpus.Record, text string, threshold float64, topK int, within index.IDSet) index.IDSet {
	type scored struct {
		id    string
		ratio float64
	}
	var hits []scored
	for _, rec := range records {
		if !within.Has(rec.ID) || rec.Title == "" {
			continue
		}
		if r := SimilarityRatio(text, strings.ToLower(rec.Title)); r >= threshold {
			hits = append(hits, scored{rec.ID, r})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ratio > hits[j].ratio })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make(index.IDSet, len(hits))
	for _, h := range hits {
		out[h.id] = struct{}{}
	}
	return out
}

// matchFacet returns the records in within whose label, trimmed and
// lowercased, is one of wanted.
func matchFacet(records []corpus.Record, label func(corpus.Record) string, wanted map[string]struct{}, within index.IDSet) index.IDSet {
	out := make(index.IDSet)
	for _, rec := range records {
		if !within.Has(rec.ID) {
			continue
		}
		if _, ok := wanted[strings.ToLower(strings.TrimSpace(label(rec)))]; ok {
			out[rec.ID] = struct{}{}
		}
	}
	return out
}

func normalizedLabels(labels []string) map[string]struct{} {
	out := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			out[l] = struct{}{}
		}
	}
	return out
}

func facetSample(counts []corpus.FacetCount, limit int) []string {
	out := make([]string, 0, min(limit, len(counts)))
	for _, fc := range counts {
		if len(out) == limit {
			break
		}
		out = append(out, fc.Value)
	}
	return out
}
