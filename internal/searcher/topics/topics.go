// Package topics derives keyword signals from a ranked result set: emerging
// topics that are rare in the corpus but concentrated in the results, and
// the plain most frequent tokens near the top of the ranking.
package topics

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/index"
)

const (
	maxGlobalOccurrences = 12
	minLocalCap          = 6
	maxSamples           = 4
	frequentHead         = 120
	FrequentLimit        = 8
)

type Sample struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Topic struct {
	Topic             string   `json:"topic"`
	SubsetOccurrences int      `json:"subset_occurrences"`
	GlobalOccurrences int      `json:"global_occurrences"`
	Score             float64  `json:"score"`
	Samples           []Sample `json:"sample_studies"`
}

type Token struct {
	Token       string `json:"token"`
	Occurrences int    `json:"occurrences"`
}

type Result struct {
	Emerging []Topic `json:"emerging"`
	Frequent []Token `json:"frequent_subset"`
}

// Extract computes both views over ranked concurrently.
func Extract(ranked []corpus.Record, idx *index.Index, topN int) Result {
	var (
		g   errgroup.Group
		res Result
	)
	g.Go(func() error {
		res.Emerging = Emerging(ranked, idx, topN)
		return nil
	})
	g.Go(func() error {
		res.Frequent = Frequent(ranked, idx, FrequentLimit)
		return nil
	})
	_ = g.Wait()
	return res
}

// Emerging scores each token of the ranked records by how concentrated it
// is in them relative to its corpus frequency. Occurrences on both sides
// count records, not repetitions. Only tokens with a global frequency of at
// most 12 and a subset count of at most max(6, n/2) qualify.
func Emerging(ranked []corpus.Record, idx *index.Index, topN int) []Topic {
	out := []Topic{}
	if len(ranked) == 0 || topN <= 0 {
		return out
	}

	var order []string
	local := make(map[string][]corpus.Record)
	for _, rec := range ranked {
		seen := make(map[string]struct{})
		for _, tok := range idx.RecordTokens(rec.ID) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, known := local[tok]; !known {
				order = append(order, tok)
			}
			local[tok] = append(local[tok], rec)
		}
	}

	localCap := max(minLocalCap, len(ranked)/2)
	var candidates []Topic
	for _, tok := range order {
		global := idx.Frequency(tok)
		sub := len(local[tok])
		if global == 0 || global > maxGlobalOccurrences || sub > localCap {
			continue
		}
		s, g := float64(sub), float64(global)
		candidates = append(candidates, Topic{
			Topic:             tok,
			SubsetOccurrences: sub,
			GlobalOccurrences: global,
			Score:             (s / g) * math.Log1p(s) / (1 + math.Log1p(g)),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	for _, c := range candidates {
		recs := local[c.Topic]
		c.Samples = make([]Sample, 0, min(maxSamples, len(recs)))
		for _, rec := range recs[:min(maxSamples, len(recs))] {
			c.Samples = append(c.Samples, Sample{ID: rec.ID, Title: rec.Title})
		}
		out = append(out, c)
	}
	return out
}

// Frequent counts every token occurrence across the first 120 ranked
// records and returns the top limit. Equal counts keep first-seen order.
func Frequent(ranked []corpus.Record, idx *index.Index, limit int) []Token {
	head := ranked[:min(frequentHead, len(ranked))]
	counts := make(map[string]int)
	var order []string
	for _, rec := range head {
		for _, tok := range idx.RecordTokens(rec.ID) {
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	out := make([]Token, 0, len(order))
	for _, tok := range order {
		out = append(out, Token{Token: tok, Occurrences: counts[tok]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Occurrences > out[j].Occurrences
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ByTopic maps each emerging topic to its sample identifiers.
func ByTopic(emerging []Topic) map[string][]string {
	out := make(map[string][]string, len(emerging))
	for _, t := range emerging {
		ids := make([]string, len(t.Samples))
		for i, s := range t.Samples {
			ids[i] = s.ID
		}
		out[t.Topic] = ids
	}
	return out
}
