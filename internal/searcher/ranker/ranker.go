// Package ranker orders matched studies by a weighted score of title length,
// description length, title word diversity and release recency relative to
// the other matches.
package ranker

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/tokenizer"
)

const (
	titleWeight       = 0.35
	descriptionWeight = 0.25
	diversityWeight   = 0.25
	recencyWeight     = 0.15

	titleNorm       = 120
	descriptionNorm = 800
)

type Signals struct {
	Title       float64 `json:"title"`
	Description float64 `json:"description"`
	Diversity   float64 `json:"diversity"`
	Recency     float64 `json:"recency"`
}

type Scored struct {
	Record  corpus.Record `json:"record"`
	Score   float64       `json:"score"`
	Signals Signals       `json:"signals"`
}

// Rank scores every record and orders them by score descending. Ties keep
// the input order, so callers pass records in corpus order.
func Rank(records []corpus.Record) []Scored {
	out := make([]Scored, len(records))
	if len(records) == 0 {
		return out
	}
	lo, span := dateSpan(records)
	for i, rec := range records {
		s := Signals{
			Title:       lengthScore(rec.Title, titleNorm),
			Description: lengthScore(rec.Description, descriptionNorm),
			Diversity:   diversity(rec.Title),
			Recency:     recency(rec.ReleaseDate, lo, span),
		}
		out[i] = Scored{
			Record:  rec,
			Signals: s,
			Score: titleWeight*s.Title +
				descriptionWeight*s.Description +
				diversityWeight*s.Diversity +
				recencyWeight*s.Recency,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func lengthScore(text string, norm int) float64 {
	return min(float64(utf8.RuneCountInString(text))/float64(norm), 1.0)
}

// diversity is the share of distinct words among the title's words longer
// than three runes.
func diversity(title string) float64 {
	words := tokenizer.Tokenize(title, tokenizer.Rules{MinLength: 4})
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

// dateSpan returns the earliest release date and the whole-day span of the
// dated records. A span of zero disables the recency signal.
func dateSpan(records []corpus.Record) (time.Time, int) {
	var lo, hi time.Time
	found := false
	for _, rec := range records {
		if rec.ReleaseDate == nil {
			continue
		}
		d := *rec.ReleaseDate
		if !found {
			lo, hi, found = d, d, true
			continue
		}
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	if !found {
		return lo, 0
	}
	return lo, days(hi.Sub(lo))
}

func recency(date *time.Time, lo time.Time, span int) float64 {
	if date == nil || span <= 0 {
		return 0
	}
	return float64(days(date.Sub(lo))) / float64(span)
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
