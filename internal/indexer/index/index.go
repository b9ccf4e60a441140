// Package index builds the immutable inverted index over a corpus: for each
// token, the set of record IDs whose text contains it, plus the token's
// document frequency used for spelling and topic scoring.
package index

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/tokenizer"
)

// parallelThreshold is the corpus size below which tokenizing on a worker
// pool costs more than it saves.
const parallelThreshold = 512

// Index is read-only after Build returns and safe for concurrent use.
type Index struct {
	postings    map[string]IDSet
	frequencies map[string]int
	recordToks  map[string][]string
}

// BuildStats summarizes one build.
type BuildStats struct {
	Records int `json:"records"`
	Tokens  int `json:"tokens"`
	Skipped int `json:"skipped"`
}

// Build tokenizes every record and merges the results in corpus order.
// workers <= 1 tokenizes inline.
func Build(c *corpus.Corpus, workers int) (*Index, BuildStats, error) {
	records := c.Records()
	tokenized, skipped, err := tokenizeAll(records, workers)
	if err != nil {
		return nil, BuildStats{}, err
	}

	idx := &Index{
		postings:    make(map[string]IDSet),
		frequencies: make(map[string]int),
		recordToks:  make(map[string][]string, len(records)),
	}
	for i, rec := range records {
		toks := tokenized[i]
		if toks == nil {
			continue
		}
		idx.recordToks[rec.ID] = toks
		for _, tok := range toks {
			set, ok := idx.postings[tok]
			if !ok {
				set = make(IDSet)
				idx.postings[tok] = set
			}
			set[rec.ID] = struct{}{}
		}
	}
	for tok, set := range idx.postings {
		idx.frequencies[tok] = len(set)
	}
	stats := BuildStats{
		Records: len(records),
		Tokens:  len(idx.postings),
		Skipped: skipped + c.Skipped(),
	}
	return idx, stats, nil
}

func tokenizeAll(records []corpus.Record, workers int) ([][]string, int, error) {
	out := make([][]string, len(records))
	var skipped int
	var mu sync.Mutex
	tokenizeOne := func(i int) {
		toks, ok := safeTokens(records[i])
		if !ok {
			mu.Lock()
			skipped++
			mu.Unlock()
			return
		}
		out[i] = toks
	}

	if workers <= 1 || len(records) < parallelThreshold {
		for i := range records {
			tokenizeOne(i)
		}
		return out, skipped, nil
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, 0, fmt.Errorf("creating tokenizer pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			tokenizeOne(i)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, 0, fmt.Errorf("submitting record %d: %w", i, err)
		}
	}
	wg.Wait()
	return out, skipped, nil
}

// safeTokens isolates a failure in one record from the rest of the build.
func safeTokens(rec corpus.Record) (toks []string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			toks, ok = nil, false
		}
	}()
	toks = tokenizer.IndexTokens(rec.Text())
	if toks == nil {
		toks = []string{}
	}
	return toks, true
}

// Postings returns the IDs containing token, or nil. The set is shared.
func (x *Index) Postings(token string) IDSet {
	return x.postings[token]
}

// Has reports whether token occurs anywhere in the corpus.
func (x *Index) Has(token string) bool {
	return x.frequencies[token] > 0
}

// Frequency is the number of records containing token.
func (x *Index) Frequency(token string) int {
	return x.frequencies[token]
}

// Frequencies returns the token frequency table. Callers must not modify it.
func (x *Index) Frequencies() map[string]int {
	return x.frequencies
}

// RecordTokens returns the index tokens of one record in text order.
func (x *Index) RecordTokens(id string) []string {
	return x.recordToks[id]
}

// Len is the number of distinct tokens.
func (x *Index) Len() int {
	return len(x.postings)
}
