// Package corpus holds the study records the engine searches over and the
// sources they are loaded from (a JSON file or a PostgreSQL table).
package corpus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrMissingID   = errors.New("record has no id")
	ErrInvalidText = errors.New("record text is not valid UTF-8")
)

// Record is one scientific study. Organism and ProjectType are the facet
// labels; the remaining text fields are optional and empty when absent.
type Record struct {
	ID          string         `json:"id"`
	Organism    string         `json:"organism"`
	ProjectType string         `json:"project_type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	ReleaseDate *time.Time     `json:"release_date,omitempty"`
	DOI         string         `json:"doi,omitempty"`
	URL         string         `json:"url,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Text is the concatenation the index tokenizes.
func (r Record) Text() string {
	return r.Title + " " + r.Description
}

// Normalize trims identifiers and labels and checks the record can be
// indexed. It returns the cleaned copy.
func (r Record) Normalize() (Record, error) {
	r.ID = strings.TrimRight(strings.TrimSpace(r.ID), "/")
	if r.ID == "" {
		return r, ErrMissingID
	}
	r.Organism = strings.TrimSpace(r.Organism)
	r.ProjectType = strings.TrimSpace(r.ProjectType)
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	for _, s := range []string{r.ID, r.Organism, r.ProjectType, r.Title, r.Description} {
		if !utf8.ValidString(s) {
			return r, fmt.Errorf("record %q: %w", r.ID, ErrInvalidText)
		}
	}
	return r, nil
}

// Corpus is an immutable, ordered collection of records. Corpus order is the
// tie-break order everywhere downstream.
type Corpus struct {
	records []Record
	byID    map[string]int
	skipped int
}

// New normalizes records in order. Records that fail normalization or repeat
// an earlier ID are skipped and counted rather than failing the build.
func New(records []Record) *Corpus {
	c := &Corpus{
		records: make([]Record, 0, len(records)),
		byID:    make(map[string]int, len(records)),
	}
	for _, raw := range records {
		rec, err := raw.Normalize()
		if err != nil {
			c.skipped++
			continue
		}
		if _, dup := c.byID[rec.ID]; dup {
			c.skipped++
			continue
		}
		c.byID[rec.ID] = len(c.records)
		c.records = append(c.records, rec)
	}
	return c
}

func (c *Corpus) Len() int { return len(c.records) }

// Skipped reports how many input records were dropped by New.
func (c *Corpus) Skipped() int { return c.skipped }

// Records returns the records in corpus order. Callers must not modify them.
func (c *Corpus) Records() []Record { return c.records }

func (c *Corpus) Get(id string) (Record, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

// Position returns the corpus position of id, or -1.
func (c *Corpus) Position(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// Select returns the records whose IDs are in ids, in corpus order.
func (c *Corpus) Select(ids map[string]struct{}) []Record {
	out := make([]Record, 0, len(ids))
	if len(ids) == 0 {
		return out
	}
	for _, rec := range c.records {
		if _, ok := ids[rec.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// FacetCount is a facet label and the number of records carrying it.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets lists the distinct organism and project-type labels with counts,
// most frequent first.
func (c *Corpus) Facets() (organisms, projectTypes []FacetCount) {
	org := make(map[string]int)
	proj := make(map[string]int)
	for _, rec := range c.records {
		if rec.Organism != "" {
			org[rec.Organism]++
		}
		if rec.ProjectType != "" {
			proj[rec.ProjectType]++
		}
	}
	return sortedFacets(org), sortedFacets(proj)
}

func sortedFacets(counts map[string]int) []FacetCount {
	out := make([]FacetCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, FacetCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
