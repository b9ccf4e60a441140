// Package summary produces the title and description block shown above a
// result set. The default Heuristic generator is extractive and local.
package summary

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
)

const (
	ModeHeuristic   = "heuristic"
	defaultTitle    = "Studies"
	sentenceRecords = 60
	minSentence     = 40
	maxSentence     = 400
	targetWords     = 160
)

var sentenceBreak = regexp.MustCompile(`[.!?]\s+`)

type Meta struct {
	Mode          string   `json:"mode"`
	FallbackChain []string `json:"fallback_chain"`
	FinalSource   string   `json:"final_source"`
	LLMUsed       bool     `json:"llm_used"`
}

type Generated struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Meta        Meta   `json:"meta"`
}

// Summarizer turns ranked records and the requested facets into a
// Generated block.
type Summarizer interface {
	Summarize(ctx context.Context, ranked []corpus.Record, organisms, projectTypes []string) (Generated, error)
}

type Heuristic struct{}

func (Heuristic) Summarize(_ context.Context, ranked []corpus.Record, organisms, projectTypes []string) (Generated, error) {
	return Generated{
		Title:       Title(organisms, projectTypes),
		Description: Describe(ranked),
		Meta: Meta{
			Mode:          ModeHeuristic,
			FallbackChain: []string{},
			FinalSource:   ModeHeuristic,
			LLMUsed:       false,
		},
	}, nil
}

// Title joins the first two organisms and the first two project types.
func Title(organisms, projectTypes []string) string {
	org := strings.Join(organisms[:min(2, len(organisms))], ",")
	if org == "" {
		org = defaultTitle
	}
	if proj := strings.Join(projectTypes[:min(2, len(projectTypes))], ","); proj != "" {
		return org + " - " + proj
	}
	return org
}

// Describe concatenates whole sentences from the top-ranked descriptions
// until about 160 words.
func Describe(ranked []corpus.Record) string {
	var out []string
	total := 0
	for _, s := range Sentences(ranked) {
		n := len(strings.Fields(s))
		if total+n > targetWords {
			break
		}
		out = append(out, s)
		total += n
		if total >= targetWords {
			break
		}
	}
	return strings.Join(out, " ")
}

// Sentences splits the descriptions of the first 60 records and keeps
// sentences strictly between 40 and 400 characters.
func Sentences(ranked []corpus.Record) []string {
	var out []string
	for _, rec := range ranked[:min(sentenceRecords, len(ranked))] {
		for _, s := range split(rec.Description) {
			if n := utf8.RuneCountInString(s); n > minSentence && n < maxSentence {
				out = append(out, s)
			}
		}
	}
	return out
}

// split breaks text after sentence-final punctuation followed by space.
func split(text string) []string {
	var parts []string
	start := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(text, -1) {
		parts = append(parts, strings.TrimSpace(text[start:loc[0]+1]))
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
