package spell

import (
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/tokenizer"
)

// Correction records the suggestions for one query token.
type Correction struct {
	Original       string       `json:"original"`
	Suggestions    []Suggestion `json:"suggestions"`
	BestCorrection string       `json:"best_correction"`
}

// Report is the outcome of checking a whole query.
type Report struct {
	Original        string       `json:"original"`
	HasErrors       bool         `json:"has_errors"`
	CorrectedQuery  string       `json:"corrected_query"`
	Corrections     []Correction `json:"corrections"`
	TokensAnalyzed  int          `json:"tokens_analyzed"`
	TokensCorrected int          `json:"tokens_corrected"`
	TokensIgnored   int          `json:"tokens_ignored"`
	IgnoredTokens   []string     `json:"ignored_tokens"`
	Confidence      float64      `json:"confidence"`
}

// CheckQuery drops gibberish tokens, replaces each remaining token by its best
// suggestion when there is one, and reports how confident it is that the
// query was typed correctly.
func (c *Checker) CheckQuery(query string) Report {
	report := Report{
		Original:      query,
		Corrections:   []Correction{},
		IgnoredTokens: []string{},
		Confidence:    1.0,
	}
	tokens := tokenizer.QueryTokens(query)
	if len(tokens) == 0 {
		return report
	}

	corrected := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if IsGibberish(tok) {
			report.IgnoredTokens = append(report.IgnoredTokens, tok)
			report.TokensIgnored++
			continue
		}
		suggestions := c.Suggest(tok, c.opts.QuerySuggestions, c.opts.QueryMinScore, true)
		if len(suggestions) == 0 {
			corrected = append(corrected, tok)
			continue
		}
		report.Corrections = append(report.Corrections, Correction{
			Original:       tok,
			Suggestions:    suggestions,
			BestCorrection: suggestions[0].Word,
		})
		corrected = append(corrected, suggestions[0].Word)
		report.TokensCorrected++
	}

	report.TokensAnalyzed = len(tokens)
	report.CorrectedQuery = strings.Join(corrected, " ")
	report.HasErrors = report.TokensCorrected > 0 || report.TokensIgnored > 0
	changed := float64(report.TokensCorrected+report.TokensIgnored) / float64(max(1, len(tokens)))
	report.Confidence = math.Round((1.0-changed)*100) / 100
	return report
}

// Replaced returns the set of words the report substituted into the query.
func (r Report) Replaced() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Corrections))
	for _, c := range r.Corrections {
		out[c.BestCorrection] = struct{}{}
	}
	return out
}
