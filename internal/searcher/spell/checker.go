// Package spell suggests corrections for query words against the corpus
// vocabulary. Candidates come from a bigram index over the vocabulary and are
// scored by edit distance, frequency, and shared prefix.
package spell

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
)

// scoreDistanceLimit caps the edit distance computed for scoring.
const scoreDistanceLimit = 3

// candidateBigrams is how many leading bigrams of a word are used to
// collect candidates.
const candidateBigrams = 3

// Options is the suggestion policy.
type Options struct {
	MinFrequency     int
	CommonFrequency  int
	RareWordRatio    int
	MaxDistance      int
	QueryMinScore    float64
	QuerySuggestions int
}

// OptionsFromConfig maps the spell config section onto Options.
func OptionsFromConfig(cfg config.SpellConfig) Options {
	return Options{
		MinFrequency:     cfg.MinFrequency,
		CommonFrequency:  cfg.CommonFrequency,
		RareWordRatio:    cfg.RareWordRatio,
		MaxDistance:      cfg.MaxDistance,
		QueryMinScore:    cfg.QueryMinScore,
		QuerySuggestions: cfg.QuerySuggestions,
	}
}

// DefaultOptions returns the policy used when no config is supplied.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Spell)
}

// Suggestion is one proposed replacement for a word.
type Suggestion struct {
	Word      string  `json:"word"`
	Score     float64 `json:"score"`
	Frequency int     `json:"frequency"`
	Distance  int     `json:"distance"`
}

// Checker is immutable after New and safe for concurrent use.
type Checker struct {
	vocab   map[string]int
	bigrams map[string][]string
	opts    Options
}

// New builds a checker over the tokens of frequencies that are frequent and
// long enough to be trusted as correct spellings.
func New(frequencies map[string]int, opts Options) *Checker {
	c := &Checker{
		vocab:   make(map[string]int),
		bigrams: make(map[string][]string),
		opts:    opts,
	}
	words := make([]string, 0, len(frequencies))
	for word, freq := range frequencies {
		if freq >= opts.MinFrequency && utf8.RuneCountInString(word) >= 3 {
			c.vocab[word] = freq
			words = append(words, word)
		}
	}
	sort.Strings(words)
	for _, word := range words {
		seen := make(map[string]struct{})
		for _, bg := range bigramsOf(word) {
			if _, dup := seen[bg]; dup {
				continue
			}
			seen[bg] = struct{}{}
			c.bigrams[bg] = append(c.bigrams[bg], word)
		}
	}
	return c
}

// VocabularySize is the number of words suggestions are drawn from.
func (c *Checker) VocabularySize() int {
	return len(c.vocab)
}

// Frequency returns the vocabulary frequency of word, 0 when absent.
func (c *Checker) Frequency(word string) int {
	return c.vocab[word]
}

// Suggest returns up to topN replacements for word scoring at least
// minScore, best first. A common in-vocabulary word gets no suggestions
// unless checkExisting is set; a rare in-vocabulary word is only replaced by
// a much more frequent close neighbour.
func (c *Checker) Suggest(word string, topN int, minScore float64, checkExisting bool) []Suggestion {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || topN <= 0 {
		return nil
	}
	currentFreq, known := c.vocab[w]
	if known && currentFreq > c.opts.CommonFrequency && !checkExisting {
		return nil
	}

	var out []Suggestion
	for _, cand := range c.candidates(w) {
		if cand == w {
			continue
		}
		freq := c.vocab[cand]
		dist := Distance(w, cand, scoreDistanceLimit)
		score := round3(similarity(w, cand, dist, freq))
		if score < minScore {
			continue
		}
		if known && (freq <= currentFreq*c.opts.RareWordRatio || dist > c.opts.MaxDistance) {
			continue
		}
		out = append(out, Suggestion{Word: cand, Score: score, Frequency: freq, Distance: dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Best returns the top suggestion scoring at least minScore.
func (c *Checker) Best(word string, minScore float64) (Suggestion, bool) {
	s := c.Suggest(word, 1, minScore, false)
	if len(s) == 0 {
		return Suggestion{}, false
	}
	return s[0], true
}

// candidates collects vocabulary words sharing one of the first bigrams of w
// and within MaxDistance of its length. With none, it falls back to words
// sharing w's first three characters.
func (c *Checker) candidates(w string) []string {
	n := utf8.RuneCountInString(w)
	minLen := max(3, n-c.opts.MaxDistance)
	maxLen := n + c.opts.MaxDistance

	set := make(map[string]struct{})
	bgs := bigramsOf(w)
	if len(bgs) > candidateBigrams {
		bgs = bgs[:candidateBigrams]
	}
	for _, bg := range bgs {
		for _, cand := range c.bigrams[bg] {
			if l := utf8.RuneCountInString(cand); l >= minLen && l <= maxLen {
				set[cand] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		prefix := string([]rune(w)[:min(3, n)])
		for cand := range c.vocab {
			if strings.HasPrefix(cand, prefix) {
				set[cand] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for cand := range set {
		out = append(out, cand)
	}
	sort.Strings(out)
	return out
}

func similarity(word, cand string, dist, freq int) float64 {
	if dist == 0 {
		return 1.0
	}
	distanceScore := 1.0 / (1.0 + math.Pow(float64(dist), 1.5))
	freqScore := math.Log(float64(freq)+1) / 10.0
	a, b := []rune(word), []rune(cand)
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	prefixScore := float64(prefix) / float64(max(len(a), len(b)))
	return 0.6*distanceScore + 0.25*freqScore + 0.15*prefixScore
}

func bigramsOf(word string) []string {
	padded := []rune("^" + word + "$")
	out := make([]string, 0, len(padded)-1)
	for i := 0; i+1 < len(padded); i++ {
		out = append(out, string(padded[i:i+2]))
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
