package spell

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocabulary() map[string]int {
	return map[string]int{
		"microgravity": 40,
		"gravity":      12,
		"bacteria":     15,
		"bone":         60,
		"spaceflight":  25,
		"mouse":        20,
		"mice":         18,
		"muscle":       22,
		"muscles":      3,
		"rarely":       1,
		"rna":          9,
	}
}

func newTestChecker() *Checker {
	return New(testVocabulary(), DefaultOptions())
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b  string
		limit int
		want  int
	}{
		{"bone", "bone", 2, 0},
		{"kitten", "sitting", 3, 3},
		{"microgravty", "microgravity", 2, 1},
		{"ab", "abcdef", 2, 3},
		{"abcdef", "uvwxyz", 2, 3},
		{"", "abc", 3, 3},
		{"raíz", "raiz", 2, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.a, tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b, tt.limit))
			assert.Equal(t, tt.want, Distance(tt.b, tt.a, tt.limit), "symmetric")
		})
	}
}

func TestNewFiltersVocabulary(t *testing.T) {
	c := newTestChecker()
	assert.Equal(t, 0, c.Frequency("rarely"), "below minimum frequency")
	assert.Equal(t, 40, c.Frequency("microgravity"))
	assert.Equal(t, 10, c.VocabularySize())
}

func TestSuggestMisspelling(t *testing.T) {
	c := newTestChecker()
	got := c.Suggest("microgravty", 5, 0.35, false)
	require.NotEmpty(t, got)
	assert.Equal(t, "microgravity", got[0].Word)
	assert.Equal(t, 1, got[0].Distance)
	assert.Equal(t, 40, got[0].Frequency)
}

func TestSuggestNeverProposesInput(t *testing.T) {
	c := newTestChecker()
	for word := range testVocabulary() {
		for _, s := range c.Suggest(word, 10, 0, true) {
			assert.NotEqual(t, word, s.Word)
		}
	}
}

func TestSuggestCommonWordIsTrusted(t *testing.T) {
	c := newTestChecker()
	assert.Empty(t, c.Suggest("bone", 5, 0, false))
}

func TestSuggestRareWordPolicy(t *testing.T) {
	c := newTestChecker()

	got := c.Suggest("muscles", 5, 0, true)
	require.NotEmpty(t, got, "a far more frequent neighbour replaces a rare word")
	assert.Equal(t, "muscle", got[0].Word)

	assert.Empty(t, c.Suggest("mice", 5, 0, true), "neighbours are not 3x more frequent")
}

func TestSuggestOneSubstitution(t *testing.T) {
	c := newTestChecker()
	for word, freq := range testVocabulary() {
		if freq < 10 {
			continue
		}
		runes := []rune(word)
		runes[len(runes)/2] = 'q'
		typo := string(runes)
		t.Run(word, func(t *testing.T) {
			got := c.Suggest(typo, 3, 0, false)
			var found bool
			for _, s := range got {
				if s.Word == word {
					found = true
					assert.LessOrEqual(t, s.Distance, 2)
				}
			}
			assert.True(t, found, "%s not suggested for %s: %v", word, typo, got)
		})
	}
}

func TestSuggestOrdering(t *testing.T) {
	c := newTestChecker()
	got := c.Suggest("mous", 10, 0, false)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.Score == cur.Score {
			assert.GreaterOrEqual(t, prev.Frequency, cur.Frequency)
		} else {
			assert.Greater(t, prev.Score, cur.Score)
		}
	}
}

func TestSuggestPrefixFallback(t *testing.T) {
	c := New(map[string]int{"bacteria": 5, "bacterial": 4}, DefaultOptions())
	// Shares no leading bigram within the length window, so only the
	// prefix scan finds candidates.
	got := c.Suggest("bacxxxxxxxxxxxxx", 5, 0, false)
	require.Len(t, got, 2)
}

func TestIsGibberish(t *testing.T) {
	for _, w := range []string{"qwertyuiop", "asdasdasd", "xcvbnmxcv", "bcdfghk", "ababab"} {
		assert.True(t, IsGibberish(w), w)
	}
	for _, w := range []string{"microgravity", "bacteria", "spaceflight", "rna", "dna", "bone", "muscle"} {
		assert.False(t, IsGibberish(w), w)
	}
}

func TestCheckQueryCorrectsMisspelling(t *testing.T) {
	c := newTestChecker()
	report := c.CheckQuery("microgravty")

	assert.True(t, report.HasErrors)
	assert.Contains(t, report.CorrectedQuery, "microgravity")
	require.Len(t, report.Corrections, 1)
	assert.Equal(t, "microgravty", report.Corrections[0].Original)
	assert.Equal(t, "microgravity", report.Corrections[0].BestCorrection)
	assert.Equal(t, 1, report.TokensAnalyzed)
	assert.Equal(t, 1, report.TokensCorrected)
	assert.Equal(t, 0.0, report.Confidence)
	assert.Contains(t, report.Replaced(), "microgravity")
}

func TestCheckQueryDropsGibberish(t *testing.T) {
	c := newTestChecker()
	report := c.CheckQuery("bone asdasdasd")

	assert.True(t, report.HasErrors)
	assert.Equal(t, "bone", report.CorrectedQuery)
	assert.Equal(t, []string{"asdasdasd"}, report.IgnoredTokens)
	assert.Equal(t, 1, report.TokensIgnored)
	assert.Equal(t, 2, report.TokensAnalyzed)
	assert.Equal(t, 0.5, report.Confidence)
}

func TestCheckQueryCleanAndEmpty(t *testing.T) {
	c := newTestChecker()

	clean := c.CheckQuery("bone spaceflight")
	assert.False(t, clean.HasErrors)
	assert.Equal(t, "bone spaceflight", clean.CorrectedQuery)
	assert.Equal(t, 1.0, clean.Confidence)

	empty := c.CheckQuery("")
	assert.False(t, empty.HasErrors)
	assert.Equal(t, 0, empty.TokensAnalyzed)
	assert.Equal(t, 1.0, empty.Confidence)
	assert.NotNil(t, empty.Corrections)
}

func BenchmarkSuggest(b *testing.B) {
	vocab := make(map[string]int, 5000)
	for i := 0; i < 5000; i++ {
		vocab[fmt.Sprintf("term%04dgene", i)] = i%50 + 2
	}
	c := New(vocab, DefaultOptions())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Suggest("term0042gne", 5, 0.35, false)
	}
}
