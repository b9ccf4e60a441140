package spell

import "strings"

const (
	vowels     = "aeiou"
	consonants = "bcdfghjklmnpqrstvwxyz"
)

var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

// IsGibberish reports whether word looks like keyboard noise rather than a
// misspelling: too few vowels, a short repeated pattern, a long consonant
// run, or most of its letters on one keyboard row.
func IsGibberish(word string) bool {
	w := []rune(strings.ToLower(word))
	n := len(w)
	if n < 3 {
		return false
	}

	var vowelCount int
	for _, r := range w {
		if strings.ContainsRune(vowels, r) {
			vowelCount++
		}
	}
	if n > 4 && float64(vowelCount)/float64(n) < 0.15 {
		return true
	}

	for period := 2; period < min(5, n/2+1); period++ {
		if isRepetition(w, period) {
			return true
		}
	}

	run, longest := 0, 0
	for _, r := range w {
		if strings.ContainsRune(consonants, r) {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	if longest >= 5 {
		return true
	}

	if n >= 5 {
		for _, row := range keyboardRows {
			var onRow int
			for _, r := range w {
				if strings.ContainsRune(row, r) {
					onRow++
				}
			}
			if float64(onRow)/float64(n) >= 0.8 {
				return true
			}
		}
	}
	return false
}

// isRepetition reports whether w is its first period runes repeated,
// with a possibly partial final copy.
func isRepetition(w []rune, period int) bool {
	for i := period; i < len(w); i++ {
		if w[i] != w[i%period] {
			return false
		}
	}
	return true
}
