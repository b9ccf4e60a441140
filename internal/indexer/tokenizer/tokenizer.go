// Package tokenizer splits study text into lowercase word tokens. The index
// path and the query path use different rules: index tokens are longer and
// filtered of stop-words and numbers, query tokens only drop very short words.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "into": {}, "between": {},
	"sobre": {}, "para": {}, "como": {}, "del": {}, "las": {}, "los": {},
}

// Rules selects the filters applied after splitting.
type Rules struct {
	MinLength     int
	DropStopWords bool
	DropNumeric   bool
}

var (
	IndexRules = Rules{MinLength: 4, DropStopWords: true, DropNumeric: true}
	QueryRules = Rules{MinLength: 3}
)

// Tokenize lowercases text and splits it on every rune that is not a letter,
// digit or underscore, then applies rules. Token order follows the text.
func Tokenize(text string, rules Rules) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < rules.MinLength {
			continue
		}
		if rules.DropStopWords {
			if _, stop := stopWords[word]; stop {
				continue
			}
		}
		if rules.DropNumeric && isNumeric(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// IndexTokens tokenizes record text for the inverted index.
func IndexTokens(text string) []string {
	return Tokenize(text, IndexRules)
}

// QueryTokens tokenizes free-text query input.
func QueryTokens(text string) []string {
	return Tokenize(text, QueryRules)
}

// Normalize lowercases a single keyword and strips everything except
// letters, digits, '-' and '_'.
func Normalize(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range strings.ToLower(strings.TrimSpace(token)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsStopWord reports whether word is filtered on the index path.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}
