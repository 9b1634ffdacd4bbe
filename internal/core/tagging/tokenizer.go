package tagging

import (
	"strings"
	"unicode"
)

// Tokenizer normalizes free text into lowercase keyword candidates.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLength int
}

func NewTokenizer(stopwords []string, minLength int) *Tokenizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	if minLength <= 0 {
		minLength = 1
	}
	return &Tokenizer{stopwords: stops, minLength: minLength}
}

// Tokenize splits on anything that is not a letter, digit or hyphen and drops
// stop words, pure numbers and tokens shorter than the minimum length.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		if word := t.accept(current.String()); word != "" {
			tokens = append(tokens, word)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()

	return tokens
}

func (t *Tokenizer) accept(token string) string {
	word := strings.Trim(token, "-")
	for strings.Contains(word, "--") {
		word = strings.ReplaceAll(word, "--", "-")
	}
	if len([]rune(word)) < t.minLength {
		return ""
	}
	if isNumericOnly(word) {
		return ""
	}
	if _, stop := t.stopwords[word]; stop {
		return ""
	}
	return word
}

func isNumericOnly(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) && r != '-' {
			return false
		}
	}
	return true
}

func splitAlphaNum(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
