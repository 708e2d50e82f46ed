package store

import (
	"strings"
	"unicode"
)

// Tokenize splits text on whitespace and Unicode punctuation/symbols,
// case-folding non-CJK words. Maximal runs of CJK runes (Han, Hiragana,
// Katakana, Hangul) are additionally broken into unigrams and bigrams,
// since CJK text carries no whitespace word boundaries (spec §4.5). There
// is deliberately no stemming and no stopword removal — the spec calls
// for exact, script-aware term matching, not normalization.
func Tokenize(text string) []string {
	runes := []rune(text)
	var tokens []string

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case isCJK(r):
			j := i
			for j < len(runes) && isCJK(runes[j]) {
				j++
			}
			tokens = append(tokens, cjkNgrams(runes[i:j])...)
			i = j

		case isBoundary(r):
			i++

		default:
			j := i
			for j < len(runes) && !isCJK(runes[j]) && !isBoundary(runes[j]) {
				j++
			}
			word := strings.ToLower(string(runes[i:j]))
			if word != "" {
				tokens = append(tokens, word)
			}
			i = j
		}
	}
	return tokens
}

// isCJK reports whether r belongs to a CJK script with no inherent word
// segmentation by whitespace.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// isBoundary reports whether r separates tokens: whitespace, punctuation,
// or a symbol.
func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// cjkNgrams emits every unigram and bigram from a maximal run of CJK
// runes, so both "東京" and its halves "東"/"京" are indexed terms.
func cjkNgrams(run []rune) []string {
	if len(run) == 0 {
		return nil
	}
	out := make([]string, 0, len(run)*2)
	for i := range run {
		out = append(out, string(run[i]))
		if i+1 < len(run) {
			out = append(out, string(run[i:i+2]))
		}
	}
	return out
}
