// Package tokenize splits text into the lower-cased word tokens shared by
// the lexical index, the topic classifier and the local encoder.
package tokenize

import (
	"strings"
	"unicode"
)

// MinTokenLen is the shortest run of letters/digits kept as a token
const MinTokenLen = 2

// Words lower-cases text and returns runs of at least MinTokenLen
// letters or digits, in order. Single characters are dropped.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= MinTokenLen {
			words = append(words, f)
		}
	}
	return words
}

// NGrams returns all space-joined n-grams of words for n in [minN, maxN],
// grouped by n in ascending order.
func NGrams(words []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		return nil
	}

	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			if n == 1 {
				out = append(out, words[i])
				continue
			}
			out = append(out, strings.Join(words[i:i+n], " "))
		}
	}
	return out
}
