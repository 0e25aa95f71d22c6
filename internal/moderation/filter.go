// Package moderation provides content filtering for room messages. The
// moderator service runs every posted message through the filter and files a
// report for anything it flags; the relay itself never blocks a message on
// the filter's verdict.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of checking one message.
type FilterResult struct {
	Blocked bool   // true when the message matched a rule
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or pattern name
}

// Filter screens message text against a keyword blocklist (single words and
// multi-word phrases) and a set of spam patterns. Matching is case-insensitive
// and tolerant of common leetspeak substitutions. A Filter is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{} // single-word terms
	phrases [][]string          // multi-word terms, pre-tokenized
}

// defaultBlocklist is the built-in set of prohibited terms. Single words and
// phrases are mixed; NewFilter splits them apart.
var defaultBlocklist = []string{
	// slurs
	"nigger", "faggot", "kike", "spic", "tranny",
	// self-harm incitement
	"kill yourself", "go die", "kys",
	// sexual exploitation
	"child porn", "cp trade", "send nudes",
	// extremism
	"heil hitler", "white power",
	// threats
	"bomb threat", "shoot up",
	// scams
	"free bitcoin", "crypto giveaway", "cashapp me",
}

// NewFilter creates a Filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Terms
// containing whitespace become phrases; empty and whitespace-only entries are
// dropped. Terms are lowercased.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{
		words: make(map[string]struct{}),
	}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		tokens := tokenizePlain(term)
		switch len(tokens) {
		case 0:
			continue
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check screens text and returns the first match found. Keyword checks run
// before spam-pattern checks. A zero-value result means the text is clean.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	// Pass 1: plain tokens against the word set.
	plain := tokenizePlain(lower)
	for _, token := range plain {
		if _, hit := f.words[token]; hit {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: token}
		}
	}

	// Pass 2: phrases as consecutive token sequences. Token-wise matching
	// keeps "kill yourselves" from matching the phrase "kill yourself".
	for _, phrase := range f.phrases {
		if containsSequence(plain, phrase) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: strings.Join(phrase, " ")}
		}
	}

	// Pass 3: leetspeak-normalized tokens against the word set and phrases.
	leet := tokenizeLeet(lower)
	normalized := make([]string, 0, len(leet))
	for _, token := range leet {
		norm := tokenizePlain(normalizeLeet(token))
		normalized = append(normalized, norm...)
	}
	for _, token := range normalized {
		if _, hit := f.words[token]; hit {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: token}
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(normalized, phrase) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: strings.Join(phrase, " ")}
		}
	}

	// Pass 4: spam patterns.
	return f.checkSpamPatterns(text)
}

// containsSequence reports whether needle occurs as a consecutive
// subsequence of haystack.
func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// leetMap translates common character substitutions back to letters.
var leetMap = map[rune]rune{
	'@': 'a',
	'4': 'a',
	'3': 'e',
	'1': 'i',
	'!': 'i',
	'0': 'o',
	'$': 's',
	'5': 's',
	'7': 't',
}

// normalizeLeet maps leetspeak substitutions in s back to letters, leaving
// all other characters unchanged.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if mapped, ok := leetMap[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits s into lowercase word tokens on any non-alphanumeric
// boundary.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits s on whitespace only, preserving symbol characters
// inside tokens so leetspeak substitutions survive until normalization.
func tokenizeLeet(s string) []string {
	return strings.Fields(s)
}
