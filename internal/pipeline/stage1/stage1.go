// Package stage1 implements the deterministic, local correction pass over a
// transcript segment.
//
// Every word token of the segment is keyed through the gazetteer normalizer
// and fuzzily matched against the request's gazetteer. Hits are rewritten to
// the canonical form with the original token's casing style preserved, and
// each substitution is recorded as a [Change]. Whitespace and punctuation
// tokens pass through untouched, so a segment with no hits reproduces its
// input byte for byte (modulo the terminal-period policy).
//
// The pass is pure: no I/O, no mutation of inputs, deterministic output.
package stage1

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dealscribe/dealscribe/internal/pipeline/fuzzy"
	"github.com/dealscribe/dealscribe/internal/pipeline/gazetteer"
)

// stopwords are function words that are never matched against the gazetteer,
// even when they coincidentally resemble an entry. Together with the
// three-character minimum key length this deliberately under-corrects short
// and common words — a precision/recall trade-off, not an oversight.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "or": {}, "the": {}, "is": {}, "in": {},
	"of": {}, "to": {}, "for": {}, "on": {}, "by": {}, "with": {}, "at": {},
	"from": {}, "as": {}, "it": {}, "we": {}, "you": {}, "they": {},
	"he": {}, "she": {},
}

// minKeyLen is the minimum normalized-key length (in runes) for a token to
// be considered for matching.
const minKeyLen = 3

// spaceBeforePunct matches whitespace immediately preceding a sentence-level
// punctuation mark; substitutions can leave such gaps behind.
var spaceBeforePunct = regexp.MustCompile(`\s+([.,?!])`)

// Change records a single token substitution made by the pass.
type Change struct {
	// From is the token as it appeared in the input text.
	From string `json:"from"`

	// To is the case-adapted canonical replacement.
	To string `json:"to"`

	// Reason identifies the match type and its integer-truncated score,
	// e.g. "fuzzy:87".
	Reason string `json:"reason"`
}

// Result is the output of [Corrector.Correct] for one segment.
type Result struct {
	// Text is the corrected segment text.
	Text string

	// Changes lists every substitution applied, in token order. Empty
	// (non-nil) when no substitution was made.
	Changes []Change
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default fuzzy matcher.
func WithMatcher(m *fuzzy.Matcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithTerminalPeriod controls whether a period is appended when the
// corrected text ends in an alphanumeric character. Default: true.
func WithTerminalPeriod(enabled bool) Option {
	return func(c *Corrector) {
		c.terminalPeriod = enabled
	}
}

// Corrector drives the tokenizer, matcher, and case adapter over segment
// text. It is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher        *fuzzy.Matcher
	terminalPeriod bool
}

// New returns a [Corrector] with the supplied options. Defaults: a
// [fuzzy.New] matcher at its default threshold, terminal period enabled.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		matcher:        fuzzy.New(),
		terminalPeriod: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct applies the deterministic pass to text using gaz as the candidate
// set. The input is never mutated; the returned [Result] holds the new text
// and the substitution log.
func (c *Corrector) Correct(text string, gaz *gazetteer.Gazetteer) Result {
	keys := gaz.Keys()
	changes := []Change{}

	var out strings.Builder
	out.Grow(len(text))

	for _, tok := range gazetteer.Tokenize(text) {
		if tok.Kind != gazetteer.KindWord {
			out.WriteString(tok.Text)
			continue
		}

		key := gazetteer.Normalize(tok.Text)
		if utf8.RuneCountInString(key) < minKeyLen {
			out.WriteString(tok.Text)
			continue
		}
		if _, stop := stopwords[key]; stop {
			out.WriteString(tok.Text)
			continue
		}

		cand, score, ok := c.matcher.BestMatch(key, keys)
		if !ok {
			out.WriteString(tok.Text)
			continue
		}

		canonical, _ := gaz.Canonical(cand)
		rep := applyCase(canonical, tok.Text)
		if rep == tok.Text {
			// Identical replacement is not a change.
			out.WriteString(tok.Text)
			continue
		}

		out.WriteString(rep)
		changes = append(changes, Change{
			From:   tok.Text,
			To:     rep,
			Reason: fmt.Sprintf("fuzzy:%d", int(score)),
		})
	}

	corrected := spaceBeforePunct.ReplaceAllString(out.String(), "$1")

	if c.terminalPeriod && corrected != "" {
		last, _ := utf8.DecodeLastRuneInString(corrected)
		if unicode.IsLetter(last) || unicode.IsDigit(last) {
			corrected += "."
		}
	}

	return Result{Text: corrected, Changes: changes}
}

// applyCase reshapes canonical to match the casing style of the original
// token: fully uppercase originals uppercase the replacement, title-case
// originals capitalize only the replacement's first rune, and anything else
// returns the canonical string verbatim.
func applyCase(canonical, original string) string {
	switch {
	case isUpper(original):
		return strings.ToUpper(canonical)
	case isTitle(original):
		first, size := utf8.DecodeRuneInString(canonical)
		if first == utf8.RuneError && size <= 1 {
			return canonical
		}
		return string(unicode.ToUpper(first)) + canonical[size:]
	default:
		return canonical
	}
}

// isUpper reports whether s contains at least one cased rune and no
// lowercase runes.
func isUpper(s string) bool {
	hasCased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasCased = true
		}
	}
	return hasCased
}

// isTitle reports whether s is a single title-case word: the first cased
// rune is uppercase and every following cased rune is lowercase.
func isTitle(s string) bool {
	sawUpper := false
	for _, r := range s {
		if unicode.IsUpper(r) {
			if sawUpper {
				return false
			}
			sawUpper = true
			continue
		}
		if unicode.IsLower(r) && !sawUpper {
			return false
		}
	}
	return sawUpper
}
