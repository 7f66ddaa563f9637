// Package fuzzy implements the similarity matcher that scores a token's
// normalized key against gazetteer candidate keys.
//
// Scores are in [0, 100]. The default scorer is [WeightedRatio], a composite
// over Levenshtein-based ratios: the plain full-string ratio is the floor,
// a best-window partial ratio handles tokens embedded in longer candidates
// ("chen" in "chennai"), and a token-sort ratio handles reordered multi-word
// keys. The composite's relative ordering between candidates is an
// implementation detail; callers may only rely on "one best score at or
// above the threshold, or no match".
package fuzzy

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum score required for a match to be accepted.
const DefaultThreshold = 80.0

// Weights applied to the secondary ratio strategies, mirroring the usual
// weighted-ratio discounts so that a perfect substring window never outranks
// a perfect full match.
const (
	partialWeight   = 0.9
	tokenSortWeight = 0.95
)

// ScoreFunc computes a similarity score in [0, 100] between two normalized
// keys. 100 means identical.
type ScoreFunc func(a, b string) float64

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum score required for [Matcher.BestMatch] to
// report a match. Default: 80.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// WithScorer replaces the default [WeightedRatio] scorer. Intended for tests
// that need deterministic scores.
func WithScorer(f ScoreFunc) Option {
	return func(m *Matcher) {
		m.score = f
	}
}

// Matcher scores token keys against candidate keys. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	score     ScoreFunc
}

// New returns a [Matcher] with the supplied options. Defaults: threshold 80,
// [WeightedRatio] scoring.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: DefaultThreshold,
		score:     WeightedRatio,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// BestMatch scores key against every candidate and returns the
// maximum-scoring candidate when its score meets or exceeds the threshold.
// A score exactly at the threshold is accepted; below it, matched is false,
// candidate is empty, and score still reports the best score seen so the
// caller can log near-misses.
//
// When two candidates share the maximum score the winner is whichever was
// seen first in candidates — callers must treat the candidate set as
// unordered and not rely on tie order.
func (m *Matcher) BestMatch(key string, candidates []string) (candidate string, score float64, matched bool) {
	if len(candidates) == 0 {
		return "", 0, false
	}

	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		if s := m.score(key, c); s > bestScore {
			best, bestScore = c, s
		}
	}

	if bestScore >= m.threshold {
		return best, bestScore, true
	}
	return "", bestScore, false
}

// WeightedRatio is the default [ScoreFunc]: the maximum of the plain ratio,
// the discounted best-window partial ratio, and the discounted token-sort
// ratio.
func WeightedRatio(a, b string) float64 {
	score := Ratio(a, b)

	if s := partialWeight * partialRatio(a, b); s > score {
		score = s
	}
	if s := tokenSortWeight * tokenSortRatio(a, b); s > score {
		score = s
	}
	return score
}

// Ratio is the plain sequence-similarity ratio in [0, 100], derived from the
// Levenshtein distance over runes. It is the guaranteed floor of
// [WeightedRatio] for any input pair.
func Ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 100
	}
	dist := matchr.Levenshtein(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// partialRatio returns the best [Ratio] between the shorter string and every
// same-length rune window of the longer string. A short token fully
// contained in a long candidate scores 100 here.
func partialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 0
	}
	if len(ra) == len(rb) {
		return Ratio(string(ra), string(rb))
	}

	best := 0.0
	short := string(ra)
	for i := 0; i+len(ra) <= len(rb); i++ {
		if s := Ratio(short, string(rb[i:i+len(ra)])); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// tokenSortRatio compares the two strings with their whitespace-separated
// tokens sorted, so "web services amazon" and "amazon web services" score
// as identical.
func tokenSortRatio(a, b string) float64 {
	return Ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return strings.TrimSpace(s)
	}
	// Insertion sort; keys are a handful of tokens at most.
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j] < fields[j-1]; j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
	return strings.Join(fields, " ")
}
