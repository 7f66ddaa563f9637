// Package gazetteer builds the per-request lookup of known entity strings
// used by the deterministic correction stage.
//
// Caller metadata arrives as an opaque mapping from category label (people,
// companies, locations, frameworks, ...) to either a single string or a list
// of strings. Categories carry no semantics here: every string is pooled and
// keyed by its normalized form, producing one flat normalized-key →
// canonical-string table per request. Matching downstream always happens in
// normalized space, never on raw text.
package gazetteer

import (
	"regexp"
	"strings"
)

// whitespaceRun matches one or more consecutive whitespace characters.
// \p{Z} widens Go's ASCII-only \s to Unicode separators such as U+00A0.
var whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)

// strippable matches every character that normalization removes: anything
// that is not a word character, hyphen, whitespace, ampersand, period,
// slash, or apostrophe.
var strippable = regexp.MustCompile(`[^-\p{L}\p{N}_\s\p{Z}&./']`)

// Normalize folds s into the matching key used for gazetteer lookups:
// lowercase, internal whitespace runs collapsed to a single space, leading
// and trailing whitespace trimmed, and all characters stripped except word
// characters, hyphen, whitespace, ampersand, period, slash, and apostrophe.
//
// Normalize is deterministic and idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.ToLower(s)), " ")
	return strippable.ReplaceAllString(s, "")
}

// Collision records a normalized-key clash observed while building a
// gazetteer: a later pool entry silently replaced an earlier one.
type Collision struct {
	// Key is the shared normalized key.
	Key string

	// Dropped is the canonical string that lost the collision.
	Dropped string

	// Kept is the canonical string now stored under Key.
	Kept string
}

// Gazetteer maps normalized keys to canonical display strings for one
// request. It is read-only after Build and safe for concurrent use.
type Gazetteer struct {
	entries map[string]string
}

// Build flattens metadata into a [Gazetteer]. Values may be a single string
// or a sequence of strings; anything else (and blank strings) is ignored.
// Entries are pooled in encounter order and inserted under their normalized
// key, later insertions overwriting earlier ones. Each overwrite of a
// distinct canonical string is reported as a [Collision] so callers can
// surface the lost entry instead of discovering non-deterministic matches
// later.
//
// Map iteration order makes the pool order itself unstable across calls when
// two categories collide, so callers must not assume a stable winner.
func Build(metadata map[string]any) (*Gazetteer, []Collision) {
	var pool []string
	for _, v := range metadata {
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				pool = append(pool, val)
			}
		case []string:
			for _, item := range val {
				if strings.TrimSpace(item) != "" {
					pool = append(pool, item)
				}
			}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					pool = append(pool, s)
				}
			}
		}
	}

	entries := make(map[string]string, len(pool))
	var collisions []Collision
	for _, val := range pool {
		key := Normalize(val)
		if prev, ok := entries[key]; ok && prev != val {
			collisions = append(collisions, Collision{Key: key, Dropped: prev, Kept: val})
		}
		entries[key] = val
	}

	return &Gazetteer{entries: entries}, collisions
}

// Len returns the number of distinct normalized keys.
func (g *Gazetteer) Len() int {
	return len(g.entries)
}

// Keys returns the normalized keys in unspecified order. The candidate set
// must be treated as unordered by callers.
func (g *Gazetteer) Keys() []string {
	keys := make([]string, 0, len(g.entries))
	for k := range g.entries {
		keys = append(keys, k)
	}
	return keys
}

// Canonical returns the display string stored under the normalized key.
func (g *Gazetteer) Canonical(key string) (string, bool) {
	v, ok := g.entries[key]
	return v, ok
}
