// Package triage classifies refined segments as auto-accepted or needing
// human review.
//
// The decision combines a per-segment signal (the number of edits the
// refinement reported) with a batch-wide signal: one warning anywhere in the
// batch marks every segment of that batch as warning-affected. Callers must
// therefore compute the had-warning flag once per batch, not per segment.
package triage

import "strings"

// DefaultEditsThreshold is the edit count at or above which a segment is
// routed to review.
const DefaultEditsThreshold = 3

// Reason tags contributed to a review decision.
const (
	ReasonWarnings  = "warnings"
	ReasonManyEdits = "many_edits"
)

// Classifier maps (edit count, batch warning flag) to a review decision.
// The zero value is not usable; construct with [New].
type Classifier struct {
	editsThreshold int
}

// New returns a [Classifier]. A threshold below 1 falls back to
// [DefaultEditsThreshold].
func New(editsThreshold int) *Classifier {
	if editsThreshold < 1 {
		editsThreshold = DefaultEditsThreshold
	}
	return &Classifier{editsThreshold: editsThreshold}
}

// Classify returns whether the segment needs human review and the joined
// reason string. Reasons accumulate independently: a batch warning
// contributes "warnings", an edit count at or above the threshold
// contributes "many_edits", joined with "+". No contributing reason means
// review is false and reason is empty.
func (c *Classifier) Classify(numEdits int, hadWarning bool) (review bool, reason string) {
	var reasons []string
	if hadWarning {
		reasons = append(reasons, ReasonWarnings)
	}
	if numEdits >= c.editsThreshold {
		reasons = append(reasons, ReasonManyEdits)
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "+")
}
