// Package pipeline wires the two correction passes, triage, and the audit
// trail into one request-scoped run.
//
// A request carries transcript segments plus opaque entity metadata. The
// deterministic pass (stage1) rewrites misheard entity tokens against a
// gazetteer built once per request; the refinement pass (stage2) sends each
// segment to the external collaborator for grammar, filler, and
// context-aware entity reconciliation. Triage then classifies every segment
// as auto-accepted or needing human review and appends it to the audit
// sink.
//
// Everything here is request-scoped and stateless across requests; the only
// process-wide resource is the audit sink.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dealscribe/dealscribe/internal/audit"
	"github.com/dealscribe/dealscribe/internal/observe"
	"github.com/dealscribe/dealscribe/internal/pipeline/gazetteer"
	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage2"
	"github.com/dealscribe/dealscribe/internal/triage"
)

// Segment is one transcript segment as supplied by the caller. The pipeline
// reads segments and returns modified copies; it never mutates the caller's
// slice in place.
type Segment struct {
	EndTimestamp   float64 `json:"end_timestamp"`
	IsSeller       bool    `json:"is_seller"`
	Language       *string `json:"language"`
	Speaker        string  `json:"speaker"`
	SpeakerID      int     `json:"speaker_id"`
	StartTimestamp float64 `json:"start_timestamp"`
	Text           string  `json:"text"`
}

// Request is one correction request: the transcript and the opaque
// category → strings metadata the gazetteer is built from.
type Request struct {
	Transcript []Segment      `json:"transcript"`
	Metadata   map[string]any `json:"metadata"`
}

// Response is the outcome of a full pipeline run. Transcript carries the
// final corrected segments in input order; the remaining fields expose the
// intermediate record for callers that audit or display it.
type Response struct {
	Transcript    []Segment         `json:"transcript"`
	Stage1Changes [][]stage1.Change `json:"stage1_changes"`
	Edits         [][]refine.Edit   `json:"edits"`
	Warnings      []stage2.Warning  `json:"warnings"`
}

// Runner executes correction requests. All collaborators are injected at
// construction; Runner itself is stateless across requests and safe for
// concurrent use.
type Runner struct {
	corrector    *stage1.Corrector
	orchestrator *stage2.Orchestrator
	classifier   *triage.Classifier
	sink         *audit.Sink
	metrics      *observe.Metrics
}

// NewRunner constructs a [Runner]. metrics may be nil, in which case no
// measurements are recorded.
func NewRunner(
	corrector *stage1.Corrector,
	orchestrator *stage2.Orchestrator,
	classifier *triage.Classifier,
	sink *audit.Sink,
	metrics *observe.Metrics,
) *Runner {
	return &Runner{
		corrector:    corrector,
		orchestrator: orchestrator,
		classifier:   classifier,
		sink:         sink,
		metrics:      metrics,
	}
}

// Run corrects every segment of req and returns the full [Response].
//
// Per-segment refinement failures degrade that segment to its Stage-1 text
// and surface as Warnings; they never abort the batch. The response always
// carries exactly one transcript entry, one change list, and one edit list
// per input segment.
func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	log := observe.Logger(ctx).With("run_id", uuid.NewString())

	// Build the gazetteer once per request. Collisions are last-write-wins;
	// surface them so phonetically-close metadata entries are discoverable.
	gaz, collisions := gazetteer.Build(req.Metadata)
	for _, c := range collisions {
		log.Debug("gazetteer key collision",
			"key", c.Key,
			"kept", c.Kept,
			"dropped", c.Dropped,
		)
	}
	if r.metrics != nil && len(collisions) > 0 {
		r.metrics.GazetteerCollisions.Add(ctx, int64(len(collisions)))
	}

	n := len(req.Transcript)
	originals := make([]string, n)
	stage1Texts := make([]string, n)
	stage1Changes := make([][]stage1.Change, n)

	// Stage 1 is pure and per-segment independent.
	for i, seg := range req.Transcript {
		start := time.Now()
		res := r.corrector.Correct(seg.Text, gaz)
		if r.metrics != nil {
			r.metrics.Stage1Duration.Record(ctx, time.Since(start).Seconds())
			r.metrics.SegmentChanges.Record(ctx, int64(len(res.Changes)))
		}
		originals[i] = seg.Text
		stage1Texts[i] = res.Text
		stage1Changes[i] = res.Changes
	}

	// Stage 2: the only blocking I/O in the pipeline.
	results, warnings := r.orchestrator.Run(ctx, req.Metadata, originals, stage1Texts, stage1Changes)
	if len(warnings) > 0 {
		log.Warn("refinement produced warnings", "count", len(warnings), "segments", n)
	}

	// Triage uses a batch-wide warning signal: any degraded segment marks
	// the whole batch as warning-affected.
	hadWarning := len(warnings) > 0

	final := make([]Segment, n)
	edits := make([][]refine.Edit, n)
	for i, seg := range req.Transcript {
		res := results[i]

		out := seg
		out.Text = res.Text
		final[i] = out
		edits[i] = res.Edits

		review, reason := r.classifier.Classify(len(res.Edits), hadWarning)
		row := audit.Row{
			Review:       review,
			Reason:       reason,
			SegmentIndex: i,
			Speaker:      seg.Speaker,
			SpeakerID:    seg.SpeakerID,
			OriginalText: stage1Texts[i],
			Step1Text:    stage1Texts[i],
			Step2Text:    res.Text,
			Edits:        res.Edits,
			Warnings:     warnings,
			Metadata:     req.Metadata,
		}
		if err := r.sink.Append(row); err != nil {
			// The audit trail is best-effort from the caller's perspective;
			// a sink error must not cost them the corrected transcript.
			log.Error("audit append failed", "segment", i, "err", err)
		} else if r.metrics != nil {
			dest := "accepted"
			if review {
				dest = "review"
			}
			r.metrics.AuditRows.Add(ctx, 1, observe.DestinationAttr(dest))
		}
	}

	return &Response{
		Transcript:    final,
		Stage1Changes: stage1Changes,
		Edits:         edits,
		Warnings:      warnings,
	}, nil
}
