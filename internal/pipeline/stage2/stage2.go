// Package stage2 drives the refinement collaborator over a batch of
// segments.
//
// The orchestrator's output contract is structural: for N input segments it
// returns exactly N results, indexable by original segment position, and it
// never returns an error or panics out of Run. Every per-segment failure —
// transport, contract, or edit validation — is captured as a [Warning] and
// the segment degrades to its Stage-1 text with an empty edit list.
//
// Calls fan out through a bounded worker pool. Parallelism 1 reproduces
// strictly sequential behaviour; higher values overlap the outbound calls
// while the per-index result slots keep output ordering independent of
// completion order.
package stage2

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dealscribe/dealscribe/internal/observe"
	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
)

// Defaults for the worker pool.
const (
	defaultParallelism = 1
	defaultCallTimeout = 60 * time.Second
)

// Warning identifies a segment whose refinement was degraded and why.
type Warning struct {
	// Segment is the index of the affected segment in the input batch.
	Segment int `json:"segment_index"`

	// Message describes the failure.
	Message string `json:"message"`
}

// String renders the warning in "segment N: message" form for logs and the
// audit trail.
func (w Warning) String() string {
	return fmt.Sprintf("segment %d: %s", w.Segment, w.Message)
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithParallelism bounds the number of concurrent refinement calls.
// Values below 1 are treated as 1. Default: 1 (sequential).
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithCallTimeout bounds each individual refinement call. A timed-out call
// degrades its segment like any other transport failure. Default: 60s.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithMetrics enables per-call latency and outcome metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator runs the refinement pass over a batch. It is safe for
// concurrent use; each Run call is independent.
type Orchestrator struct {
	refiner     refine.Refiner
	parallelism int
	timeout     time.Duration
	log         *slog.Logger
	metrics     *observe.Metrics
}

// New returns an [Orchestrator] around the injected refiner.
func New(refiner refine.Refiner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		refiner:     refiner,
		parallelism: defaultParallelism,
		timeout:     defaultCallTimeout,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run refines every segment and returns one [refine.Result] per input
// segment plus zero or more warnings, sorted by segment index.
//
// originals, stage1Texts, and stage1Changes are parallel slices; missing
// trailing change entries are tolerated and treated as empty. The returned
// results slice always has len(originals) entries in input order.
func (o *Orchestrator) Run(ctx context.Context, metadata map[string]any, originals, stage1Texts []string, stage1Changes [][]stage1.Change) ([]refine.Result, []Warning) {
	n := len(originals)
	results := make([]refine.Result, n)

	var mu sync.Mutex
	var warnings []Warning

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)

	for i := 0; i < n; i++ {
		idx := i
		g.Go(func() error {
			changes := []stage1.Change{}
			if idx < len(stage1Changes) && stage1Changes[idx] != nil {
				changes = stage1Changes[idx]
			}

			res, err := o.refineOne(gctx, metadata, originals[idx], stage1Texts[idx], changes)
			if err != nil {
				o.log.Warn("refinement degraded to stage-1 text",
					"segment", idx,
					"err", err,
				)
				mu.Lock()
				warnings = append(warnings, Warning{Segment: idx, Message: err.Error()})
				mu.Unlock()
				results[idx] = refine.Result{Text: stage1Texts[idx], Edits: []refine.Edit{}}
				return nil
			}

			results[idx] = *res
			return nil
		})
	}

	// Workers always return nil; failures are recorded as warnings.
	_ = g.Wait()

	sort.Slice(warnings, func(a, b int) bool { return warnings[a].Segment < warnings[b].Segment })
	return results, warnings
}

// refineOne performs a single bounded refinement call and validates the
// returned edits. Any error degrades just this segment.
func (o *Orchestrator) refineOne(ctx context.Context, metadata map[string]any, original, stage1Text string, changes []stage1.Change) (res *refine.Result, err error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if o.metrics != nil {
		start := time.Now()
		defer func() {
			status := "ok"
			if err != nil {
				status = "degraded"
			}
			o.metrics.RefineDuration.Record(ctx, time.Since(start).Seconds())
			o.metrics.RefineRequests.Add(ctx, 1, observe.StatusAttr(status))
		}()
	}

	res, err = o.refiner.Refine(callCtx, metadata, original, stage1Text, changes)
	if err != nil {
		return nil, err
	}
	if err = refine.ValidateEdits(res.Edits); err != nil {
		return nil, err
	}
	return res, nil
}
