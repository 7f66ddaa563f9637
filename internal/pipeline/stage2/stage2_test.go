package stage2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage1"
)

// refinerFunc adapts a function to the refine.Refiner interface.
type refinerFunc func(ctx context.Context, metadata map[string]any, original, stage1Text string, changes []stage1.Change) (*refine.Result, error)

func (f refinerFunc) Refine(ctx context.Context, metadata map[string]any, original, stage1Text string, changes []stage1.Change) (*refine.Result, error) {
	return f(ctx, metadata, original, stage1Text, changes)
}

func TestRun_AllSegmentsSucceed(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, _, stage1Text string, _ []stage1.Change) (*refine.Result, error) {
		return &refine.Result{Text: "refined " + stage1Text, Edits: []refine.Edit{{Type: refine.EditGrammar}}}, nil
	}))

	stage1Texts := []string{"one.", "two.", "three."}
	results, warnings := o.Run(context.Background(), nil, []string{"one", "two", "three"}, stage1Texts, nil)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	for i, res := range results {
		want := "refined " + stage1Texts[i]
		if res.Text != want {
			t.Errorf("results[%d].Text = %q, want %q", i, res.Text, want)
		}
	}
}

func TestRun_FailedSegmentDegradesToStage1Text(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, original, stage1Text string, _ []stage1.Change) (*refine.Result, error) {
		if original == "bad" {
			return nil, errors.New("backend unavailable")
		}
		return &refine.Result{Text: strings.ToUpper(stage1Text), Edits: []refine.Edit{}}, nil
	}))

	originals := []string{"ok", "bad", "ok2"}
	stage1Texts := []string{"ok.", "bad.", "ok2."}
	results, warnings := o.Run(context.Background(), nil, originals, stage1Texts, nil)

	if len(results) != 3 {
		t.Fatalf("results = %d, want one per segment even on failure", len(results))
	}
	if results[1].Text != "bad." {
		t.Errorf("degraded Text = %q, want the stage-1 text %q", results[1].Text, "bad.")
	}
	if results[1].Edits == nil || len(results[1].Edits) != 0 {
		t.Errorf("degraded Edits = %#v, want empty non-nil slice", results[1].Edits)
	}

	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	w := warnings[0]
	if w.Segment != 1 {
		t.Errorf("warning segment = %d, want 1", w.Segment)
	}
	if !strings.Contains(w.Message, "backend unavailable") {
		t.Errorf("warning message = %q, want the cause included", w.Message)
	}
	if got := w.String(); got != "segment 1: backend unavailable" {
		t.Errorf("String() = %q, want %q", got, "segment 1: backend unavailable")
	}
}

func TestRun_InvalidEditTypeDegradesSegment(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, _, _ string, _ []stage1.Change) (*refine.Result, error) {
		return &refine.Result{Text: "tampered", Edits: []refine.Edit{{Type: "spelling"}}}, nil
	}))

	results, warnings := o.Run(context.Background(), nil, []string{"x"}, []string{"x."}, nil)

	if results[0].Text != "x." {
		t.Errorf("Text = %q, want degraded stage-1 text", results[0].Text)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0].Message, "spelling") {
		t.Errorf("warnings = %v, want the invalid type reported", warnings)
	}
}

func TestRun_OrderIndependentOfCompletionOrder(t *testing.T) {
	t.Parallel()

	// Later segments finish first; the index slots must still line up.
	o := New(refinerFunc(func(ctx context.Context, _ map[string]any, original, _ string, _ []stage1.Change) (*refine.Result, error) {
		var idx int
		fmt.Sscanf(original, "seg%d", &idx)
		select {
		case <-time.After(time.Duration(4-idx) * 10 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &refine.Result{Text: fmt.Sprintf("out%d", idx), Edits: []refine.Edit{}}, nil
	}), WithParallelism(4))

	originals := []string{"seg0", "seg1", "seg2", "seg3"}
	results, warnings := o.Run(context.Background(), nil, originals, []string{"a", "b", "c", "d"}, nil)

	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	for i, res := range results {
		if want := fmt.Sprintf("out%d", i); res.Text != want {
			t.Errorf("results[%d].Text = %q, want %q", i, res.Text, want)
		}
	}
}

func TestRun_ParallelismOneIsSequential(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	o := New(refinerFunc(func(_ context.Context, _ map[string]any, _, stage1Text string, _ []stage1.Change) (*refine.Result, error) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &refine.Result{Text: stage1Text, Edits: []refine.Edit{}}, nil
	}))

	o.Run(context.Background(), nil, []string{"a", "b", "c"}, []string{"a.", "b.", "c."}, nil)

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max in-flight calls = %d, want 1 with default parallelism", got)
	}
}

func TestRun_WarningsSortedBySegment(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, original, _ string, _ []stage1.Change) (*refine.Result, error) {
		return nil, errors.New("down")
	}), WithParallelism(4))

	_, warnings := o.Run(context.Background(), nil,
		[]string{"a", "b", "c", "d"}, []string{"a.", "b.", "c.", "d."}, nil)

	if len(warnings) != 4 {
		t.Fatalf("warnings = %d, want 4", len(warnings))
	}
	for i, w := range warnings {
		if w.Segment != i {
			t.Errorf("warnings[%d].Segment = %d, want ascending order", i, w.Segment)
		}
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, _, _ string, _ []stage1.Change) (*refine.Result, error) {
		t.Error("refiner must not be called for an empty batch")
		return nil, nil
	}))

	results, warnings := o.Run(context.Background(), nil, nil, nil, nil)
	if len(results) != 0 || len(warnings) != 0 {
		t.Errorf("got %d results, %d warnings, want none", len(results), len(warnings))
	}
}

func TestRun_MissingChangeEntriesAreTolerated(t *testing.T) {
	t.Parallel()

	o := New(refinerFunc(func(_ context.Context, _ map[string]any, _, stage1Text string, changes []stage1.Change) (*refine.Result, error) {
		if changes == nil {
			return nil, errors.New("changes must never be nil")
		}
		return &refine.Result{Text: stage1Text, Edits: []refine.Edit{}}, nil
	}))

	// Two segments but only one change entry supplied.
	_, warnings := o.Run(context.Background(), nil,
		[]string{"a", "b"}, []string{"a.", "b."},
		[][]stage1.Change{{{From: "x", To: "y", Reason: "fuzzy:90"}}})

	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}
