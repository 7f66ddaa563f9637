// Package audit appends triaged segment rows to the human-in-the-loop CSV
// trail.
//
// Two destinations exist: one for segments routed to review and one for
// auto-accepted segments. Each file receives a header row on first write.
// The sink is process-wide and outlives any single request; in-process
// appends are serialised by a mutex and cross-process appends by an
// advisory file lock, since interleaved writes to the same destination are
// not otherwise safe.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage2"
)

// Header is the fixed column order of both destinations.
var Header = []string{
	"timestamp",
	"review",
	"reason",
	"segment_index",
	"speaker",
	"speaker_id",
	"original_text",
	"step1_text",
	"step2_text",
	"num_edits",
	"edits_json",
	"warnings_json",
	"metadata_json",
}

// Row is one audit entry. OriginalText is the text as seen going into
// Stage 2 (i.e. the Stage-1 output), matching the review tooling's
// expectations.
type Row struct {
	Review       bool
	Reason       string
	SegmentIndex int
	Speaker      string
	SpeakerID    int
	OriginalText string
	Step1Text    string
	Step2Text    string
	Edits        []refine.Edit
	Warnings     []stage2.Warning
	Metadata     map[string]any
}

// Sink writes audit rows to the review and accepted CSV destinations.
// Safe for concurrent use.
type Sink struct {
	mu           sync.Mutex
	reviewPath   string
	acceptedPath string
	now          func() time.Time
}

// NewSink returns a [Sink] writing to the given paths. Files are created
// lazily on first append.
func NewSink(reviewPath, acceptedPath string) *Sink {
	return &Sink{
		reviewPath:   reviewPath,
		acceptedPath: acceptedPath,
		now:          time.Now,
	}
}

// Append serialises row into the destination selected by row.Review,
// creating the file with a header row when it does not yet exist.
func (s *Sink) Append(row Row) error {
	edits := row.Edits
	if edits == nil {
		edits = []refine.Edit{}
	}
	editsJSON, err := json.Marshal(edits)
	if err != nil {
		return fmt.Errorf("audit: marshal edits: %w", err)
	}

	// Warnings are stored in their rendered "segment N: message" form,
	// which is what the review tooling displays.
	rendered := make([]string, 0, len(row.Warnings))
	for _, w := range row.Warnings {
		rendered = append(rendered, w.String())
	}
	warningsJSON, err := json.Marshal(rendered)
	if err != nil {
		return fmt.Errorf("audit: marshal warnings: %w", err)
	}

	metadata := row.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}

	record := []string{
		s.now().UTC().Format(time.RFC3339),
		strconv.FormatBool(row.Review),
		row.Reason,
		strconv.Itoa(row.SegmentIndex),
		row.Speaker,
		strconv.Itoa(row.SpeakerID),
		row.OriginalText,
		row.Step1Text,
		row.Step2Text,
		strconv.Itoa(len(edits)),
		string(editsJSON),
		string(warningsJSON),
		string(metadataJSON),
	}

	path := s.acceptedPath
	if row.Review {
		path = s.reviewPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(path, record)
}

// appendRecord opens path under an advisory file lock, writes the header if
// the file is empty, and appends the record.
func appendRecord(path string, record []string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("audit: lock %q: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("audit: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("audit: write header: %w", err)
		}
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush %q: %w", path, err)
	}
	return nil
}
