package audit

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dealscribe/dealscribe/internal/pipeline/refine"
	"github.com/dealscribe/dealscribe/internal/pipeline/stage2"
)

func newTestSink(t *testing.T) (*Sink, string, string) {
	t.Helper()
	dir := t.TempDir()
	review := filepath.Join(dir, "review.csv")
	accepted := filepath.Join(dir, "accepted.csv")
	s := NewSink(review, accepted)
	s.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}
	return s, review, accepted
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestAppend_ReviewRow(t *testing.T) {
	t.Parallel()

	s, review, accepted := newTestSink(t)

	err := s.Append(Row{
		Review:       true,
		Reason:       "warnings+many_edits",
		SegmentIndex: 2,
		Speaker:      "Priya Sharma",
		SpeakerID:    1,
		OriginalText: "we seen the demo.",
		Step1Text:    "we seen the demo.",
		Step2Text:    "We saw the demo.",
		Edits:        []refine.Edit{{Type: refine.EditGrammar, From: "seen", To: "saw"}},
		Warnings:     []stage2.Warning{{Segment: 0, Message: "backend unavailable"}},
		Metadata:     map[string]any{"companies": []any{"Salesforce"}},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := os.Stat(accepted); !os.IsNotExist(err) {
		t.Error("accepted file must not be created by a review row")
	}

	records := readCSV(t, review)
	if len(records) != 2 {
		t.Fatalf("records = %d, want header plus one row", len(records))
	}
	if !reflect.DeepEqual(records[0], Header) {
		t.Errorf("header = %v, want %v", records[0], Header)
	}

	row := records[1]
	if len(row) != len(Header) {
		t.Fatalf("row has %d columns, want %d", len(row), len(Header))
	}
	want := map[int]string{
		0: "2026-08-31T12:00:00Z",
		1: "true",
		2: "warnings+many_edits",
		3: "2",
		4: "Priya Sharma",
		5: "1",
		6: "we seen the demo.",
		7: "we seen the demo.",
		8: "We saw the demo.",
		9: "1",
	}
	for i, w := range want {
		if row[i] != w {
			t.Errorf("column %s = %q, want %q", Header[i], row[i], w)
		}
	}

	var edits []refine.Edit
	if err := json.Unmarshal([]byte(row[10]), &edits); err != nil {
		t.Fatalf("edits_json: %v", err)
	}
	if len(edits) != 1 || edits[0].From != "seen" {
		t.Errorf("edits_json = %q, want the single grammar edit", row[10])
	}

	var warnings []string
	if err := json.Unmarshal([]byte(row[11]), &warnings); err != nil {
		t.Fatalf("warnings_json: %v", err)
	}
	if len(warnings) != 1 || warnings[0] != "segment 0: backend unavailable" {
		t.Errorf("warnings_json = %q, want rendered warning strings", row[11])
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(row[12]), &metadata); err != nil {
		t.Fatalf("metadata_json: %v", err)
	}
	if _, ok := metadata["companies"]; !ok {
		t.Errorf("metadata_json = %q, want the request metadata", row[12])
	}
}

func TestAppend_AcceptedRow(t *testing.T) {
	t.Parallel()

	s, review, accepted := newTestSink(t)

	err := s.Append(Row{
		Review:    false,
		Step2Text: "Fine.",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := os.Stat(review); !os.IsNotExist(err) {
		t.Error("review file must not be created by an accepted row")
	}

	records := readCSV(t, accepted)
	if len(records) != 2 {
		t.Fatalf("records = %d, want header plus one row", len(records))
	}
	row := records[1]
	if row[1] != "false" || row[2] != "" {
		t.Errorf("review/reason = %q/%q, want false/empty", row[1], row[2])
	}
	if row[9] != "0" || row[10] != "[]" {
		t.Errorf("num_edits/edits_json = %q/%q, want 0/[] for nil edits", row[9], row[10])
	}
	if row[11] != "[]" {
		t.Errorf("warnings_json = %q, want [] for no warnings", row[11])
	}
	if row[12] != "{}" {
		t.Errorf("metadata_json = %q, want {} for nil metadata", row[12])
	}
}

func TestAppend_HeaderWrittenOnlyOnce(t *testing.T) {
	t.Parallel()

	s, _, accepted := newTestSink(t)

	for i := 0; i < 3; i++ {
		if err := s.Append(Row{SegmentIndex: i}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	records := readCSV(t, accepted)
	if len(records) != 4 {
		t.Fatalf("records = %d, want header plus three rows", len(records))
	}
	for i := 1; i < 4; i++ {
		if records[i][3] != string(rune('0'+i-1)) {
			t.Errorf("row %d segment_index = %q, want %d", i, records[i][3], i-1)
		}
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()

	s, _, accepted := newTestSink(t)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			done <- s.Append(Row{SegmentIndex: i})
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records := readCSV(t, accepted)
	if len(records) != 9 {
		t.Fatalf("records = %d, want header plus eight intact rows", len(records))
	}
	for _, rec := range records {
		if len(rec) != len(Header) {
			t.Errorf("row %v has %d columns, want %d", rec, len(rec), len(Header))
		}
	}
}
