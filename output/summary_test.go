package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stealerindex/index"
	"stealerindex/walker"
)

func TestTallyAggregates(t *testing.T) {
	tally := NewTally()
	tally.AddFolder(walker.FolderResult{Folder: "A", FilesSeen: 3, Parsed: 1, Unrecognized: 1, Credentials: 2,
		Failed: []*walker.FileError{{Path: "A/password.bin", Err: errors.New("binary")}}})
	tally.AddFolder(walker.FolderResult{Folder: "B", FilesSeen: 1, Parsed: 1, Autofills: 1})
	tally.AddFolder(walker.FolderResult{Folder: "C", Err: errors.New("permission denied")})
	tally.AddSubmission(index.Result{Attempted: 3, Submitted: 2, Failed: 1, Batches: 1})
	tally.AddDiscarded(4)
	tally.MarkAborted("first")
	tally.MarkAborted("second")

	s := tally.Finish()
	if s.Folders != 3 || s.FoldersFailed != 1 || s.FilesSeen != 4 || s.FilesFailed != 1 || s.FilesSkipped() != 1 {
		t.Fatalf("unexpected file counters: %+v", s)
	}
	if s.RecordsProduced() != 3 || s.RecordsSubmitted != 2 || s.RecordsFailed != 1 || s.RecordsDiscarded != 4 {
		t.Fatalf("unexpected record counters: %+v", s)
	}
	if got := tally.LastFolder(); got != "C" {
		t.Fatalf("expected last folder C, got %q", got)
	}
	if !s.Aborted || s.AbortReason != "first" {
		t.Fatalf("expected first abort reason to stick, got %q", s.AbortReason)
	}
	if _, err := time.Parse(time.RFC3339, s.EndTime); err != nil {
		t.Fatalf("end time not RFC3339: %v", err)
	}
}

func TestTallyConcurrent(t *testing.T) {
	tally := NewTally()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				tally.AddFolder(walker.FolderResult{FilesSeen: 1})
				tally.AddSubmission(index.Result{Submitted: 1})
			}
		}()
	}
	wg.Wait()
	s := tally.Snapshot()
	if s.FilesSeen != 1000 || s.RecordsSubmitted != 1000 {
		t.Fatalf("lost updates: %+v", s)
	}
}

func TestWriteSummaryText(t *testing.T) {
	var buf bytes.Buffer
	s := Summary{FilesSeen: 3, FilesUnrecognized: 1, CredentialsProduced: 2, RecordsSubmitted: 2}
	if err := WriteSummary(&buf, s, "text"); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"completed", "Files seen", "Records submitted", "credential 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "discarded") {
		t.Fatalf("discarded line should be omitted when zero:\n%s", out)
	}

	buf.Reset()
	s.Aborted, s.AbortReason = true, "index unavailable"
	if err := WriteSummary(&buf, s, ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "aborted: index unavailable") {
		t.Fatalf("expected abort status:\n%s", buf.String())
	}
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, Summary{RecordsSubmitted: 2, RecordsFailed: 1}, "json"); err != nil {
		t.Fatalf("write: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["records_submitted"] != float64(2) || decoded["records_failed"] != float64(1) {
		t.Fatalf("unexpected json: %v", decoded)
	}
	if _, ok := decoded["abort_reason"]; ok {
		t.Fatal("abort_reason should be omitted when empty")
	}

	if err := WriteSummary(&buf, Summary{}, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
