// Package output aggregates run counters into a summary and renders or
// exports it.
package output

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"stealerindex/index"
	"stealerindex/walker"
)

type Summary struct {
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	Folders             int    `json:"folders"`
	FoldersFailed       int    `json:"folders_failed"`
	FilesSeen           int    `json:"files_seen"`
	FilesExcluded       int    `json:"files_excluded"`
	FilesUnrecognized   int    `json:"files_unrecognized"`
	FilesDuplicate      int    `json:"files_duplicate"`
	FilesParsed         int    `json:"files_parsed"`
	FilesFailed         int    `json:"files_failed"`
	CredentialsProduced int    `json:"credentials_produced"`
	AutofillsProduced   int    `json:"autofills_produced"`
	RecordsSubmitted    int    `json:"records_submitted"`
	RecordsFailed       int    `json:"records_failed"`
	RecordsDiscarded    int    `json:"records_discarded"`
	Batches             int    `json:"batches"`
	BatchesFailed       int    `json:"batches_failed"`
	Aborted             bool   `json:"aborted"`
	AbortReason         string `json:"abort_reason,omitempty"`
}

// FilesSkipped counts files that were seen but deliberately not parsed.
func (s Summary) FilesSkipped() int {
	return s.FilesExcluded + s.FilesUnrecognized + s.FilesDuplicate
}

func (s Summary) RecordsProduced() int {
	return s.CredentialsProduced + s.AutofillsProduced
}

// Tally is the shared run counter set. All methods are safe for concurrent use.
type Tally struct {
	mu         sync.Mutex
	summary    Summary
	lastFolder string
	now        func() time.Time
}

func NewTally() *Tally {
	t := &Tally{now: time.Now}
	t.summary.StartTime = t.now().UTC().Format(time.RFC3339)
	return t
}

func (t *Tally) AddFolder(res walker.FolderResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFolder = res.Folder
	s := &t.summary
	s.Folders++
	if res.Err != nil {
		s.FoldersFailed++
	}
	s.FilesSeen += res.FilesSeen
	s.FilesExcluded += res.Excluded
	s.FilesUnrecognized += res.Unrecognized
	s.FilesDuplicate += res.Duplicates
	s.FilesParsed += res.Parsed
	s.FilesFailed += len(res.Failed)
	s.CredentialsProduced += res.Credentials
	s.AutofillsProduced += res.Autofills
}

func (t *Tally) AddSubmission(res index.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.RecordsSubmitted += res.Submitted
	t.summary.RecordsFailed += res.Failed
	t.summary.Batches += res.Batches
	t.summary.BatchesFailed += res.FailedBatches
}

func (t *Tally) AddDiscarded(n int) {
	t.mu.Lock()
	t.summary.RecordsDiscarded += n
	t.mu.Unlock()
}

// MarkAborted keeps the first reason.
func (t *Tally) MarkAborted(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.summary.Aborted {
		return
	}
	t.summary.Aborted = true
	t.summary.AbortReason = reason
}

func (t *Tally) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// LastFolder is the most recently finished folder.
func (t *Tally) LastFolder() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFolder
}

// Finish stamps the end time and returns the final summary.
func (t *Tally) Finish() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.EndTime = t.now().UTC().Format(time.RFC3339)
	return t.summary
}

func WriteSummary(w io.Writer, s Summary, format string) error {
	switch format {
	case "json":
		data, err := jsonMarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "", "text":
		return writeText(w, s)
	default:
		return fmt.Errorf("unknown summary format: %s", format)
	}
}

func writeText(w io.Writer, s Summary) error {
	status := "completed"
	if s.Aborted {
		status = "aborted: " + s.AbortReason
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", status)
	fmt.Fprintf(tw, "Folders\t%d (%d failed)\n", s.Folders, s.FoldersFailed)
	fmt.Fprintf(tw, "Files seen\t%d\n", s.FilesSeen)
	fmt.Fprintf(tw, "Files skipped\t%d (unrecognized %d, duplicate %d, excluded %d)\n",
		s.FilesSkipped(), s.FilesUnrecognized, s.FilesDuplicate, s.FilesExcluded)
	fmt.Fprintf(tw, "Files failed\t%d\n", s.FilesFailed)
	fmt.Fprintf(tw, "Records produced\t%d (credential %d, autofill %d)\n",
		s.RecordsProduced(), s.CredentialsProduced, s.AutofillsProduced)
	fmt.Fprintf(tw, "Records submitted\t%d\n", s.RecordsSubmitted)
	fmt.Fprintf(tw, "Records failed\t%d\n", s.RecordsFailed)
	if s.RecordsDiscarded > 0 {
		fmt.Fprintf(tw, "Records discarded\t%d\n", s.RecordsDiscarded)
	}
	fmt.Fprintf(tw, "Batches\t%d (%d failed)\n", s.Batches, s.BatchesFailed)
	return tw.Flush()
}
