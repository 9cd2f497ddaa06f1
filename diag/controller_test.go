package diag

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProfileWriter struct {
	content string
}

func (f fakeProfileWriter) WriteTo(w io.Writer, debug int) error {
	_, err := io.WriteString(w, f.content)
	return err
}

func fakeLookup(name string) profileWriter {
	if name == "goroutine" {
		return fakeProfileWriter{content: "goroutine-profile"}
	}
	return nil
}

// stateSource is a mutable State for tests.
type stateSource struct {
	mu    sync.Mutex
	state State
}

func (s *stateSource) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stateSource) set(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func readReports(t *testing.T, dir string) []stallReport {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "stealerindex-stall-*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	var reports []stallReport
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			t.Fatalf("read %s: %v", m, err)
		}
		var r stallReport
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("decode %s: %v", m, err)
		}
		reports = append(reports, r)
	}
	return reports
}

func TestStateWaitingOn(t *testing.T) {
	s := State{RecordsProduced: 10, RecordsSubmitted: 6, RecordsFailed: 1}
	if s.Pending() != 3 || s.WaitingOn() != "index" {
		t.Fatalf("expected 3 pending on index, got %d on %s", s.Pending(), s.WaitingOn())
	}
	s.RecordsSubmitted = 9
	if s.Pending() != 0 || s.WaitingOn() != "walker" {
		t.Fatalf("expected nothing pending on walker, got %d on %s", s.Pending(), s.WaitingOn())
	}
}

func TestCheckWritesStallReport(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	src := &stateSource{state: State{Folders: 3, LastFolder: "host_42", RecordsProduced: 2500, RecordsSubmitted: 2000, Batches: 1}}

	c := NewController(Options{
		StallThreshold: 2 * time.Second,
		Dir:            dir,
		StateFn:        src.get,
		LookupFn:       fakeLookup,
	})
	c.check(now)
	c.check(now.Add(time.Second))
	if got := readReports(t, dir); len(got) != 0 {
		t.Fatalf("expected no report below threshold, got %d", len(got))
	}

	c.check(now.Add(3 * time.Second))
	reports := readReports(t, dir)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]
	if r.WaitingOn != "index" || r.Pending != 500 || r.State.LastFolder != "host_42" {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.StalledMS != 3000 || r.ThresholdMS != 2000 {
		t.Fatalf("unexpected timings: %+v", r)
	}
	if !strings.HasPrefix(r.Profile, "stealerindex-goroutine-") {
		t.Fatalf("expected goroutine profile reference, got %q", r.Profile)
	}
	data, err := os.ReadFile(filepath.Join(dir, r.Profile))
	if err != nil || string(data) != "goroutine-profile" {
		t.Fatalf("profile not written: %v %q", err, data)
	}

	c.check(now.Add(4 * time.Second))
	if c.Reports() != 1 {
		t.Fatalf("expected one report per threshold window, got %d", c.Reports())
	}
	c.check(now.Add(5 * time.Second))
	if c.Reports() != 2 {
		t.Fatalf("expected a second report after another window, got %d", c.Reports())
	}
}

func TestCheckResetsOnProgress(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	src := &stateSource{}
	c := NewController(Options{
		StallThreshold: time.Second,
		Dir:            dir,
		StateFn:        src.get,
		LookupFn:       fakeLookup,
	})
	c.check(now)

	src.set(State{Folders: 1, RecordsProduced: 4})
	c.check(now.Add(10 * time.Second))
	if c.Reports() != 0 {
		t.Fatalf("progress must not report, got %d", c.Reports())
	}
	if !c.lastChange.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("expected change time to advance, got %v", c.lastChange)
	}
}

func TestReportWithoutProfile(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	c := NewController(Options{
		StallThreshold: time.Second,
		Dir:            dir,
		StateFn:        func() State { return State{Folders: 7} },
		LookupFn:       func(string) profileWriter { return nil },
	})
	c.check(now)
	c.check(now.Add(2 * time.Second))

	reports := readReports(t, dir)
	if len(reports) != 1 || reports[0].Profile != "" || reports[0].WaitingOn != "walker" {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestWriteProfileUnavailable(t *testing.T) {
	c := NewController(Options{Dir: t.TempDir(), LookupFn: fakeLookup})
	if _, err := c.writeProfile("heap-missing", 0, "ts"); err == nil {
		t.Fatal("expected unavailable profile to return error")
	}
}

func TestStartAndCloseWithoutThresholdIsNoop(t *testing.T) {
	c := NewController(Options{StateFn: func() State { return State{} }})
	c.Start(context.Background())
	if c.stop != nil {
		t.Fatal("expected watchdog to stay idle without a threshold")
	}
	c.Close()

	var nilController *Controller
	nilController.Start(context.Background())
	nilController.Close()
}

func TestStartStopsOnClose(t *testing.T) {
	c := NewController(Options{
		StallThreshold: time.Hour,
		Dir:            t.TempDir(),
		StateFn:        func() State { return State{} },
		LookupFn:       fakeLookup,
	})
	c.Start(context.Background())
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the watchdog")
	}
}
