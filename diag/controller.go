// Package diag watches run progress and dumps goroutine stacks when ingest
// stalls, typically on a hung index connection.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"stealerindex/logger"
)

// State is the slice of run counters the watchdog compares between ticks.
type State struct {
	Folders          int    `json:"folders"`
	LastFolder       string `json:"last_folder,omitempty"`
	RecordsProduced  int    `json:"records_produced"`
	RecordsSubmitted int    `json:"records_submitted"`
	RecordsFailed    int    `json:"records_failed"`
	Batches          int    `json:"batches"`
	BatchesFailed    int    `json:"batches_failed"`
}

// Pending counts records parsed but not yet answered by the index.
func (s State) Pending() int {
	return max(s.RecordsProduced-s.RecordsSubmitted-s.RecordsFailed, 0)
}

func (s State) progress() int64 {
	return int64(s.Folders + s.RecordsProduced + s.RecordsSubmitted + s.RecordsFailed + s.Batches)
}

// WaitingOn names the stage that holds the run: "index" while parsed records
// wait on a bulk response, "walker" otherwise.
func (s State) WaitingOn() string {
	if s.Pending() > 0 {
		return "index"
	}
	return "walker"
}

type stallReport struct {
	Event       string `json:"event"`
	Timestamp   string `json:"timestamp"`
	WaitingOn   string `json:"waiting_on"`
	Pending     int    `json:"records_pending"`
	ThresholdMS int64  `json:"threshold_ms"`
	StalledMS   int64  `json:"stalled_ms"`
	State       State  `json:"state"`
	Profile     string `json:"goroutine_profile,omitempty"`
}

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	StallThreshold time.Duration
	Dir            string
	StateFn        func() State
	NowFn          func() time.Time
	LookupFn       func(name string) profileWriter
}

// Controller reports a stall once per threshold window while the run makes
// no progress.
type Controller struct {
	opts Options

	mu          sync.Mutex
	last        State
	lastChange  time.Time
	lastReport  time.Time
	stop, done  chan struct{}
	reportCount int
}

func NewController(opts Options) *Controller {
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	if opts.LookupFn == nil {
		opts.LookupFn = func(name string) profileWriter {
			// pprof.Lookup returns a typed nil for unknown profiles.
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Controller{opts: opts}
}

// Start polls the run state until ctx ends or Close is called. It does
// nothing without a positive threshold and a state source.
func (c *Controller) Start(ctx context.Context) {
	if c == nil || c.opts.StallThreshold <= 0 || c.opts.StateFn == nil || c.stop != nil {
		return
	}
	c.mu.Lock()
	c.last = c.opts.StateFn()
	c.lastChange = c.opts.NowFn()
	c.lastReport = time.Time{}
	c.mu.Unlock()

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	tick := min(max(c.opts.StallThreshold/2, 250*time.Millisecond), 2*time.Second)

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.check(c.opts.NowFn())
			}
		}
	}()
}

func (c *Controller) Close() {
	if c == nil || c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

// Reports returns how many stall reports were written.
func (c *Controller) Reports() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportCount
}

func (c *Controller) check(now time.Time) {
	if c.opts.StateFn == nil || c.opts.StallThreshold <= 0 {
		return
	}
	state := c.opts.StateFn()

	c.mu.Lock()
	if state.progress() != c.last.progress() || c.lastChange.IsZero() {
		c.last, c.lastChange = state, now
		c.mu.Unlock()
		return
	}
	stalled := now.Sub(c.lastChange)
	due := stalled >= c.opts.StallThreshold &&
		(c.lastReport.IsZero() || now.Sub(c.lastReport) >= c.opts.StallThreshold)
	if due {
		c.lastReport = now
	}
	c.mu.Unlock()
	if !due {
		return
	}

	logger.WithFields(map[string]any{
		"waiting_on":  state.WaitingOn(),
		"pending":     state.Pending(),
		"last_folder": state.LastFolder,
	}).Warnf("No ingest progress for %s, writing diagnostics to %s", stalled.Round(time.Millisecond), c.opts.Dir)
	if err := c.writeReport(now, state, stalled); err != nil {
		logger.Warnf("Stall report failed: %v", err)
		return
	}
	c.mu.Lock()
	c.reportCount++
	c.mu.Unlock()
}

func (c *Controller) writeReport(now time.Time, state State, stalled time.Duration) error {
	if err := os.MkdirAll(c.opts.Dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")

	report := stallReport{
		Event:       "ingest_stalled",
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		WaitingOn:   state.WaitingOn(),
		Pending:     state.Pending(),
		ThresholdMS: c.opts.StallThreshold.Milliseconds(),
		StalledMS:   stalled.Milliseconds(),
		State:       state,
	}
	// The report is still useful without stacks.
	if path, err := c.writeProfile("goroutine", 2, ts); err != nil {
		logger.Warnf("Goroutine profile unavailable: %v", err)
	} else {
		report.Profile = filepath.Base(path)
	}

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.opts.Dir, "stealerindex-stall-"+ts+".json"), b, 0600)
}

func (c *Controller) writeProfile(name string, debug int, ts string) (string, error) {
	profile := c.opts.LookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	path := filepath.Join(c.opts.Dir, fmt.Sprintf("stealerindex-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
