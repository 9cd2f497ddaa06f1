// Package pipeline runs dump folders through a bounded worker pool and feeds
// the resulting records to the index in batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"stealerindex/index"
	"stealerindex/logger"
	"stealerindex/output"
	"stealerindex/record"
	"stealerindex/walker"

	"github.com/schollz/progressbar/v3"
)

var ErrRunAborted = errors.New("run aborted")

type Submitter interface {
	Submit(ctx context.Context, records []record.Record) (index.Result, error)
}

// Events receives per-item failures as they happen. Implementations must be
// safe for concurrent use.
type Events interface {
	FileFailed(err *walker.FileError)
	DocumentRejected(rej index.Rejection)
}

type Options struct {
	Workers   int
	BatchSize int
	// MaxFailedBatches aborts the run once this many batches were lost.
	// Zero never aborts.
	MaxFailedBatches int
	HideProgress     bool
	Events           Events
}

type Pipeline struct {
	walker    *walker.Walker
	submitter Submitter
	tally     *output.Tally
	opts      Options
}

func New(w *walker.Walker, s Submitter, tally *output.Tally, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 2000
	}
	return &Pipeline{walker: w, submitter: s, tally: tally, opts: opts}
}

// Run processes every folder under the root. It returns nil when the run
// completed, even if files or documents failed along the way. On abort or
// cancellation the unsubmitted records are counted as discarded and the
// cause is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	var folders []string
	for name, err := range p.walker.Folders() {
		if err != nil {
			return fmt.Errorf("list root folders: %w", err)
		}
		folders = append(folders, name)
	}
	logger.Infof("Found %d folders to process", len(folders))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	bar := progressbar.NewOptions(len(folders),
		progressbar.OptionSetDescription("Processing folders"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(!p.opts.HideProgress && progressVisible()),
		progressbar.OptionFullWidth(),
	)

	records := make(chan record.Record, p.opts.BatchSize)
	folderCh := make(chan string)

	go func() {
		defer close(folderCh)
		for _, folder := range folders {
			select {
			case <-ctx.Done():
				return
			case folderCh <- folder:
			}
		}
	}()

	var wg sync.WaitGroup
	for range p.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for folder := range folderCh {
				p.processFolder(ctx, folder, records)
				_ = bar.Add(1)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(records)
	}()

	p.accumulate(ctx, cancel, records)
	_ = bar.Finish()

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		p.tally.MarkAborted(cause.Error())
		return cause
	}
	return nil
}

func (p *Pipeline) processFolder(ctx context.Context, folder string, records chan<- record.Record) {
	res, err := p.walker.ProcessFolder(ctx, folder, func(rec record.Record) error {
		select {
		case records <- rec:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	})
	p.tally.AddFolder(res)
	if p.opts.Events != nil {
		for _, fe := range res.Failed {
			p.opts.Events.FileFailed(fe)
		}
	}
	if err != nil && ctx.Err() == nil {
		logger.Warnf("Folder %s stopped early: %v", folder, err)
	}
}

// accumulate is the only consumer of records, so at most one bulk request is
// in flight. While it submits, the channel fills and workers block.
func (p *Pipeline) accumulate(ctx context.Context, cancel context.CancelCauseFunc, records <-chan record.Record) {
	batch := make([]record.Record, 0, p.opts.BatchSize)
	failedBatches := 0
	discarded := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		res, err := p.submitter.Submit(ctx, batch)
		p.tally.AddSubmission(res)
		if p.opts.Events != nil {
			for _, rej := range res.Rejections {
				p.opts.Events.DocumentRejected(rej)
			}
		}
		if err != nil && errors.Is(err, index.ErrBatchFailed) {
			failedBatches += res.FailedBatches
			if p.opts.MaxFailedBatches > 0 && failedBatches >= p.opts.MaxFailedBatches {
				logger.Errorf("Aborting run after %d failed batches", failedBatches)
				cancel(fmt.Errorf("%w: %d failed batches", ErrRunAborted, failedBatches))
			}
		}
		batch = batch[:0]
	}

	for rec := range records {
		if ctx.Err() != nil {
			discarded++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= p.opts.BatchSize {
			flush()
		}
	}
	if ctx.Err() != nil {
		discarded += len(batch)
	} else {
		flush()
	}
	if discarded > 0 {
		p.tally.AddDiscarded(discarded)
		logger.Warnf("Discarded %d unsubmitted records", discarded)
	}
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("STEALERINDEX_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
