package index

import (
	"context"
	"fmt"
	"time"

	"stealerindex/logger"
	"stealerindex/record"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Index           string
	BatchSize       int
	RetryAttempts   int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RequestTimeout  time.Duration
}

const (
	defaultBatchSize     = 2000
	defaultRetryAttempts = 5
)

// Rejection is one document the index refused, or that never reached it.
type Rejection struct {
	Position   int
	SourceFile string
	Status     int
	Type       string
	Reason     string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("document %d from %s rejected (%d %s): %s", r.Position, r.SourceFile, r.Status, r.Type, r.Reason)
}

// Result tallies one Submit call. Submitted+Failed always equals Attempted.
type Result struct {
	Attempted     int
	Submitted     int
	Failed        int
	Batches       int
	FailedBatches int
	Rejections    []Rejection
}

type Submitter struct {
	client Client
	opts   Options
}

func NewSubmitter(client Client, opts Options) *Submitter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = backoff.DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = backoff.DefaultMaxInterval
	}
	return &Submitter{client: client, opts: opts}
}

func (s *Submitter) BatchSize() int {
	return s.opts.BatchSize
}

// Start verifies the index is reachable and bootstraps the target index.
// Any failure, after bounded retries, wraps ErrIndexUnavailable.
func (s *Submitter) Start(ctx context.Context) error {
	_, err := retry(ctx, s, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	_, err = retry(ctx, s, "create index", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.EnsureIndex(ctx, s.opts.Index, record.Mapping)
	})
	if err != nil {
		return fmt.Errorf("%w: index %s: %v", ErrIndexUnavailable, s.opts.Index, err)
	}
	logger.Infof("Index %s ready", s.opts.Index)
	return nil
}

// Submit sends records in chunks of at most BatchSize documents. Per-document
// rejections are isolated in the result. The returned error wraps
// ErrBatchFailed when at least one chunk was lost entirely, in which case the
// result still accounts for every chunk.
func (s *Submitter) Submit(ctx context.Context, records []record.Record) (Result, error) {
	var res Result
	var lost error
	for start := 0; start < len(records); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(records))
		if err := s.submitChunk(ctx, records[start:end], start, &res); err != nil {
			lost = err
			if ctx.Err() != nil {
				remaining := len(records) - end
				res.Attempted += remaining
				res.Failed += remaining
				break
			}
		}
	}
	return res, lost
}

func (s *Submitter) submitChunk(ctx context.Context, chunk []record.Record, offset int, res *Result) error {
	res.Batches++
	res.Attempted += len(chunk)

	docs := make([][]byte, 0, len(chunk))
	positions := make([]int, 0, len(chunk))
	for i, rec := range chunk {
		doc, err := record.Marshal(rec)
		if err != nil {
			res.reject(Rejection{Position: offset + i, SourceFile: source(rec), Type: "marshal_error", Reason: err.Error()})
			continue
		}
		docs = append(docs, doc)
		positions = append(positions, i)
	}
	if len(docs) == 0 {
		return nil
	}

	items, err := retry(ctx, s, "bulk", func(ctx context.Context) ([]BulkItem, error) {
		return s.client.Bulk(ctx, s.opts.Index, docs)
	})
	if err != nil {
		res.FailedBatches++
		res.Failed += len(docs)
		logger.Errorf("Bulk request of %d documents failed: %v", len(docs), err)
		return fmt.Errorf("%w: %d documents: %v", ErrBatchFailed, len(docs), err)
	}

	rejected := 0
	for n, i := range positions {
		rec := chunk[i]
		var item BulkItem
		if n < len(items) {
			item = items[n]
		} else {
			item = BulkItem{ErrorType: "missing_item", Reason: "index returned no result for document"}
		}
		if item.Failed() {
			rejected++
			res.reject(Rejection{Position: offset + i, SourceFile: source(rec), Status: item.Status, Type: item.ErrorType, Reason: item.Reason})
			continue
		}
		res.Submitted++
	}
	if rejected > 0 {
		logger.Warnf("Index rejected %d of %d documents", rejected, len(docs))
	}
	return nil
}

func (r *Result) reject(rej Rejection) {
	r.Failed++
	r.Rejections = append(r.Rejections, rej)
	logger.WithFields(logrus.Fields{"file": rej.SourceFile, "type": rej.Type}).Debugf("Document rejected: %s", rej.Reason)
}

// retry runs op until it succeeds, fails with a non-transient error, or
// RetryAttempts is exhausted.
func retry[T any](ctx context.Context, s *Submitter, what string, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		callCtx := ctx
		if s.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}
		v, err := op(callCtx)
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.RetryAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warnf("Index %s failed, retrying in %s: %v", what, d, err)
		}),
	)
}

func source(rec record.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Source()
}
