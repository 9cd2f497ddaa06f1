package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"stealerindex/logger"
	"stealerindex/record"
)

func init() {
	logger.Init("error")
}

type fakeClient struct {
	pingErrs   []error
	bulkErrs   []error
	reject     map[string]bool
	pings      int
	bulkCalls  int
	maxBulkLen int
	indexed    int
}

func (f *fakeClient) Ping(context.Context) error {
	f.pings++
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) EnsureIndex(context.Context, string, string) error {
	return nil
}

func (f *fakeClient) Bulk(_ context.Context, _ string, docs [][]byte) ([]BulkItem, error) {
	f.bulkCalls++
	f.maxBulkLen = max(f.maxBulkLen, len(docs))
	if len(f.bulkErrs) > 0 {
		err := f.bulkErrs[0]
		f.bulkErrs = f.bulkErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	items := make([]BulkItem, len(docs))
	for i, doc := range docs {
		if f.reject[string(doc)] {
			items[i] = BulkItem{Status: 400, ErrorType: "mapper_parsing_exception", Reason: "failed to parse"}
			continue
		}
		items[i] = BulkItem{Status: 201}
		f.indexed++
	}
	return items, nil
}

func fastOptions() Options {
	return Options{
		Index:           "stealer_data",
		BatchSize:       2,
		RetryAttempts:   3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func credentials(n int) []record.Record {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Credential{Email: string(rune('a' + i)), Password: "pw", SourceFile: "A/password.txt", Timestamp: ts}
	}
	return out
}

func TestSubmitPartialRejection(t *testing.T) {
	recs := credentials(3)
	bad, err := record.Marshal(recs[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &fakeClient{reject: map[string]bool{string(bad): true}}
	opts := fastOptions()
	opts.BatchSize = 10
	s := NewSubmitter(client, opts)

	res, err := s.Submit(context.Background(), recs)
	if err != nil {
		t.Fatalf("partial rejection must not fail the batch: %v", err)
	}
	if res.Attempted != 3 || res.Submitted != 2 || res.Failed != 1 || res.FailedBatches != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].Position != 1 || res.Rejections[0].Type != "mapper_parsing_exception" {
		t.Fatalf("unexpected rejections %+v", res.Rejections)
	}
}

func TestSubmitRespectsBatchSize(t *testing.T) {
	client := &fakeClient{}
	s := NewSubmitter(client, fastOptions())
	res, err := s.Submit(context.Background(), credentials(5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if client.maxBulkLen > 2 {
		t.Fatalf("bulk request of %d documents exceeds batch size", client.maxBulkLen)
	}
	if res.Batches != 3 || res.Submitted != 5 || client.indexed != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	transient := &TransientError{Err: errors.New("connection reset")}
	client := &fakeClient{bulkErrs: []error{transient, transient}}
	s := NewSubmitter(client, fastOptions())
	res, err := s.Submit(context.Background(), credentials(2))
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if client.bulkCalls != 3 || res.Submitted != 2 {
		t.Fatalf("expected 3 bulk calls and 2 submitted, got %d and %+v", client.bulkCalls, res)
	}
}

func TestSubmitGivesUpAfterBoundedAttempts(t *testing.T) {
	transient := &TransientError{Err: errors.New("connection refused")}
	client := &fakeClient{bulkErrs: []error{transient, transient, transient}}
	s := NewSubmitter(client, fastOptions())
	res, err := s.Submit(context.Background(), credentials(4))
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}
	if res.FailedBatches != 1 || res.Failed != 2 || res.Submitted != 2 {
		t.Fatalf("expected first chunk lost and second submitted, got %+v", res)
	}
	if client.bulkCalls != 4 {
		t.Fatalf("expected 3 attempts then 1 for the next chunk, got %d", client.bulkCalls)
	}
}

func TestSubmitDoesNotRetryPermanentErrors(t *testing.T) {
	client := &fakeClient{bulkErrs: []error{errors.New("request too large")}}
	s := NewSubmitter(client, fastOptions())
	_, err := s.Submit(context.Background(), credentials(1))
	if !errors.Is(err, ErrBatchFailed) || client.bulkCalls != 1 {
		t.Fatalf("expected a single failed attempt, got %v after %d calls", err, client.bulkCalls)
	}
}

func TestSubmitMarshalFailureIsRejection(t *testing.T) {
	client := &fakeClient{}
	s := NewSubmitter(client, fastOptions())
	res, err := s.Submit(context.Background(), []record.Record{nil, credentials(1)[0]})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Failed != 1 || res.Submitted != 1 || res.Rejections[0].Type != "marshal_error" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStartUnavailable(t *testing.T) {
	down := &TransientError{Err: errors.New("dial tcp: connection refused")}
	client := &fakeClient{pingErrs: []error{down, down, down}}
	s := NewSubmitter(client, fastOptions())
	if err := s.Start(context.Background()); !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if client.pings != 3 {
		t.Fatalf("expected bounded ping attempts, got %d", client.pings)
	}

	client = &fakeClient{pingErrs: []error{down}}
	if err := NewSubmitter(client, fastOptions()).Start(context.Background()); err != nil {
		t.Fatalf("expected recovery after one failure: %v", err)
	}
}
