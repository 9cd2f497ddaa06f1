// Package index submits normalized records to the external document index in
// bounded bulk requests.
package index

import (
	"context"
	"errors"
)

var (
	ErrIndexUnavailable = errors.New("document index unavailable")
	ErrBatchFailed      = errors.New("bulk submission failed")
)

// Client is the narrow contract the submitter needs from a document index.
type Client interface {
	Ping(ctx context.Context) error
	// EnsureIndex creates index with mapping unless it already exists.
	EnsureIndex(ctx context.Context, index, mapping string) error
	// Bulk writes docs and reports one item per document, in order.
	Bulk(ctx context.Context, index string, docs [][]byte) ([]BulkItem, error)
}

type BulkItem struct {
	Status    int
	ErrorType string
	Reason    string
}

func (i BulkItem) Failed() bool {
	return i.Status < 200 || i.Status > 299 || i.ErrorType != ""
}

// TransientError marks a failure worth retrying, such as a dropped connection
// or an overloaded cluster.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
