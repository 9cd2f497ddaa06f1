package index

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

type OpenSearchConfig struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Compress           bool
}

// OpenSearch adapts opensearchapi.Client to Client. Retries are left to the
// Submitter, so the transport's own retry loop is disabled.
type OpenSearch struct {
	client *opensearchapi.Client
}

func NewOpenSearch(cfg OpenSearchConfig) (*OpenSearch, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:           cfg.Addresses,
			Username:            cfg.Username,
			Password:            cfg.Password,
			Transport:           transport,
			CompressRequestBody: cfg.Compress,
			DisableRetry:        true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &OpenSearch{client: client}, nil
}

func (o *OpenSearch) Ping(ctx context.Context) error {
	_, err := o.client.Info(ctx, nil)
	return classify(err)
}

func (o *OpenSearch) EnsureIndex(ctx context.Context, index, mapping string) error {
	_, err := o.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: index,
		Body:  strings.NewReader(mapping),
	})
	var structErr *opensearch.StructError
	if errors.As(err, &structErr) && structErr.Err.Type == "resource_already_exists_exception" {
		return nil
	}
	return classify(err)
}

var bulkAction = []byte(`{"index":{}}` + "\n")

func (o *OpenSearch) Bulk(ctx context.Context, index string, docs [][]byte) ([]BulkItem, error) {
	var body bytes.Buffer
	for _, doc := range docs {
		body.Write(bulkAction)
		body.Write(doc)
		body.WriteByte('\n')
	}
	resp, err := o.client.Bulk(ctx, opensearchapi.BulkReq{Index: index, Body: &body})
	if err != nil {
		return nil, classify(err)
	}

	items := make([]BulkItem, 0, len(resp.Items))
	for _, entry := range resp.Items {
		for _, item := range entry {
			out := BulkItem{Status: item.Status}
			if item.Error != nil {
				out.ErrorType = item.Error.Type
				out.Reason = item.Error.Reason
			}
			items = append(items, out)
		}
	}
	return items, nil
}

// classify wraps errors worth retrying in TransientError: transport failures,
// 429 and 5xx responses. Other API errors are returned as is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if status, ok := statusOf(err); ok {
		if status == http.StatusTooManyRequests || status >= 500 {
			return &TransientError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Err: err}
}

func statusOf(err error) (int, bool) {
	var structErr *opensearch.StructError
	if errors.As(err, &structErr) {
		return structErr.Status, true
	}
	var stringErr *opensearch.StringError
	if errors.As(err, &stringErr) {
		return stringErr.Status, true
	}
	return 0, false
}
