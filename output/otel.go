package output

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"stealerindex/config"
	"stealerindex/index"
	"stealerindex/logger"
	"stealerindex/walker"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Reporter exports run events as OTLP log records. A nil Reporter is valid
// and drops everything.
type Reporter struct {
	provider     *sdklog.LoggerProvider
	logger       otelLog.Logger
	timeout      time.Duration
	endpoint     string
	includePaths bool
}

// NewReporter returns nil, nil when no endpoint is configured.
func NewReporter(cfg *config.Config) (*Reporter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &Reporter{
		provider:     provider,
		logger:       provider.Logger("stealerindex"),
		timeout:      cfg.OtelTimeout,
		endpoint:     endpoint,
		includePaths: cfg.OtelExportPaths,
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (r *Reporter) Endpoint() string {
	if r == nil {
		return ""
	}
	return r.endpoint
}

func (r *Reporter) FileFailed(err *walker.FileError) {
	if r == nil || err == nil {
		return
	}
	r.emit("stealerindex.file_failed", otelLog.SeverityWarn, fileFailedAttributes(err, r.includePaths))
}

func (r *Reporter) DocumentRejected(rej index.Rejection) {
	if r == nil {
		return
	}
	r.emit("stealerindex.document_rejected", otelLog.SeverityWarn, rejectionAttributes(rej, r.includePaths))
}

func (r *Reporter) EmitSummary(s Summary) {
	if r == nil {
		return
	}
	severity := otelLog.SeverityInfo
	if s.Aborted {
		severity = otelLog.SeverityError
	}
	r.emit("stealerindex.run_summary", severity, summaryAttributes(s))
}

func (r *Reporter) emit(event string, severity otelLog.Severity, attrs []otelLog.KeyValue) {
	if r.logger == nil {
		return
	}
	now := time.Now()
	var rec otelLog.Record
	rec.SetTimestamp(now)
	rec.SetObservedTimestamp(now)
	rec.SetEventName(event)
	rec.SetSeverity(severity)
	rec.SetBody(otelLog.StringValue(event))
	rec.AddAttributes(attrs...)
	r.logger.Emit(context.Background(), rec)
}

func (r *Reporter) Shutdown() {
	if r == nil || r.provider == nil {
		return
	}
	timeout := r.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// fileFailedAttributes always carries the base name; the full relative path
// only when paths may be exported.
func fileFailedAttributes(err *walker.FileError, includePaths bool) []otelLog.KeyValue {
	kvs := []otelLog.KeyValue{
		otelLog.String(string(semconv.FileNameKey), path.Base(err.Path)),
		otelLog.String("stealerindex.error", err.Err.Error()),
	}
	if includePaths {
		kvs = append(kvs,
			otelLog.String(string(semconv.FilePathKey), err.Path),
			otelLog.String(string(semconv.FileDirectoryKey), path.Dir(err.Path)),
		)
	}
	return kvs
}

func rejectionAttributes(rej index.Rejection, includePaths bool) []otelLog.KeyValue {
	kvs := []otelLog.KeyValue{
		otelLog.Int("stealerindex.document.position", rej.Position),
		otelLog.Int("stealerindex.document.status", rej.Status),
		otelLog.String("stealerindex.document.error_type", rej.Type),
		otelLog.String("stealerindex.document.reason", rej.Reason),
	}
	if includePaths && rej.SourceFile != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), rej.SourceFile))
	}
	return kvs
}

func summaryAttributes(s Summary) []otelLog.KeyValue {
	kvs := []otelLog.KeyValue{
		otelLog.String("stealerindex.run.start_time", s.StartTime),
		otelLog.String("stealerindex.run.end_time", s.EndTime),
		otelLog.Int("stealerindex.run.folders", s.Folders),
		otelLog.Int("stealerindex.run.folders_failed", s.FoldersFailed),
		otelLog.Int("stealerindex.run.files_seen", s.FilesSeen),
		otelLog.Int("stealerindex.run.files_skipped", s.FilesSkipped()),
		otelLog.Int("stealerindex.run.files_failed", s.FilesFailed),
		otelLog.Int("stealerindex.run.credentials_produced", s.CredentialsProduced),
		otelLog.Int("stealerindex.run.autofills_produced", s.AutofillsProduced),
		otelLog.Int("stealerindex.run.records_submitted", s.RecordsSubmitted),
		otelLog.Int("stealerindex.run.records_failed", s.RecordsFailed),
		otelLog.Int("stealerindex.run.records_discarded", s.RecordsDiscarded),
		otelLog.Int("stealerindex.run.batches_failed", s.BatchesFailed),
		otelLog.Bool("stealerindex.run.aborted", s.Aborted),
	}
	if s.AbortReason != "" {
		kvs = append(kvs, otelLog.String("stealerindex.run.abort_reason", s.AbortReason))
	}
	return kvs
}
