package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"stealerindex/version"

	"github.com/shirou/gopsutil/v4/cpu"
)

const envPrefix = "STEALERINDEX_"

type Config struct {
	RootPath             string            `json:"root_path"`
	OpenSearchHost       string            `json:"opensearch_host"`
	OpenSearchPort       int               `json:"opensearch_port"`
	OpenSearchScheme     string            `json:"opensearch_scheme"`
	OpenSearchUser       string            `json:"opensearch_user"`
	OpenSearchPassword   string            `json:"opensearch_password"`
	IndexName            string            `json:"index_name"`
	InsecureSkipVerify   bool              `json:"insecure_skip_verify"`
	Compress             bool              `json:"compress"`
	BatchSize            int               `json:"batch_size"`
	RetryAttempts        int               `json:"retry_attempts"`
	RetryInitialInterval time.Duration     `json:"retry_initial_interval"`
	RetryMaxInterval     time.Duration     `json:"retry_max_interval"`
	RequestTimeout       time.Duration     `json:"request_timeout"`
	MaxFailedBatches     int               `json:"max_failed_batches"`
	Workers              int               `json:"workers"`
	MaxDepth             int               `json:"max_depth"`
	IncludePatterns      []string          `json:"include_patterns"`
	ExcludePatterns      []string          `json:"exclude_patterns"`
	CredentialMarkers    []string          `json:"credential_markers"`
	AutofillMarkers      []string          `json:"autofill_markers"`
	MaxFileSize          int64             `json:"max_file_size"`
	MmapMinSize          int64             `json:"mmap_min_size"`
	MaxFilesPerSecond    int               `json:"max_files_per_second"`
	SkipDuplicates       bool              `json:"skip_duplicates"`
	IncludeRootFiles     bool              `json:"include_root_files"`
	SummaryFormat        string            `json:"summary_format"`
	LogLevel             string            `json:"log_level"`
	ConfigFile           string            `json:"config_file"`
	TraceFile            string            `json:"trace_file"`
	DiagStallThreshold   time.Duration     `json:"diag_stall_threshold"`
	DiagDir              string            `json:"diag_dir"`
	OtelEndpoint         string            `json:"otel_endpoint"`
	OtelFromEnv          bool              `json:"otel_from_env"`
	OtelHeaders          map[string]string `json:"otel_headers"`
	OtelServiceName      string            `json:"otel_service_name"`
	OtelTimeout          time.Duration     `json:"otel_timeout"`
	OtelExportPaths      bool              `json:"otel_export_paths"`
}

func defaultConfig() *Config {
	return &Config{
		RootPath:             "./data",
		OpenSearchHost:       "localhost",
		OpenSearchPort:       9200,
		OpenSearchScheme:     "http",
		IndexName:            "stealer_data",
		Compress:             true,
		BatchSize:            2000,
		RetryAttempts:        5,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
		RequestTimeout:       30 * time.Second,
		MaxFailedBatches:     3,
		Workers:              defaultWorkers(),
		MaxDepth:             4,
		IncludePatterns:      []string{},
		ExcludePatterns:      []string{},
		CredentialMarkers:    []string{"password"},
		AutofillMarkers:      []string{"autofill"},
		MaxFileSize:          64 * 1024 * 1024,
		MmapMinSize:          128 * 1024,
		SkipDuplicates:       true,
		IncludeRootFiles:     true,
		SummaryFormat:        "text",
		LogLevel:             "info",
		TraceFile:            "trace.out",
		DiagDir:              ".",
		OtelHeaders:          map[string]string{},
		OtelServiceName:      "stealerindex",
		OtelTimeout:          5 * time.Second,
	}
}

// defaultWorkers prefers physical cores; parsing gains little from SMT siblings.
func defaultWorkers() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Addresses returns the OpenSearch node URL built from scheme, host and port.
func (cfg *Config) Addresses() []string {
	host := net.JoinHostPort(cfg.OpenSearchHost, strconv.Itoa(cfg.OpenSearchPort))
	return []string{cfg.OpenSearchScheme + "://" + host}
}

func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	rootPath := flag.String("path", cfg.RootPath, fmt.Sprintf("Root folder holding one subfolder per dump (default: %s).", cfg.RootPath))
	host := flag.String("opensearch-host", cfg.OpenSearchHost, fmt.Sprintf("OpenSearch host (default: %s).", cfg.OpenSearchHost))
	port := flag.Int("opensearch-port", cfg.OpenSearchPort, fmt.Sprintf("OpenSearch port (default: %d).", cfg.OpenSearchPort))
	scheme := flag.String("opensearch-scheme", cfg.OpenSearchScheme, "OpenSearch scheme: http or https (default: http).")
	user := flag.String("opensearch-user", "", "OpenSearch user (default: none).")
	password := flag.String("opensearch-password", "", "OpenSearch password (default: none).")
	indexName := flag.String("index", cfg.IndexName, fmt.Sprintf("Target index name (default: %s).", cfg.IndexName))
	insecure := flag.Bool("insecure-skip-verify", cfg.InsecureSkipVerify, "Skip TLS certificate verification (default: false).")
	compress := flag.Bool("compress", cfg.Compress, "Gzip bulk request bodies (default: true).")
	batchSize := flag.Int("batch-size", cfg.BatchSize, fmt.Sprintf("Maximum documents per bulk request (default: %d).", cfg.BatchSize))
	retryAttempts := flag.Int("retry-attempts", cfg.RetryAttempts, fmt.Sprintf("Attempts per request on transient failures (default: %d).", cfg.RetryAttempts))
	retryInitial := flag.Duration("retry-initial-interval", cfg.RetryInitialInterval, "Initial retry backoff (default: 500ms).")
	retryMax := flag.Duration("retry-max-interval", cfg.RetryMaxInterval, "Maximum retry backoff (default: 10s).")
	requestTimeout := flag.Duration("request-timeout", cfg.RequestTimeout, "Timeout per OpenSearch request (default: 30s).")
	maxFailedBatches := flag.Int(
		"max-failed-batches",
		cfg.MaxFailedBatches,
		fmt.Sprintf("Abort the run after this many lost batches (default: %d, 0 means never).", cfg.MaxFailedBatches),
	)
	workers := flag.Int("workers", cfg.Workers, fmt.Sprintf("Folders processed in parallel (default: %d).", cfg.Workers))
	maxDepth := flag.Int("max-depth", cfg.MaxDepth, fmt.Sprintf("Maximum directory depth inside a dump folder (default: %d, 0 means unlimited).", cfg.MaxDepth))
	includes := flag.String("include", "", "Comma-separated list of include patterns (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns (default: none).")
	credentialMarkers := flag.String("credential-markers", strings.Join(cfg.CredentialMarkers, ","), "Comma-separated filename markers of credential files (default: password).")
	autofillMarkers := flag.String("autofill-markers", strings.Join(cfg.AutofillMarkers, ","), "Comma-separated filename markers of autofill files (default: autofill).")
	maxFileSize := flag.Int64("max-file-size", cfg.MaxFileSize, fmt.Sprintf("Maximum file size to read in bytes (default: %d, 0 means unlimited).", cfg.MaxFileSize))
	mmapMinSize := flag.Int64(
		"mmap-min-size",
		cfg.MmapMinSize,
		"Minimum file size in bytes for mmap reads (default: 131072, negative disables mmap).",
	)
	maxFilesPerSecond := flag.Int("max-files-per-second", cfg.MaxFilesPerSecond, "Maximum files read per second (default: 0, unlimited).")
	skipDuplicates := flag.Bool("skip-duplicates", cfg.SkipDuplicates, "Skip files whose content was already parsed in this run (default: true).")
	includeRootFiles := flag.Bool("include-root-files", cfg.IncludeRootFiles, "Process files lying directly in the root folder (default: true).")
	summaryFormat := flag.String("summary-format", cfg.SummaryFormat, "Run summary format: text or json (default: text).")
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	traceFile := flag.String("trace-file", cfg.TraceFile, "Execution trace output file for trace builds (default: trace.out).")
	diagStallThreshold := flag.Duration(
		"diag-stall-threshold",
		cfg.DiagStallThreshold,
		"If positive, dump goroutine stacks when no progress is made for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: stealerindex).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include file paths in OTEL payloads (default: false).")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = displayHelp
	flag.Parse()
	if *showVersion {
		fmt.Printf("stealerindex version %s\n", version.Version)
		os.Exit(0)
	}
	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.RootPath = *rootPath
		case "opensearch-host":
			cfg.OpenSearchHost = strings.TrimSpace(*host)
		case "opensearch-port":
			cfg.OpenSearchPort = *port
		case "opensearch-scheme":
			cfg.OpenSearchScheme = *scheme
		case "opensearch-user":
			cfg.OpenSearchUser = *user
		case "opensearch-password":
			cfg.OpenSearchPassword = *password
		case "index":
			cfg.IndexName = strings.TrimSpace(*indexName)
		case "insecure-skip-verify":
			cfg.InsecureSkipVerify = *insecure
		case "compress":
			cfg.Compress = *compress
		case "batch-size":
			cfg.BatchSize = *batchSize
		case "retry-attempts":
			cfg.RetryAttempts = *retryAttempts
		case "retry-initial-interval":
			cfg.RetryInitialInterval = *retryInitial
		case "retry-max-interval":
			cfg.RetryMaxInterval = *retryMax
		case "request-timeout":
			cfg.RequestTimeout = *requestTimeout
		case "max-failed-batches":
			cfg.MaxFailedBatches = *maxFailedBatches
		case "workers":
			cfg.Workers = *workers
		case "max-depth":
			cfg.MaxDepth = *maxDepth
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "credential-markers":
			cfg.CredentialMarkers = parseCommaSeparated(*credentialMarkers)
		case "autofill-markers":
			cfg.AutofillMarkers = parseCommaSeparated(*autofillMarkers)
		case "max-file-size":
			cfg.MaxFileSize = *maxFileSize
		case "mmap-min-size":
			cfg.MmapMinSize = *mmapMinSize
		case "max-files-per-second":
			cfg.MaxFilesPerSecond = *maxFilesPerSecond
		case "skip-duplicates":
			cfg.SkipDuplicates = *skipDuplicates
		case "include-root-files":
			cfg.IncludeRootFiles = *includeRootFiles
		case "summary-format":
			cfg.SummaryFormat = *summaryFormat
		case "log-level":
			cfg.LogLevel = *logLevel
		case "trace-file":
			cfg.TraceFile = strings.TrimSpace(*traceFile)
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStallThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		}
	})
	cfg.OpenSearchScheme = strings.ToLower(strings.TrimSpace(cfg.OpenSearchScheme))
	cfg.SummaryFormat = strings.ToLower(strings.TrimSpace(cfg.SummaryFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func displayHelp() {
	fmt.Println("stealerindex - stealer log ingest for OpenSearch")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  stealerindex [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  STEALERINDEX_OPENSEARCH_HOST, _PORT, _SCHEME, _USER, _PASSWORD, _INDEX")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  stealerindex --path ./data")
	fmt.Println("  stealerindex --path /dumps --opensearch-host search.local --batch-size 500")
	fmt.Println("  stealerindex --exclude \"re:^tmp/\" --summary-format json")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

// fileDuration decodes either a Go duration string ("500ms") or integer
// nanoseconds.
type fileDuration time.Duration

func (d *fileDuration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = fileDuration(parsed)
	case float64:
		*d = fileDuration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (cfg *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		RetryInitialInterval *fileDuration `json:"retry_initial_interval"`
		RetryMaxInterval     *fileDuration `json:"retry_max_interval"`
		RequestTimeout       *fileDuration `json:"request_timeout"`
		DiagStallThreshold   *fileDuration `json:"diag_stall_threshold"`
		OtelTimeout          *fileDuration `json:"otel_timeout"`
	}{
		plain:                (*plain)(cfg),
		RetryInitialInterval: (*fileDuration)(&cfg.RetryInitialInterval),
		RetryMaxInterval:     (*fileDuration)(&cfg.RetryMaxInterval),
		RequestTimeout:       (*fileDuration)(&cfg.RequestTimeout),
		DiagStallThreshold:   (*fileDuration)(&cfg.DiagStallThreshold),
		OtelTimeout:          (*fileDuration)(&cfg.OtelTimeout),
	}
	return json.Unmarshal(data, &aux)
}

// applyEnv overlays connection settings from the environment. Unset or empty
// variables leave the current value alone.
func (cfg *Config) applyEnv(getenv func(string) string) error {
	lookup := func(name string) (string, bool) {
		value := strings.TrimSpace(getenv(envPrefix + "OPENSEARCH_" + name))
		return value, value != ""
	}
	if v, ok := lookup("HOST"); ok {
		cfg.OpenSearchHost = v
	}
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sOPENSEARCH_PORT: %q", envPrefix, v)
		}
		cfg.OpenSearchPort = port
	}
	if v, ok := lookup("SCHEME"); ok {
		cfg.OpenSearchScheme = v
	}
	if v, ok := lookup("USER"); ok {
		cfg.OpenSearchUser = v
	}
	if v, ok := lookup("PASSWORD"); ok {
		cfg.OpenSearchPassword = v
	}
	if v, ok := lookup("INDEX"); ok {
		cfg.IndexName = v
	}
	return nil
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.RootPath) == "" {
		return fmt.Errorf("root path must be specified")
	}
	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		return fmt.Errorf("root path %s: %v", cfg.RootPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}
	if strings.TrimSpace(cfg.OpenSearchHost) == "" {
		return fmt.Errorf("opensearch host must be specified")
	}
	if cfg.OpenSearchPort < 1 || cfg.OpenSearchPort > 65535 {
		return fmt.Errorf("opensearch port must be between 1 and 65535")
	}
	if cfg.OpenSearchScheme != "http" && cfg.OpenSearchScheme != "https" {
		return fmt.Errorf("invalid opensearch scheme: %s", cfg.OpenSearchScheme)
	}
	if strings.TrimSpace(cfg.IndexName) == "" {
		return fmt.Errorf("index name must be specified")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if cfg.RetryAttempts <= 0 {
		return fmt.Errorf("retry-attempts must be positive")
	}
	if cfg.RetryInitialInterval < 0 || cfg.RetryMaxInterval < 0 {
		return fmt.Errorf("retry intervals must be zero or positive")
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("request-timeout must be zero or positive")
	}
	if cfg.MaxFailedBatches < 0 {
		return fmt.Errorf("max-failed-batches must be zero or positive")
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max-depth must be zero or positive")
	}
	if cfg.MaxFileSize < 0 {
		return fmt.Errorf("max-file-size must be zero or positive")
	}
	if cfg.MaxFilesPerSecond < 0 {
		return fmt.Errorf("max-files-per-second must be zero or positive")
	}
	if !hasNonEmpty(cfg.CredentialMarkers) && !hasNonEmpty(cfg.AutofillMarkers) {
		return fmt.Errorf("at least one credential or autofill marker must be specified")
	}
	if cfg.SummaryFormat != "text" && cfg.SummaryFormat != "json" {
		return fmt.Errorf("invalid summary format: %s", cfg.SummaryFormat)
	}
	if cfg.DiagStallThreshold < 0 {
		return fmt.Errorf("diag-stall-threshold must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func hasNonEmpty(items []string) bool {
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			return true
		}
	}
	return false
}
