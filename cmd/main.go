package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stealerindex/config"
	"stealerindex/diag"
	"stealerindex/hasher"
	"stealerindex/index"
	"stealerindex/logger"
	"stealerindex/output"
	"stealerindex/parser"
	"stealerindex/pipeline"
	"stealerindex/tracing"
	"stealerindex/utils"
	"stealerindex/version"
	"stealerindex/walker"

	"golang.org/x/time/rate"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUnavailable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitFailure
	}

	if err := tracing.Start(cfg.TraceFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	logger.Init(cfg.LogLevel)
	logger.Infof("stealerindex %s ingesting %s into %s", version.Version, cfg.RootPath, cfg.IndexName)

	reporter, err := output.NewReporter(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	}
	defer reporter.Shutdown()

	tally := output.NewTally()
	finish := func() {
		summary := tally.Finish()
		if err := output.WriteSummary(os.Stdout, summary, cfg.SummaryFormat); err != nil {
			logger.Errorf("Failed to write summary: %v", err)
		}
		reporter.EmitSummary(summary)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	client, err := index.NewOpenSearch(index.OpenSearchConfig{
		Addresses:          cfg.Addresses(),
		Username:           cfg.OpenSearchUser,
		Password:           cfg.OpenSearchPassword,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Compress:           cfg.Compress,
	})
	if err != nil {
		logger.Errorf("%v", err)
		return exitFailure
	}
	submitter := index.NewSubmitter(client, index.Options{
		Index:           cfg.IndexName,
		BatchSize:       cfg.BatchSize,
		RetryAttempts:   cfg.RetryAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		RequestTimeout:  cfg.RequestTimeout,
	})
	if err := submitter.Start(ctx); err != nil {
		logger.Errorf("Cannot reach OpenSearch at %s: %v", cfg.Addresses()[0], err)
		tally.MarkAborted(err.Error())
		finish()
		if errors.Is(err, index.ErrIndexUnavailable) && ctx.Err() == nil {
			return exitUnavailable
		}
		return exitFailure
	}

	w, err := newWalker(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		return exitFailure
	}

	watchdog := diag.NewController(diag.Options{
		StallThreshold: cfg.DiagStallThreshold,
		Dir:            cfg.DiagDir,
		StateFn: func() diag.State {
			s := tally.Snapshot()
			return diag.State{
				Folders:          s.Folders,
				LastFolder:       tally.LastFolder(),
				RecordsProduced:  s.RecordsProduced(),
				RecordsSubmitted: s.RecordsSubmitted,
				RecordsFailed:    s.RecordsFailed,
				Batches:          s.Batches,
				BatchesFailed:    s.BatchesFailed,
			}
		},
	})
	watchdog.Start(ctx)

	opts := pipeline.Options{
		Workers:          cfg.Workers,
		BatchSize:        cfg.BatchSize,
		MaxFailedBatches: cfg.MaxFailedBatches,
	}
	if reporter != nil {
		opts.Events = reporter
	}
	err = pipeline.New(w, submitter, tally, opts).Run(ctx)
	watchdog.Close()
	finish()

	switch {
	case err == nil:
		logger.Info("Ingest completed.")
		return exitOK
	case errors.Is(err, pipeline.ErrRunAborted):
		logger.Errorf("Ingest aborted: %v", err)
	case errors.Is(err, context.Canceled):
		logger.Warn("Ingest interrupted.")
	default:
		logger.Errorf("Ingest failed: %v", err)
	}
	return exitFailure
}

func newWalker(cfg *config.Config) (*walker.Walker, error) {
	classifier := parser.NewClassifier(cfg.CredentialMarkers, cfg.AutofillMarkers)
	filter, err := utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	opts := walker.Options{
		MaxDepth:         cfg.MaxDepth,
		MaxFileSize:      cfg.MaxFileSize,
		MmapMinSize:      cfg.MmapMinSize,
		IncludeRootFiles: cfg.IncludeRootFiles,
		Filter:           filter,
	}
	if cfg.MaxFilesPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.MaxFilesPerSecond), cfg.MaxFilesPerSecond)
	}
	if cfg.SkipDuplicates {
		opts.Duplicates = hasher.NewRegistry()
	}
	return walker.New(walker.NewDirFS(cfg.RootPath), classifier, opts), nil
}

func handleSignals(cancelFunc context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancelFunc, sigChan)
}

func handleSignalEvent(cancelFunc context.CancelFunc, sigChan <-chan os.Signal) {
	sig := <-sigChan
	logger.Infof("Signal %v received. Shutting down...", sig)
	cancelFunc()
}
