// Package walker enumerates dump folders and drives classification and
// parsing for every file they hold.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"iter"

	"stealerindex/hasher"
	"stealerindex/logger"
	"stealerindex/parser"
	"stealerindex/record"
	"stealerindex/tracing"
	"stealerindex/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// FileError is a file that could not be read or decoded. It never stops the
// folder it belongs to.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FolderResult counts the outcome of every file seen in one folder.
type FolderResult struct {
	Folder       string
	FilesSeen    int
	Excluded     int
	Unrecognized int
	Duplicates   int
	Parsed       int
	Credentials  int
	Autofills    int
	Failed       []*FileError
	// Err is set when the folder itself could not be listed.
	Err error
}

type Options struct {
	MaxDepth         int
	MaxFileSize      int64
	MmapMinSize      int64
	IncludeRootFiles bool
	Filter           *utils.PatternMatcher
	Limiter          *rate.Limiter
	Duplicates       *hasher.Registry
	Clock            parser.Clock
}

type Walker struct {
	fsys       fs.FS
	classifier *parser.Classifier
	opts       Options
}

func New(fsys fs.FS, classifier *parser.Classifier, opts Options) *Walker {
	if classifier == nil {
		classifier = parser.DefaultClassifier()
	}
	return &Walker{fsys: fsys, classifier: classifier, opts: opts}
}

func (w *Walker) Folders() iter.Seq2[string, error] {
	return Folders(w.fsys, w.opts.IncludeRootFiles)
}

// ProcessFolder classifies and parses every file in folder, handing each
// record to emit. File-level failures are collected in the result. The
// returned error is non-nil only when emit failed or ctx was cancelled.
func (w *Walker) ProcessFolder(ctx context.Context, folder string, emit func(record.Record) error) (FolderResult, error) {
	ctx, endTask := tracing.StartTask(ctx, "process_folder")
	tracing.Log(ctx, "folder", folder)
	defer endTask()

	res := FolderResult{Folder: folder}
	for name, err := range Files(w.fsys, folder, w.opts.MaxDepth) {
		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}
		if err != nil {
			if name == folder {
				res.Err = err
				logger.Warnf("Failed to list folder %s: %v", folder, err)
				continue
			}
			res.FilesSeen++
			res.fail(name, err)
			continue
		}
		if err := w.processFile(ctx, name, &res, emit); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (w *Walker) processFile(ctx context.Context, name string, res *FolderResult, emit func(record.Record) error) error {
	res.FilesSeen++
	if !w.opts.Filter.ShouldInclude(name) {
		res.Excluded++
		return nil
	}
	class := w.classifier.Classify(name)
	if class == parser.Unrecognized {
		res.Unrecognized++
		logger.Debugf("Skipping unrecognized file %s", name)
		return nil
	}

	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endRegion := tracing.StartRegion(ctx, "read_file")
	content, err := readContent(w.fsys, name, w.opts.MaxFileSize, w.opts.MmapMinSize)
	endRegion()
	if err != nil {
		res.fail(name, err)
		return nil
	}
	if first, ok := w.opts.Duplicates.Add(name, content); !ok {
		res.Duplicates++
		logger.Debugf("Skipping %s: same content as %s", name, first)
		return nil
	}

	records, err := parser.For(class, w.opts.Clock).Parse(name, content)
	if err != nil {
		res.fail(name, err)
		return nil
	}
	res.Parsed++

	defer tracing.StartRegion(ctx, "parse_file")()
	for rec := range records {
		if err := emit(rec); err != nil {
			return err
		}
		switch rec.Kind() {
		case record.KindCredential:
			res.Credentials++
		case record.KindAutofill:
			res.Autofills++
		}
	}
	return nil
}

func (r *FolderResult) fail(name string, err error) {
	r.Failed = append(r.Failed, &FileError{Path: name, Err: err})
	logger.WithFields(logrus.Fields{"file": name}).Warnf("Failed to read file: %v", err)
}
