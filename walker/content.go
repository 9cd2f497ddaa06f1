package walker

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"stealerindex/logger"
	"stealerindex/utils"

	"golang.org/x/exp/mmap"
)

var (
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	ErrOutsideRoot  = errors.New("file resolves outside the scanned root")
)

type mmapReader = mmap.ReaderAt

var openMmapReader = mmap.Open

const defaultMmapBytes = 128 * 1024

// readContent loads a whole file. Files on a DirFS at or above mmapMinSize
// are mapped instead of streamed; a failed mapping falls back to streaming.
func readContent(fsys fs.FS, name string, maxSize, mmapMinSize int64) ([]byte, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, info.Size(), maxSize)
	}

	if local, ok := fsys.(localFS); ok {
		localPath := local.LocalPath(name)
		if !utils.IsPathWithin(localPath, local.Root()) {
			return nil, ErrOutsideRoot
		}
		if mmapMinSize == 0 {
			mmapMinSize = defaultMmapBytes
		}
		if mmapMinSize > 0 && info.Size() >= mmapMinSize {
			content, err := readContentMmap(localPath)
			if err == nil {
				return content, nil
			}
			logger.Debugf("mmap read failed for %s, streaming instead: %v", name, err)
		}
	}
	return readContentStream(fsys, name, maxSize)
}

func readContentMmap(localPath string) ([]byte, error) {
	r, err := openMmapReader(localPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if r.Len() == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// readContentStream never returns more than maxSize bytes, even if the file
// grew after it was stat'ed.
func readContentStream(fsys fs.FS, name string, maxSize int64) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if maxSize > 0 {
		r = io.LimitReader(f, maxSize)
	}
	return io.ReadAll(r)
}
