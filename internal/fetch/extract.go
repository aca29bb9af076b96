package fetch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/tasktree/internal/logging"
)

// ErrUnsafePath is returned when an archive entry would be written outside
// the destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ZipExtractor writes selected archive entries to disk.
type ZipExtractor struct {
	logger *logging.Logger
}

// NewZipExtractor creates an extractor. A nil logger discards output.
func NewZipExtractor(logger *logging.Logger) *ZipExtractor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ZipExtractor{logger: logger}
}

// Extract writes every file entry accepted by filter into destDir. rename
// maps an entry name to its relative destination; a nil rename keeps the
// entry name. Entries mapped to an empty name are skipped.
func (x *ZipExtractor) Extract(ctx context.Context, archive *zip.Reader, filter func(*zip.File) bool, destDir string, rename func(string) string) error {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	written := 0
	for _, f := range archive.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || (filter != nil && !filter(f)) {
			continue
		}

		name := f.Name
		if rename != nil {
			name = rename(name)
		}
		name = strings.TrimLeft(name, "/")
		if name == "" {
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}
		if err := writeEntry(f, target); err != nil {
			return err
		}
		written++
	}

	x.logger.Debug("extracted archive entries", "destination", root, "files", written)
	return nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return dst.Close()
}
