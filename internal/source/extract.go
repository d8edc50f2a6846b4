package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

// ErrUnsupportedArchive means the downloaded file is not an archive the
// extractor understands.
var ErrUnsupportedArchive = errors.New("unsupported archive format")

// identify detects the archive format of f and rewinds it.
func identify(ctx context.Context, f *os.File) (archives.Format, error) {
	name := filepath.Base(f.Name())
	format, _, err := archives.Identify(ctx, name, f)
	if errors.Is(err, archives.NoMatch) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, name)
	}
	if err != nil {
		return nil, fmt.Errorf("identifying %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return format, nil
}

// archiveStem returns the archive file name without its format extension,
// so "lidar.tar.gz" becomes "lidar".
func archiveStem(ctx context.Context, archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	format, err := identify(ctx, f)
	if err != nil {
		return "", err
	}
	name := filepath.Base(archivePath)
	if ext := format.Extension(); ext != "" && strings.HasSuffix(strings.ToLower(name), ext) {
		if stem := name[:len(name)-len(ext)]; stem != "" {
			return stem, nil
		}
	}
	if stem := strings.TrimSuffix(name, filepath.Ext(name)); stem != "" {
		return stem, nil
	}
	return name, nil
}

// Extract unpacks the archive at archivePath into dest. Entries that would
// land outside dest fail the extraction; links and special files are
// skipped.
func Extract(ctx context.Context, archivePath, dest string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, err := identify(ctx, f)
	if err != nil {
		return err
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("%w: %s is compressed but not an archive", ErrUnsupportedArchive, filepath.Base(archivePath))
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	var files int
	err = ex.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := sanitize.EntryPath(dest, info.NameInArchive)
		if err != nil {
			return fmt.Errorf("entry %q: %w", info.NameInArchive, err)
		}

		switch {
		case info.IsDir():
			return os.MkdirAll(target, 0o755)
		case info.LinkTarget != "" || !info.Mode().IsRegular():
			logger.Debug(ctx, "skipping archive entry",
				zap.String("entry", info.NameInArchive),
				zap.Stringer("mode", info.Mode()),
			)
			return nil
		}

		if err := writeEntry(target, info); err != nil {
			return fmt.Errorf("entry %q: %w", info.NameInArchive, err)
		}
		files++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "archive extracted",
		zap.String("archive", filepath.Base(archivePath)),
		zap.String("dest", dest),
		zap.Int("files", files),
	)
	return nil
}

func writeEntry(target string, info archives.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := info.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
