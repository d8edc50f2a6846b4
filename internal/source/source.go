// Package source fetches the import input from team storage into a local
// project directory: a remote directory is downloaded as is, a remote archive
// is downloaded and extracted.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/layout"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

var (
	// ErrLayoutViolation means the input holds neither meta.json nor a
	// single top-level project directory.
	ErrLayoutViolation = errors.New("there must be only 1 project directory in the archive")

	// ErrNoInput means neither an input directory nor an input file was given.
	ErrNoInput = errors.New("no input directory or file")
)

// Request names the remote input.
type Request struct {
	TeamID     int
	InputDir   string
	InputFile  string
	StorageDir string
}

// Result is a fetched project ready for import.
type Result struct {
	// ProjectDir holds meta.json and one subdirectory per dataset.
	ProjectDir string
	// ProjectName is derived from the remote directory or archive name.
	ProjectName string
	// RemotePath is the input path in team storage.
	RemotePath string
}

// Fetcher downloads import input from team storage.
type Fetcher struct {
	storage  platform.Storage
	logger   *logging.Logger
	progress progress.Factory
}

// NewFetcher creates a fetcher. A nil progress factory disables progress.
func NewFetcher(storage platform.Storage, logger *logging.Logger, pf progress.Factory) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pf == nil {
		pf = progress.Nop()
	}
	return &Fetcher{storage: storage, logger: logger.Named("source"), progress: pf}
}

// Fetch downloads the input named by req into req.StorageDir.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := os.MkdirAll(req.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	switch {
	case req.InputDir != "":
		return f.fetchDir(ctx, req)
	case req.InputFile != "":
		return f.fetchArchive(ctx, req)
	default:
		return nil, ErrNoInput
	}
}

func (f *Fetcher) fetchDir(ctx context.Context, req Request) (*Result, error) {
	remote, rel, err := remotePath(req.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input dir: %w", err)
	}
	local, err := sanitize.EntryPath(req.StorageDir, rel)
	if err != nil {
		return nil, fmt.Errorf("input dir: %w", err)
	}

	size, err := f.storage.DirectorySize(ctx, req.TeamID, remote)
	if err != nil {
		return nil, fmt.Errorf("sizing %s: %w", remote, err)
	}
	f.logger.Info(ctx, "downloading input directory",
		zap.String("path", remote),
		zap.String("size", progress.HumanBytes(size)),
	)

	cb := f.progress("Downloading "+rel, size, true)
	if err := f.storage.DownloadDirectory(ctx, req.TeamID, remote, local, cb); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", remote, err)
	}

	return &Result{ProjectDir: local, ProjectName: sanitize.Name(path.Base(rel)), RemotePath: remote}, nil
}

func (f *Fetcher) fetchArchive(ctx context.Context, req Request) (*Result, error) {
	remote, rel, err := remotePath(req.InputFile)
	if err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}
	fileName := path.Base(rel)

	info, err := f.storage.FileInfo(ctx, req.TeamID, remote)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remote, err)
	}
	f.logger.Info(ctx, "downloading input archive",
		zap.String("path", remote),
		zap.String("size", progress.HumanBytes(info.SizeBytes)),
	)

	archivePath := filepath.Join(req.StorageDir, fileName)
	cb := f.progress("Downloading "+rel, info.SizeBytes, true)
	if err := f.storage.Download(ctx, req.TeamID, remote, archivePath, cb); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", remote, err)
	}

	stem, err := archiveStem(ctx, archivePath)
	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}
	extractDir := filepath.Join(req.StorageDir, stem)
	if err := Extract(ctx, archivePath, extractDir, f.logger); err != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("extracting %s: %w", fileName, err)
	}
	if err := os.Remove(archivePath); err != nil {
		f.logger.Warn(ctx, "failed to remove downloaded archive", zap.String("path", archivePath), zap.Error(err))
	}

	root, err := ProjectRoot(extractDir)
	if err != nil {
		return nil, err
	}
	return &Result{ProjectDir: root, ProjectName: sanitize.Name(stem), RemotePath: remote}, nil
}

// remotePath validates a storage or agent path. rel is the same path without
// the agent prefix or leading slash, used to lay the download out locally.
func remotePath(p string) (remote, rel string, err error) {
	storage := p
	if rest, ok := strings.CutPrefix(p, platform.AgentPrefix); ok {
		storage = "/" + rest
	}
	clean, err := sanitize.StoragePath(storage)
	if err != nil {
		return "", "", err
	}
	rel = strings.TrimPrefix(clean, "/")
	if rel == "" {
		return "", "", fmt.Errorf("%w: no base name in %q", sanitize.ErrEmptyPath, p)
	}
	if storage != p {
		return p, rel, nil
	}
	return clean, rel, nil
}

// Local wraps an existing local directory as a fetch result.
func Local(dir string) (*Result, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	root, err := ProjectRoot(abs)
	if err != nil {
		return nil, err
	}
	return &Result{ProjectDir: root, ProjectName: sanitize.Name(filepath.Base(abs))}, nil
}

// ignoredEntry reports entries archivers add next to the project.
func ignoredEntry(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__MACOSX"
}

// ProjectRoot returns dir when it holds meta.json, else its single
// top-level directory. Anything else is ErrLayoutViolation.
func ProjectRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, layout.MetaFile)); err == nil {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}
	var dirs []string
	for _, e := range entries {
		if ignoredEntry(e.Name()) {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}

	switch len(dirs) {
	case 1:
		return filepath.Join(dir, dirs[0]), nil
	case 0:
		return "", fmt.Errorf("%w: no %s and no project directory in %s", ErrLayoutViolation, layout.MetaFile, dir)
	default:
		return "", fmt.Errorf("%w: found %s", ErrLayoutViolation, strings.Join(dirs, ", "))
	}
}

// RemoveSource deletes the remote input unless it lives on an agent. It
// reports whether anything was removed.
func (f *Fetcher) RemoveSource(ctx context.Context, teamID int, remotePath string) (bool, error) {
	if f.storage.IsOnAgent(remotePath) {
		f.logger.Info(ctx, "input lives on an agent, keeping it", zap.String("path", remotePath))
		return false, nil
	}
	if err := f.storage.Remove(ctx, teamID, remotePath); err != nil {
		return false, fmt.Errorf("removing %s: %w", remotePath, err)
	}
	f.logger.Info(ctx, "removed input from team storage", zap.String("path", path.Clean(remotePath)))
	return true, nil
}
