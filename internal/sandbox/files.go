package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

// Team files live under <filesRoot>/<teamID>/<storage path>.

func (s *Store) resolve(teamID int, p string) (string, string, error) {
	if s.filesRoot == "" {
		return "", "", fmt.Errorf("%w: team storage is disabled", ErrNotFound)
	}
	if teamID <= 0 {
		return "", "", fmt.Errorf("%w: team id must be positive", ErrInvalid)
	}
	if platform.IsOnAgent(p) {
		return "", "", fmt.Errorf("%w: agent storage is not served", ErrInvalid)
	}
	clean, err := sanitize.StoragePath(p)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	teamRoot := filepath.Join(s.filesRoot, strconv.Itoa(teamID))
	local, err := sanitize.ValidatePath(filepath.Join(teamRoot, filepath.FromSlash(clean)), teamRoot)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return clean, local, nil
}

func statErr(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return err
}

// FileInfo describes a single team file.
func (s *Store) FileInfo(teamID int, p string) (platform.FileInfo, error) {
	clean, local, err := s.resolve(teamID, p)
	if err != nil {
		return platform.FileInfo{}, err
	}
	st, err := os.Stat(local)
	if err != nil {
		return platform.FileInfo{}, statErr(clean, err)
	}
	if st.IsDir() {
		return platform.FileInfo{}, fmt.Errorf("%w: %s is a directory", ErrInvalid, clean)
	}
	return platform.FileInfo{Path: clean, SizeBytes: st.Size()}, nil
}

// ListFiles lists every regular file under a team directory, recursively,
// sorted by path.
func (s *Store) ListFiles(teamID int, dir string) ([]platform.FileInfo, error) {
	clean, local, err := s.resolve(teamID, dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(local)
	if err != nil {
		return nil, statErr(clean, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalid, clean)
	}

	var files []platform.FileInfo
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		files = append(files, platform.FileInfo{
			Path:      path.Join(clean, filepath.ToSlash(rel)),
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", clean, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// OpenFile opens a team file for reading.
func (s *Store) OpenFile(teamID int, p string) (*os.File, error) {
	clean, local, err := s.resolve(teamID, p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, statErr(clean, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalid, clean)
	}
	return f, nil
}

// RemoveFile deletes a team file or directory.
func (s *Store) RemoveFile(teamID int, p string) error {
	clean, local, err := s.resolve(teamID, p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return fmt.Errorf("%w: refusing to remove the storage root", ErrInvalid)
	}
	if _, err := os.Lstat(local); err != nil {
		return statErr(clean, err)
	}
	return os.RemoveAll(local)
}
