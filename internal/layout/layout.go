// Package layout reads the on-disk structure of a point-cloud episode
// project:
//
//	<project>/meta.json
//	<project>/<dataset>/pointcloud/*.pcd
//	<project>/<dataset>/frame_pointcloud_map.json        (optional)
//	<project>/<dataset>/annotation.json                  (optional)
//	<project>/<dataset>/related_images/<pcd_name>/...    (optional)
package layout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
)

// Well-known names inside a project.
const (
	MetaFile         = "meta.json"
	PointcloudDir    = "pointcloud"
	FrameMapFile     = "frame_pointcloud_map.json"
	AnnotationFile   = "annotation.json"
	RelatedImagesDir = "related_images"
	PointcloudExt    = ".pcd"
)

// Dataset is one dataset directory of a project.
type Dataset struct {
	Name string
	Dir  string
}

// DatasetFiles lists what a dataset directory holds.
type DatasetFiles struct {
	Dataset
	// Names and Paths are parallel and sorted by name.
	Names          []string
	Paths          []string
	AnnotationPath string
	RelatedDir     string
}

// LoadProjectMeta reads and validates <projectDir>/meta.json.
func LoadProjectMeta(projectDir string) (*episode.ProjectMeta, error) {
	path := filepath.Join(projectDir, MetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project meta: %w", err)
	}
	meta, err := episode.ParseProjectMeta(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// ListDatasets returns the immediate subdirectories of projectDir.
// With sorted=false they come back in the order the filesystem reports.
func ListDatasets(projectDir string, sorted bool) ([]Dataset, error) {
	f, err := os.Open(projectDir)
	if err != nil {
		return nil, fmt.Errorf("opening project dir: %w", err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("listing project dir: %w", err)
	}

	var datasets []Dataset
	for _, e := range entries {
		if !isDir(projectDir, e) {
			continue
		}
		datasets = append(datasets, Dataset{Name: e.Name(), Dir: filepath.Join(projectDir, e.Name())})
	}
	if sorted {
		sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	}
	return datasets, nil
}

// isDir follows symlinks so a linked dataset counts as a directory.
func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}

// ScanDataset lists the point clouds of a dataset and locates its optional
// files. A dataset without a pointcloud directory has no point clouds.
func ScanDataset(ds Dataset) (*DatasetFiles, error) {
	files := &DatasetFiles{
		Dataset:        ds,
		Names:          []string{},
		Paths:          []string{},
		AnnotationPath: filepath.Join(ds.Dir, AnnotationFile),
		RelatedDir:     filepath.Join(ds.Dir, RelatedImagesDir),
	}

	pcdDir := filepath.Join(ds.Dir, PointcloudDir)
	entries, err := os.ReadDir(pcdDir)
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing point clouds of %s: %w", ds.Name, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), PointcloudExt) {
			continue
		}
		files.Names = append(files.Names, e.Name())
		files.Paths = append(files.Paths, filepath.Join(pcdDir, e.Name()))
	}
	return files, nil
}

// HasFrameMap reports whether a dataset ships its own frame map.
func HasFrameMap(datasetDir string) bool {
	info, err := os.Stat(filepath.Join(datasetDir, FrameMapFile))
	return err == nil && !info.IsDir()
}

// ResolveFrameMap loads <datasetDir>/frame_pointcloud_map.json verbatim, or
// maps frame i to the i-th of the sorted names when the file is absent.
// Names in a loaded map are not checked against the disk.
func ResolveFrameMap(ctx context.Context, datasetDir string, names []string) (episode.FrameMap, error) {
	path := filepath.Join(datasetDir, FrameMapFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.FromContext(ctx).Info(ctx, "frame pointcloud map not found, generating from sorted file names",
			zap.String("path", path),
			zap.Int("frames", len(names)),
		)
		return episode.SynthesizeFrameMap(names), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading frame map: %w", err)
	}

	m, err := episode.ParseFrameMap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadAnnotation reads an episode annotation, or returns an empty one when
// the file does not exist.
func LoadAnnotation(path string, meta *episode.ProjectMeta) (*episode.Annotation, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return episode.NewAnnotation(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading annotation: %w", err)
	}

	ann, err := episode.ParseAnnotation(data, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ann, nil
}
