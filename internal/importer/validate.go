package importer

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
	"github.com/fyrsmithlabs/pcdimport/internal/layout"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
)

// DatasetReport summarizes what an import would send for one dataset.
type DatasetReport struct {
	Name          string
	Pointclouds   int
	FrameMapFile  bool
	Objects       int
	Figures       int
	OrphanFrames  []int
	RelatedImages int
}

// Report summarizes a validated project.
type Report struct {
	Dir      string
	Classes  int
	Tags     int
	Datasets []DatasetReport
	// Objects counts distinct object keys across all datasets.
	Objects int
}

// Validate runs every local step of an import against dir without talking
// to the platform. It stops at the first problem an import would fail on.
// Orphan frames are reported, and fail only when cfg.StrictFrames is set.
func Validate(ctx context.Context, dir string, cfg Config, logger *logging.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("validate")
	ctx = logging.WithLogger(ctx, logger)

	meta, err := layout.LoadProjectMeta(dir)
	if err != nil {
		return nil, err
	}
	datasets, err := layout.ListDatasets(dir, cfg.DatasetOrder != config.DatasetOrderFilesystem)
	if err != nil {
		return nil, err
	}

	report := &Report{Dir: dir, Classes: len(meta.Classes), Tags: len(meta.Tags)}
	keys := make(map[string]bool)
	for _, ds := range datasets {
		dctx := logging.WithDataset(ctx, ds.Name)
		local, err := loadDataset(dctx, meta, ds)
		if err != nil {
			return nil, err
		}

		items, orphans, err := local.frameCheck(ds.Name)
		if err != nil {
			return nil, err
		}
		frameIDs := make(map[int]bool, len(items))
		for _, item := range items {
			frameIDs[item.Meta.Frame] = true
		}
		if len(orphans) > 0 && cfg.StrictFrames {
			return nil, &OrphanFrameError{Dataset: ds.Name, Frame: orphans[0]}
		}

		photos, err := collectPhotos(local.files.RelatedDir, local.files.Names)
		if err != nil {
			return nil, err
		}

		figures := 0
		for _, fr := range local.annotation.Frames {
			if _, ok := frameIDs[fr.Index]; ok {
				figures += len(fr.Figures)
			}
		}
		for _, obj := range local.annotation.Objects {
			keys[obj.Key] = true
		}

		dr := DatasetReport{
			Name:          ds.Name,
			Pointclouds:   len(items),
			FrameMapFile:  local.frameFile,
			Objects:       len(local.annotation.Objects),
			Figures:       figures,
			OrphanFrames:  orphans,
			RelatedImages: len(photos),
		}
		report.Datasets = append(report.Datasets, dr)
		logger.Debug(dctx, "dataset validated",
			zap.Int("pointclouds", dr.Pointclouds),
			zap.Int("figures", dr.Figures),
			zap.Ints("orphan_frames", dr.OrphanFrames),
			zap.Int("related_images", dr.RelatedImages),
		)
	}
	report.Objects = len(keys)
	return report, nil
}
