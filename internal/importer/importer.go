// Package importer materializes a local point-cloud episode project on the
// platform.
//
// ImportProject walks the datasets of a project one at a time. For every
// dataset it uploads the point clouds, then the episode annotation bound to
// those point clouds, then the related photo context. Object identities are
// shared by all datasets of a run, so the same annotated object key maps to
// one remote object for the whole project.
package importer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/layout"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/metrics"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
)

const instrumentationName = "github.com/fyrsmithlabs/pcdimport/internal/importer"

// Config tunes an Importer.
type Config struct {
	// LogProgress enables per-item progress reporting through Progress.
	LogProgress bool

	// StrictFrames turns annotation frames without a point cloud into
	// an *OrphanFrameError instead of a logged skip.
	StrictFrames bool

	// DatasetOrder is config.DatasetOrderSorted (default) or
	// config.DatasetOrderFilesystem.
	DatasetOrder string

	Progress progress.Factory
	Metrics  *metrics.Import
	Tracer   trace.Tracer
}

// ProjectRequest names the project to create and where its files are.
type ProjectRequest struct {
	WorkspaceID int
	Name        string
	Dir         string
}

// Importer replays a local project as platform calls.
type Importer struct {
	client   platform.Client
	logger   *logging.Logger
	config   Config
	progress progress.Factory
	metrics  *metrics.Import
	tracer   trace.Tracer
}

// New creates an Importer.
func New(client platform.Client, logger *logging.Logger, cfg Config) *Importer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.DatasetOrder == "" {
		cfg.DatasetOrder = config.DatasetOrderSorted
	}

	pf := cfg.Progress
	if pf == nil || !cfg.LogProgress {
		pf = progress.Nop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewImport()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	return &Importer{
		client:   client,
		logger:   logger.Named("importer"),
		config:   cfg,
		progress: pf,
		metrics:  m,
		tracer:   tracer,
	}
}

// Metrics returns the counters this importer updates.
func (i *Importer) Metrics() *metrics.Import {
	return i.metrics
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ImportProject creates the project, pushes its label schema and imports
// every dataset directory under req.Dir. Any error aborts the run.
func (i *Importer) ImportProject(ctx context.Context, req ProjectRequest) (*platform.ProjectInfo, error) {
	ctx, span := i.tracer.Start(ctx, "importer.project")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.name", req.Name),
		attribute.Int("workspace.id", req.WorkspaceID),
	)

	ctx = logging.WithProject(ctx, req.Name)
	ctx = logging.WithLogger(ctx, i.logger)

	meta, err := layout.LoadProjectMeta(req.Dir)
	if err != nil {
		return nil, fail(span, err)
	}
	datasets, err := layout.ListDatasets(req.Dir, i.config.DatasetOrder != config.DatasetOrderFilesystem)
	if err != nil {
		return nil, fail(span, err)
	}

	project, err := i.client.CreateProject(ctx, req.WorkspaceID, req.Name, episode.ProjectTypeEpisodes, true)
	if err != nil {
		return nil, fail(span, fmt.Errorf("creating project %q: %w", req.Name, err))
	}
	if project.Name != req.Name {
		ctx = logging.WithProject(ctx, project.Name)
		i.logger.Info(ctx, "project name taken, using a new one",
			zap.String("requested", req.Name),
			zap.String("name", project.Name),
		)
	}
	if err := i.client.UpdateProjectMeta(ctx, project.ID, meta.Raw()); err != nil {
		return nil, fail(span, fmt.Errorf("updating project meta: %w", err))
	}
	span.SetAttributes(attribute.Int("project.id", project.ID))

	i.logger.Info(ctx, "project created",
		zap.Int("project_id", project.ID),
		zap.Int("classes", len(meta.Classes)),
		zap.Int("datasets", len(datasets)),
	)

	ids := episode.NewKeyIDMap()
	for _, ds := range datasets {
		if err := i.importDataset(ctx, project.ID, meta, ds, ids); err != nil {
			return nil, fail(span, err)
		}
	}

	i.logger.Info(ctx, "project imported",
		zap.Int("project_id", project.ID),
		zap.Int("datasets", len(datasets)),
		zap.Int("objects", ids.Len()),
	)
	return project, nil
}

func (i *Importer) importDataset(ctx context.Context, projectID int, meta *episode.ProjectMeta, ds layout.Dataset, ids *episode.KeyIDMap) error {
	start := time.Now()
	ctx = logging.WithDataset(ctx, ds.Name)
	ctx, span := i.tracer.Start(ctx, "importer.dataset")
	defer span.End()
	span.SetAttributes(attribute.String("dataset.name", ds.Name))

	local, err := loadDataset(ctx, meta, ds)
	if err != nil {
		return fail(span, err)
	}
	// Lookup failures and strict orphan frames stop the dataset before
	// anything is created remotely.
	items, orphans, err := local.frameCheck(ds.Name)
	if err != nil {
		return fail(span, err)
	}
	if len(orphans) > 0 && i.config.StrictFrames {
		return fail(span, &OrphanFrameError{Dataset: ds.Name, Frame: orphans[0]})
	}
	if fc := local.annotation.FramesCount; fc > 0 && fc != len(items) {
		i.logger.Warn(ctx, "annotation framesCount differs from point cloud count",
			zap.Int("frames_count", fc),
			zap.Int("pointclouds", len(items)),
		)
	}

	info, err := i.client.CreateDataset(ctx, projectID, ds.Name, local.annotation.Description, true)
	if err != nil {
		return fail(span, fmt.Errorf("creating dataset %q: %w", ds.Name, err))
	}
	i.metrics.DatasetsCreated.Inc()
	span.SetAttributes(attribute.Int("dataset.id", info.ID))
	i.logger.Info(ctx, "dataset created",
		zap.Int("dataset_id", info.ID),
		zap.String("remote_name", info.Name),
		zap.Int("pointclouds", len(local.files.Names)),
	)

	pcds, err := i.UploadPointclouds(ctx, info.ID, info.Name, local.files.Paths, local.files.Names, local.frames)
	if err != nil {
		return fail(span, err)
	}
	if err := i.UploadAnnotation(ctx, info.ID, info.Name, pcds, local.annotation, ids); err != nil {
		return fail(span, err)
	}
	if err := i.UploadPhotoContext(ctx, info.Name, pcds, local.files.RelatedDir); err != nil {
		return fail(span, err)
	}

	i.metrics.DatasetDuration.Observe(time.Since(start).Seconds())
	return nil
}

// localDataset is everything read from one dataset directory.
type localDataset struct {
	files      *layout.DatasetFiles
	frames     episode.FrameMap
	annotation *episode.Annotation
	// frameFile is true when the frame map came from disk.
	frameFile bool
}

// frameCheck pairs every point cloud with its frame and returns the
// annotated frames left without a point cloud.
func (l *localDataset) frameCheck(dataset string) ([]platform.PointcloudUpload, []int, error) {
	items, err := pointcloudItems(dataset, l.files.Paths, l.files.Names, l.frames)
	if err != nil {
		return nil, nil, err
	}
	frames := make(map[int]int, len(items))
	for idx, item := range items {
		frames[item.Meta.Frame] = idx
	}
	return items, orphanFrames(l.annotation, frames), nil
}

func loadDataset(ctx context.Context, meta *episode.ProjectMeta, ds layout.Dataset) (*localDataset, error) {
	files, err := layout.ScanDataset(ds)
	if err != nil {
		return nil, err
	}
	frames, err := layout.ResolveFrameMap(ctx, ds.Dir, files.Names)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	ann, err := layout.LoadAnnotation(files.AnnotationPath, meta)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	return &localDataset{
		files:      files,
		frames:     frames,
		annotation: ann,
		frameFile:  layout.HasFrameMap(ds.Dir),
	}, nil
}
