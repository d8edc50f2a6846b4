package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
	"github.com/fyrsmithlabs/pcdimport/internal/importer"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/metrics"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/source"
)

var (
	// import command flags
	imLocal        string
	imInputDir     string
	imInputFile    string
	imProjectName  string
	imServer       string
	imTaskID       int
	imTeamID       int
	imWorkspaceID  int
	imStrictFrames bool
	imRemoveSource bool
	imProgressBar  bool
	imDatasetOrder string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&imLocal, "local", "", "import a local project directory instead of fetching from team storage")
	importCmd.Flags().StringVar(&imInputDir, "input-dir", "", "team storage directory holding the project")
	importCmd.Flags().StringVar(&imInputFile, "input-file", "", "team storage archive holding the project")
	importCmd.Flags().StringVar(&imProjectName, "project-name", "", "name of the created project (defaults to the input name)")
	importCmd.Flags().StringVar(&imServer, "server", "", "platform API URL")
	importCmd.Flags().IntVar(&imTaskID, "task-id", 0, "task that receives the created project as output")
	importCmd.Flags().IntVar(&imTeamID, "team-id", 0, "team owning the input files")
	importCmd.Flags().IntVar(&imWorkspaceID, "workspace-id", 0, "workspace the project is created in")
	importCmd.Flags().BoolVar(&imStrictFrames, "strict-frames", false, "fail on annotated frames without a point cloud")
	importCmd.Flags().BoolVar(&imRemoveSource, "remove-source", false, "delete the input from team storage after a successful import")
	importCmd.Flags().BoolVar(&imProgressBar, "progress-bar", false, "draw progress bars on stderr")
	importCmd.Flags().StringVar(&imDatasetOrder, "dataset-order", "", "dataset order: sorted or filesystem")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a project into the platform",
	Long: `Import a point-cloud episode project into the platform.

The project is fetched from team storage (a directory or an archive) unless
--local names a directory on this machine.

Examples:
  # Import an archive from team storage
  pcdimport import --team-id 8 --workspace-id 12 --input-file /uploads/drive.tar.gz

  # Import a local directory into a sandbox server
  pcdimport import --server http://127.0.0.1:8300 --workspace-id 1 --local ./drive`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

// applyImportFlags copies explicitly set flags over the loaded config.
func applyImportFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input-dir") {
		cfg.Task.InputDir = imInputDir
		cfg.Task.InputFile = ""
	}
	if flags.Changed("input-file") {
		cfg.Task.InputFile = imInputFile
		cfg.Task.InputDir = ""
	}
	if flags.Changed("project-name") {
		cfg.Task.ProjectName = imProjectName
	}
	if flags.Changed("server") {
		cfg.Platform.ServerURL = imServer
	}
	if flags.Changed("task-id") {
		cfg.Task.ID = imTaskID
	}
	if flags.Changed("team-id") {
		cfg.Task.TeamID = imTeamID
	}
	if flags.Changed("workspace-id") {
		cfg.Task.WorkspaceID = imWorkspaceID
	}
	if flags.Changed("strict-frames") {
		cfg.Import.StrictFrames = imStrictFrames
	}
	if flags.Changed("remove-source") {
		cfg.Task.RemoveSource = imRemoveSource
	}
	if flags.Changed("progress-bar") {
		cfg.Import.ProgressBar = imProgressBar
	}
	if flags.Changed("dataset-order") {
		cfg.Import.DatasetOrder = imDatasetOrder
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyImportFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if imLocal == "" {
		if err := cfg.ValidateTask(); err != nil {
			return err
		}
	} else if cfg.Task.WorkspaceID <= 0 {
		return errors.New("task.workspace_id is required")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()
	ctx = logging.WithRunID(ctx, uuid.NewString())
	ctx = logging.WithTaskID(ctx, cfg.Task.ID)

	tel, err := newTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	client, err := platform.NewHTTPClient(platform.HTTPConfig{
		BaseURL:   cfg.Platform.ServerURL,
		Token:     cfg.Platform.APIToken.Value(),
		Timeout:   cfg.Platform.Timeout.Duration(),
		RateLimit: cfg.Platform.RateLimit,
		Burst:     cfg.Platform.Burst,
	}, logger)
	if err != nil {
		return err
	}

	var opts []progress.Option
	if cfg.Import.ProgressBar {
		opts = append(opts, progress.WithBar(os.Stderr))
	}

	run := &importRun{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		progress: progress.New(logger, opts...).Factory(ctx),
		metrics:  metrics.NewImport(),
		tracer:   tel.Tracer("github.com/fyrsmithlabs/pcdimport"),
		local:    imLocal,
		out:      cmd.OutOrStdout(),
	}
	_, err = run.execute(ctx)
	return err
}

// importRun is one import invocation with its collaborators resolved.
type importRun struct {
	cfg      *config.Config
	client   platform.Client
	logger   *logging.Logger
	progress progress.Factory
	metrics  *metrics.Import
	tracer   trace.Tracer
	// local is a project directory on this machine; empty means fetch.
	local string
	out   io.Writer
}

// execute fetches the input, imports it, publishes the task output and
// optionally removes the input. Metrics are written whatever the outcome.
func (r *importRun) execute(ctx context.Context) (*platform.ProjectInfo, error) {
	project, err := r.importProject(ctx)
	r.metrics.RecordRun(err)
	if path := r.cfg.Metrics.TextfilePath; path != "" {
		if werr := r.metrics.WriteTextfile(path); werr != nil {
			r.logger.Warn(ctx, "failed to write metrics", zap.String("path", path), zap.Error(werr))
		}
	}
	if err != nil {
		r.logger.Error(ctx, "import failed", zap.Error(err))
		return nil, err
	}

	fmt.Fprintf(r.out, "Imported project %q (id %d)\n", project.Name, project.ID)
	return project, nil
}

func (r *importRun) importProject(ctx context.Context) (*platform.ProjectInfo, error) {
	fetcher := source.NewFetcher(r.client, r.logger, r.progress)

	var res *source.Result
	var err error
	if r.local != "" {
		res, err = source.Local(r.local)
	} else {
		res, err = fetcher.Fetch(ctx, source.Request{
			TeamID:     r.cfg.Task.TeamID,
			InputDir:   r.cfg.Task.InputDir,
			InputFile:  r.cfg.Task.InputFile,
			StorageDir: r.cfg.Task.StorageDir,
		})
	}
	if err != nil {
		return nil, err
	}

	name := res.ProjectName
	if r.cfg.Task.ProjectName != "" {
		name = r.cfg.Task.ProjectName
	}

	imp := importer.New(r.client, r.logger, importer.Config{
		LogProgress:  r.cfg.Import.LogProgress || r.cfg.Import.ProgressBar,
		StrictFrames: r.cfg.Import.StrictFrames,
		DatasetOrder: r.cfg.Import.DatasetOrder,
		Progress:     r.progress,
		Metrics:      r.metrics,
		Tracer:       r.tracer,
	})
	project, err := imp.ImportProject(ctx, importer.ProjectRequest{
		WorkspaceID: r.cfg.Task.WorkspaceID,
		Name:        name,
		Dir:         res.ProjectDir,
	})
	if err != nil {
		return nil, err
	}

	if r.cfg.Task.ID > 0 {
		if err := r.client.SetOutputProject(ctx, r.cfg.Task.ID, project.ID, project.Name); err != nil {
			return nil, fmt.Errorf("setting task output: %w", err)
		}
	}

	if r.cfg.Task.RemoveSource && res.RemotePath != "" {
		if _, err := fetcher.RemoveSource(ctx, r.cfg.Task.TeamID, res.RemotePath); err != nil {
			r.logger.Warn(ctx, "project imported but the input could not be removed", zap.Error(err))
		}
	}
	return project, nil
}
