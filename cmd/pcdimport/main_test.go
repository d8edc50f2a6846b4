package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
	"github.com/fyrsmithlabs/pcdimport/internal/importer"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/metrics"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
)

const testMeta = `{"classes": [{"title": "car", "shape": "cuboid_3d"}], "tags": []}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeProject lays out a project with one dataset of two point clouds.
func writeProject(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "meta.json"), testMeta)
	writeFile(t, filepath.Join(dir, "ds1", "pointcloud", "a.pcd"), "pcd a")
	writeFile(t, filepath.Join(dir, "ds1", "pointcloud", "b.pcd"), "pcd b")
}

type testRun struct {
	run    *importRun
	client *sandbox.Client
	out    *bytes.Buffer
}

func newTestRun(t *testing.T, filesRoot string, cfg *config.Config) *testRun {
	t.Helper()
	client := sandbox.NewClient(sandbox.NewStore(filesRoot))
	out := &bytes.Buffer{}
	return &testRun{
		run: &importRun{
			cfg:      cfg,
			client:   client,
			logger:   logging.NewNop(),
			progress: progress.Nop(),
			metrics:  metrics.NewImport(),
			tracer:   noop.NewTracerProvider().Tracer("test"),
			out:      out,
		},
		client: client,
		out:    out,
	}
}

func TestImportRun_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)

	cfg := config.Default()
	cfg.Task.WorkspaceID = 3
	cfg.Task.ProjectName = "lidar"
	tr := newTestRun(t, "", cfg)
	tr.run.local = dir

	project, err := tr.run.execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lidar", project.Name)
	assert.Contains(t, tr.out.String(), `Imported project "lidar"`)

	assert.Zero(t, tr.client.CallCount("SetOutputProject"), "no task means no task output")
	assert.Zero(t, tr.client.CallCount("Remove"))
	assert.Len(t, tr.client.Store().Pointclouds(tr.client.Store().Datasets(project.ID)[0].ID), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.run.metrics.Runs.WithLabelValues("success")))
}

func TestImportRun_RemoteDirectory(t *testing.T) {
	filesRoot := t.TempDir()
	writeProject(t, filepath.Join(filesRoot, "7", "uploads", "drive"))
	textfile := filepath.Join(t.TempDir(), "pcdimport.prom")

	cfg := config.Default()
	cfg.Task.ID = 42
	cfg.Task.TeamID = 7
	cfg.Task.WorkspaceID = 3
	cfg.Task.InputDir = "/uploads/drive"
	cfg.Task.StorageDir = t.TempDir()
	cfg.Task.RemoveSource = true
	cfg.Metrics.TextfilePath = textfile
	tr := newTestRun(t, filesRoot, cfg)

	project, err := tr.run.execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drive", project.Name, "project is named after the input directory")

	out, ok := tr.client.Store().Output(42)
	require.True(t, ok)
	assert.Equal(t, project.ID, out.ProjectID)
	assert.Equal(t, "drive", out.ProjectName)

	assert.NoDirExists(t, filepath.Join(filesRoot, "7", "uploads", "drive"), "input is removed after the import")
	assert.FileExists(t, textfile)
}

func TestImportRun_KeepsSourceByDefault(t *testing.T) {
	filesRoot := t.TempDir()
	writeProject(t, filepath.Join(filesRoot, "7", "uploads", "drive"))

	cfg := config.Default()
	cfg.Task.TeamID = 7
	cfg.Task.WorkspaceID = 3
	cfg.Task.InputDir = "/uploads/drive"
	cfg.Task.StorageDir = t.TempDir()
	tr := newTestRun(t, filesRoot, cfg)

	_, err := tr.run.execute(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(filesRoot, "7", "uploads", "drive"))
	assert.Zero(t, tr.client.CallCount("Remove"))
}

func TestImportRun_FailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "meta.json"), `{"classes": [`)

	cfg := config.Default()
	cfg.Task.WorkspaceID = 3
	tr := newTestRun(t, "", cfg)
	tr.run.local = dir

	_, err := tr.run.execute(context.Background())
	require.Error(t, err)
	assert.Empty(t, tr.out.String())
	assert.Zero(t, tr.client.CallCount("CreateProject"))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.run.metrics.Runs.WithLabelValues("error")))
}

func TestPrintReport(t *testing.T) {
	report := &importer.Report{
		Dir:     "/data/drive",
		Classes: 2,
		Tags:    1,
		Objects: 3,
		Datasets: []importer.DatasetReport{
			{Name: "ds1", Pointclouds: 4, FrameMapFile: true, Objects: 2, Figures: 5, RelatedImages: 2},
			{Name: "ds2", Pointclouds: 1, Objects: 1, OrphanFrames: []int{3, 7}},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "Project: /data/drive")
	assert.Contains(t, out, "Classes: 2  Tags: 1  Objects: 3")
	assert.Contains(t, out, "DATASET")
	assert.Regexp(t, `ds1\s+4\s+file\s+2\s+5\s+2\s+-`, out)
	assert.Regexp(t, `ds2\s+1\s+synthesized\s+1\s+0\s+0\s+3,7`, out)
}
