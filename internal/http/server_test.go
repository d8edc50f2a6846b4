package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
)

const testMeta = `{"classes": [{"title": "car", "shape": "cuboid_3d"}], "tags": [{"name": "weather", "value_type": "any_string"}]}`

const cuboid = `{"position": {"x": 1, "y": 2, "z": 3}, "rotation": {"x": 0, "y": 0, "z": 0}, "dimensions": {"x": 1, "y": 1, "z": 1}}`

func setupTestServer(t *testing.T, filesRoot string) (*Server, *sandbox.Store) {
	t.Helper()
	store := sandbox.NewStore(filesRoot)
	server, err := NewServer(store, logging.NewNop(), nil)
	require.NoError(t, err)
	return server, store
}

func setupClient(t *testing.T, filesRoot string) (*platform.HTTPClient, *sandbox.Store) {
	t.Helper()
	server, store := setupTestServer(t, filesRoot)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	client, err := platform.NewHTTPClient(platform.HTTPConfig{
		BaseURL: ts.URL,
		Token:   "sandbox-token",
		Timeout: 10 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client, store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(sandbox.NewStore(""), logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:8300", server.Addr())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(sandbox.NewStore(""), nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestErrorResponses(t *testing.T) {
	server, _ := setupTestServer(t, "")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		msg    string
	}{
		{"unknown dataset", http.MethodPost, "/api/v1/datasets/42/objects", `{"objects": []}`, http.StatusNotFound, "dataset 42"},
		{"bad id", http.MethodPost, "/api/v1/datasets/abc/objects", `{}`, http.StatusBadRequest, "invalid id"},
		{"bad json", http.MethodPost, "/api/v1/projects", `{`, http.StatusBadRequest, "invalid request body"},
		{"invalid project", http.MethodPost, "/api/v1/projects", `{"workspace_id": 0, "name": "p"}`, http.StatusBadRequest, "workspace id"},
		{"missing team", http.MethodGet, "/api/v1/files/info?path=/a", "", http.StatusBadRequest, "team_id"},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			server.echo.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var resp platform.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Message, tt.msg)
		})
	}
}

func TestRequestLogging(t *testing.T) {
	logger := logging.NewTestLogger()
	server, err := NewServer(sandbox.NewStore(""), logger.Logger, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	server.echo.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "bad id!")
	server.echo.ServeHTTP(httptest.NewRecorder(), req)

	logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	entries := logger.FilterMessage("http request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request.id"])
	_, ok := entries[1].ContextMap()["request.id"]
	assert.False(t, ok, "invalid client request ids are not logged")
}

func TestMetricsEndpoint(t *testing.T) {
	server, store := setupTestServer(t, "")
	_, err := store.CreateProject(1, "p", episode.ProjectTypeEpisodes, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pcdimport_sandbox_projects 1")
	assert.Contains(t, rec.Body.String(), "pcdimport_sandbox_pointclouds 0")
}

func TestUploadPointclouds_RejectsMismatchedFiles(t *testing.T) {
	server, store := setupTestServer(t, "")
	p, err := store.CreateProject(1, "p", episode.ProjectTypeEpisodes, false)
	require.NoError(t, err)
	d, err := store.CreateDataset(p.ID, "ds", "", false)
	require.NoError(t, err)

	var body bytes.Buffer
	body.WriteString("--b\r\nContent-Disposition: form-data; name=\"items\"\r\n\r\n")
	body.WriteString(`[{"name": "a.pcd", "meta": {"frame": 0}}]`)
	body.WriteString("\r\n--b\r\nContent-Disposition: form-data; name=\"file\"; filename=\"z.pcd\"\r\n\r\nzzz\r\n--b--\r\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/"+strconv.Itoa(d.ID)+"/pointclouds", &body)
	req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary=b")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "z.pcd")
	assert.Empty(t, store.Pointclouds(d.ID))
}

func TestHTTPClient_EndToEnd(t *testing.T) {
	client, store := setupClient(t, "")
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pcd"), "aaaa")
	writeFile(t, filepath.Join(dir, "b.pcd"), "bbbb")
	writeFile(t, filepath.Join(dir, "cam0.png"), "pixels")

	project, err := client.CreateProject(ctx, 3, "lidar", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	require.NoError(t, client.UpdateProjectMeta(ctx, project.ID, json.RawMessage(testMeta)))

	again, err := client.CreateProject(ctx, 3, "lidar", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	assert.Equal(t, "lidar_001", again.Name)

	ds, err := client.CreateDataset(ctx, project.ID, "ds1", "first", false)
	require.NoError(t, err)
	_, err = client.CreateDataset(ctx, project.ID, "ds1", "", false)
	assert.True(t, platform.IsConflict(err), "got %v", err)

	var uploaded int64
	pcds, err := client.UploadPointclouds(ctx, ds.ID, []platform.PointcloudUpload{
		{Name: "a.pcd", Path: filepath.Join(dir, "a.pcd"), Meta: platform.PointcloudMeta{Frame: 3}},
		{Name: "b.pcd", Path: filepath.Join(dir, "b.pcd"), Meta: platform.PointcloudMeta{Frame: 5}},
	}, func(n int64) { uploaded += n })
	require.NoError(t, err)
	require.Len(t, pcds, 2)
	assert.Equal(t, int64(2), uploaded)
	assert.Equal(t, 3, pcds[0].Frame)
	assert.Equal(t, sandbox.Hash([]byte("bbbb")), pcds[1].Hash)

	require.NoError(t, client.AddEpisodeTags(ctx, ds.ID, []episode.Tag{{Name: "weather", Value: "fog"}}))

	objIDs, err := client.CreateObjects(ctx, ds.ID, []platform.ObjectCreate{{Key: "o1", ClassTitle: "car"}})
	require.NoError(t, err)
	require.Len(t, objIDs, 1)

	figIDs, err := client.CreateFigures(ctx, ds.ID, []platform.FigureCreate{
		{ObjectID: objIDs[0], EntityID: pcds[0].ID, GeometryType: episode.ShapeCuboid3D, Geometry: json.RawMessage(cuboid)},
	})
	require.NoError(t, err)
	assert.Len(t, figIDs, 1)

	_, err = client.CreateFigures(ctx, ds.ID, []platform.FigureCreate{
		{ObjectID: 9999, EntityID: pcds[0].ID, GeometryType: episode.ShapeCuboid3D, Geometry: json.RawMessage(cuboid)},
	})
	assert.True(t, platform.IsNotFound(err), "got %v", err)

	hashes, err := client.UploadRelatedImages(ctx, []string{filepath.Join(dir, "cam0.png")}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{sandbox.Hash([]byte("pixels"))}, hashes)

	require.NoError(t, client.AddRelatedImages(ctx, []platform.RelatedImageLink{
		{EntityID: pcds[0].ID, Name: "cam0.png", Hash: hashes[0], Meta: json.RawMessage(`{"deviceId": "cam0"}`)},
	}))

	require.NoError(t, client.SetOutputProject(ctx, 77, project.ID, project.Name))
	out, ok := store.Output(77)
	require.True(t, ok)
	assert.Equal(t, project.ID, out.ProjectID)

	st := store.Stats()
	assert.Equal(t, 2, st.Pointclouds)
	assert.Equal(t, 1, st.Figures)
	assert.Equal(t, 1, st.Links)
	assert.JSONEq(t, `{"deviceId": "cam0"}`, string(store.Links()[0].Meta))
	assert.Len(t, store.EpisodeTags(ds.ID), 1)
}

func TestHTTPClient_Files(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "5", "uploads", "lidar", "meta.json"), "{}")
	writeFile(t, filepath.Join(root, "5", "uploads", "lidar", "ds1", "pointcloud", "a.pcd"), "aaaa")
	writeFile(t, filepath.Join(root, "5", "uploads", "lidar.tar"), "tarball")

	client, _ := setupClient(t, root)
	ctx := context.Background()

	info, err := client.FileInfo(ctx, 5, "/uploads/lidar.tar")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.SizeBytes)

	size, err := client.DirectorySize(ctx, 5, "/uploads/lidar")
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	var got int64
	dst := t.TempDir()
	require.NoError(t, client.DownloadDirectory(ctx, 5, "/uploads/lidar/", dst, func(n int64) { got += n }))
	assert.Equal(t, int64(6), got)
	data, err := os.ReadFile(filepath.Join(dst, "ds1", "pointcloud", "a.pcd"))
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(data))

	archive := filepath.Join(t.TempDir(), "lidar.tar")
	require.NoError(t, client.Download(ctx, 5, "/uploads/lidar.tar", archive, nil))
	data, err = os.ReadFile(archive)
	require.NoError(t, err)
	assert.Equal(t, "tarball", string(data))

	require.NoError(t, client.Remove(ctx, 5, "/uploads/lidar.tar"))
	_, err = client.FileInfo(ctx, 5, "/uploads/lidar.tar")
	assert.True(t, platform.IsNotFound(err), "got %v", err)

	err = client.Download(ctx, 5, "/uploads/missing.tar", filepath.Join(t.TempDir(), "x"), nil)
	assert.True(t, platform.IsNotFound(err), "got %v", err)
}

func TestServerLifecycle(t *testing.T) {
	server, err := NewServer(sandbox.NewStore(""), logging.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}
