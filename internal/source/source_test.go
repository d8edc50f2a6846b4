package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

const teamID = 1

type entry struct {
	name string
	body string
}

func tarGz(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zipped(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// teamFile writes a file into team storage of the sandbox.
func teamFile(t *testing.T, root, storagePath string, data []byte) {
	t.Helper()
	local := filepath.Join(root, "1", filepath.FromSlash(storagePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, data, 0o644))
}

type recorded struct {
	label string
	total int64
	done  int64
}

func recordingFactory(out *[]*recorded) progress.Factory {
	return func(label string, total int64, isSize bool) progress.Func {
		r := &recorded{label: label, total: total}
		*out = append(*out, r)
		return func(n int64) { r.done += n }
	}
}

func newFetcher(t *testing.T) (*Fetcher, *sandbox.Client, string, *[]*recorded) {
	t.Helper()
	root := t.TempDir()
	client := sandbox.NewClient(sandbox.NewStore(root))
	var rec []*recorded
	return NewFetcher(client, logging.NewNop(), recordingFactory(&rec)), client, root, &rec
}

func TestFetch_Directory(t *testing.T) {
	f, client, root, rec := newFetcher(t)
	teamFile(t, root, "/data/lidar/meta.json", []byte(`{}`))
	teamFile(t, root, "/data/lidar/ds1/pointcloud/a.pcd", []byte("pcd-a"))

	storage := t.TempDir()
	res, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputDir: "/data/lidar/", StorageDir: storage})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(storage, "data", "lidar"), res.ProjectDir)
	assert.Equal(t, "lidar", res.ProjectName)
	assert.Equal(t, "/data/lidar", res.RemotePath)

	data, err := os.ReadFile(filepath.Join(res.ProjectDir, "ds1", "pointcloud", "a.pcd"))
	require.NoError(t, err)
	assert.Equal(t, "pcd-a", string(data))

	require.Len(t, *rec, 1)
	assert.Equal(t, "Downloading data/lidar", (*rec)[0].label)
	assert.Equal(t, int64(7), (*rec)[0].total)
	assert.Equal(t, int64(7), (*rec)[0].done)
	assert.Equal(t, []string{"DirectorySize", "DownloadDirectory"}, client.Calls())
}

func TestFetch_TarGzWithProjectDir(t *testing.T) {
	f, _, root, rec := newFetcher(t)
	archive := tarGz(t,
		entry{"lidar/meta.json", `{}`},
		entry{"lidar/ds1/pointcloud/a.pcd", "pcd-a"},
	)
	teamFile(t, root, "/uploads/lidar.tar.gz", archive)

	storage := t.TempDir()
	res, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputFile: "/uploads/lidar.tar.gz", StorageDir: storage})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(storage, "lidar", "lidar"), res.ProjectDir)
	assert.Equal(t, "lidar", res.ProjectName)
	assert.FileExists(t, filepath.Join(res.ProjectDir, "ds1", "pointcloud", "a.pcd"))
	assert.NoFileExists(t, filepath.Join(storage, "lidar.tar.gz"), "archive is removed after extraction")

	require.Len(t, *rec, 1)
	assert.Equal(t, int64(len(archive)), (*rec)[0].done)
}

func TestFetch_ZipWithMetaAtRoot(t *testing.T) {
	f, _, root, _ := newFetcher(t)
	teamFile(t, root, "/uploads/scan.zip", zipped(t,
		entry{"meta.json", `{}`},
		entry{"ds1/pointcloud/a.pcd", "pcd-a"},
		entry{"ds2/pointcloud/b.pcd", "pcd-b"},
	))

	storage := t.TempDir()
	res, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputFile: "/uploads/scan.zip", StorageDir: storage})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(storage, "scan"), res.ProjectDir)
	assert.Equal(t, "scan", res.ProjectName)
	assert.FileExists(t, filepath.Join(res.ProjectDir, "ds2", "pointcloud", "b.pcd"))
}

func TestFetch_ArchiveWithSeveralProjects(t *testing.T) {
	f, _, root, _ := newFetcher(t)
	teamFile(t, root, "/uploads/two.tar.gz", tarGz(t,
		entry{"first/ds1/pointcloud/a.pcd", "a"},
		entry{"second/ds1/pointcloud/a.pcd", "a"},
	))

	_, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputFile: "/uploads/two.tar.gz", StorageDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrLayoutViolation)
}

func TestFetch_ArchiveEntryEscapes(t *testing.T) {
	f, _, root, _ := newFetcher(t)
	teamFile(t, root, "/uploads/evil.tar.gz", tarGz(t,
		entry{"lidar/meta.json", `{}`},
		entry{"../../escaped.txt", "gotcha"},
	))

	storage := t.TempDir()
	_, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputFile: "/uploads/evil.tar.gz", StorageDir: storage})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(storage), "escaped.txt"))
	assert.NoFileExists(t, filepath.Join(storage, "evil.tar.gz"))
}

func TestFetch_UnsupportedArchive(t *testing.T) {
	f, _, root, _ := newFetcher(t)
	teamFile(t, root, "/uploads/notes.txt", []byte("just some notes about the scan\n"))

	_, err := f.Fetch(context.Background(), Request{TeamID: teamID, InputFile: "/uploads/notes.txt", StorageDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestFetch_InvalidInput(t *testing.T) {
	f, client, _, _ := newFetcher(t)

	_, err := f.Fetch(context.Background(), Request{TeamID: teamID, StorageDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = f.Fetch(context.Background(), Request{TeamID: teamID, InputDir: "/data/../../etc", StorageDir: t.TempDir()})
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)

	_, err = f.Fetch(context.Background(), Request{TeamID: teamID, InputDir: "/", StorageDir: t.TempDir()})
	assert.ErrorIs(t, err, sanitize.ErrEmptyPath)

	assert.Empty(t, client.Calls(), "invalid input never reaches the platform")
}

func TestRemotePath(t *testing.T) {
	remote, rel, err := remotePath("agent://12/data/lidar/")
	require.NoError(t, err)
	assert.Equal(t, "agent://12/data/lidar/", remote)
	assert.Equal(t, "12/data/lidar", rel)

	remote, rel, err = remotePath("/data//lidar/")
	require.NoError(t, err)
	assert.Equal(t, "/data/lidar", remote)
	assert.Equal(t, "data/lidar", rel)

	_, _, err = remotePath("data/lidar")
	assert.ErrorIs(t, err, sanitize.ErrRelativePath)
}

func TestProjectRoot(t *testing.T) {
	t.Run("meta at root", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{}`), 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "ds1"), 0o755))

		root, err := ProjectRoot(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, root)
	})

	t.Run("single project dir next to archiver junk", func(t *testing.T) {
		dir := t.TempDir()
		for _, d := range []string{"lidar", "__MACOSX", ".cache"} {
			require.NoError(t, os.Mkdir(filepath.Join(dir, d), 0o755))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), nil, 0o644))

		root, err := ProjectRoot(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "lidar"), root)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ProjectRoot(t.TempDir())
		assert.ErrorIs(t, err, ErrLayoutViolation)
	})
}

func TestLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My Scan")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{}`), 0o644))

	res, err := Local(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, res.ProjectDir)
	assert.Equal(t, "My Scan", res.ProjectName)
	assert.Empty(t, res.RemotePath)

	_, err = Local(filepath.Join(dir, "meta.json"))
	assert.Error(t, err)
}

func TestRemoveSource(t *testing.T) {
	f, client, root, _ := newFetcher(t)
	teamFile(t, root, "/uploads/lidar.tar.gz", []byte("x"))

	removed, err := f.RemoveSource(context.Background(), teamID, "agent://3/uploads/lidar.tar.gz")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Zero(t, client.CallCount("Remove"))

	removed, err = f.RemoveSource(context.Background(), teamID, "/uploads/lidar.tar.gz")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, filepath.Join(root, "1", "uploads", "lidar.tar.gz"))
}
