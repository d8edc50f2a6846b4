package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
)

const testMeta = `{
	"classes": [
		{"title": "car", "shape": "cuboid_3d"},
		{"title": "ground", "shape": "point_cloud"}
	],
	"tags": [{"name": "weather", "value_type": "any_string"}]
}`

const cuboid = `{"position": {"x": 1, "y": 2, "z": 3}, "rotation": {"x": 0, "y": 0, "z": 0}, "dimensions": {"x": 1, "y": 1, "z": 1}}`

func newDataset(t *testing.T, s *Store) (platform.ProjectInfo, platform.DatasetInfo) {
	t.Helper()
	p, err := s.CreateProject(1, "proj", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProjectMeta(p.ID, json.RawMessage(testMeta)))
	d, err := s.CreateDataset(p.ID, "ds1", "", false)
	require.NoError(t, err)
	return p, d
}

func TestStore_CreateProjectDedup(t *testing.T) {
	s := NewStore("")

	p1, err := s.CreateProject(1, "lidar", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	assert.Equal(t, "lidar", p1.Name)

	p2, err := s.CreateProject(1, "lidar", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	assert.Equal(t, "lidar_001", p2.Name)

	p3, err := s.CreateProject(1, "lidar", episode.ProjectTypeEpisodes, true)
	require.NoError(t, err)
	assert.Equal(t, "lidar_002", p3.Name)

	_, err = s.CreateProject(1, "lidar", episode.ProjectTypeEpisodes, false)
	assert.ErrorIs(t, err, ErrConflict)

	other, err := s.CreateProject(2, "lidar", episode.ProjectTypeEpisodes, false)
	require.NoError(t, err, "names are scoped to a workspace")
	assert.Equal(t, "lidar", other.Name)

	_, err = s.CreateProject(0, "x", episode.ProjectTypeEpisodes, false)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStore_UpdateProjectMeta(t *testing.T) {
	s := NewStore("")
	p, err := s.CreateProject(1, "proj", episode.ProjectTypeEpisodes, false)
	require.NoError(t, err)

	assert.ErrorIs(t, s.UpdateProjectMeta(p.ID, json.RawMessage(`{"classes": [{"title": "x", "shape": "blob"}]}`)), ErrInvalid)
	assert.ErrorIs(t, s.UpdateProjectMeta(999, json.RawMessage(testMeta)), ErrNotFound)
	require.NoError(t, s.UpdateProjectMeta(p.ID, json.RawMessage(testMeta)))

	meta, ok := s.ProjectMeta(p.ID)
	require.True(t, ok)
	_, ok = meta.Class("car")
	assert.True(t, ok)
}

func TestStore_CreateDataset(t *testing.T) {
	s := NewStore("")
	p, d := newDataset(t, s)

	_, err := s.CreateDataset(p.ID, "ds1", "", false)
	assert.ErrorIs(t, err, ErrConflict)

	d2, err := s.CreateDataset(p.ID, "ds1", "second", true)
	require.NoError(t, err)
	assert.Equal(t, "ds1_001", d2.Name)

	_, err = s.CreateDataset(999, "ds", "", false)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []platform.DatasetInfo{d, d2}, s.Datasets(p.ID))
}

func TestStore_AddPointclouds(t *testing.T) {
	s := NewStore("")
	_, d := newDataset(t, s)

	items := []platform.PointcloudUpload{
		{Name: "a.pcd", Meta: platform.PointcloudMeta{Frame: 3}},
		{Name: "b.pcd", Meta: platform.PointcloudMeta{Frame: 5}},
	}
	infos, err := s.AddPointclouds(d.ID, items, [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 3, infos[0].Frame)
	assert.Equal(t, Hash([]byte("b")), infos[1].Hash)
	assert.Equal(t, infos, s.Pointclouds(d.ID))

	_, err = s.AddPointclouds(d.ID, []platform.PointcloudUpload{{Name: "a.pcd", Meta: platform.PointcloudMeta{Frame: 9}}}, [][]byte{nil})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.AddPointclouds(d.ID, []platform.PointcloudUpload{{Name: "c.pcd", Meta: platform.PointcloudMeta{Frame: 5}}}, [][]byte{nil})
	assert.ErrorIs(t, err, ErrInvalid, "frame already used")

	_, err = s.AddPointclouds(d.ID, items[:1], nil)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.AddPointclouds(999, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ObjectsAndFigures(t *testing.T) {
	s := NewStore("")
	p, d := newDataset(t, s)
	infos, err := s.AddPointclouds(d.ID, []platform.PointcloudUpload{{Name: "a.pcd"}}, [][]byte{[]byte("a")})
	require.NoError(t, err)

	_, err = s.CreateObjects(d.ID, []platform.ObjectCreate{{Key: "o", ClassTitle: "bus"}})
	assert.ErrorIs(t, err, ErrInvalid)

	ids, err := s.CreateObjects(d.ID, []platform.ObjectCreate{
		{Key: "o1", ClassTitle: "car"},
		{Key: "o2", ClassTitle: "ground"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Len(t, s.Objects(p.ID), 2)

	figIDs, err := s.CreateFigures(d.ID, []platform.FigureCreate{
		{ObjectID: ids[0], EntityID: infos[0].ID, GeometryType: episode.ShapeCuboid3D, Geometry: json.RawMessage(cuboid)},
	})
	require.NoError(t, err)
	assert.Len(t, figIDs, 1)
	assert.Len(t, s.Figures(d.ID), 1)

	tests := []struct {
		name string
		fig  platform.FigureCreate
		err  error
	}{
		{"unknown object", platform.FigureCreate{ObjectID: 999, EntityID: infos[0].ID, GeometryType: episode.ShapeCuboid3D}, ErrNotFound},
		{"unknown point cloud", platform.FigureCreate{ObjectID: ids[0], EntityID: 999, GeometryType: episode.ShapeCuboid3D}, ErrNotFound},
		{"shape mismatch", platform.FigureCreate{ObjectID: ids[1], EntityID: infos[0].ID, GeometryType: episode.ShapeCuboid3D}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateFigures(d.ID, []platform.FigureCreate{tt.fig})
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStore_ObjectsSharedAcrossDatasets(t *testing.T) {
	s := NewStore("")
	p, d1 := newDataset(t, s)
	d2, err := s.CreateDataset(p.ID, "ds2", "", false)
	require.NoError(t, err)

	ids, err := s.CreateObjects(d1.ID, []platform.ObjectCreate{{Key: "o1", ClassTitle: "car"}})
	require.NoError(t, err)

	infos, err := s.AddPointclouds(d2.ID, []platform.PointcloudUpload{{Name: "x.pcd"}}, [][]byte{[]byte("x")})
	require.NoError(t, err)

	_, err = s.CreateFigures(d2.ID, []platform.FigureCreate{
		{ObjectID: ids[0], EntityID: infos[0].ID, GeometryType: episode.ShapeCuboid3D, Geometry: json.RawMessage(cuboid)},
	})
	assert.NoError(t, err)
}

func TestStore_FiguresRejectOtherProjectObjects(t *testing.T) {
	s := NewStore("")
	_, d1 := newDataset(t, s)
	_, d2 := newDataset(t, s)

	ids, err := s.CreateObjects(d1.ID, []platform.ObjectCreate{{Key: "o1", ClassTitle: "car"}})
	require.NoError(t, err)
	infos, err := s.AddPointclouds(d2.ID, []platform.PointcloudUpload{{Name: "x.pcd"}}, [][]byte{[]byte("x")})
	require.NoError(t, err)

	_, err = s.CreateFigures(d2.ID, []platform.FigureCreate{
		{ObjectID: ids[0], EntityID: infos[0].ID, GeometryType: episode.ShapeCuboid3D},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EpisodeTags(t *testing.T) {
	s := NewStore("")
	_, d := newDataset(t, s)

	require.NoError(t, s.AddEpisodeTags(d.ID, []episode.Tag{{Name: "weather", Value: "rain"}}))
	assert.Len(t, s.EpisodeTags(d.ID), 1)
	assert.ErrorIs(t, s.AddEpisodeTags(d.ID, []episode.Tag{{Name: "mood"}}), ErrInvalid)
}

func TestStore_DatasetWithoutMeta(t *testing.T) {
	s := NewStore("")
	p, err := s.CreateProject(1, "bare", episode.ProjectTypeEpisodes, false)
	require.NoError(t, err)
	d, err := s.CreateDataset(p.ID, "ds", "", false)
	require.NoError(t, err)

	_, err = s.CreateObjects(d.ID, []platform.ObjectCreate{{Key: "o1", ClassTitle: "car"}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStore_ImagesAndLinks(t *testing.T) {
	s := NewStore("")
	_, d := newDataset(t, s)
	infos, err := s.AddPointclouds(d.ID, []platform.PointcloudUpload{{Name: "a.pcd"}}, [][]byte{[]byte("a")})
	require.NoError(t, err)

	hashes := s.AddImages([][]byte{[]byte("img0"), []byte("img1")})
	require.Len(t, hashes, 2)
	assert.Equal(t, Hash([]byte("img0")), hashes[0])

	link := platform.RelatedImageLink{EntityID: infos[0].ID, Name: "cam0.png", Hash: hashes[0], Meta: json.RawMessage(`{}`)}
	require.NoError(t, s.AddLinks([]platform.RelatedImageLink{link}))
	assert.Equal(t, []platform.RelatedImageLink{link}, s.Links())

	bad := link
	bad.Hash = "missing"
	assert.ErrorIs(t, s.AddLinks([]platform.RelatedImageLink{bad}), ErrNotFound)

	bad = link
	bad.EntityID = 999
	assert.ErrorIs(t, s.AddLinks([]platform.RelatedImageLink{bad}), ErrNotFound)

	assert.Equal(t, 1, s.Stats().Links)
}

func TestStore_SetOutput(t *testing.T) {
	s := NewStore("")
	p, _ := newDataset(t, s)

	require.NoError(t, s.SetOutput(7, platform.TaskOutputRequest{ProjectID: p.ID, ProjectName: p.Name}))
	out, ok := s.Output(7)
	require.True(t, ok)
	assert.Equal(t, p.Name, out.ProjectName)

	assert.ErrorIs(t, s.SetOutput(7, platform.TaskOutputRequest{ProjectID: 999}), ErrNotFound)
	assert.ErrorIs(t, s.SetOutput(0, platform.TaskOutputRequest{ProjectID: p.ID}), ErrInvalid)
}
