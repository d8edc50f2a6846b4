package episode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMeta = `{
  "classes": [
    {"title": "car", "shape": "cuboid_3d", "color": "#FF0000"},
    {"title": "ground", "shape": "point_cloud"},
    {"title": "misc", "shape": "any"}
  ],
  "tags": [
    {"name": "weather", "value_type": "oneof_string", "values": ["sunny", "rain"]},
    {"name": "speed", "value_type": "any_number"},
    {"name": "note", "value_type": "any_string"},
    {"name": "moving", "value_type": "none"}
  ],
  "projectType": "point_cloud_episodes"
}`

const cuboid = `{"position":{"x":1,"y":2,"z":0},"rotation":{"x":0,"y":0,"z":1.57},"dimensions":{"x":4,"y":2,"z":1.5}}`

func mustMeta(t *testing.T) *ProjectMeta {
	t.Helper()
	m, err := ParseProjectMeta([]byte(testMeta))
	require.NoError(t, err)
	return m
}

func TestParseProjectMeta(t *testing.T) {
	m := mustMeta(t)

	c, ok := m.Class("car")
	require.True(t, ok)
	assert.Equal(t, ShapeCuboid3D, c.Shape)

	_, ok = m.Tag("weather")
	assert.True(t, ok)
	assert.JSONEq(t, testMeta, string(m.Raw()))
}

func TestParseProjectMeta_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad json":       `{`,
		"wrong type":     `{"classes": [], "tags": [], "projectType": "images"}`,
		"bad shape":      `{"classes": [{"title": "car", "shape": "polygon"}]}`,
		"dup class":      `{"classes": [{"title": "a", "shape": "any"}, {"title": "a", "shape": "any"}]}`,
		"empty oneof":    `{"tags": [{"name": "w", "value_type": "oneof_string"}]}`,
		"bad value type": `{"tags": [{"name": "w", "value_type": "date"}]}`,
		"empty class":    `{"classes": [{"title": "", "shape": "any"}]}`,
		"dup tag":        `{"tags": [{"name": "w", "value_type": "none"}, {"name": "w", "value_type": "none"}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProjectMeta([]byte(doc))
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestParseAnnotation_Valid(t *testing.T) {
	doc := `{
	  "description": "drive 1",
	  "tags": [{"name": "weather", "value": "rain", "frameRange": [0, 1]}],
	  "objects": [
	    {"key": "o1", "classTitle": "car", "tags": [{"name": "speed", "value": 12.5}]},
	    {"key": "o2", "classTitle": "ground", "tags": [{"name": "moving", "value": null}]}
	  ],
	  "frames": [
	    {"index": 0, "figures": [{"key": "f1", "objectKey": "o1", "geometryType": "cuboid_3d", "geometry": ` + cuboid + `}]},
	    {"index": 1, "figures": [{"key": "f2", "objectKey": "o2", "geometryType": "point_cloud", "geometry": {"indices": [1, 2, 3]}}]}
	  ],
	  "framesCount": 2
	}`

	ann, err := ParseAnnotation([]byte(doc), mustMeta(t))
	require.NoError(t, err)

	assert.Equal(t, "drive 1", ann.Description)
	require.Len(t, ann.Objects, 2)
	assert.Equal(t, "o1", ann.Objects[0].Key)
	assert.Equal(t, "o2", ann.Objects[1].Key)
	assert.Equal(t, 2, ann.FramesCount)
	require.Len(t, ann.Frames, 2)
	assert.Equal(t, "o2", ann.Frames[1].Figures[0].ObjectKey)
	assert.Equal(t, &[2]int{0, 1}, ann.Tags[0].FrameRange)
}

func TestParseAnnotation_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"unknown class", `{"objects": [{"key": "o1", "classTitle": "truck"}]}`, "objects[0]"},
		{"duplicate key", `{"objects": [{"key": "o1", "classTitle": "car"}, {"key": "o1", "classTitle": "car"}]}`, "objects[1]"},
		{"unknown tag", `{"tags": [{"name": "color", "value": "red"}]}`, "tags[0]"},
		{"wrong tag type", `{"tags": [{"name": "speed", "value": "fast"}]}`, "tags[0]"},
		{"value not in oneof", `{"tags": [{"name": "weather", "value": "snow"}]}`, "tags[0]"},
		{"none with value", `{"tags": [{"name": "moving", "value": "yes"}]}`, "tags[0]"},
		{"bad frame range", `{"tags": [{"name": "moving", "frameRange": [3, 1]}]}`, "tags[0]"},
		{"object tag", `{"objects": [{"key": "o1", "classTitle": "car", "tags": [{"name": "speed", "value": "x"}]}]}`, "objects[0].tags[0]"},
		{"unknown object", `{"frames": [{"index": 0, "figures": [{"objectKey": "ghost", "geometryType": "cuboid_3d", "geometry": ` + cuboid + `}]}]}`, "frames[0].figures[0]"},
		{"shape mismatch", `{"objects": [{"key": "o1", "classTitle": "car"}], "frames": [{"index": 0, "figures": [{"objectKey": "o1", "geometryType": "point_cloud", "geometry": {"indices": []}}]}]}`, "frames[0].figures[0]"},
		{"incomplete cuboid", `{"objects": [{"key": "o1", "classTitle": "car"}], "frames": [{"index": 0, "figures": [{"objectKey": "o1", "geometryType": "cuboid_3d", "geometry": {"position": {"x": 1}}}]}]}`, "frames[0].figures[0]"},
		{"negative frame", `{"frames": [{"index": -1, "figures": []}]}`, "frames[0]"},
		{"duplicate frame", `{"frames": [{"index": 2, "figures": []}, {"index": 2, "figures": []}]}`, "frames[1]"},
		{"bad json", `{"objects": 5}`, "annotation"},
	}

	meta := mustMeta(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnnotation([]byte(tt.doc), meta)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.path, se.Path)
		})
	}
}

func TestParseAnnotation_AnyShapeAcceptsEitherGeometry(t *testing.T) {
	doc := `{"objects": [{"key": "m", "classTitle": "misc"}], "frames": [
	  {"index": 0, "figures": [{"objectKey": "m", "geometryType": "point_cloud", "geometry": {"indices": [4]}}]},
	  {"index": 1, "figures": [{"objectKey": "m", "geometryType": "cuboid_3d", "geometry": ` + cuboid + `}]}
	]}`
	_, err := ParseAnnotation([]byte(doc), mustMeta(t))
	assert.NoError(t, err)
}

func TestNewAnnotation_Empty(t *testing.T) {
	ann := NewAnnotation()
	assert.Empty(t, ann.Description)
	assert.Empty(t, ann.Objects)
	assert.Empty(t, ann.Frames)
	assert.NoError(t, ann.Validate(mustMeta(t)))
}

func TestSynthesizeFrameMap(t *testing.T) {
	m := SynthesizeFrameMap([]string{"c.pcd", "a.pcd", "b.pcd"})
	assert.Equal(t, FrameMap{0: "a.pcd", 1: "b.pcd", 2: "c.pcd"}, m)
	assert.Equal(t, []int{0, 1, 2}, m.Frames())
}

func TestParseFrameMap(t *testing.T) {
	m, err := ParseFrameMap([]byte(`{"5": "b.pcd", "3": "a.pcd"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameMap{5: "b.pcd", 3: "a.pcd"}, m)

	inv, err := m.Inverse()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.pcd": 3, "b.pcd": 5}, inv)

	_, err = ParseFrameMap([]byte(`{"x": "a.pcd"}`))
	assert.Error(t, err)
	_, err = ParseFrameMap([]byte(`{"-1": "a.pcd"}`))
	assert.Error(t, err)
	_, err = ParseFrameMap([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestFrameMap_InverseDuplicate(t *testing.T) {
	_, err := FrameMap{0: "a.pcd", 4: "a.pcd"}.Inverse()
	var dup *DuplicateFrameNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a.pcd", dup.Name)
	assert.Equal(t, [2]int{0, 4}, dup.Frames)
}

func TestKeyIDMap(t *testing.T) {
	m := NewKeyIDMap()

	require.NoError(t, m.Add("o1", 10))
	require.NoError(t, m.Add("o2", 11))
	require.NoError(t, m.Add("o1", 10), "re-adding the same binding is allowed")

	err := m.Add("o1", 99)
	assert.True(t, errors.Is(err, ErrKeyReassigned))

	id, ok := m.Get("o1")
	assert.True(t, ok)
	assert.Equal(t, 10, id, "binding never changes")
	assert.Equal(t, 2, m.Len())

	_, ok = m.Get("o3")
	assert.False(t, ok)
}
