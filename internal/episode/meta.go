// Package episode models point-cloud episode projects: the project label
// schema, episode annotations, the frame to point-cloud map and the
// identity map of uploaded objects.
package episode

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Geometry shapes a class can declare.
const (
	ShapeCuboid3D   = "cuboid_3d"
	ShapePointCloud = "point_cloud"
	ShapeAny        = "any"
)

// Tag value types.
const (
	TagNone        = "none"
	TagAnyString   = "any_string"
	TagAnyNumber   = "any_number"
	TagOneOfString = "oneof_string"
)

// ProjectTypeEpisodes is the remote project type for point-cloud episodes.
const ProjectTypeEpisodes = "point_cloud_episodes"

// ObjClass is one annotation class of the project.
type ObjClass struct {
	Title string `json:"title"`
	Shape string `json:"shape"`
	Color string `json:"color,omitempty"`
}

// TagMeta declares a tag the project accepts.
type TagMeta struct {
	Name      string   `json:"name"`
	ValueType string   `json:"value_type"`
	Values    []string `json:"values,omitempty"`
}

// ProjectMeta is the label schema of a project, parsed from meta.json.
type ProjectMeta struct {
	Classes     []ObjClass `json:"classes"`
	Tags        []TagMeta  `json:"tags"`
	ProjectType string     `json:"projectType,omitempty"`

	raw     json.RawMessage
	classes map[string]ObjClass
	tags    map[string]TagMeta
}

// ParseProjectMeta decodes and validates a meta.json document.
func ParseProjectMeta(data []byte) (*ProjectMeta, error) {
	var m ProjectMeta
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, &SchemaError{Path: "meta", Msg: fmt.Sprintf("invalid json: %v", err)}
	}

	if m.ProjectType != "" && m.ProjectType != ProjectTypeEpisodes {
		return nil, schemaErrorf("meta.projectType", "expected %q, got %q", ProjectTypeEpisodes, m.ProjectType)
	}

	m.classes = make(map[string]ObjClass, len(m.Classes))
	for i, c := range m.Classes {
		path := fmt.Sprintf("meta.classes[%d]", i)
		if c.Title == "" {
			return nil, schemaErrorf(path, "class title is empty")
		}
		if _, dup := m.classes[c.Title]; dup {
			return nil, schemaErrorf(path, "duplicate class %q", c.Title)
		}
		switch c.Shape {
		case ShapeCuboid3D, ShapePointCloud, ShapeAny:
		default:
			return nil, schemaErrorf(path, "unsupported shape %q for class %q", c.Shape, c.Title)
		}
		m.classes[c.Title] = c
	}

	m.tags = make(map[string]TagMeta, len(m.Tags))
	for i, t := range m.Tags {
		path := fmt.Sprintf("meta.tags[%d]", i)
		if t.Name == "" {
			return nil, schemaErrorf(path, "tag name is empty")
		}
		if _, dup := m.tags[t.Name]; dup {
			return nil, schemaErrorf(path, "duplicate tag %q", t.Name)
		}
		switch t.ValueType {
		case TagNone, TagAnyString, TagAnyNumber:
		case TagOneOfString:
			if len(t.Values) == 0 {
				return nil, schemaErrorf(path, "tag %q of type %s has no values", t.Name, TagOneOfString)
			}
		default:
			return nil, schemaErrorf(path, "unsupported value type %q for tag %q", t.ValueType, t.Name)
		}
		m.tags[t.Name] = t
	}

	m.raw = append(json.RawMessage(nil), data...)
	return &m, nil
}

// Raw returns the document exactly as read, for pushing to the platform.
func (m *ProjectMeta) Raw() json.RawMessage {
	return m.raw
}

// Class looks up a class by title.
func (m *ProjectMeta) Class(title string) (ObjClass, bool) {
	c, ok := m.classes[title]
	return c, ok
}

// Tag looks up a tag declaration by name.
func (m *ProjectMeta) Tag(name string) (TagMeta, bool) {
	t, ok := m.tags[name]
	return t, ok
}

// checkValue validates a tag value against its declaration.
func (t TagMeta) checkValue(v any) error {
	switch t.ValueType {
	case TagNone:
		if v != nil {
			return fmt.Errorf("tag %q takes no value", t.Name)
		}
	case TagAnyString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("tag %q expects a string, got %T", t.Name, v)
		}
	case TagAnyNumber:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("tag %q expects a number, got %T", t.Name, v)
		}
	case TagOneOfString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("tag %q expects one of %v, got %T", t.Name, t.Values, v)
		}
		for _, allowed := range t.Values {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("tag %q value %q not in %v", t.Name, s, t.Values)
	}
	return nil
}
