package episode

import (
	"encoding/json"
	"fmt"
)

// Tag is a tag instance on an episode or an object.
type Tag struct {
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	FrameRange *[2]int `json:"frameRange,omitempty"`
}

// Object is an annotated entity tracked across frames.
type Object struct {
	Key        string `json:"key"`
	ClassTitle string `json:"classTitle"`
	Tags       []Tag  `json:"tags,omitempty"`
}

// Figure is the geometry of one object on one frame.
type Figure struct {
	Key          string          `json:"key,omitempty"`
	ObjectKey    string          `json:"objectKey"`
	GeometryType string          `json:"geometryType"`
	Geometry     json.RawMessage `json:"geometry"`
}

// Frame groups the figures drawn on one frame index.
type Frame struct {
	Index   int      `json:"index"`
	Figures []Figure `json:"figures"`
}

// Annotation is the episode annotation of one dataset.
type Annotation struct {
	Description string   `json:"description"`
	Tags        []Tag    `json:"tags"`
	Objects     []Object `json:"objects"`
	Frames      []Frame  `json:"frames"`
	FramesCount int      `json:"framesCount,omitempty"`
}

// NewAnnotation returns an empty annotation: no description, no objects,
// no frames.
func NewAnnotation() *Annotation {
	return &Annotation{
		Tags:    []Tag{},
		Objects: []Object{},
		Frames:  []Frame{},
	}
}

// ParseAnnotation decodes an annotation and validates it against meta.
// Any violation yields a *SchemaError.
func ParseAnnotation(data []byte, meta *ProjectMeta) (*Annotation, error) {
	ann := NewAnnotation()
	if err := json.Unmarshal(data, ann); err != nil {
		return nil, &SchemaError{Path: "annotation", Msg: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := ann.Validate(meta); err != nil {
		return nil, err
	}
	return ann, nil
}

// Validate checks the annotation against meta.
func (a *Annotation) Validate(meta *ProjectMeta) error {
	if err := validateTags("tags", a.Tags, meta); err != nil {
		return err
	}

	objects := make(map[string]ObjClass, len(a.Objects))
	for i, obj := range a.Objects {
		path := fmt.Sprintf("objects[%d]", i)
		if obj.Key == "" {
			return schemaErrorf(path, "object key is empty")
		}
		if _, dup := objects[obj.Key]; dup {
			return schemaErrorf(path, "duplicate object key %q", obj.Key)
		}
		class, ok := meta.Class(obj.ClassTitle)
		if !ok {
			return schemaErrorf(path, "unknown class %q", obj.ClassTitle)
		}
		if err := validateTags(path+".tags", obj.Tags, meta); err != nil {
			return err
		}
		objects[obj.Key] = class
	}

	seen := make(map[int]bool, len(a.Frames))
	for i, fr := range a.Frames {
		path := fmt.Sprintf("frames[%d]", i)
		if fr.Index < 0 {
			return schemaErrorf(path, "negative frame index %d", fr.Index)
		}
		if seen[fr.Index] {
			return schemaErrorf(path, "duplicate frame index %d", fr.Index)
		}
		seen[fr.Index] = true

		for j, fig := range fr.Figures {
			figPath := fmt.Sprintf("%s.figures[%d]", path, j)
			class, ok := objects[fig.ObjectKey]
			if !ok {
				return schemaErrorf(figPath, "figure references unknown object %q", fig.ObjectKey)
			}
			if class.Shape != ShapeAny && class.Shape != fig.GeometryType {
				return schemaErrorf(figPath, "geometry %q does not match shape %q of class %q",
					fig.GeometryType, class.Shape, class.Title)
			}
			if err := validateGeometry(fig.GeometryType, fig.Geometry); err != nil {
				return schemaErrorf(figPath, "%v", err)
			}
		}
	}

	return nil
}

func validateTags(path string, tags []Tag, meta *ProjectMeta) error {
	for i, tag := range tags {
		tagPath := fmt.Sprintf("%s[%d]", path, i)
		tm, ok := meta.Tag(tag.Name)
		if !ok {
			return schemaErrorf(tagPath, "unknown tag %q", tag.Name)
		}
		if err := tm.checkValue(tag.Value); err != nil {
			return schemaErrorf(tagPath, "%v", err)
		}
		if r := tag.FrameRange; r != nil && (r[0] < 0 || r[1] < r[0]) {
			return schemaErrorf(tagPath, "invalid frame range [%d, %d]", r[0], r[1])
		}
	}
	return nil
}

type vec3 struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (v *vec3) complete() bool {
	return v != nil && v.X != nil && v.Y != nil && v.Z != nil
}

func validateGeometry(kind string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("geometry is missing")
	}
	switch kind {
	case ShapeCuboid3D:
		var g struct {
			Position   *vec3 `json:"position"`
			Rotation   *vec3 `json:"rotation"`
			Dimensions *vec3 `json:"dimensions"`
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("invalid cuboid_3d geometry: %v", err)
		}
		if !g.Position.complete() || !g.Rotation.complete() || !g.Dimensions.complete() {
			return fmt.Errorf("cuboid_3d geometry needs position, rotation and dimensions with x, y, z")
		}
	case ShapePointCloud:
		var g struct {
			Indices []int `json:"indices"`
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("invalid point_cloud geometry: %v", err)
		}
		if g.Indices == nil {
			return fmt.Errorf("point_cloud geometry needs indices")
		}
	default:
		return fmt.Errorf("unsupported geometry type %q", kind)
	}
	return nil
}
