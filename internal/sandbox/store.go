// Package sandbox is an in-memory stand-in for the labeling platform. It
// keeps projects, datasets, point clouds, objects, figures and photo context
// in memory, serves team files from a local directory, and enforces the same
// referential integrity the real platform does.
package sandbox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
)

var (
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a name is already taken and dedup was not requested.
	ErrConflict = errors.New("name already exists")
	// ErrInvalid means the request is malformed or breaks an integrity rule.
	ErrInvalid = errors.New("invalid request")
)

// maxDedupSuffix bounds the numeric suffixes tried when deduplicating names.
const maxDedupSuffix = 999

// Figure is a stored figure.
type Figure struct {
	ID        int
	DatasetID int
	platform.FigureCreate
}

// Object is a stored object. Objects belong to a project and may be
// referenced by figures of any dataset in it.
type Object struct {
	ID        int
	ProjectID int
	DatasetID int
	platform.ObjectCreate
}

type project struct {
	info platform.ProjectInfo
	meta *episode.ProjectMeta
}

type pointcloud struct {
	info      platform.PointcloudInfo
	datasetID int
}

// Store holds the sandbox state. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	filesRoot string
	nextID    int

	projects    map[int]*project
	datasets    map[int]*platform.DatasetInfo
	pointclouds map[int]*pointcloud
	objects     map[int]*Object
	figures     map[int]*Figure
	tags        map[int][]episode.Tag
	images      map[string]int64
	links       []platform.RelatedImageLink
	outputs     map[int]platform.TaskOutputRequest
}

// NewStore creates an empty store serving team files from filesRoot. An
// empty filesRoot disables file access.
func NewStore(filesRoot string) *Store {
	return &Store{
		filesRoot:   filesRoot,
		projects:    make(map[int]*project),
		datasets:    make(map[int]*platform.DatasetInfo),
		pointclouds: make(map[int]*pointcloud),
		objects:     make(map[int]*Object),
		figures:     make(map[int]*Figure),
		tags:        make(map[int][]episode.Tag),
		images:      make(map[string]int64),
		outputs:     make(map[int]platform.TaskOutputRequest),
	}
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

// Hash returns the content hash the platform assigns to uploaded bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// freeName returns name, or name_NNN with the lowest free suffix when dedup
// is set and name is taken.
func freeName(name string, taken func(string) bool, dedup bool) (string, error) {
	if !taken(name) {
		return name, nil
	}
	if !dedup {
		return "", fmt.Errorf("%w: %q", ErrConflict, name)
	}
	for i := 1; i <= maxDedupSuffix; i++ {
		candidate := fmt.Sprintf("%s_%03d", name, i)
		if !taken(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", ErrConflict, name)
}

// CreateProject creates a project in a workspace.
func (s *Store) CreateProject(workspaceID int, name, projectType string, dedup bool) (platform.ProjectInfo, error) {
	if workspaceID <= 0 {
		return platform.ProjectInfo{}, fmt.Errorf("%w: workspace id must be positive", ErrInvalid)
	}
	if name == "" {
		return platform.ProjectInfo{}, fmt.Errorf("%w: project name is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final, err := freeName(name, func(n string) bool {
		for _, p := range s.projects {
			if p.info.WorkspaceID == workspaceID && p.info.Name == n {
				return true
			}
		}
		return false
	}, dedup)
	if err != nil {
		return platform.ProjectInfo{}, err
	}

	info := platform.ProjectInfo{ID: s.id(), Name: final, WorkspaceID: workspaceID, Type: projectType}
	s.projects[info.ID] = &project{info: info}
	return info, nil
}

// UpdateProjectMeta validates and stores a project's label schema.
func (s *Store) UpdateProjectMeta(projectID int, schema json.RawMessage) error {
	meta, err := episode.ParseProjectMeta(schema)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: project %d", ErrNotFound, projectID)
	}
	p.meta = meta
	return nil
}

// CreateDataset creates a dataset in a project.
func (s *Store) CreateDataset(projectID int, name, description string, dedup bool) (platform.DatasetInfo, error) {
	if name == "" {
		return platform.DatasetInfo{}, fmt.Errorf("%w: dataset name is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return platform.DatasetInfo{}, fmt.Errorf("%w: project %d", ErrNotFound, projectID)
	}
	final, err := freeName(name, func(n string) bool {
		for _, d := range s.datasets {
			if d.ProjectID == projectID && d.Name == n {
				return true
			}
		}
		return false
	}, dedup)
	if err != nil {
		return platform.DatasetInfo{}, err
	}

	info := platform.DatasetInfo{ID: s.id(), ProjectID: projectID, Name: final, Description: description}
	s.datasets[info.ID] = &info
	return info, nil
}

// AddPointclouds stores point clouds with their contents. Names and frames
// must be unique within the dataset.
func (s *Store) AddPointclouds(datasetID int, items []platform.PointcloudUpload, contents [][]byte) ([]platform.PointcloudInfo, error) {
	if len(items) != len(contents) {
		return nil, fmt.Errorf("%w: %d items but %d files", ErrInvalid, len(items), len(contents))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[datasetID]; !ok {
		return nil, fmt.Errorf("%w: dataset %d", ErrNotFound, datasetID)
	}

	names := make(map[string]bool)
	frames := make(map[int]bool)
	for _, pc := range s.pointclouds {
		if pc.datasetID == datasetID {
			names[pc.info.Name] = true
			frames[pc.info.Frame] = true
		}
	}
	for _, it := range items {
		if it.Name == "" {
			return nil, fmt.Errorf("%w: point cloud name is required", ErrInvalid)
		}
		if names[it.Name] {
			return nil, fmt.Errorf("%w: point cloud %q", ErrConflict, it.Name)
		}
		if frames[it.Meta.Frame] {
			return nil, fmt.Errorf("%w: frame %d is already used", ErrInvalid, it.Meta.Frame)
		}
		names[it.Name] = true
		frames[it.Meta.Frame] = true
	}

	infos := make([]platform.PointcloudInfo, len(items))
	for i, it := range items {
		info := platform.PointcloudInfo{ID: s.id(), Name: it.Name, Frame: it.Meta.Frame, Hash: Hash(contents[i])}
		s.pointclouds[info.ID] = &pointcloud{info: info, datasetID: datasetID}
		infos[i] = info
	}
	return infos, nil
}

func (s *Store) projectMeta(datasetID int) (*episode.ProjectMeta, int, error) {
	ds, ok := s.datasets[datasetID]
	if !ok {
		return nil, 0, fmt.Errorf("%w: dataset %d", ErrNotFound, datasetID)
	}
	meta := s.projects[ds.ProjectID].meta
	if meta == nil {
		return nil, 0, fmt.Errorf("%w: project %d has no meta", ErrInvalid, ds.ProjectID)
	}
	return meta, ds.ProjectID, nil
}

func checkTags(meta *episode.ProjectMeta, tags []episode.Tag) error {
	for _, t := range tags {
		if _, ok := meta.Tag(t.Name); !ok {
			return fmt.Errorf("%w: unknown tag %q", ErrInvalid, t.Name)
		}
	}
	return nil
}

// AddEpisodeTags attaches episode-level tags to a dataset.
func (s *Store) AddEpisodeTags(datasetID int, tags []episode.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _, err := s.projectMeta(datasetID)
	if err != nil {
		return err
	}
	if err := checkTags(meta, tags); err != nil {
		return err
	}
	s.tags[datasetID] = append(s.tags[datasetID], tags...)
	return nil
}

// CreateObjects creates objects in the dataset's project.
func (s *Store) CreateObjects(datasetID int, objects []platform.ObjectCreate) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, projectID, err := s.projectMeta(datasetID)
	if err != nil {
		return nil, err
	}
	for _, o := range objects {
		if _, ok := meta.Class(o.ClassTitle); !ok {
			return nil, fmt.Errorf("%w: unknown class %q", ErrInvalid, o.ClassTitle)
		}
		if err := checkTags(meta, o.Tags); err != nil {
			return nil, err
		}
	}

	ids := make([]int, len(objects))
	for i, o := range objects {
		obj := &Object{ID: s.id(), ProjectID: projectID, DatasetID: datasetID, ObjectCreate: o}
		s.objects[obj.ID] = obj
		ids[i] = obj.ID
	}
	return ids, nil
}

// CreateFigures creates figures. Each figure's object must belong to the
// same project and its point cloud to the same dataset.
func (s *Store) CreateFigures(datasetID int, figures []platform.FigureCreate) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, projectID, err := s.projectMeta(datasetID)
	if err != nil {
		return nil, err
	}
	for _, f := range figures {
		obj, ok := s.objects[f.ObjectID]
		if !ok || obj.ProjectID != projectID {
			return nil, fmt.Errorf("%w: object %d", ErrNotFound, f.ObjectID)
		}
		pc, ok := s.pointclouds[f.EntityID]
		if !ok || pc.datasetID != datasetID {
			return nil, fmt.Errorf("%w: point cloud %d", ErrNotFound, f.EntityID)
		}
		class, _ := meta.Class(obj.ClassTitle)
		if class.Shape != episode.ShapeAny && class.Shape != f.GeometryType {
			return nil, fmt.Errorf("%w: %s figure for %s class %q", ErrInvalid, f.GeometryType, class.Shape, class.Title)
		}
	}

	ids := make([]int, len(figures))
	for i, f := range figures {
		fig := &Figure{ID: s.id(), DatasetID: datasetID, FigureCreate: f}
		s.figures[fig.ID] = fig
		ids[i] = fig.ID
	}
	return ids, nil
}

// AddImages stores uploaded image contents and returns their hashes in
// order.
func (s *Store) AddImages(contents [][]byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := make([]string, len(contents))
	for i, c := range contents {
		hashes[i] = Hash(c)
		s.images[hashes[i]] = int64(len(c))
	}
	return hashes
}

// AddLinks attaches uploaded images to point clouds.
func (s *Store) AddLinks(links []platform.RelatedImageLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range links {
		if _, ok := s.pointclouds[l.EntityID]; !ok {
			return fmt.Errorf("%w: point cloud %d", ErrNotFound, l.EntityID)
		}
		if _, ok := s.images[l.Hash]; !ok {
			return fmt.Errorf("%w: image %q was not uploaded", ErrNotFound, l.Hash)
		}
		if l.Name == "" {
			return fmt.Errorf("%w: link name is required", ErrInvalid)
		}
	}
	s.links = append(s.links, links...)
	return nil
}

// SetOutput records a task's output project.
func (s *Store) SetOutput(taskID int, out platform.TaskOutputRequest) error {
	if taskID <= 0 {
		return fmt.Errorf("%w: task id must be positive", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[out.ProjectID]; !ok {
		return fmt.Errorf("%w: project %d", ErrNotFound, out.ProjectID)
	}
	s.outputs[taskID] = out
	return nil
}

// Stats counts stored entities.
type Stats struct {
	Projects    int
	Datasets    int
	Pointclouds int
	Objects     int
	Figures     int
	Images      int
	Links       int
}

// Stats returns current entity counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Projects:    len(s.projects),
		Datasets:    len(s.datasets),
		Pointclouds: len(s.pointclouds),
		Objects:     len(s.objects),
		Figures:     len(s.figures),
		Images:      len(s.images),
		Links:       len(s.links),
	}
}

// Project returns a project by ID.
func (s *Store) Project(id int) (platform.ProjectInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return platform.ProjectInfo{}, false
	}
	return p.info, true
}

// ProjectMeta returns the schema stored for a project.
func (s *Store) ProjectMeta(id int) (*episode.ProjectMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.meta == nil {
		return nil, false
	}
	return p.meta, true
}

// Datasets lists a project's datasets in creation order.
func (s *Store) Datasets(projectID int) []platform.DatasetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []platform.DatasetInfo
	for _, d := range s.datasets {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pointclouds lists a dataset's point clouds in upload order.
func (s *Store) Pointclouds(datasetID int) []platform.PointcloudInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []platform.PointcloudInfo
	for _, pc := range s.pointclouds {
		if pc.datasetID == datasetID {
			out = append(out, pc.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Objects lists a project's objects in creation order.
func (s *Store) Objects(projectID int) []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Object
	for _, o := range s.objects {
		if o.ProjectID == projectID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Figures lists a dataset's figures in creation order.
func (s *Store) Figures(datasetID int) []Figure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Figure
	for _, f := range s.figures {
		if f.DatasetID == datasetID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EpisodeTags returns the tags attached to a dataset.
func (s *Store) EpisodeTags(datasetID int) []episode.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]episode.Tag(nil), s.tags[datasetID]...)
}

// Links returns every related image link in insertion order.
func (s *Store) Links() []platform.RelatedImageLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.RelatedImageLink(nil), s.links...)
}

// Output returns the output recorded for a task.
func (s *Store) Output(taskID int) (platform.TaskOutputRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[taskID]
	return out, ok
}
