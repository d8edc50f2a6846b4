// Package platform declares the remote collaborators an import talks to and
// provides an HTTP implementation of them.
package platform

import (
	"encoding/json"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
)

// FileInfo describes a file in team storage.
type FileInfo struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// ProjectInfo describes a remote project.
type ProjectInfo struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	WorkspaceID int    `json:"workspace_id"`
	Type        string `json:"type"`
}

// DatasetInfo describes a remote dataset.
type DatasetInfo struct {
	ID          int    `json:"id"`
	ProjectID   int    `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PointcloudMeta is attached to every uploaded point cloud.
type PointcloudMeta struct {
	Frame int `json:"frame"`
}

// PointcloudUpload is one point cloud to upload. Path is local and never
// sent over the wire.
type PointcloudUpload struct {
	Name string         `json:"name"`
	Path string         `json:"-"`
	Meta PointcloudMeta `json:"meta"`
}

// PointcloudInfo describes an uploaded point cloud.
type PointcloudInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Frame int    `json:"frame"`
	Hash  string `json:"hash"`
}

// ObjectCreate creates one annotated object in a dataset.
type ObjectCreate struct {
	Key        string        `json:"key"`
	ClassTitle string        `json:"class_title"`
	Tags       []episode.Tag `json:"tags,omitempty"`
}

// FigureCreate binds one figure to a remote object and point cloud.
type FigureCreate struct {
	Key          string          `json:"key,omitempty"`
	ObjectID     int             `json:"object_id"`
	EntityID     int             `json:"entity_id"`
	GeometryType string          `json:"geometry_type"`
	Geometry     json.RawMessage `json:"geometry"`
}

// RelatedImageLink attaches an uploaded image to a point cloud.
type RelatedImageLink struct {
	EntityID int             `json:"entity_id"`
	Name     string          `json:"name"`
	Hash     string          `json:"hash"`
	Meta     json.RawMessage `json:"meta"`
}

// Request and response envelopes of the REST API, shared with the sandbox
// server.

type CreateProjectRequest struct {
	WorkspaceID int    `json:"workspace_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Dedup       bool   `json:"change_name_if_conflict"`
}

type CreateDatasetRequest struct {
	ProjectID   int    `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Dedup       bool   `json:"change_name_if_conflict"`
}

type ListFilesResponse struct {
	Files []FileInfo `json:"files"`
}

type TagsRequest struct {
	Tags []episode.Tag `json:"tags"`
}

type ObjectsRequest struct {
	Objects []ObjectCreate `json:"objects"`
}

type FiguresRequest struct {
	Figures []FigureCreate `json:"figures"`
}

type IDsResponse struct {
	IDs []int `json:"ids"`
}

type HashesResponse struct {
	Hashes []string `json:"hashes"`
}

type LinksRequest struct {
	Links []RelatedImageLink `json:"links"`
}

type TaskOutputRequest struct {
	ProjectID   int    `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
