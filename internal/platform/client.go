package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
)

// AgentPrefix marks team storage paths that live on a compute agent.
const AgentPrefix = "agent://"

// Storage reads and removes files in team storage.
type Storage interface {
	DirectorySize(ctx context.Context, teamID int, path string) (int64, error)
	DownloadDirectory(ctx context.Context, teamID int, remoteDir, localDir string, progress progress.Func) error
	FileInfo(ctx context.Context, teamID int, path string) (*FileInfo, error)
	Download(ctx context.Context, teamID int, remotePath, localPath string, progress progress.Func) error
	IsOnAgent(path string) bool
	Remove(ctx context.Context, teamID int, path string) error
}

// Projects creates projects and datasets.
type Projects interface {
	CreateProject(ctx context.Context, workspaceID int, name, projectType string, dedup bool) (*ProjectInfo, error)
	UpdateProjectMeta(ctx context.Context, projectID int, schema json.RawMessage) error
	CreateDataset(ctx context.Context, projectID int, name, description string, dedup bool) (*DatasetInfo, error)
}

// Episodes uploads point clouds, annotations and photo context.
type Episodes interface {
	UploadPointclouds(ctx context.Context, datasetID int, items []PointcloudUpload, progress progress.Func) ([]PointcloudInfo, error)
	AddEpisodeTags(ctx context.Context, datasetID int, tags []episode.Tag) error
	CreateObjects(ctx context.Context, datasetID int, objects []ObjectCreate) ([]int, error)
	CreateFigures(ctx context.Context, datasetID int, figures []FigureCreate) ([]int, error)
	// UploadRelatedImages returns one content hash per path, in path order.
	UploadRelatedImages(ctx context.Context, paths []string, progress progress.Func) ([]string, error)
	AddRelatedImages(ctx context.Context, links []RelatedImageLink) error
}

// Tasks publishes task results.
type Tasks interface {
	SetOutputProject(ctx context.Context, taskID, projectID int, projectName string) error
}

// Client is everything an import needs from the platform.
type Client interface {
	Storage
	Projects
	Episodes
	Tasks
}

// IsOnAgent reports whether a storage path lives on an agent.
func IsOnAgent(path string) bool {
	return strings.HasPrefix(path, AgentPrefix)
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the platform.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
