package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

// Client implements platform.Client directly on a Store, without HTTP.
// It records the name of every call it receives.
type Client struct {
	store *Store

	mu    sync.Mutex
	calls []string
}

var _ platform.Client = (*Client)(nil)

// NewClient returns a client backed by store.
func NewClient(store *Store) *Client {
	return &Client{store: store}
}

// Store returns the backing store.
func (c *Client) Store() *Store {
	return c.store
}

// Calls returns the names of the calls made so far, in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// CallCount returns how many times the named call was made.
func (c *Client) CallCount(name string) int {
	n := 0
	for _, call := range c.Calls() {
		if call == name {
			n++
		}
	}
	return n
}

func (c *Client) record(ctx context.Context, name string) error {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *Client) IsOnAgent(p string) bool {
	return platform.IsOnAgent(p)
}

func (c *Client) FileInfo(ctx context.Context, teamID int, p string) (*platform.FileInfo, error) {
	if err := c.record(ctx, "FileInfo"); err != nil {
		return nil, err
	}
	info, err := c.store.FileInfo(teamID, p)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) DirectorySize(ctx context.Context, teamID int, dir string) (int64, error) {
	if err := c.record(ctx, "DirectorySize"); err != nil {
		return 0, err
	}
	files, err := c.store.ListFiles(teamID, dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total, nil
}

func (c *Client) DownloadDirectory(ctx context.Context, teamID int, remoteDir, localDir string, progress progress.Func) error {
	if err := c.record(ctx, "DownloadDirectory"); err != nil {
		return err
	}
	files, err := c.store.ListFiles(teamID, remoteDir)
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(path.Clean(remoteDir), "/") + "/"
	for _, f := range files {
		local, err := sanitize.EntryPath(localDir, strings.TrimPrefix(f.Path, prefix))
		if err != nil {
			return err
		}
		if err := c.download(ctx, teamID, f.Path, local, progress); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Download(ctx context.Context, teamID int, remotePath, localPath string, progress progress.Func) error {
	if err := c.record(ctx, "Download"); err != nil {
		return err
	}
	return c.download(ctx, teamID, remotePath, localPath, progress)
}

func (c *Client) download(ctx context.Context, teamID int, remotePath, localPath string, progress progress.Func) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := c.store.OpenFile(teamID, remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copying %s: %w", remotePath, err)
	}
	if progress != nil {
		progress(n)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, teamID int, p string) error {
	if err := c.record(ctx, "Remove"); err != nil {
		return err
	}
	return c.store.RemoveFile(teamID, p)
}

func (c *Client) CreateProject(ctx context.Context, workspaceID int, name, projectType string, dedup bool) (*platform.ProjectInfo, error) {
	if err := c.record(ctx, "CreateProject"); err != nil {
		return nil, err
	}
	info, err := c.store.CreateProject(workspaceID, name, projectType, dedup)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) UpdateProjectMeta(ctx context.Context, projectID int, schema json.RawMessage) error {
	if err := c.record(ctx, "UpdateProjectMeta"); err != nil {
		return err
	}
	return c.store.UpdateProjectMeta(projectID, schema)
}

func (c *Client) CreateDataset(ctx context.Context, projectID int, name, description string, dedup bool) (*platform.DatasetInfo, error) {
	if err := c.record(ctx, "CreateDataset"); err != nil {
		return nil, err
	}
	info, err := c.store.CreateDataset(projectID, name, description, dedup)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func readAll(paths []string, progress progress.Func) ([][]byte, error) {
	contents := make([][]byte, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		contents[i] = data
		if progress != nil {
			progress(1)
		}
	}
	return contents, nil
}

func (c *Client) UploadPointclouds(ctx context.Context, datasetID int, items []platform.PointcloudUpload, progress progress.Func) ([]platform.PointcloudInfo, error) {
	if err := c.record(ctx, "UploadPointclouds"); err != nil {
		return nil, err
	}
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	contents, err := readAll(paths, progress)
	if err != nil {
		return nil, err
	}
	return c.store.AddPointclouds(datasetID, items, contents)
}

func (c *Client) AddEpisodeTags(ctx context.Context, datasetID int, tags []episode.Tag) error {
	if err := c.record(ctx, "AddEpisodeTags"); err != nil {
		return err
	}
	return c.store.AddEpisodeTags(datasetID, tags)
}

func (c *Client) CreateObjects(ctx context.Context, datasetID int, objects []platform.ObjectCreate) ([]int, error) {
	if err := c.record(ctx, "CreateObjects"); err != nil {
		return nil, err
	}
	return c.store.CreateObjects(datasetID, objects)
}

func (c *Client) CreateFigures(ctx context.Context, datasetID int, figures []platform.FigureCreate) ([]int, error) {
	if err := c.record(ctx, "CreateFigures"); err != nil {
		return nil, err
	}
	return c.store.CreateFigures(datasetID, figures)
}

func (c *Client) UploadRelatedImages(ctx context.Context, paths []string, progress progress.Func) ([]string, error) {
	if err := c.record(ctx, "UploadRelatedImages"); err != nil {
		return nil, err
	}
	contents, err := readAll(paths, progress)
	if err != nil {
		return nil, err
	}
	return c.store.AddImages(contents), nil
}

func (c *Client) AddRelatedImages(ctx context.Context, links []platform.RelatedImageLink) error {
	if err := c.record(ctx, "AddRelatedImages"); err != nil {
		return err
	}
	return c.store.AddLinks(links)
}

func (c *Client) SetOutputProject(ctx context.Context, taskID, projectID int, projectName string) error {
	if err := c.record(ctx, "SetOutputProject"); err != nil {
		return err
	}
	return c.store.SetOutput(taskID, platform.TaskOutputRequest{ProjectID: projectID, ProjectName: projectName})
}
