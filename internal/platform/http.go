package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/pcdimport/internal/episode"
	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/progress"
	"github.com/fyrsmithlabs/pcdimport/internal/sanitize"
)

const apiPrefix = "/api/v1"

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// HTTPClient implements Client against the platform REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. A non-empty token is sent as a bearer
// token on every request.
func NewHTTPClient(cfg HTTPConfig, logger *logging.Logger) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid platform url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	hc := &http.Client{}
	if cfg.Token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	}
	hc.Timeout = cfg.Timeout

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    hc,
		limiter: limiter,
		logger:  logger.Named("platform"),
	}, nil
}

// IsOnAgent reports whether path lives on an agent.
func (c *HTTPClient) IsOnAgent(path string) bool {
	return IsOnAgent(path)
}

func fileQuery(teamID int, p string) url.Values {
	return url.Values{"team_id": {strconv.Itoa(teamID)}, "path": {p}}
}

// FileInfo returns metadata of a single file.
func (c *HTTPClient) FileInfo(ctx context.Context, teamID int, p string) (*FileInfo, error) {
	var info FileInfo
	if err := c.doJSON(ctx, http.MethodGet, "/files/info", fileQuery(teamID, p), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) listFiles(ctx context.Context, teamID int, dir string) ([]FileInfo, error) {
	var resp ListFilesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/files/list", fileQuery(teamID, dir), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// DirectorySize sums the sizes of every file under dir.
func (c *HTTPClient) DirectorySize(ctx context.Context, teamID int, dir string) (int64, error) {
	files, err := c.listFiles(ctx, teamID, dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total, nil
}

// DownloadDirectory downloads every file under remoteDir into localDir,
// keeping relative paths. progress receives byte counts.
func (c *HTTPClient) DownloadDirectory(ctx context.Context, teamID int, remoteDir, localDir string, progress progress.Func) error {
	files, err := c.listFiles(ctx, teamID, remoteDir)
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(remoteDir, "/") + "/"
	for _, f := range files {
		clean := path.Clean(f.Path)
		if !strings.HasPrefix(clean, prefix) {
			return fmt.Errorf("listed file %q is outside %q", f.Path, remoteDir)
		}
		rel := strings.TrimPrefix(clean, prefix)
		local, err := sanitize.EntryPath(localDir, rel)
		if err != nil {
			return fmt.Errorf("listed file %q: %w", f.Path, err)
		}
		if err := c.Download(ctx, teamID, f.Path, local, progress); err != nil {
			return err
		}
	}
	return nil
}

// Download streams one remote file to localPath. progress receives byte
// counts.
func (c *HTTPClient) Download(ctx context.Context, teamID int, remotePath, localPath string, progress progress.Func) error {
	resp, err := c.send(ctx, http.MethodGet, "/files/download", fileQuery(teamID, remotePath), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	var w io.Writer = f
	if progress != nil {
		w = &progressWriter{w: f, fn: progress}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	return f.Close()
}

// Remove deletes a file or directory from team storage.
func (c *HTTPClient) Remove(ctx context.Context, teamID int, p string) error {
	return c.doJSON(ctx, http.MethodDelete, "/files", fileQuery(teamID, p), nil, nil)
}

// CreateProject creates a project. With dedup a conflicting name gets a
// numeric suffix instead of failing.
func (c *HTTPClient) CreateProject(ctx context.Context, workspaceID int, name, projectType string, dedup bool) (*ProjectInfo, error) {
	var info ProjectInfo
	req := CreateProjectRequest{WorkspaceID: workspaceID, Name: name, Type: projectType, Dedup: dedup}
	if err := c.doJSON(ctx, http.MethodPost, "/projects", nil, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateProjectMeta replaces the label schema of a project.
func (c *HTTPClient) UpdateProjectMeta(ctx context.Context, projectID int, schema json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/projects/%d/meta", projectID), nil, schema, nil)
}

// CreateDataset creates a dataset in a project.
func (c *HTTPClient) CreateDataset(ctx context.Context, projectID int, name, description string, dedup bool) (*DatasetInfo, error) {
	var info DatasetInfo
	req := CreateDatasetRequest{ProjectID: projectID, Name: name, Description: description, Dedup: dedup}
	if err := c.doJSON(ctx, http.MethodPost, "/datasets", nil, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UploadPointclouds uploads all items in one multipart request. progress
// receives one count per item once its bytes are sent.
func (c *HTTPClient) UploadPointclouds(ctx context.Context, datasetID int, items []PointcloudUpload, progress progress.Func) ([]PointcloudInfo, error) {
	meta, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding items: %w", err)
	}
	parts := make([]filePart, len(items))
	for i, it := range items {
		parts[i] = filePart{name: it.Name, path: it.Path}
	}

	var infos []PointcloudInfo
	if err := c.uploadMultipart(ctx, fmt.Sprintf("/datasets/%d/pointclouds", datasetID), meta, parts, progress, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// AddEpisodeTags attaches episode-level tags to a dataset.
func (c *HTTPClient) AddEpisodeTags(ctx context.Context, datasetID int, tags []episode.Tag) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/datasets/%d/tags", datasetID), nil, TagsRequest{Tags: tags}, nil)
}

// CreateObjects creates objects and returns their IDs in request order.
func (c *HTTPClient) CreateObjects(ctx context.Context, datasetID int, objects []ObjectCreate) ([]int, error) {
	var resp IDsResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/datasets/%d/objects", datasetID), nil, ObjectsRequest{Objects: objects}, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// CreateFigures creates figures and returns their IDs in request order.
func (c *HTTPClient) CreateFigures(ctx context.Context, datasetID int, figures []FigureCreate) ([]int, error) {
	var resp IDsResponse
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/datasets/%d/figures", datasetID), nil, FiguresRequest{Figures: figures}, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// UploadRelatedImages uploads images in one multipart request and returns
// their content hashes in path order.
func (c *HTTPClient) UploadRelatedImages(ctx context.Context, paths []string, progress progress.Func) ([]string, error) {
	parts := make([]filePart, len(paths))
	for i, p := range paths {
		parts[i] = filePart{name: filepath.Base(p), path: p}
	}

	var resp HashesResponse
	if err := c.uploadMultipart(ctx, "/related-images", nil, parts, progress, &resp); err != nil {
		return nil, err
	}
	return resp.Hashes, nil
}

// AddRelatedImages links uploaded images to point clouds.
func (c *HTTPClient) AddRelatedImages(ctx context.Context, links []RelatedImageLink) error {
	return c.doJSON(ctx, http.MethodPost, "/related-images/links", nil, LinksRequest{Links: links}, nil)
}

// SetOutputProject publishes the imported project as the task result.
func (c *HTTPClient) SetOutputProject(ctx context.Context, taskID, projectID int, projectName string) error {
	req := TaskOutputRequest{ProjectID: projectID, ProjectName: projectName}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/output", taskID), nil, req, nil)
}

type filePart struct {
	name string
	path string
}

// uploadMultipart streams an optional "items" JSON field followed by one
// "file" part per file, without buffering files in memory.
func (c *HTTPClient) uploadMultipart(ctx context.Context, endpoint string, items []byte, files []filePart, progress progress.Func, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, items, files, progress))
	}()

	resp, err := c.send(ctx, http.MethodPost, endpoint, nil, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

func writeParts(mw *multipart.Writer, items []byte, files []filePart, progress progress.Func) error {
	if items != nil {
		if err := mw.WriteField("items", string(items)); err != nil {
			return err
		}
	}
	for _, fp := range files {
		if err := copyPart(mw, fp); err != nil {
			return err
		}
		if progress != nil {
			progress(1)
		}
	}
	return mw.Close()
}

func copyPart(mw *multipart.Writer, fp filePart) error {
	f, err := os.Open(fp.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", fp.path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", fp.name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("sending %s: %w", fp.path, err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, method, endpoint, query, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

// send performs one rate-limited request and turns non-2xx responses into
// *APIError. The caller closes the body of a successful response.
func (c *HTTPClient) send(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	c.logger.Trace(ctx, "platform request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Method: method, Path: endpoint, StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Message != "" {
		apiErr.Message = er.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return nil, apiErr
}

func decodeBody(resp *http.Response, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty response body")
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type progressWriter struct {
	w  io.Writer
	fn progress.Func
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}
