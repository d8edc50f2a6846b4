package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/platform"
)

// maxPartSize bounds a single uploaded file held in memory by the sandbox.
const maxPartSize = 512 << 20

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	st := s.store.Stats()
	return c.JSON(http.StatusOK, StatsResponse{
		Projects:    st.Projects,
		Datasets:    st.Datasets,
		Pointclouds: st.Pointclouds,
		Objects:     st.Objects,
		Figures:     st.Figures,
		Images:      st.Images,
		Links:       st.Links,
	})
}

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func idParam(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func fileParams(c echo.Context) (int, string, error) {
	teamID, err := strconv.Atoi(c.QueryParam("team_id"))
	if err != nil {
		return 0, "", badRequest("invalid team_id %q", c.QueryParam("team_id"))
	}
	p := c.QueryParam("path")
	if p == "" {
		return 0, "", badRequest("path is required")
	}
	return teamID, p, nil
}

func bindJSON(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleFileInfo(c echo.Context) error {
	teamID, p, err := fileParams(c)
	if err != nil {
		return err
	}
	info, err := s.store.FileInfo(teamID, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleListFiles(c echo.Context) error {
	teamID, p, err := fileParams(c)
	if err != nil {
		return err
	}
	files, err := s.store.ListFiles(teamID, p)
	if err != nil {
		return err
	}
	if files == nil {
		files = []platform.FileInfo{}
	}
	return c.JSON(http.StatusOK, platform.ListFilesResponse{Files: files})
}

func (s *Server) handleDownload(c echo.Context) error {
	teamID, p, err := fileParams(c)
	if err != nil {
		return err
	}
	f, err := s.store.OpenFile(teamID, p)
	if err != nil {
		return err
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", path.Base(p)))
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, f)
}

func (s *Server) handleRemove(c echo.Context) error {
	teamID, p, err := fileParams(c)
	if err != nil {
		return err
	}
	if err := s.store.RemoveFile(teamID, p); err != nil {
		return err
	}
	s.logger.Debug(c.Request().Context(), "removed team file", zap.Int("team_id", teamID), zap.String("path", p))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req platform.CreateProjectRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	info, err := s.store.CreateProject(req.WorkspaceID, req.Name, req.Type, req.Dedup)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

func (s *Server) handleUpdateMeta(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	schema, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest("reading body: %v", err)
	}
	if err := s.store.UpdateProjectMeta(id, schema); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateDataset(c echo.Context) error {
	var req platform.CreateDatasetRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	info, err := s.store.CreateDataset(req.ProjectID, req.Name, req.Description, req.Dedup)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, info)
}

// readParts walks a multipart body. The optional "items" field is decoded
// into items; "file" parts are returned in order with their file names.
func readParts(c echo.Context, items any) ([]string, [][]byte, error) {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return nil, nil, badRequest("expected multipart body: %v", err)
	}

	var names []string
	var contents [][]byte
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, badRequest("reading multipart body: %v", err)
		}
		name, data, err := readPart(part)
		if err != nil {
			return nil, nil, err
		}

		switch part.FormName() {
		case "items":
			if items == nil {
				return nil, nil, badRequest("unexpected items field")
			}
			if err := json.Unmarshal(data, items); err != nil {
				return nil, nil, badRequest("invalid items: %v", err)
			}
		case "file":
			names = append(names, name)
			contents = append(contents, data)
		default:
			return nil, nil, badRequest("unexpected part %q", part.FormName())
		}
	}
	return names, contents, nil
}

func readPart(part *multipart.Part) (string, []byte, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, maxPartSize+1))
	if err != nil {
		return "", nil, badRequest("reading part: %v", err)
	}
	if len(data) > maxPartSize {
		return "", nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "part too large")
	}
	return part.FileName(), data, nil
}

func (s *Server) handleUploadPointclouds(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}

	var items []platform.PointcloudUpload
	names, contents, err := readParts(c, &items)
	if err != nil {
		return err
	}
	if len(names) != len(items) {
		return badRequest("%d items but %d files", len(items), len(names))
	}
	for i, it := range items {
		if names[i] != it.Name {
			return badRequest("file %d is %q, item says %q", i, names[i], it.Name)
		}
	}

	infos, err := s.store.AddPointclouds(id, items, contents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, infos)
}

func (s *Server) handleEpisodeTags(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req platform.TagsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := s.store.AddEpisodeTags(id, req.Tags); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateObjects(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req platform.ObjectsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ids, err := s.store.CreateObjects(id, req.Objects)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, platform.IDsResponse{IDs: ids})
}

func (s *Server) handleCreateFigures(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req platform.FiguresRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ids, err := s.store.CreateFigures(id, req.Figures)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, platform.IDsResponse{IDs: ids})
}

func (s *Server) handleUploadImages(c echo.Context) error {
	_, contents, err := readParts(c, nil)
	if err != nil {
		return err
	}
	hashes := s.store.AddImages(contents)
	if hashes == nil {
		hashes = []string{}
	}
	return c.JSON(http.StatusCreated, platform.HashesResponse{Hashes: hashes})
}

func (s *Server) handleLinks(c echo.Context) error {
	var req platform.LinksRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := s.store.AddLinks(req.Links); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTaskOutput(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req platform.TaskOutputRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := s.store.SetOutput(id, req); err != nil {
		return err
	}
	s.logger.Info(c.Request().Context(), "task output set",
		zap.Int("task_id", id),
		zap.Int("project_id", req.ProjectID),
		zap.String("project_name", req.ProjectName),
	)
	return c.NoContent(http.StatusNoContent)
}
