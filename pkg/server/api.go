package server

import (
	"encoding/hex"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/types"
)

const defaultSearchLimit = 30

type artifact struct {
	RepositoryID string   `json:"repositoryId"`
	GroupID      string   `json:"groupId"`
	ArtifactID   string   `json:"artifactId"`
	Version      string   `json:"version"`
	Classifier   string   `json:"classifier,omitempty"`
	Type         string   `json:"type"`
	Path         string   `json:"path"`
	SHA1         string   `json:"sha1,omitempty"`
	Size         int64    `json:"size,omitempty"`
	Packaging    string   `json:"packaging,omitempty"`
	Name         string   `json:"name,omitempty"`
	Licenses     []string `json:"licenses,omitempty"`
}

func toArtifact(idx types.Index) artifact {
	return artifact{
		RepositoryID: idx.RepositoryID,
		GroupID:      idx.GroupID,
		ArtifactID:   idx.ArtifactID,
		Version:      idx.Version,
		Classifier:   idx.Classifier,
		Type:         idx.Type,
		Path:         idx.Path,
		SHA1:         hex.EncodeToString(idx.SHA1),
		Size:         idx.Size,
		Packaging:    idx.Packaging,
		Name:         idx.Name,
		Licenses:     idx.Licenses,
	}
}

type scanStatistics struct {
	RepositoryID     string           `json:"repositoryId"`
	Started          time.Time        `json:"started"`
	Finished         time.Time        `json:"finished"`
	Duration         string           `json:"duration"`
	TotalFileCount   int64            `json:"totalFileCount"`
	NewFileCount     int64            `json:"newFileCount"`
	InvalidFileCount int64            `json:"invalidFileCount"`
	ErrorCount       int64            `json:"errorCount"`
	TotalSize        int64            `json:"totalSize"`
	Consumers        map[string]int64 `json:"consumers,omitempty"`
}

// readable keeps the rows of repositories the current user may read.
func (s *Server) readable(c echo.Context, rows []types.Index) []artifact {
	allowed := s.security.Readable(currentUser(c), s.repoIDs)
	return lo.FilterMap(rows, func(row types.Index, _ int) (artifact, bool) {
		return toArtifact(row), slices.Contains(allowed, row.RepositoryID)
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query parameter q")
	}
	limit := defaultSearchLimit
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit "+l)
		}
		limit = n
	}
	allowed := s.security.Readable(currentUser(c), s.repoIDs)
	if len(allowed) == 0 {
		return c.JSON(http.StatusOK, []artifact{})
	}
	rows, err := s.index.Search(q, limit, allowed...)
	if err != nil {
		return xerrors.Errorf("search error: %w", err)
	}
	return c.JSON(http.StatusOK, s.readable(c, rows))
}

func (s *Server) handleSHA1(c echo.Context) error {
	sha1 := strings.ToLower(c.Param("sha1"))
	if _, err := hex.DecodeString(sha1); err != nil || len(sha1) != 40 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sha1 "+sha1)
	}
	row, err := s.index.SelectIndexBySha1(sha1)
	if err != nil {
		return xerrors.Errorf("select error: %w", err)
	}
	found := s.readable(c, []types.Index{row})
	if row.ArtifactID == "" || len(found) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no artifact with sha1 "+sha1)
	}
	return c.JSON(http.StatusOK, found[0])
}

func (s *Server) handleClass(c echo.Context) error {
	rows, err := s.index.SelectByClass(c.Param("name"))
	if err != nil {
		return xerrors.Errorf("select error: %w", err)
	}
	return c.JSON(http.StatusOK, s.readable(c, rows))
}

func (s *Server) handleRepositories(c echo.Context) error {
	allowed := s.security.Readable(currentUser(c), s.repoIDs)
	repos := make([]types.ManagedRepository, 0, len(allowed))
	for _, id := range allowed {
		repos = append(repos, s.repos[id])
	}
	return c.JSON(http.StatusOK, repos)
}

func (s *Server) handleScan(c echo.Context) error {
	repo, err := s.authorize(c, security.OpScan)
	if err != nil {
		return err
	}
	full, _ := strconv.ParseBool(c.QueryParam("full"))
	id, err := s.scheduler.QueueScan(repo.ID, full)
	if err != nil {
		return xerrors.Errorf("unable to queue scan: %w", err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"taskId": id})
}

func (s *Server) handleStats(c echo.Context) error {
	repo, err := s.authorize(c, security.OpRead)
	if err != nil {
		return err
	}
	stats, found, err := s.index.LastScan(repo.ID)
	if err != nil {
		return xerrors.Errorf("unable to read scan statistics: %w", err)
	} else if !found {
		return echo.NewHTTPError(http.StatusNotFound, repo.ID+" has never been scanned")
	}
	return c.JSON(http.StatusOK, scanStatistics{
		RepositoryID:     stats.RepositoryID,
		Started:          stats.Started,
		Finished:         stats.Finished,
		Duration:         stats.Duration().String(),
		TotalFileCount:   stats.TotalFileCount,
		NewFileCount:     stats.NewFileCount,
		InvalidFileCount: stats.InvalidFileCount,
		ErrorCount:       stats.ErrorCount,
		TotalSize:        stats.TotalSize,
		Consumers:        stats.Consumers,
	})
}
