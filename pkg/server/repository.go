package server

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/proxy"
	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head><title>Collection: {{.Title}}</title></head>
<body>
<h3>Collection: {{.Title}}</h3>
<ul>
{{- if .Parent}}
<li><a href="../">../</a></li>
{{- end}}
{{- range .Entries}}
<li><a href="{{.}}">{{.}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

type listing struct {
	Title   string
	Parent  bool
	Entries []string
}

// cleanPath returns the repository relative form of p. Paths escaping the
// repository root are rejected.
func cleanPath(p string) (string, error) {
	if slices.Contains(strings.Split(p, "/"), "..") {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path "+p)
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/"), nil
}

// nativePath converts a request path to the layout of repo. Paths that are
// not artifacts in any layout are used as is.
func nativePath(repo types.ManagedRepository, rel string) string {
	if native, err := layout.ToNativePath(rel, layout.For(repo.Layout)); err == nil {
		return native
	}
	return rel
}

func (s *Server) handleRepositoryIndex(c echo.Context) error {
	ids := s.security.Readable(currentUser(c), s.repoIDs)
	if len(ids) == 0 && currentUser(c) == nil {
		return s.securityError(c, security.ErrUnauthorized)
	}
	entries := make([]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, id+"/")
	}
	slices.Sort(entries)
	return s.renderListing(c, listing{Title: "/", Entries: entries})
}

func (s *Server) handleGet(c echo.Context) error {
	repo, err := s.authorize(c, security.OpRead)
	if err != nil {
		return err
	}
	rel, err := cleanPath(c.Param("*"))
	if err != nil {
		return err
	}

	if fi, err := os.Stat(repo.Abs(rel)); err == nil && fi.IsDir() {
		if !strings.HasSuffix(c.Request().URL.Path, "/") {
			return c.Redirect(http.StatusMovedPermanently, c.Request().URL.Path+"/")
		}
		return s.listDirectory(c, repo, rel)
	}

	rel = nativePath(repo, rel)
	if s.proxy != nil && s.proxy.HasConnectors(repo.ID) {
		file, err := s.proxy.Fetch(c.Request().Context(), repo, rel)
		if errors.Is(err, proxy.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "not found: "+rel)
		} else if err != nil {
			return xerrors.Errorf("proxy error: %w", err)
		}
		return c.File(file)
	}

	fi, err := os.Stat(repo.Abs(rel))
	if errors.Is(err, os.ErrNotExist) || (err == nil && fi.IsDir()) {
		return echo.NewHTTPError(http.StatusNotFound, "not found: "+rel)
	} else if err != nil {
		return xerrors.Errorf("stat error: %w", err)
	}
	return c.File(repo.Abs(rel))
}

func (s *Server) listDirectory(c echo.Context, repo types.ManagedRepository, rel string) error {
	dirEntries, err := os.ReadDir(repo.Abs(rel))
	if err != nil {
		return xerrors.Errorf("unable to read directory: %w", err)
	}
	var entries []string
	for _, e := range dirEntries {
		if fileutil.IsHidden(e.Name()) {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	return s.renderListing(c, listing{
		Title:   "/" + path.Join(repo.ID, rel),
		Parent:  true,
		Entries: entries,
	})
}

func (s *Server) renderListing(c echo.Context, l listing) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	if c.Request().Method == http.MethodHead {
		return nil
	}
	return listingTemplate.Execute(c.Response(), l)
}

func (s *Server) handlePut(c echo.Context) error {
	repo, err := s.authorize(c, security.OpWrite)
	if err != nil {
		return err
	}
	rel, err := cleanPath(c.Param("*"))
	if err != nil {
		return err
	}
	if rel == "" || fileutil.IsHidden(rel) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path "+rel)
	}
	rel = nativePath(repo, rel)
	file := repo.Abs(rel)

	fi, err := os.Stat(file)
	exists := err == nil
	if exists && fi.IsDir() {
		return echo.NewHTTPError(http.StatusConflict, rel+" is a collection")
	}
	if err = checkDeploy(repo, rel, exists); err != nil {
		return err
	}

	if err = fileutil.WriteFile(file, c.Request().Body); err != nil {
		return xerrors.Errorf("deploy error: %w", err)
	}
	s.logger.Info("Deployed file", slog.String("repository", repo.ID), slog.String("path", rel))

	if s.processor != nil && !layout.IsSupportFile(rel) && !layout.IsMetadata(rel) {
		if err = s.processor.ScanFile(c.Request().Context(), repo, rel); err != nil {
			s.logger.Error("Unable to process deployed file", slog.String("path", rel), slog.Any("error", err))
		}
	}
	if exists {
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusCreated)
}

// checkDeploy applies the release and snapshot policies of repo to a deploy
// of rel. Released artifacts can't be redeployed; checksums, signatures and
// metadata can always be replaced.
func checkDeploy(repo types.ManagedRepository, rel string, exists bool) error {
	if layout.IsSupportFile(rel) || layout.IsMetadata(rel) {
		return nil
	}
	ref, err := layout.For(repo.Layout).ToArtifactReference(rel)
	if err != nil {
		// not an artifact, e.g. archetype-catalog.xml
		return nil
	}
	snapshot := versions.IsSnapshot(ref.Version)
	switch {
	case snapshot && !repo.Snapshots:
		return echo.NewHTTPError(http.StatusBadRequest, "repository "+repo.ID+" doesn't accept snapshots")
	case !snapshot && !repo.Releases:
		return echo.NewHTTPError(http.StatusBadRequest, "repository "+repo.ID+" doesn't accept releases")
	case !snapshot && exists:
		return echo.NewHTTPError(http.StatusConflict, "release "+rel+" is already deployed")
	}
	return nil
}

func (s *Server) handleDelete(c echo.Context) error {
	repo, err := s.authorize(c, security.OpDelete)
	if err != nil {
		return err
	}
	rel, err := cleanPath(c.Param("*"))
	if err != nil {
		return err
	}
	if rel == "" {
		return echo.NewHTTPError(http.StatusForbidden, "the repository root can't be deleted")
	}
	file := repo.Abs(rel)
	fi, err := os.Stat(file)
	if errors.Is(err, os.ErrNotExist) {
		return echo.NewHTTPError(http.StatusNotFound, "not found: "+rel)
	} else if err != nil {
		return xerrors.Errorf("stat error: %w", err)
	}

	if err = os.RemoveAll(file); err != nil {
		return xerrors.Errorf("unable to delete %s: %w", rel, err)
	}
	if err = s.unindex(repo.ID, rel, fi.IsDir()); err != nil {
		return err
	}
	if err = fileutil.RemoveEmptyParents(repo.Location, filepath.Dir(file)); err != nil {
		s.logger.Warn("Unable to remove empty directories", slog.Any("error", err))
	}
	s.logger.Info("Deleted", slog.String("repository", repo.ID), slog.String("path", rel))
	return c.NoContent(http.StatusNoContent)
}

// unindex removes the index rows of rel, or of everything below it when it
// was a directory.
func (s *Server) unindex(repoID, rel string, dir bool) error {
	if s.index == nil {
		return nil
	}
	paths, err := s.index.SelectPaths(repoID)
	if err != nil {
		return xerrors.Errorf("unable to list indexed paths: %w", err)
	}
	var stale []string
	for _, p := range paths {
		if p == rel || (dir && strings.HasPrefix(p, rel+"/")) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err = s.index.DeleteByPath(repoID, stale...); err != nil {
		return xerrors.Errorf("unable to delete index rows: %w", err)
	}
	return nil
}

func (s *Server) handleMkcol(c echo.Context) error {
	repo, err := s.authorize(c, security.OpWrite)
	if err != nil {
		return err
	}
	rel, err := cleanPath(c.Param("*"))
	if err != nil {
		return err
	}
	dir := repo.Abs(rel)
	if _, err = os.Stat(dir); err == nil {
		return echo.NewHTTPError(http.StatusMethodNotAllowed, rel+" already exists")
	}
	if fi, err := os.Stat(filepath.Dir(dir)); err != nil || !fi.IsDir() {
		return echo.NewHTTPError(http.StatusConflict, "parent collection of "+rel+" doesn't exist")
	}
	if err = os.Mkdir(dir, 0755); err != nil {
		return xerrors.Errorf("unable to create %s: %w", rel, err)
	}
	return c.NoContent(http.StatusCreated)
}
