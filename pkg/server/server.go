// Package server exposes managed repositories over HTTP, with a WebDAV
// subset for deployment, and a small REST API over the artifact index.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/metrics"
	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/types"
)

const (
	userKey = "user"
	realm   = `Basic realm="Repository Archiva Managed Repository"`
)

// Index is the part of the artifact index queried by the server.
type Index interface {
	Search(term string, limit int, repoIDs ...string) ([]types.Index, error)
	SelectIndexBySha1(sha1 string) (types.Index, error)
	SelectByClass(name string) ([]types.Index, error)
	SelectPaths(repoID string) ([]string, error)
	DeleteByPath(repoID string, paths ...string) error
	LastScan(repoID string) (types.ScanStatistics, bool, error)
}

// Scheduler queues repository scans.
type Scheduler interface {
	QueueScan(repoID string, full bool) (string, error)
}

// Processor runs the repository consumers over a deployed file.
type Processor interface {
	ScanFile(ctx context.Context, repo types.ManagedRepository, path string) error
}

// Proxy fetches missing files from remote repositories.
type Proxy interface {
	HasConnectors(repoID string) bool
	Fetch(ctx context.Context, repo types.ManagedRepository, rel string) (string, error)
}

type Option struct {
	Host         string
	Port         int
	Repositories []types.ManagedRepository
	Security     *security.Manager
	Index        Index
	Scheduler    Scheduler
	Processor    Processor
	Proxy        Proxy
}

type Server struct {
	echo      *echo.Echo
	addr      string
	repos     map[string]types.ManagedRepository
	repoIDs   []string
	security  *security.Manager
	index     Index
	scheduler Scheduler
	processor Processor
	proxy     Proxy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(opt Option) *Server {
	if opt.Security == nil {
		opt.Security = security.New(nil, nil)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		addr:      fmt.Sprintf("%s:%d", opt.Host, opt.Port),
		repos:     make(map[string]types.ManagedRepository, len(opt.Repositories)),
		security:  opt.Security,
		index:     opt.Index,
		scheduler: opt.Scheduler,
		processor: opt.Processor,
		proxy:     opt.Proxy,
		metrics:   metrics.Get(),
		logger:    slog.Default().With(slog.String("component", "server")),
	}
	for _, r := range opt.Repositories {
		s.repos[r.ID] = r
		s.repoIDs = append(s.repoIDs, r.ID)
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.logRequests)
	e.Use(s.authenticate)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/repository/", s.handleRepositoryIndex)
	s.echo.GET("/repository/:repo", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, c.Request().URL.Path+"/")
	})
	repo := s.echo.Group("/repository/:repo")
	repo.GET("/*", s.handleGet)
	repo.HEAD("/*", s.handleGet)
	repo.PUT("/*", s.handlePut)
	repo.DELETE("/*", s.handleDelete)
	repo.Add("MKCOL", "/*", s.handleMkcol)

	api := s.echo.Group("/api")
	api.GET("/search", s.handleSearch)
	api.GET("/artifacts/sha1/:sha1", s.handleSHA1)
	api.GET("/artifacts/class/:name", s.handleClass)
	api.GET("/repositories", s.handleRepositories)
	api.POST("/repositories/:repo/scan", s.handleScan)
	api.GET("/repositories/:repo/stats", s.handleStats)
}

// Handler returns the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("Starting http server", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("http server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// let the error handler set the final status before logging
			c.Error(err)
		}
		duration := time.Since(start)
		status := c.Response().Status
		s.metrics.RecordHTTPRequest(c.Request().Method, status, duration)

		s.logger.Debug("HTTP request",
			slog.String("method", c.Request().Method),
			slog.String("uri", c.Request().RequestURI),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// authenticate resolves basic credentials. Requests without credentials
// continue as guests; wrong credentials are refused.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		username, password, ok := c.Request().BasicAuth()
		if !ok {
			return next(c)
		}
		user, err := s.security.Authenticate(username, password)
		if err != nil {
			return s.securityError(c, err)
		}
		c.Set(userKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *security.User {
	u, _ := c.Get(userKey).(*security.User)
	return u
}

// authorize returns the repository when the current user may perform op on it.
func (s *Server) authorize(c echo.Context, op security.Operation) (types.ManagedRepository, error) {
	repoID := c.Param("repo")
	repo, ok := s.repos[repoID]
	if !ok {
		return types.ManagedRepository{}, echo.NewHTTPError(http.StatusNotFound, "unknown repository "+repoID)
	}
	if err := s.security.Authorize(currentUser(c), op, repoID); err != nil {
		return types.ManagedRepository{}, s.securityError(c, err)
	}
	return repo, nil
}

func (s *Server) securityError(c echo.Context, err error) error {
	if errors.Is(err, security.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, realm)
	return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		s.logger.Error("Request failed", slog.String("uri", c.Request().RequestURI), slog.Any("error", err))
		he = echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, map[string]any{"error": he.Message})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
