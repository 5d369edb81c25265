package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/apache/archiva-sub036/pkg/db"
	"github.com/apache/archiva-sub036/pkg/dbtest"
	"github.com/apache/archiva-sub036/pkg/proxy"
	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/server"
	"github.com/apache/archiva-sub036/pkg/types"
)

type fakeProcessor struct {
	mu    sync.Mutex
	paths []string
}

func (p *fakeProcessor) ScanFile(_ context.Context, _ types.ManagedRepository, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return nil
}

type fakeScheduler struct {
	repoID string
	full   bool
}

func (s *fakeScheduler) QueueScan(repoID string, full bool) (string, error) {
	s.repoID, s.full = repoID, full
	return "task-1", nil
}

type fakeProxy struct {
	repoID string
	files  map[string]string
}

func (p fakeProxy) HasConnectors(repoID string) bool { return repoID == p.repoID }

func (p fakeProxy) Fetch(_ context.Context, repo types.ManagedRepository, rel string) (string, error) {
	content, ok := p.files[rel]
	if !ok {
		return "", proxy.ErrNotFound
	}
	file := repo.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return "", err
	}
	return file, os.WriteFile(file, []byte(content), 0644)
}

type env struct {
	handler   http.Handler
	internal  types.ManagedRepository
	central   types.ManagedRepository
	db        *db.DB
	processor *fakeProcessor
	scheduler *fakeScheduler
}

func hash(t *testing.T, password string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(b)
}

func newEnv(t *testing.T, rows []types.Index) *env {
	t.Helper()
	e := &env{
		internal:  types.ManagedRepository{ID: "internal", Location: t.TempDir(), Layout: types.DefaultLayout, Releases: true},
		central:   types.ManagedRepository{ID: "central", Location: t.TempDir(), Layout: types.DefaultLayout, Releases: true, GuestReadable: true},
		db:        dbtest.InitDB(t, rows),
		processor: &fakeProcessor{},
		scheduler: &fakeScheduler{},
	}
	sec := security.New([]security.User{
		{Username: "admin", PasswordHash: hash(t, "admin123"), Roles: []string{security.RoleSystemAdministrator}},
		{Username: "observer", PasswordHash: hash(t, "observer"), Roles: []string{security.ObserverRole("internal")}},
	}, []string{"central"})

	e.handler = server.New(server.Option{
		Repositories: []types.ManagedRepository{e.internal, e.central},
		Security:     sec,
		Index:        e.db,
		Scheduler:    e.scheduler,
		Processor:    e.processor,
		Proxy: fakeProxy{
			repoID: "central",
			files:  map[string]string{"org/foo/bar/1.0/bar-1.0.pom": "<project/>"},
		},
	}).Handler()
	return e
}

func (e *env) do(method, target, user, password string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func writeFile(t *testing.T, repo types.ManagedRepository, rel, content string) {
	t.Helper()
	full := repo.Abs(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestServer_Get(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		user         string
		password     string
		wantStatus   int
		wantBody     string
		wantLocation string
		wantAuth     bool
	}{
		{
			name:       "artifact",
			target:     "/repository/internal/org/foo/bar/1.0/bar-1.0.jar",
			user:       "observer",
			password:   "observer",
			wantStatus: http.StatusOK,
			wantBody:   "jar content",
		},
		{
			name:       "legacy request path",
			target:     "/repository/internal/org.foo/jars/bar-1.0.jar",
			user:       "observer",
			password:   "observer",
			wantStatus: http.StatusOK,
			wantBody:   "jar content",
		},
		{
			name:       "directory listing",
			target:     "/repository/internal/org/foo/",
			user:       "admin",
			password:   "admin123",
			wantStatus: http.StatusOK,
			wantBody:   `<a href="bar/">bar/</a>`,
		},
		{
			name:         "directory without trailing slash",
			target:       "/repository/internal/org/foo",
			user:         "admin",
			password:     "admin123",
			wantStatus:   http.StatusMovedPermanently,
			wantLocation: "/repository/internal/org/foo/",
		},
		{
			name:       "missing file",
			target:     "/repository/internal/org/foo/bar/2.0/bar-2.0.jar",
			user:       "admin",
			password:   "admin123",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "guest on private repository",
			target:     "/repository/internal/org/foo/bar/1.0/bar-1.0.jar",
			wantStatus: http.StatusUnauthorized,
			wantAuth:   true,
		},
		{
			name:       "wrong password",
			target:     "/repository/central/org/foo/bar/1.0/bar-1.0.pom",
			user:       "admin",
			password:   "wrong",
			wantStatus: http.StatusUnauthorized,
			wantAuth:   true,
		},
		{
			name:       "guest on proxied repository",
			target:     "/repository/central/org/foo/bar/1.0/bar-1.0.pom",
			wantStatus: http.StatusOK,
			wantBody:   "<project/>",
		},
		{
			name:       "not found remotely",
			target:     "/repository/central/org/foo/bar/2.0/bar-2.0.pom",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown repository",
			target:     "/repository/unknown/foo",
			user:       "admin",
			password:   "admin123",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "path traversal",
			target:     "/repository/internal/org/../../secret",
			user:       "admin",
			password:   "admin123",
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			writeFile(t, e.internal, "org/foo/bar/1.0/bar-1.0.jar", "jar content")
			writeFile(t, e.internal, "org/foo/.index/hidden", "hidden")

			rec := e.do(http.MethodGet, tt.target, tt.user, tt.password, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
				assert.NotContains(t, rec.Body.String(), ".index")
			}
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
			if tt.wantAuth {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic realm=")
			}
		})
	}
}

func TestServer_RepositoryIndex(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(http.MethodGet, "/repository/", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="central/"`)
	assert.NotContains(t, rec.Body.String(), `href="internal/"`)

	rec = e.do(http.MethodGet, "/repository/", "admin", "admin123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="internal/"`)

	rec = e.do(http.MethodGet, "/repository/internal", "admin", "admin123", nil)
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/repository/internal/", rec.Header().Get("Location"))
}

func TestServer_Put(t *testing.T) {
	const jar = "/repository/internal/org/foo/bar/1.0/bar-1.0.jar"
	e := newEnv(t, nil)

	// observers can't deploy
	rec := e.do(http.MethodPut, jar, "observer", "observer", strings.NewReader("jar"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPut, jar, "admin", "admin123", strings.NewReader("jar"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	got, err := os.ReadFile(e.internal.Abs("org/foo/bar/1.0/bar-1.0.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar", string(got))

	// released artifacts are immutable
	rec = e.do(http.MethodPut, jar, "admin", "admin123", strings.NewReader("other"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// checksums and metadata can be replaced and are not processed
	for range 2 {
		rec = e.do(http.MethodPut, jar+".sha1", "admin", "admin123", strings.NewReader("a9993e364706816aba3e25717850c26c9cd0d89d"))
		assert.Contains(t, []int{http.StatusCreated, http.StatusNoContent}, rec.Code)
	}
	rec = e.do(http.MethodPut, "/repository/internal/org/foo/bar/maven-metadata.xml", "admin", "admin123", strings.NewReader("<metadata/>"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	// the repository doesn't accept snapshots
	rec = e.do(http.MethodPut, "/repository/internal/org/foo/bar/1.1-SNAPSHOT/bar-1.1-SNAPSHOT.jar", "admin", "admin123", strings.NewReader("jar"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"org/foo/bar/1.0/bar-1.0.jar"}, e.processor.paths)
}

func TestServer_Delete(t *testing.T) {
	e := newEnv(t, []types.Index{
		{RepositoryID: "internal", GroupID: "org.foo", ArtifactID: "bar", Version: "1.0", Type: "jar", Path: "org/foo/bar/1.0/bar-1.0.jar"},
		{RepositoryID: "internal", GroupID: "org.foo", ArtifactID: "bar", Version: "1.1", Type: "jar", Path: "org/foo/bar/1.1/bar-1.1.jar"},
		{RepositoryID: "internal", GroupID: "org.foo", ArtifactID: "baz", Version: "1.0", Type: "jar", Path: "org/foo/baz/1.0/baz-1.0.jar"},
	})
	writeFile(t, e.internal, "org/foo/bar/1.0/bar-1.0.jar", "jar")
	writeFile(t, e.internal, "org/foo/bar/1.1/bar-1.1.jar", "jar")
	writeFile(t, e.internal, "org/foo/baz/1.0/baz-1.0.jar", "jar")

	rec := e.do(http.MethodDelete, "/repository/internal/org/foo/bar/", "observer", "observer", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/repository/internal/org/foo/bar/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, e.internal.Abs("org/foo/bar"))

	paths, err := e.db.SelectPaths("internal")
	require.NoError(t, err)
	assert.Equal(t, []string{"org/foo/baz/1.0/baz-1.0.jar"}, paths)

	rec = e.do(http.MethodDelete, "/repository/internal/org/foo/bar/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodDelete, "/repository/internal/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_Mkcol(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do("MKCOL", "/repository/internal/org/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.DirExists(t, e.internal.Abs("org"))

	rec = e.do("MKCOL", "/repository/internal/org/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = e.do("MKCOL", "/repository/internal/com/foo/", "admin", "admin123", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Search(t *testing.T) {
	e := newEnv(t, []types.Index{
		{RepositoryID: "internal", GroupID: "org.foo", ArtifactID: "bar", Version: "1.0", Type: "jar", Path: "org/foo/bar/1.0/bar-1.0.jar"},
		{RepositoryID: "central", GroupID: "org.foo", ArtifactID: "bar", Version: "2.0", Type: "jar", Path: "org/foo/bar/2.0/bar-2.0.jar",
			SHA1: []byte{0xa9, 0x99, 0x3e, 0x36, 0x47, 0x06, 0x81, 0x6a, 0xba, 0x3e, 0x25, 0x71, 0x78, 0x50, 0xc2, 0x6c, 0x9c, 0xd0, 0xd8, 0x9d}},
	})

	type artifact struct {
		RepositoryID string `json:"repositoryId"`
		Version      string `json:"version"`
		SHA1         string `json:"sha1"`
	}
	tests := []struct {
		name       string
		target     string
		user       string
		password   string
		wantStatus int
		want       []artifact
	}{
		{
			name:       "guest only sees readable repositories",
			target:     "/api/search?q=bar",
			wantStatus: http.StatusOK,
			want:       []artifact{{RepositoryID: "central", Version: "2.0", SHA1: "a9993e364706816aba3e25717850c26c9cd0d89d"}},
		},
		{
			name:       "limit counts readable rows only",
			target:     "/api/search?q=bar&limit=1",
			wantStatus: http.StatusOK,
			want:       []artifact{{RepositoryID: "central", Version: "2.0", SHA1: "a9993e364706816aba3e25717850c26c9cd0d89d"}},
		},
		{
			name:       "observer",
			target:     "/api/search?q=org.foo&limit=10",
			user:       "observer",
			password:   "observer",
			wantStatus: http.StatusOK,
			want: []artifact{
				{RepositoryID: "internal", Version: "1.0"},
				{RepositoryID: "central", Version: "2.0", SHA1: "a9993e364706816aba3e25717850c26c9cd0d89d"},
			},
		},
		{
			name:       "missing query",
			target:     "/api/search",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid limit",
			target:     "/api/search?q=bar&limit=zero",
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodGet, tt.target, tt.user, tt.password, nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.want == nil {
				return
			}
			var got []artifact
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	rec := e.do(http.MethodGet, "/api/artifacts/sha1/A9993E364706816ABA3E25717850C26C9CD0D89D", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"org/foo/bar/2.0/bar-2.0.jar"`)

	rec = e.do(http.MethodGet, "/api/artifacts/sha1/da39a3ee5e6b4b0d3255bfef95601890afd80709", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/artifacts/sha1/xyz", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ScanAndStats(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(http.MethodPost, "/api/repositories/internal/scan?full=true", "observer", "observer", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/repositories/internal/scan?full=true", "admin", "admin123", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"taskId":"task-1"}`, rec.Body.String())
	assert.Equal(t, "internal", e.scheduler.repoID)
	assert.True(t, e.scheduler.full)

	rec = e.do(http.MethodGet, "/api/repositories/internal/stats", "observer", "observer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.db.InsertScanStatistics(types.ScanStatistics{
		RepositoryID:   "internal",
		Started:        started,
		Finished:       started.Add(time.Minute),
		TotalFileCount: 12,
	}))
	rec = e.do(http.MethodGet, "/api/repositories/internal/stats", "observer", "observer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalFileCount int64  `json:"totalFileCount"`
		Duration       string `json:"duration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(12), stats.TotalFileCount)
	assert.Equal(t, "1m0s", stats.Duration)
}

func TestServer_Repositories(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/repositories", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var repos []types.ManagedRepository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.Equal(t, "central", repos[0].ID)

	rec = e.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
