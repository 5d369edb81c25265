package proxy_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/downloader"
	"github.com/apache/archiva-sub036/pkg/metadata"
	"github.com/apache/archiva-sub036/pkg/proxy"
	"github.com/apache/archiva-sub036/pkg/types"
)

const jarPath = "org/foo/bar/1.0/bar-1.0.jar"

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

type remoteServer struct {
	*httptest.Server
	mu       sync.Mutex
	files    map[string]string
	requests map[string]int
}

func newRemote(t *testing.T, files map[string]string) *remoteServer {
	rs := &remoteServer{files: files, requests: make(map[string]int)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests[r.URL.Path]++
		content, ok := rs.files[r.URL.Path]
		rs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *remoteServer) count(p string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[p]
}

func newProxy(rs *remoteServer, conn types.ProxyConnector, clock *clocktesting.FakeClock, layout string) *proxy.Proxy {
	conn.SourceRepoID = "internal"
	conn.TargetRepoID = "central"
	return proxy.New(proxy.Option{
		Connectors: []types.ProxyConnector{conn},
		Remotes:    []types.RemoteRepository{{ID: "central", URL: rs.URL + "/maven2/", Layout: layout}},
		Downloader: downloader.New(downloader.Option{RetryMax: -1}),
		Metadata:   metadata.NewUpdater(clock),
		Clock:      clock,
	})
}

func TestProxy_Fetch(t *testing.T) {
	tests := []struct {
		name      string
		policy    types.ChecksumPolicy
		files     map[string]string
		wantErr   error
		wantSHA1  string // content of the local .sha1 file
		wantNoJar bool
	}{
		{
			name:   "valid checksum",
			policy: types.ChecksumFail,
			files: map[string]string{
				"/maven2/" + jarPath:           "jar",
				"/maven2/" + jarPath + ".sha1": sha1Hex("jar") + "  bar-1.0.jar",
			},
			wantSHA1: sha1Hex("jar") + "  bar-1.0.jar",
		},
		{
			name:   "bad checksum with fail policy",
			policy: types.ChecksumFail,
			files: map[string]string{
				"/maven2/" + jarPath:           "jar",
				"/maven2/" + jarPath + ".sha1": sha1Hex("other"),
			},
			wantErr:   proxy.ErrChecksum,
			wantNoJar: true,
		},
		{
			name:   "missing checksum with fail policy",
			policy: types.ChecksumFail,
			files: map[string]string{
				"/maven2/" + jarPath: "jar",
			},
			wantErr:   proxy.ErrNotFound,
			wantNoJar: true,
		},
		{
			name:   "bad checksum with fix policy",
			policy: types.ChecksumFix,
			files: map[string]string{
				"/maven2/" + jarPath:           "jar",
				"/maven2/" + jarPath + ".sha1": sha1Hex("other"),
			},
			wantSHA1: sha1Hex("jar") + "\n",
		},
		{
			name:   "bad checksum with ignore policy",
			policy: types.ChecksumIgnore,
			files: map[string]string{
				"/maven2/" + jarPath:           "jar",
				"/maven2/" + jarPath + ".sha1": sha1Hex("other"),
			},
			wantSHA1: sha1Hex("other"),
		},
		{
			name:      "not found",
			policy:    types.ChecksumFix,
			files:     map[string]string{},
			wantErr:   proxy.ErrNotFound,
			wantNoJar: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRemote(t, tt.files)
			clock := clocktesting.NewFakeClock(time.Now())
			p := newProxy(rs, types.ProxyConnector{ReleasesPolicy: types.PolicyOnce, ChecksumPolicy: tt.policy}, clock, "")
			repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

			got, err := p.Fetch(context.Background(), repo, jarPath)
			local := filepath.Join(repo.Location, filepath.FromSlash(jarPath))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, local, got)
			}
			if tt.wantNoJar {
				assert.NoFileExists(t, local)
				assert.NoFileExists(t, local+".sha1")
				return
			}
			content, err := os.ReadFile(local)
			require.NoError(t, err)
			assert.Equal(t, "jar", string(content))

			sha, err := os.ReadFile(local + ".sha1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSHA1, string(sha))

			// no temp files left behind
			entries, err := os.ReadDir(filepath.Dir(local))
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), ".download")
			}
		})
	}
}

func TestProxy_FetchChecksumFile(t *testing.T) {
	rs := newRemote(t, map[string]string{
		"/maven2/" + jarPath:           "jar",
		"/maven2/" + jarPath + ".sha1": sha1Hex("jar"),
	})
	clock := clocktesting.NewFakeClock(time.Now())
	p := newProxy(rs, types.ProxyConnector{ChecksumPolicy: types.ChecksumFix}, clock, "")
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

	got, err := p.Fetch(context.Background(), repo, jarPath+".md5")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo.Location, filepath.FromSlash(jarPath))+".md5", got)
	assert.FileExists(t, filepath.Join(repo.Location, filepath.FromSlash(jarPath)))

	status, err := checksum.Verify(filepath.Join(repo.Location, filepath.FromSlash(jarPath)), checksum.All...)
	require.NoError(t, err)
	assert.Equal(t, map[string]checksum.Status{".sha1": checksum.Valid, ".md5": checksum.Valid}, status)
}

func TestProxy_UpdatePolicy(t *testing.T) {
	tests := []struct {
		name         string
		policy       types.UpdatePolicy
		advance      time.Duration
		wantRequests int
	}{
		{name: "never", policy: types.PolicyNever, advance: 48 * time.Hour},
		{name: "once", policy: types.PolicyOnce, advance: 48 * time.Hour},
		{name: "daily within a day", policy: types.PolicyDaily, advance: time.Hour},
		{name: "daily expired", policy: types.PolicyDaily, advance: 25 * time.Hour, wantRequests: 1},
		{name: "hourly expired", policy: types.PolicyHourly, advance: 2 * time.Hour, wantRequests: 1},
		{name: "always", policy: types.PolicyAlways, wantRequests: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRemote(t, map[string]string{"/maven2/" + jarPath: "remote"})
			clock := clocktesting.NewFakeClock(time.Now())
			p := newProxy(rs, types.ProxyConnector{ReleasesPolicy: tt.policy, ChecksumPolicy: types.ChecksumIgnore}, clock, "")
			repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

			local := filepath.Join(repo.Location, filepath.FromSlash(jarPath))
			require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
			require.NoError(t, os.WriteFile(local, []byte("local"), 0644))

			clock.Step(tt.advance)
			_, err := p.Fetch(context.Background(), repo, jarPath)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRequests, rs.count("/maven2/"+jarPath))

			content, err := os.ReadFile(local)
			require.NoError(t, err)
			want := "local"
			if tt.wantRequests > 0 {
				want = "remote"
			}
			assert.Equal(t, want, string(content))
		})
	}
}

func TestProxy_NegativeCache(t *testing.T) {
	rs := newRemote(t, map[string]string{})
	clock := clocktesting.NewFakeClock(time.Now())
	p := proxy.New(proxy.Option{
		Connectors: []types.ProxyConnector{{
			SourceRepoID: "internal", TargetRepoID: "central",
			ReleasesPolicy: types.PolicyOnce, ChecksumPolicy: types.ChecksumFix, CacheFailures: true,
		}},
		Remotes:     []types.RemoteRepository{{ID: "central", URL: rs.URL + "/maven2"}},
		Downloader:  downloader.New(downloader.Option{RetryMax: -1}),
		Clock:       clock,
		NegativeTTL: time.Hour,
	})
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

	for range 3 {
		_, err := p.Fetch(context.Background(), repo, jarPath)
		require.ErrorIs(t, err, proxy.ErrNotFound)
	}
	assert.Equal(t, 1, rs.count("/maven2/"+jarPath))

	clock.Step(2 * time.Hour)
	_, err := p.Fetch(context.Background(), repo, jarPath)
	require.ErrorIs(t, err, proxy.ErrNotFound)
	assert.Equal(t, 2, rs.count("/maven2/"+jarPath))
}

func TestProxy_LegacyRemote(t *testing.T) {
	rs := newRemote(t, map[string]string{"/maven2/org.foo/jars/bar-1.0.jar": "legacy jar"})
	clock := clocktesting.NewFakeClock(time.Now())
	p := newProxy(rs, types.ProxyConnector{ChecksumPolicy: types.ChecksumFix}, clock, types.LegacyLayout)
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

	got, err := p.Fetch(context.Background(), repo, jarPath)
	require.NoError(t, err)
	content, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "legacy jar", string(content))
	assert.FileExists(t, got+".sha1")
}

func TestProxy_FetchMetadata(t *testing.T) {
	rs := newRemote(t, map[string]string{
		"/maven2/org/foo/bar/maven-metadata.xml": `<metadata>
  <groupId>org.foo</groupId>
  <artifactId>bar</artifactId>
  <versioning><versions><version>1.0</version><version>2.0</version></versions></versioning>
</metadata>`,
	})
	clock := clocktesting.NewFakeClock(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	p := newProxy(rs, types.ProxyConnector{ReleasesPolicy: types.PolicyDaily}, clock, "")
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

	local := filepath.Join(repo.Location, "org/foo/bar/1.5/bar-1.5.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
	require.NoError(t, os.WriteFile(local, []byte("1.5"), 0644))

	got, err := p.Fetch(context.Background(), repo, "org/foo/bar/maven-metadata.xml")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repo.Location, "org/foo/bar/maven-metadata-central.xml"))

	meta, err := metadata.Read(got)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, []string{"1.0", "1.5", "2.0"}, meta.AllVersions())
	assert.Equal(t, "2.0", meta.Versioning.Latest)

	_, err = p.Fetch(context.Background(), repo, "org/foo/baz/maven-metadata.xml")
	require.ErrorIs(t, err, proxy.ErrNotFound)
}

func TestProxy_FetchReleasesLocks(t *testing.T) {
	rs := newRemote(t, map[string]string{
		"/maven2/" + jarPath:           "jar",
		"/maven2/" + jarPath + ".sha1": sha1Hex("jar"),
	})
	clock := clocktesting.NewFakeClock(time.Now())
	p := newProxy(rs, types.ProxyConnector{ChecksumPolicy: types.ChecksumFix}, clock, "")
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}

	var wg sync.WaitGroup
	for _, rel := range []string{jarPath, jarPath + ".sha1", jarPath, "org/foo/missing/1.0/missing-1.0.jar"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Fetch(context.Background(), repo, rel)
		}()
	}
	wg.Wait()

	assert.FileExists(t, filepath.Join(repo.Location, filepath.FromSlash(jarPath)))
	assert.Zero(t, p.HeldLocks())
}
