package crawler_test

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/archiva-sub036/pkg/crawler"
	"github.com/apache/archiva-sub036/pkg/dbtest"
	"github.com/apache/archiva-sub036/pkg/downloader"
	"github.com/apache/archiva-sub036/pkg/types"
)

var fileNames = map[string]string{
	"/maven2/":                                                            "testdata/index.html",
	"/maven2/abbot/":                                                      "testdata/abbot.html",
	"/maven2/abbot/maven-metadata.xml":                                    "testdata/group-metadata.xml",
	"/maven2/abbot/abbot/":                                                "testdata/abbot_abbot.html",
	"/maven2/abbot/abbot/maven-metadata.xml":                              "testdata/maven-metadata.xml",
	"/maven2/abbot/abbot/0.12.3/":                                         "testdata/abbot_abbot_0.12.3.html",
	"/maven2/abbot/abbot/0.12.3/abbot-0.12.3.pom":                         "testdata/abbot-0.12.3.pom",
	"/maven2/abbot/abbot/1.4.0/":                                          "testdata/abbot_abbot_1.4.0.html",
	"/maven2/abbot/abbot/1.4.0/abbot-1.4.0.jar.sha1":                      "testdata/abbot-1.4.0.jar.sha1",
	"/maven2/abbot/abbot/0.12.3/abbot-0.12.3.jar.sha1":                    "testdata/abbot-0.12.3.jar.sha1",
	"/maven2/abbot/abbot/0.12.3/abbot-0.12.3.pom.sha1":                    "testdata/abbot-0.12.3.pom.sha1",
	"/maven2/abbot/abbot/0.12.3/abbot-0.12.3-sources.jar.sha1":            "testdata/abbot-0.12.3-sources.jar.sha1",
	"/maven2/abbot/abbot/1.4.0/abbot-1.4.0-very-long-classifier.jar.sha1": "testdata/abbot-1.4.0-very-long-classifier.jar.sha1",
}

type remote struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
}

func newRemote(t *testing.T) *remote {
	r := &remote{requests: make(map[string]int)}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests[req.URL.Path]++
		r.mu.Unlock()

		fileName, ok := fileNames[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, fileName)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *remote) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[path]
}

func newCrawler(url string, index crawler.Index) *crawler.Crawler {
	return crawler.NewCrawler(crawler.Option{
		Limit:      3,
		Remote:     types.RemoteRepository{ID: "central", URL: url},
		Downloader: downloader.New(downloader.Option{RetryMax: -1}),
		Index:      index,
		BatchSize:  2,
	})
}

func TestCrawler_Crawl(t *testing.T) {
	type testIndex struct {
		path       string
		groupID    string
		artifactID string
		version    string
		typ        string
		sha1       string
		name       string
		licenses   []string
	}
	want := []testIndex{
		{
			path:       "abbot/abbot/0.12.3/abbot-0.12.3.jar",
			groupID:    "abbot",
			artifactID: "abbot",
			version:    "0.12.3",
			typ:        "jar",
			sha1:       "51d28a27d919ce8690a40f4f335b9d591ceb16e9",
			name:       "Abbot",
			licenses:   []string{"Eclipse Public License v1.0"},
		},
		{
			path:       "abbot/abbot/0.12.3/abbot-0.12.3.pom",
			groupID:    "abbot",
			artifactID: "abbot",
			version:    "0.12.3",
			typ:        "pom",
			sha1:       "8a9f1c6bbbd6e7ce9a2d8f1ff0c6a1c9bd4cf2c1",
			name:       "Abbot",
			licenses:   []string{"Eclipse Public License v1.0"},
		},
		{
			path:       "abbot/abbot/1.4.0/abbot-1.4.0.jar",
			groupID:    "abbot",
			artifactID: "abbot",
			version:    "1.4.0",
			typ:        "jar",
			sha1:       "a2363646a9dd05955633b450010b59a21af8a423",
		},
	}

	ts := newRemote(t)
	dbc := dbtest.InitDB(t, nil)

	n, err := newCrawler(ts.URL+"/maven2/", dbc).Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	paths, err := dbc.SelectPaths("central")
	require.NoError(t, err)
	wantPaths := make([]string, 0, len(want))
	for _, w := range want {
		wantPaths = append(wantPaths, w.path)
	}
	assert.Equal(t, wantPaths, paths)

	for _, w := range want {
		got, ok, err := dbc.SelectIndex("central", w.path)
		require.NoError(t, err)
		require.True(t, ok, w.path)
		assert.Equal(t, w.groupID, got.GroupID)
		assert.Equal(t, w.artifactID, got.ArtifactID)
		assert.Equal(t, w.version, got.Version)
		assert.Equal(t, w.typ, got.Type)
		assert.Equal(t, w.sha1, hex.EncodeToString(got.SHA1))
		assert.Equal(t, w.name, got.Name)
		assert.Equal(t, w.licenses, got.Licenses)
	}

	// secondary artifacts are never fetched
	assert.Zero(t, ts.count("/maven2/abbot/abbot/0.12.3/abbot-0.12.3-sources.jar.sha1"))
}

func TestCrawler_CrawlSkipsIndexedPaths(t *testing.T) {
	ts := newRemote(t)
	dbc := dbtest.InitDB(t, []types.Index{
		{
			RepositoryID: "central",
			GroupID:      "abbot",
			ArtifactID:   "abbot",
			Version:      "1.4.0",
			Type:         "jar",
			Path:         "abbot/abbot/1.4.0/abbot-1.4.0.jar",
		},
	})

	n, err := newCrawler(ts.URL+"/maven2", dbc).Crawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, ts.count("/maven2/abbot/abbot/1.4.0/abbot-1.4.0.jar.sha1"))
	assert.Equal(t, 1, ts.count("/maven2/abbot/abbot/0.12.3/abbot-0.12.3.jar.sha1"))
}

func TestCrawler_Visit(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{
			name: "root",
			path: "/maven2/",
			want: []string{"/maven2/abbot/"},
		},
		{
			name: "group level metadata",
			path: "/maven2/abbot/",
			want: []string{"/maven2/abbot/abbot/"},
		},
		{
			name: "missing directory",
			path: "/maven2/missing/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newRemote(t)
			c := newCrawler(ts.URL+"/maven2/", dbtest.InitDB(t, nil))

			got, err := c.Visit(context.Background(), ts.URL+tt.path, make(chan types.Index, 10))
			require.NoError(t, err)

			var want []string
			for _, w := range tt.want {
				want = append(want, ts.URL+w)
			}
			assert.ElementsMatch(t, want, got)
		})
	}
}
