package builder_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/apache/archiva-sub036/pkg/builder"
	"github.com/apache/archiva-sub036/pkg/db"
	"github.com/apache/archiva-sub036/pkg/dbtest"
	"github.com/apache/archiva-sub036/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestBuilder_Build(t *testing.T) {
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir(), Layout: types.DefaultLayout, Releases: true}
	writeFile(t, repo.Location, "org/foo/bar/1.0/bar-1.0.jar", "jar")
	writeFile(t, repo.Location, "org/foo/bar/1.0/bar-1.0.pom",
		"<project><modelVersion>4.0.0</modelVersion><groupId>org.foo</groupId><artifactId>bar</artifactId><version>1.0</version><name>Bar</name></project>")
	writeFile(t, repo.Location, "org/foo/bar/1.0/README", "not an artifact")

	dbc := dbtest.InitDB(t, []types.Index{
		{RepositoryID: "internal", GroupID: "org.foo", ArtifactID: "bar", Version: "0.9", Type: "jar", Path: "org/foo/bar/0.9/bar-0.9.jar"},
	})
	cacheDir := t.TempDir()
	meta := db.NewMetadata(cacheDir)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	b := builder.NewBuilder(dbc, meta, builder.Option{Quiet: true, Clock: clocktesting.NewFakeClock(now)})
	stats, err := b.Build(context.Background(), []types.ManagedRepository{repo})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(3), stats[0].TotalFileCount)
	assert.Equal(t, int64(1), stats[0].InvalidFileCount)

	paths, err := dbc.SelectPaths("internal")
	require.NoError(t, err)
	assert.Equal(t, []string{"org/foo/bar/1.0/bar-1.0.jar", "org/foo/bar/1.0/bar-1.0.pom"}, paths)

	got, ok, err := dbc.SelectIndex("internal", "org/foo/bar/1.0/bar-1.0.jar")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bar", got.Name)

	assert.FileExists(t, filepath.Join(repo.Location, "org/foo/bar/1.0/bar-1.0.jar.sha1"))
	assert.FileExists(t, filepath.Join(repo.Location, "org/foo/bar/maven-metadata.xml"))

	m, err := meta.Get()
	require.NoError(t, err)
	assert.Equal(t, db.SchemaVersion, m.Version)
	assert.Equal(t, map[string]time.Time{"internal": now}, m.Repositories)
	assert.Equal(t, now, m.UpdatedAt)
	assert.Equal(t, now.Add(24*time.Hour), m.NextUpdate)

	scan, found, err := dbc.LastScan("internal")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, now, scan.Started)
	assert.Zero(t, scan.Duration())
}

func TestBuilder_BuildUnknownConsumer(t *testing.T) {
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir(), Layout: types.DefaultLayout}
	b := builder.NewBuilder(dbtest.InitDB(t, nil), db.NewMetadata(t.TempDir()), builder.Option{
		Known: []string{"lucene-index"},
		Quiet: true,
	})
	_, err := b.Build(context.Background(), []types.ManagedRepository{repo})
	require.ErrorContains(t, err, `unknown known content consumer "lucene-index"`)
}
