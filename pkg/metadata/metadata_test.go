package metadata_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/apache/archiva-sub036/pkg/metadata"
	"github.com/apache/archiva-sub036/pkg/types"
)

const projectMetadata = `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <groupId>abbot</groupId>
  <artifactId>abbot</artifactId>
  <versioning>
    <latest>1.4.0</latest>
    <release>1.4.0</release>
    <versions>
      <version>0.12.3</version>
      <version>0.13.0</version>
      <version>1.4.0</version>
    </versions>
    <lastUpdated>20150519093627</lastUpdated>
  </versioning>
</metadata>`

func touch(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0644))
	}
}

func TestDecode(t *testing.T) {
	meta, err := metadata.Decode(strings.NewReader(projectMetadata))
	require.NoError(t, err)
	assert.Equal(t, "abbot", meta.GroupID)
	assert.Equal(t, []string{"0.12.3", "0.13.0", "1.4.0"}, meta.AllVersions())
	assert.Equal(t, "20150519093627", meta.LastUpdated())
}

func TestMerge(t *testing.T) {
	a := &metadata.Metadata{
		GroupID:    "org.foo",
		ArtifactID: "bar",
		Versioning: &metadata.Versioning{Versions: []string{"1.0", "1.1"}, LastUpdated: "20200101000000"},
		Plugins:    []metadata.Plugin{{Prefix: "bar", ArtifactID: "bar-maven-plugin"}},
	}
	b := &metadata.Metadata{
		Versioning: &metadata.Versioning{Versions: []string{"1.1", "2.0-SNAPSHOT", "1.10"}, LastUpdated: "20210101000000"},
		Plugins: []metadata.Plugin{
			{Prefix: "bar", ArtifactID: "other"},
			{Prefix: "baz", ArtifactID: "baz-maven-plugin"},
		},
	}

	got := metadata.Merge(a, b)
	assert.Equal(t, "org.foo", got.GroupID)
	assert.Equal(t, []string{"1.0", "1.1", "1.10", "2.0-SNAPSHOT"}, got.Versioning.Versions)
	assert.Equal(t, "2.0-SNAPSHOT", got.Versioning.Latest)
	assert.Equal(t, "1.10", got.Versioning.Release)
	assert.Equal(t, "20210101000000", got.Versioning.LastUpdated)
	assert.Len(t, got.Plugins, 2)
	assert.Equal(t, "bar-maven-plugin", got.Plugins[0].ArtifactID)

	// inputs are not modified
	assert.Equal(t, []string{"1.0", "1.1"}, a.Versioning.Versions)
	assert.Nil(t, metadata.Merge(nil, nil))
}

func TestUpdater_UpdateProject(t *testing.T) {
	root := t.TempDir()
	repo := types.ManagedRepository{ID: "internal", Location: root, Layout: types.DefaultLayout}
	touch(t, root,
		"org/foo/bar/1.0/bar-1.0.jar",
		"org/foo/bar/1.0/bar-1.0.pom",
		"org/foo/bar/1.1/bar-1.1.jar",
		"org/foo/bar/2.0-SNAPSHOT/bar-2.0-20240102.030405-1.jar",
		"org/foo/bar/empty/readme.txt",
	)
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	updater := metadata.NewUpdater(clocktesting.NewFakeClock(now))
	ref := types.ProjectReference{GroupID: "org.foo", ArtifactID: "bar"}

	changed, err := updater.UpdateProject(repo, ref)
	require.NoError(t, err)
	assert.True(t, changed)

	meta, err := metadata.Read(filepath.Join(root, "org/foo/bar/maven-metadata.xml"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, []string{"1.0", "1.1", "2.0-SNAPSHOT"}, meta.AllVersions())
	assert.Equal(t, "2.0-SNAPSHOT", meta.Versioning.Latest)
	assert.Equal(t, "1.1", meta.Versioning.Release)
	assert.Equal(t, "20240506070809", meta.LastUpdated())
	assert.FileExists(t, filepath.Join(root, "org/foo/bar/maven-metadata.xml.sha1"))

	// nothing changed on disk
	changed, err = updater.UpdateProject(repo, ref)
	require.NoError(t, err)
	assert.False(t, changed)

	// all versions removed
	require.NoError(t, os.RemoveAll(filepath.Join(root, "org/foo/bar/1.0")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "org/foo/bar/1.1")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "org/foo/bar/2.0-SNAPSHOT")))
	changed, err = updater.UpdateProject(repo, ref)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoFileExists(t, filepath.Join(root, "org/foo/bar/maven-metadata.xml"))
}

func TestUpdater_UpdateProjectWithProxiedMetadata(t *testing.T) {
	root := t.TempDir()
	repo := types.ManagedRepository{ID: "internal", Location: root}
	touch(t, root, "abbot/abbot/1.5.0/abbot-1.5.0.jar")
	require.NoError(t, os.WriteFile(filepath.Join(root, "abbot/abbot/maven-metadata-central.xml"), []byte(projectMetadata), 0644))

	updater := metadata.NewUpdater(clocktesting.NewFakeClock(time.Now()))
	_, err := updater.UpdateProject(repo, types.ProjectReference{GroupID: "abbot", ArtifactID: "abbot"})
	require.NoError(t, err)

	meta, err := metadata.Read(filepath.Join(root, "abbot/abbot/maven-metadata.xml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"0.12.3", "0.13.0", "1.4.0", "1.5.0"}, meta.AllVersions())
}

func TestUpdater_UpdateVersion(t *testing.T) {
	root := t.TempDir()
	repo := types.ManagedRepository{ID: "snapshots", Location: root}
	touch(t, root,
		"org/foo/bar/2.0-SNAPSHOT/bar-2.0-20240102.030405-1.jar",
		"org/foo/bar/2.0-SNAPSHOT/bar-2.0-20240102.030405-1.pom",
		"org/foo/bar/2.0-SNAPSHOT/bar-2.0-20240103.030405-2.jar",
		"org/foo/bar/2.0-SNAPSHOT/bar-2.0-20240103.030405-2-sources.jar",
	)
	updater := metadata.NewUpdater(clocktesting.NewFakeClock(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))

	changed, err := updater.UpdateVersion(repo, types.VersionedReference{GroupID: "org.foo", ArtifactID: "bar", Version: "2.0-SNAPSHOT"})
	require.NoError(t, err)
	assert.True(t, changed)

	meta, err := metadata.Read(filepath.Join(root, "org/foo/bar/2.0-SNAPSHOT/maven-metadata.xml"))
	require.NoError(t, err)
	assert.Equal(t, "2.0-SNAPSHOT", meta.Version)
	assert.Equal(t, &metadata.Snapshot{Timestamp: "20240103.030405", BuildNumber: 2}, meta.Versioning.Snapshot)
	assert.Len(t, meta.Versioning.SnapshotVersions, 3)

	// release versions have no version metadata
	changed, err = updater.UpdateVersion(repo, types.VersionedReference{GroupID: "org.foo", ArtifactID: "bar", Version: "1.0"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpdater_UpdateProjectConcurrent(t *testing.T) {
	root := t.TempDir()
	repo := types.ManagedRepository{ID: "internal", Location: root}
	touch(t, root, "org/foo/bar/1.0/bar-1.0.jar", "org/foo/bar/1.1/bar-1.1.jar")
	updater := metadata.NewUpdater(clocktesting.NewFakeClock(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)))
	ref := types.ProjectReference{GroupID: "org.foo", ArtifactID: "bar"}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := updater.UpdateProject(repo, ref)
			return err
		})
	}
	require.NoError(t, g.Wait())

	dir := filepath.Join(root, "org/foo/bar")
	meta, err := metadata.Read(filepath.Join(dir, "maven-metadata.xml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "1.1"}, meta.AllVersions())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}
