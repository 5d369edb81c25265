package purge_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/apache/archiva-sub036/pkg/purge"
	"github.com/apache/archiva-sub036/pkg/types"
)

type fakeIndex struct {
	deleted []string
}

func (f *fakeIndex) DeleteByPath(_ string, paths ...string) error {
	f.deleted = append(f.deleted, paths...)
	return nil
}

type fakeMetadata struct {
	projects []types.ProjectReference
	versions []types.VersionedReference
}

func (f *fakeMetadata) UpdateProject(_ types.ManagedRepository, ref types.ProjectReference) (bool, error) {
	f.projects = append(f.projects, ref)
	return true, nil
}

func (f *fakeMetadata) UpdateVersion(_ types.ManagedRepository, ref types.VersionedReference) (bool, error) {
	f.versions = append(f.versions, ref)
	return true, nil
}

var now = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

const snapshotDir = "org/foo/bar/1.0-SNAPSHOT/"

var snapshotFiles = []string{
	snapshotDir + "bar-1.0-20240101.000000-1.jar",
	snapshotDir + "bar-1.0-20240101.000000-1.jar.sha1",
	snapshotDir + "bar-1.0-20240101.000000-1.pom",
	snapshotDir + "bar-1.0-20240201.000000-2.jar",
	snapshotDir + "bar-1.0-20240201.000000-2.pom",
	snapshotDir + "bar-1.0-20240301.000000-3.jar",
	snapshotDir + "bar-1.0-20240301.000000-3-sources.jar",
	snapshotDir + "bar-1.0-20240301.000000-3.pom",
	snapshotDir + "maven-metadata.xml",
}

func setup(t *testing.T, paths ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0644))
	}
	return root
}

func TestPurger_Process(t *testing.T) {
	tests := []struct {
		name       string
		repo       types.ManagedRepository
		files      []string
		path       string
		wantPurged []string
		wantGone   []string
	}{
		{
			name:  "retention count",
			repo:  types.ManagedRepository{RetentionCount: 2},
			files: snapshotFiles,
			path:  snapshotDir + "bar-1.0-20240301.000000-3.jar",
			wantPurged: []string{
				snapshotDir + "bar-1.0-20240101.000000-1.jar",
				snapshotDir + "bar-1.0-20240101.000000-1.pom",
			},
			wantGone: []string{snapshotDir + "bar-1.0-20240101.000000-1.jar.sha1"},
		},
		{
			name:  "retention count larger than builds",
			repo:  types.ManagedRepository{RetentionCount: 5},
			files: snapshotFiles,
			path:  snapshotDir + "bar-1.0-20240301.000000-3.jar",
		},
		{
			name:  "days old keeps retention count",
			repo:  types.ManagedRepository{DaysOlder: 30, RetentionCount: 1},
			files: snapshotFiles,
			path:  snapshotDir + "bar-1.0-20240101.000000-1.jar",
			wantPurged: []string{
				snapshotDir + "bar-1.0-20240101.000000-1.jar",
				snapshotDir + "bar-1.0-20240101.000000-1.pom",
				snapshotDir + "bar-1.0-20240201.000000-2.jar",
				snapshotDir + "bar-1.0-20240201.000000-2.pom",
			},
		},
		{
			name:  "days old only purges old builds",
			repo:  types.ManagedRepository{DaysOlder: 60, RetentionCount: 1},
			files: snapshotFiles,
			path:  snapshotDir + "bar-1.0-20240201.000000-2.pom",
			wantPurged: []string{
				snapshotDir + "bar-1.0-20240101.000000-1.jar",
				snapshotDir + "bar-1.0-20240101.000000-1.pom",
			},
		},
		{
			name:  "released snapshots",
			repo:  types.ManagedRepository{DeleteReleasedSnapshots: true, RetentionCount: 2},
			files: append(slices.Clone(snapshotFiles), "org/foo/bar/1.0/bar-1.0.jar", "org/foo/bar/1.0/bar-1.0.pom"),
			path:  snapshotDir + "bar-1.0-20240101.000000-1.jar",
			wantPurged: []string{
				snapshotDir + "bar-1.0-20240101.000000-1.jar",
				snapshotDir + "bar-1.0-20240101.000000-1.pom",
				snapshotDir + "bar-1.0-20240201.000000-2.jar",
				snapshotDir + "bar-1.0-20240201.000000-2.pom",
				snapshotDir + "bar-1.0-20240301.000000-3-sources.jar",
				snapshotDir + "bar-1.0-20240301.000000-3.jar",
				snapshotDir + "bar-1.0-20240301.000000-3.pom",
			},
		},
		{
			name:  "release is never purged",
			repo:  types.ManagedRepository{RetentionCount: 1},
			files: []string{"org/foo/bar/1.0/bar-1.0.jar", "org/foo/bar/1.1/bar-1.1.jar"},
			path:  "org/foo/bar/1.0/bar-1.0.jar",
		},
		{
			name: "legacy layout",
			repo: types.ManagedRepository{RetentionCount: 1, Layout: types.LegacyLayout},
			files: []string{
				"org.foo/jars/bar-1.0-20240101.000000-1.jar",
				"org.foo/jars/bar-1.0-20240201.000000-2.jar",
				"org.foo/poms/bar-1.0-20240101.000000-1.pom",
				"org.foo/jars/other-1.0-20240101.000000-1.jar",
			},
			path: "org.foo/jars/bar-1.0-20240201.000000-2.jar",
			wantPurged: []string{
				"org.foo/jars/bar-1.0-20240101.000000-1.jar",
				"org.foo/poms/bar-1.0-20240101.000000-1.pom",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := setup(t, tt.files...)
			tt.repo.ID = "snapshots"
			tt.repo.Location = root
			index := &fakeIndex{}
			meta := &fakeMetadata{}
			p := purge.New(tt.repo, purge.Option{Index: index, Metadata: meta, Clock: clocktesting.NewFakeClock(now)})
			require.True(t, p.Enabled())

			purged, err := p.Process(context.Background(), tt.path)
			require.NoError(t, err)
			slices.Sort(purged)
			assert.Equal(t, tt.wantPurged, purged)

			for _, f := range append(slices.Clone(tt.wantPurged), tt.wantGone...) {
				assert.NoFileExists(t, filepath.Join(root, filepath.FromSlash(f)))
			}
			for _, f := range tt.files {
				if !slices.Contains(tt.wantPurged, f) && !slices.Contains(tt.wantGone, f) && !slices.Contains(tt.wantPurged, f[:len(f)-len(filepath.Ext(f))]) {
					assert.FileExists(t, filepath.Join(root, filepath.FromSlash(f)))
				}
			}

			if len(tt.wantPurged) > 0 {
				slices.Sort(index.deleted)
				assert.Equal(t, tt.wantPurged, index.deleted)
				if !tt.repo.IsLegacy() {
					assert.Equal(t, []types.ProjectReference{{GroupID: "org.foo", ArtifactID: "bar"}}, meta.projects)
					assert.Equal(t, "1.0-SNAPSHOT", meta.versions[0].Version)
				}
			} else {
				assert.Empty(t, index.deleted)
				assert.Empty(t, meta.projects)
			}
		})
	}
}

func TestPurger_ProcessPurgedSibling(t *testing.T) {
	root := setup(t, snapshotFiles...)
	p := purge.New(types.ManagedRepository{ID: "snapshots", Location: root, RetentionCount: 1},
		purge.Option{Clock: clocktesting.NewFakeClock(now)})

	purged, err := p.Process(context.Background(), snapshotDir+"bar-1.0-20240301.000000-3.jar")
	require.NoError(t, err)
	assert.Len(t, purged, 4)

	// already removed by the first call
	purged, err = p.Process(context.Background(), snapshotDir+"bar-1.0-20240101.000000-1.pom")
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func TestPurger_Disabled(t *testing.T) {
	p := purge.New(types.ManagedRepository{ID: "internal"}, purge.Option{})
	assert.False(t, p.Enabled())
}

func TestPurger_ProcessTimestampOverridesModTime(t *testing.T) {
	files := []string{
		snapshotDir + "bar-1.0-20240310.000000-1.jar",
		snapshotDir + "bar-1.0-20240314.000000-2.jar",
	}
	root := setup(t, files...)
	stale := now.Add(-100 * 24 * time.Hour)
	for _, f := range files {
		require.NoError(t, os.Chtimes(filepath.Join(root, filepath.FromSlash(f)), stale, stale))
	}

	index := &fakeIndex{}
	p := purge.New(types.ManagedRepository{ID: "snapshots", Location: root, DaysOlder: 30, RetentionCount: 1},
		purge.Option{Index: index, Clock: clocktesting.NewFakeClock(now)})

	purged, err := p.Process(context.Background(), files[1])
	require.NoError(t, err)
	assert.Empty(t, purged)
	assert.Empty(t, index.deleted)
	for _, f := range files {
		assert.FileExists(t, filepath.Join(root, filepath.FromSlash(f)))
	}
}
