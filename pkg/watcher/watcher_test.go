package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/watcher"
)

type recordingQueue struct {
	mu    sync.Mutex
	files []string
}

func (q *recordingQueue) QueueFile(repoID, path string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.files = append(q.files, repoID+":"+path)
	return "task", nil
}

func (q *recordingQueue) queued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	files := slices.Clone(q.files)
	slices.Sort(files)
	return files
}

func TestWatcher(t *testing.T) {
	repo := types.ManagedRepository{ID: "internal", Location: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(repo.Location, "org/foo"), 0755))

	q := &recordingQueue{}
	w, err := watcher.New(watcher.Option{
		Repositories: []types.ManagedRepository{repo},
		Queue:        q,
		Debounce:     50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	// metadata and checksums written alongside a deploy are ignored
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/maven-metadata.xml"), []byte("<metadata/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/maven-metadata.xml.sha1"), []byte("sha1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/foo-1.0.pom.md5"), []byte("md5"), 0644))
	// a file in a watched directory
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/foo-1.0.pom"), []byte("pom"), 0644))
	// a new directory tree
	require.NoError(t, os.MkdirAll(filepath.Join(repo.Location, "org/foo/bar/1.0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/bar/1.0/bar-1.0.jar"), []byte("jar"), 0644))
	// hidden temp files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(repo.Location, "org/foo/.bar.download"), []byte("tmp"), 0644))

	want := []string{"internal:org/foo/bar/1.0/bar-1.0.jar", "internal:org/foo/foo-1.0.pom"}
	require.Eventually(t, func() bool {
		return slices.Equal(want, q.queued())
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, want, q.queued())
}

func TestNew_MissingRepository(t *testing.T) {
	_, err := watcher.New(watcher.Option{
		Repositories: []types.ManagedRepository{{ID: "internal", Location: filepath.Join(t.TempDir(), "missing")}},
		Queue:        &recordingQueue{},
	})
	require.ErrorContains(t, err, "unable to watch internal")
}
