// Package purge removes snapshot builds from a managed repository according to
// its retention settings.
package purge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/metrics"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

const day = 24 * time.Hour

// Index drops purged files from the artifact index.
type Index interface {
	DeleteByPath(repoID string, paths ...string) error
}

// MetadataUpdater regenerates maven-metadata.xml after a purge.
type MetadataUpdater interface {
	UpdateProject(repo types.ManagedRepository, ref types.ProjectReference) (bool, error)
	UpdateVersion(repo types.ManagedRepository, ref types.VersionedReference) (bool, error)
}

type Option struct {
	Index    Index
	Metadata MetadataUpdater
	Clock    clock.PassiveClock
}

// Purger applies the purge policies of one repository. It is safe for
// concurrent use; purges are serialized.
type Purger struct {
	repo     types.ManagedRepository
	layout   layout.Layout
	index    Index
	metadata MetadataUpdater
	clock    clock.PassiveClock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu sync.Mutex
}

func New(repo types.ManagedRepository, opt Option) *Purger {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &Purger{
		repo:     repo,
		layout:   layout.For(repo.Layout),
		index:    opt.Index,
		metadata: opt.Metadata,
		clock:    opt.Clock,
		metrics:  metrics.Get(),
		logger:   slog.Default().With(slog.String("component", "purge"), slog.String("repository", repo.ID)),
	}
}

// Enabled reports whether any policy applies to the repository.
func (p *Purger) Enabled() bool {
	return p.repo.DaysOlder > 0 || p.repo.RetentionCount > 0 || p.repo.DeleteReleasedSnapshots
}

// Process applies the policies to the snapshot build the path belongs to and
// returns the repository paths that were removed. Non snapshot paths and
// paths that no longer exist are ignored.
func (p *Purger) Process(ctx context.Context, rel string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if layout.IsSupportFile(rel) || layout.IsMetadata(rel) {
		return nil, nil
	}
	ref, err := p.layout.ToArtifactReference(rel)
	if err != nil {
		return nil, xerrors.Errorf("not an artifact: %w", err)
	}
	if !versions.IsSnapshot(ref.Version) {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err = os.Stat(p.repo.Abs(rel)); errors.Is(err, os.ErrNotExist) {
		return nil, nil // purged with a sibling
	}

	var purged []string
	if p.repo.DeleteReleasedSnapshots {
		removed, err := p.releasedSnapshots(ref)
		if err != nil {
			return purged, err
		}
		if len(removed) > 0 {
			return p.finish(ref, removed)
		}
	}

	switch {
	case p.repo.DaysOlder > 0:
		purged, err = p.daysOld(ref)
	case p.repo.RetentionCount > 0:
		purged, err = p.retentionCount(ref)
	}
	if err != nil {
		return purged, err
	}
	return p.finish(ref, purged)
}

// daysOld removes builds older than DaysOlder days, keeping the newest
// RetentionCount builds regardless of age.
func (p *Purger) daysOld(ref types.ArtifactReference) ([]string, error) {
	builds, err := p.builds(ref.Versioned())
	if err != nil {
		return nil, err
	}
	olderThan := p.clock.Now().Add(-time.Duration(p.repo.DaysOlder) * day)

	countToPurge := len(builds) - p.repo.RetentionCount
	var purged []string
	for _, b := range builds {
		if countToPurge <= 0 {
			break
		}
		countToPurge--
		if !b.olderThan(olderThan) {
			continue
		}
		purged = append(purged, p.remove(b)...)
	}
	return purged, nil
}

// retentionCount keeps only the newest RetentionCount builds.
func (p *Purger) retentionCount(ref types.ArtifactReference) ([]string, error) {
	builds, err := p.builds(ref.Versioned())
	if err != nil {
		return nil, err
	}
	if len(builds) <= p.repo.RetentionCount {
		return nil, nil
	}
	var purged []string
	for _, b := range builds[:len(builds)-p.repo.RetentionCount] {
		purged = append(purged, p.remove(b)...)
	}
	return purged, nil
}

// releasedSnapshots removes every build of X-SNAPSHOT once release X exists.
func (p *Purger) releasedSnapshots(ref types.ArtifactReference) ([]string, error) {
	release := versions.ReleaseVersion(ref.Version)
	all, err := p.artifacts(ref.Project(), func(string) bool { return true })
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(all, func(a artifactFile) bool { return a.ref.Version == release }) {
		return nil, nil
	}

	p.logger.Info("Release exists, removing snapshot", slog.String("artifact", ref.Project().GroupID+":"+ref.ArtifactID),
		slog.String("release", release))
	base := versions.BaseVersion(ref.Version)
	builds := groupBuilds(lo.Filter(all, func(a artifactFile, _ int) bool {
		return versions.BaseVersion(a.ref.Version) == base
	}))
	var purged []string
	for _, b := range builds {
		purged = append(purged, p.remove(b)...)
	}
	return purged, nil
}

// finish updates the index and metadata after files were removed.
func (p *Purger) finish(ref types.ArtifactReference, purged []string) ([]string, error) {
	if len(purged) == 0 {
		return nil, nil
	}
	p.metrics.RecordPurged(p.repo.ID, len(purged))
	p.logger.Info("Purged snapshot files", slog.String("version", ref.Versioned().Version), slog.Int("files", len(purged)))

	if p.index != nil {
		if err := p.index.DeleteByPath(p.repo.ID, purged...); err != nil {
			return purged, xerrors.Errorf("failed to remove purged files from index: %w", err)
		}
	}
	if !p.repo.IsLegacy() {
		versionDir := p.repo.Abs(layout.VersionDir(versioned(ref)))
		if err := fileutil.RemoveEmptyParents(p.repo.Location, versionDir); err != nil {
			return purged, err
		}
	}
	if p.metadata != nil {
		if _, err := p.metadata.UpdateVersion(p.repo, versioned(ref)); err != nil {
			return purged, xerrors.Errorf("failed to update version metadata: %w", err)
		}
		if _, err := p.metadata.UpdateProject(p.repo, ref.Project()); err != nil {
			return purged, xerrors.Errorf("failed to update project metadata: %w", err)
		}
	}
	return purged, nil
}

type artifactFile struct {
	ref     types.ArtifactReference
	path    string // repository relative
	modTime time.Time
}

// build is every file sharing one snapshot version, e.g. 1.0-20070822.123456-42.
type build struct {
	version string
	files   []artifactFile
}

// olderThan trusts the build timestamp of unique snapshots and only falls
// back to file modification times when the version carries none.
func (b build) olderThan(t time.Time) bool {
	if ts, _, ok := versions.SnapshotTimestamp(b.version); ok {
		return ts.Before(t)
	}
	return slices.ContainsFunc(b.files, func(f artifactFile) bool { return f.modTime.Before(t) })
}

// builds returns the builds of a snapshot version, oldest first.
func (p *Purger) builds(ref types.VersionedReference) ([]build, error) {
	base := versions.BaseVersion(ref.Version)
	files, err := p.artifacts(ref.Project(), func(v string) bool { return versions.BaseVersion(v) == base })
	if err != nil {
		return nil, err
	}
	return groupBuilds(files), nil
}

func groupBuilds(files []artifactFile) []build {
	grouped := lo.GroupBy(files, func(f artifactFile) string { return f.ref.Version })
	builds := lo.MapToSlice(grouped, func(v string, files []artifactFile) build {
		return build{version: v, files: files}
	})
	slices.SortFunc(builds, func(a, b build) int { return versions.Compare(a.version, b.version) })
	return builds
}

// artifacts lists the files of a project whose version passes keep.
func (p *Purger) artifacts(project types.ProjectReference, keep func(version string) bool) ([]artifactFile, error) {
	var dirs []string
	if p.repo.IsLegacy() {
		groupDir := p.repo.Abs(project.GroupID)
		entries, err := os.ReadDir(groupDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Errorf("unable to read %s: %w", groupDir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, path.Join(project.GroupID, e.Name()))
			}
		}
	} else {
		projectDir := layout.ProjectDir(project)
		entries, err := os.ReadDir(p.repo.Abs(projectDir))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Errorf("unable to read %s: %w", projectDir, err)
		}
		for _, e := range entries {
			if e.IsDir() && keep(e.Name()) {
				dirs = append(dirs, path.Join(projectDir, e.Name()))
			}
		}
	}

	var files []artifactFile
	for _, dir := range dirs {
		entries, err := os.ReadDir(p.repo.Abs(dir))
		if err != nil {
			return nil, xerrors.Errorf("unable to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || layout.IsSupportFile(e.Name()) || layout.IsMetadata(e.Name()) {
				continue
			}
			rel := path.Join(dir, e.Name())
			ref, err := p.layout.ToArtifactReference(rel)
			if err != nil || ref.GroupID != project.GroupID || ref.ArtifactID != project.ArtifactID || !keep(ref.Version) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, xerrors.Errorf("file info error: %w", err)
			}
			files = append(files, artifactFile{ref: ref, path: rel, modTime: info.ModTime()})
		}
	}
	return files, nil
}

// remove deletes the files of a build together with their checksums and
// signatures, returning the removed artifact paths.
func (p *Purger) remove(b build) []string {
	var removed []string
	for _, f := range b.files {
		full := p.repo.Abs(f.path)
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Unable to remove artifact", slog.String("path", f.path), slog.Any("error", err))
			continue
		}
		for _, ext := range layout.SupportExtensions {
			_ = os.Remove(full + ext)
		}
		removed = append(removed, f.path)
	}
	p.logger.Debug("Removed snapshot build", slog.String("version", b.version), slog.Int("files", len(removed)),
		slog.String("dir", filepath.Dir(p.repo.Abs(b.files[0].path))))
	return removed
}

func versioned(ref types.ArtifactReference) types.VersionedReference {
	v := ref.Versioned()
	v.Version = versions.BaseVersion(v.Version)
	return v
}
