package metadata

import (
	"encoding/xml"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

// Updater regenerates metadata files from the content of a managed repository.
type Updater struct {
	clock  clock.PassiveClock
	logger *slog.Logger
	locks  fileutil.PathLocks
}

func NewUpdater(c clock.PassiveClock) *Updater {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Updater{
		clock:  c,
		logger: slog.Default().With(slog.String("component", "metadata")),
	}
}

// UpdateProject rewrites the project level metadata from the version
// directories present on disk, merged with metadata proxied from remote
// repositories. It reports whether the file changed.
func (u *Updater) UpdateProject(repo types.ManagedRepository, ref types.ProjectReference) (bool, error) {
	if repo.IsLegacy() {
		return false, nil
	}
	metaPath := repo.Abs(layout.ProjectMetadataPath(ref))
	unlock := u.locks.Lock(metaPath)
	defer unlock()

	existing, err := Read(metaPath)
	if err != nil {
		return false, err
	}

	available, err := u.availableVersions(repo, ref)
	if err != nil {
		return false, err
	}
	proxied, err := u.proxiedVersions(filepath.Dir(metaPath))
	if err != nil {
		return false, err
	}
	all := lo.Uniq(append(available, proxied...))

	if len(all) == 0 {
		if existing != nil {
			u.logger.Info("Removing metadata of project without versions", slog.String("path", metaPath))
			return true, Remove(metaPath)
		}
		return false, nil
	}
	versions.Sort(all)

	meta := &Metadata{
		GroupID:    ref.GroupID,
		ArtifactID: ref.ArtifactID,
		Versioning: &Versioning{
			Latest:   versions.Latest(all),
			Release:  versions.LatestRelease(all),
			Versions: all,
		},
	}
	if existing != nil {
		meta.Plugins = existing.Plugins
		if existing.Versioning != nil {
			meta.Versioning.LastUpdated = existing.Versioning.LastUpdated
		}
		if sameContent(existing, meta) {
			return false, nil
		}
	}
	meta.Versioning.LastUpdated = u.clock.Now().UTC().Format(LastUpdatedFormat)

	if err = Write(metaPath, meta); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateVersion rewrites the version level metadata of a snapshot version
// with the newest unique snapshot found on disk. Release versions carry no
// version level metadata.
func (u *Updater) UpdateVersion(repo types.ManagedRepository, ref types.VersionedReference) (bool, error) {
	if repo.IsLegacy() || !versions.IsSnapshot(ref.Version) {
		return false, nil
	}
	base := versions.BaseVersion(ref.Version)
	dir := repo.Abs(layout.VersionDir(ref))
	metaPath := filepath.Join(dir, layout.MetadataFileName)
	unlock := u.locks.Lock(metaPath)
	defer unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, Remove(metaPath)
		}
		return false, xerrors.Errorf("unable to read %s: %w", dir, err)
	}

	meta := &Metadata{
		GroupID:    ref.GroupID,
		ArtifactID: ref.ArtifactID,
		Version:    base,
		Versioning: &Versioning{},
	}

	var latest *Snapshot
	for _, entry := range entries {
		if entry.IsDir() || layout.IsSupportFile(entry.Name()) || layout.IsMetadata(entry.Name()) {
			continue
		}
		p := path.Join(layout.VersionDir(ref), entry.Name())
		art, err := layout.Default{}.ToArtifactReference(p)
		if err != nil {
			continue
		}
		ts, build, ok := versions.SnapshotTimestamp(art.Version)
		if !ok {
			continue
		}
		snap := &Snapshot{Timestamp: ts.Format(versions.TimestampFormat), BuildNumber: build}
		if latest == nil || newerSnapshot(snap, latest) {
			latest = snap
		}
		meta.Versioning.SnapshotVersions = mergeSnapshotVersions(meta.Versioning.SnapshotVersions, []SnapshotVersion{{
			Classifier: art.Classifier,
			Extension:  layout.ExtensionForType(art.Type),
			Value:      art.Version,
			Updated:    strings.ReplaceAll(snap.Timestamp, ".", ""),
		}})
	}
	meta.Versioning.Snapshot = latest

	existing, err := Read(metaPath)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Versioning != nil {
			meta.Versioning.LastUpdated = existing.Versioning.LastUpdated
		}
		if sameContent(existing, meta) {
			return false, nil
		}
	}
	meta.Versioning.LastUpdated = u.clock.Now().UTC().Format(LastUpdatedFormat)
	if err = Write(metaPath, meta); err != nil {
		return false, err
	}
	return true, nil
}

// availableVersions lists version directories holding at least one file of the project.
func (u *Updater) availableVersions(repo types.ManagedRepository, ref types.ProjectReference) ([]string, error) {
	dir := repo.Abs(layout.ProjectDir(ref))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Errorf("unable to read %s: %w", dir, err)
	}

	var found []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, xerrors.Errorf("unable to read version dir: %w", err)
		}
		if lo.ContainsBy(files, func(f os.DirEntry) bool {
			return !f.IsDir() && strings.HasPrefix(f.Name(), ref.ArtifactID+"-") &&
				!layout.IsSupportFile(f.Name()) && !layout.IsMetadata(f.Name())
		}) {
			found = append(found, entry.Name())
		}
	}
	return found, nil
}

// proxiedVersions reads versions from maven-metadata-<remote>.xml files.
func (u *Updater) proxiedVersions(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "maven-metadata-*.xml"))
	if err != nil {
		return nil, xerrors.Errorf("glob error: %w", err)
	}
	var found []string
	for _, m := range matches {
		meta, err := Read(m)
		if err != nil {
			u.logger.Warn("Skipping unreadable proxied metadata", slog.String("path", m), slog.Any("error", err))
			continue
		}
		found = append(found, meta.AllVersions()...)
	}
	return found, nil
}

func sameContent(a, b *Metadata) bool {
	x, y := clone(a), clone(b)
	x.XMLName, y.XMLName = xml.Name{}, xml.Name{}
	x.ModelVersion, y.ModelVersion = "", ""
	return reflect.DeepEqual(normalize(x), normalize(y))
}

func normalize(m *Metadata) *Metadata {
	if m.Versioning != nil {
		if len(m.Versioning.Versions) == 0 {
			m.Versioning.Versions = nil
		}
		if len(m.Versioning.SnapshotVersions) == 0 {
			m.Versioning.SnapshotVersions = nil
		}
	}
	if len(m.Plugins) == 0 {
		m.Plugins = nil
	}
	return m
}
