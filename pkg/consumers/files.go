package consumers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/hash"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/purge"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

var ErrChecksumMismatch = xerrors.New("checksum mismatch")

// ChecksumCreator writes missing and repairs invalid checksum files.
type ChecksumCreator struct {
	base
	fileTypes *filetypes.FileTypes
}

func NewChecksumCreator(ft *filetypes.FileTypes) *ChecksumCreator {
	return &ChecksumCreator{
		base:      newBase(CreateMissingChecksumsID, "Create missing and fix invalid checksums"),
		fileTypes: ft,
	}
}

func (c *ChecksumCreator) Includes() []string {
	return c.fileTypes.Patterns(filetypes.Artifacts)
}

func (c *ChecksumCreator) ProcessFile(_ context.Context, rel string, _ bool) error {
	fixed, err := checksum.Fix(c.repo.Abs(rel), checksum.All...)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if len(fixed) > 0 {
		c.logger.Info("Wrote checksums", slog.String("path", rel), slog.String("checksums", strings.Join(fixed, ",")))
	}
	return nil
}

// ChecksumValidator reports checksum files that do not match their target.
type ChecksumValidator struct {
	base
	invalid atomic.Int64
}

func NewChecksumValidator() *ChecksumValidator {
	return &ChecksumValidator{base: newBase(ValidateChecksumsID, "Validate checksum files against their artifact")}
}

func (c *ChecksumValidator) Includes() []string {
	return []string{"**/*" + checksum.SHA1.Ext, "**/*" + checksum.MD5.Ext}
}

func (c *ChecksumValidator) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.invalid.Store(0)
	return nil
}

func (c *ChecksumValidator) ProcessFile(_ context.Context, rel string, _ bool) error {
	target, ext := layout.StripSupportExtension(rel)
	alg, ok := checksum.ByExt(ext)
	if !ok {
		return nil
	}
	status, err := checksum.Verify(c.repo.Abs(target), alg)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Checksum file without artifact", slog.String("path", rel))
		return nil
	} else if err != nil {
		return err
	}
	if status[alg.Ext] == checksum.Invalid {
		c.invalid.Add(1)
		return xerrors.Errorf("%s: %w", rel, ErrChecksumMismatch)
	}
	return nil
}

func (c *ChecksumValidator) CompleteScan(_ context.Context, _ bool) error {
	if n := c.invalid.Load(); n > 0 {
		c.logger.Warn("Invalid checksums found", slog.Int64("count", n))
	}
	return nil
}

// Invalid returns the number of mismatches found by the last scan.
func (c *ChecksumValidator) Invalid() int64 {
	return c.invalid.Load()
}

// MetadataUpdaterConsumer regenerates the metadata of every project and
// version it sees, once per scan.
type MetadataUpdaterConsumer struct {
	base
	updater   MetadataUpdater
	fileTypes *filetypes.FileTypes
	layout    layout.Layout

	projects sync.Map
	versions sync.Map
}

func NewMetadataUpdater(updater MetadataUpdater, ft *filetypes.FileTypes) *MetadataUpdaterConsumer {
	return &MetadataUpdaterConsumer{
		base:      newBase(MetadataUpdaterID, "Update project and version metadata"),
		updater:   updater,
		fileTypes: ft,
	}
}

func (c *MetadataUpdaterConsumer) Includes() []string {
	return c.fileTypes.Patterns(filetypes.Artifacts)
}

func (c *MetadataUpdaterConsumer) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.layout = layout.For(repo.Layout)
	c.projects.Clear()
	c.versions.Clear()
	return nil
}

func (c *MetadataUpdaterConsumer) ProcessFile(_ context.Context, rel string, _ bool) error {
	if c.repo.IsLegacy() {
		return nil
	}
	ref, err := c.layout.ToArtifactReference(rel)
	if err != nil {
		return nil
	}
	v := ref.Versioned()
	v.Version = versions.BaseVersion(v.Version)

	if _, loaded := c.versions.LoadOrStore(hash.Version(v), struct{}{}); !loaded {
		if _, err = c.updater.UpdateVersion(c.repo, v); err != nil {
			return xerrors.Errorf("failed to update metadata of %s:%s:%s: %w", v.GroupID, v.ArtifactID, v.Version, err)
		}
	}
	if _, loaded := c.projects.LoadOrStore(hash.Project(ref.Project()), struct{}{}); !loaded {
		if _, err = c.updater.UpdateProject(c.repo, ref.Project()); err != nil {
			return xerrors.Errorf("failed to update metadata of %s:%s: %w", ref.GroupID, ref.ArtifactID, err)
		}
	}
	return nil
}

// RepositoryPurge applies the snapshot purge policies of the repository.
type RepositoryPurge struct {
	base
	opt       purge.Option
	fileTypes *filetypes.FileTypes
	purger    *purge.Purger
}

func NewRepositoryPurge(opt purge.Option, ft *filetypes.FileTypes) *RepositoryPurge {
	return &RepositoryPurge{
		base:      newBase(RepositoryPurgeID, "Purge old snapshot builds"),
		opt:       opt,
		fileTypes: ft,
	}
}

func (c *RepositoryPurge) Includes() []string {
	return c.fileTypes.Patterns(filetypes.Artifacts)
}

func (c *RepositoryPurge) ProcessUnmodified() bool { return true }

func (c *RepositoryPurge) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.purger = purge.New(repo, c.opt)
	return nil
}

func (c *RepositoryPurge) ProcessFile(ctx context.Context, rel string, _ bool) error {
	if !c.purger.Enabled() {
		return nil
	}
	if _, err := c.purger.Process(ctx, rel); err != nil && !errors.Is(err, layout.ErrLayout) {
		return err
	}
	return nil
}

// AutoRemove deletes leftover files such as editor backups.
type AutoRemove struct {
	base
	fileTypes *filetypes.FileTypes
}

func NewAutoRemove(ft *filetypes.FileTypes) *AutoRemove {
	return &AutoRemove{
		base:      newBase(AutoRemoveID, "Remove backup and temporary files"),
		fileTypes: ft,
	}
}

func (c *AutoRemove) Includes() []string {
	return c.fileTypes.Patterns(filetypes.AutoRemove)
}

func (c *AutoRemove) ProcessFile(_ context.Context, rel string, _ bool) error {
	if err := os.Remove(c.repo.Abs(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return xerrors.Errorf("unable to remove %s: %w", rel, err)
	}
	c.logger.Info("Removed file", slog.String("path", rel))
	return nil
}

// InvalidContent logs the files no known consumer accepted.
type InvalidContent struct {
	base
	count atomic.Int64
}

func NewInvalidContent() *InvalidContent {
	return &InvalidContent{base: newBase(InvalidContentID, "Report files that are not artifacts")}
}

func (c *InvalidContent) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.count.Store(0)
	return nil
}

func (c *InvalidContent) ProcessFile(_ context.Context, rel string, _ bool) error {
	c.count.Add(1)
	c.logger.Warn("Invalid content", slog.String("path", rel))
	return nil
}

func (c *InvalidContent) CompleteScan(_ context.Context, _ bool) error {
	if n := c.count.Load(); n > 0 {
		c.logger.Info("Files with invalid content", slog.Int64("count", n))
	}
	return nil
}

func (c *InvalidContent) Count() int64 {
	return c.count.Load()
}
