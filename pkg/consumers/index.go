package consumers

import (
	"archive/zip"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/pom"
	"github.com/apache/archiva-sub036/pkg/types"
)

// IndexContent adds every artifact of the repository to the artifact index.
type IndexContent struct {
	base
	index     Index
	fileTypes *filetypes.FileTypes
	batchSize int
	layout    layout.Layout

	mu    sync.Mutex
	batch []types.Index
}

func NewIndexContent(index Index, ft *filetypes.FileTypes, batchSize int) *IndexContent {
	return &IndexContent{
		base:      newBase(IndexContentID, "Add artifacts to the artifact index"),
		index:     index,
		fileTypes: ft,
		batchSize: batchSize,
	}
}

func (c *IndexContent) Includes() []string {
	return c.fileTypes.Patterns(filetypes.Artifacts)
}

func (c *IndexContent) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.layout = layout.For(repo.Layout)
	c.batch = c.batch[:0]
	return nil
}

func (c *IndexContent) ProcessFile(_ context.Context, rel string, _ bool) error {
	ref, err := c.layout.ToArtifactReference(rel)
	if err != nil {
		c.logger.Debug("Not an artifact, skipping", slog.String("path", rel), slog.Any("error", err))
		return nil
	}
	row, err := Row(c.repo, rel, ref)
	if errors.Is(err, os.ErrNotExist) {
		return nil // purged or auto removed during the scan
	} else if err != nil {
		return err
	}

	c.mu.Lock()
	c.batch = append(c.batch, row)
	var flush []types.Index
	if len(c.batch) >= c.batchSize {
		flush, c.batch = c.batch, nil
	}
	c.mu.Unlock()

	if flush != nil {
		return c.insert(flush)
	}
	return nil
}

func (c *IndexContent) CompleteScan(_ context.Context, _ bool) error {
	c.mu.Lock()
	flush := c.batch
	c.batch = nil
	c.mu.Unlock()
	return c.insert(flush)
}

func (c *IndexContent) insert(rows []types.Index) error {
	if len(rows) == 0 {
		return nil
	}
	if err := c.index.InsertIndexes(rows); err != nil {
		return xerrors.Errorf("failed to index %d artifacts: %w", len(rows), err)
	}
	c.logger.Debug("Indexed artifacts", slog.Int("count", len(rows)))
	return nil
}

// Row builds the index row of an artifact file: digests, size and
// modification time, the descriptive fields of its pom and the classes it
// contains.
func Row(repo types.ManagedRepository, rel string, ref types.ArtifactReference) (types.Index, error) {
	full := repo.Abs(rel)
	info, err := os.Stat(full)
	if err != nil {
		return types.Index{}, xerrors.Errorf("unable to stat %s: %w", rel, err)
	}
	sums, err := checksum.Compute(full, checksum.SHA1, checksum.MD5)
	if err != nil {
		return types.Index{}, err
	}
	sha1, _ := hex.DecodeString(sums[checksum.SHA1.Ext])
	md5, _ := hex.DecodeString(sums[checksum.MD5.Ext])

	row := types.Index{
		RepositoryID: repo.ID,
		GroupID:      ref.GroupID,
		ArtifactID:   ref.ArtifactID,
		Version:      ref.Version,
		Classifier:   ref.Classifier,
		Type:         ref.Type,
		Path:         rel,
		SHA1:         sha1,
		MD5:          md5,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC().Truncate(time.Second),
	}

	if p := projectOf(repo, rel, ref); p != nil {
		row.Name = p.Name
		row.Packaging = p.Packaging
		row.Licenses = p.LicenseNames()
	}
	if row.Packaging == "" {
		row.Packaging = ref.Type
	}
	if hasClasses(ref.Type, rel) {
		row.Classes, err = Classes(full)
		if err != nil {
			slog.Default().With(slog.String("component", "consumer")).Warn("Unable to list classes",
				slog.String("path", rel), slog.Any("error", err))
		}
	}
	return row, nil
}

// projectOf reads the pom describing the artifact, which is the file itself
// for poms and the sibling pom otherwise.
func projectOf(repo types.ManagedRepository, rel string, ref types.ArtifactReference) *pom.Project {
	pomPath := rel
	if ref.Type != types.PomType {
		pomRef := ref
		pomRef.Type = types.PomType
		pomRef.Classifier = ""
		pomPath = layout.For(repo.Layout).ToPath(pomRef)
	}
	p, err := pom.Read(repo.Abs(pomPath))
	if err != nil {
		return nil
	}
	return p
}

func hasClasses(typ, rel string) bool {
	switch typ {
	case types.JarType, types.WarType, types.EarType, types.AarType, "ejb", "maven-plugin", "java-source":
		return true
	}
	return strings.HasSuffix(rel, ".zip")
}

// Classes lists the fully qualified names of the top level classes of a zip
// based archive. Inner classes and module descriptors are left out.
func Classes(archive string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path.Base(archive), err)
	}
	defer r.Close()

	var classes []string
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "WEB-INF/classes/")
		if f.FileInfo().IsDir() || !strings.HasSuffix(name, ".class") || strings.Contains(name, "$") {
			continue
		}
		name = strings.TrimSuffix(name, ".class")
		if path.Base(name) == "module-info" || path.Base(name) == "package-info" {
			continue
		}
		classes = append(classes, strings.ReplaceAll(name, "/", "."))
	}
	slices.Sort(classes)
	return slices.Compact(classes), nil
}

// IndexCleanup drops index rows whose files are gone from the repository.
type IndexCleanup struct {
	base
	index     Index
	fileTypes *filetypes.FileTypes

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewIndexCleanup(index Index, ft *filetypes.FileTypes) *IndexCleanup {
	return &IndexCleanup{
		base:      newBase(IndexCleanupID, "Remove index rows of deleted artifacts"),
		index:     index,
		fileTypes: ft,
	}
}

func (c *IndexCleanup) Includes() []string {
	return c.fileTypes.Patterns(filetypes.Artifacts)
}

func (c *IndexCleanup) ProcessUnmodified() bool { return true }

func (c *IndexCleanup) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	c.begin(repo)
	c.seen = make(map[string]struct{})
	return nil
}

func (c *IndexCleanup) ProcessFile(_ context.Context, rel string, _ bool) error {
	c.mu.Lock()
	c.seen[rel] = struct{}{}
	c.mu.Unlock()
	return nil
}

// CompleteScan removes the rows of files not seen during a full scan and of
// files that no longer exist on disk.
func (c *IndexCleanup) CompleteScan(ctx context.Context, executeOnEntireRepo bool) error {
	paths, err := c.index.SelectPaths(c.repo.ID)
	if err != nil {
		return xerrors.Errorf("failed to list indexed paths: %w", err)
	}
	var stale []string
	for _, p := range paths {
		if err = ctx.Err(); err != nil {
			return err
		}
		if _, ok := c.seen[p]; !ok && executeOnEntireRepo {
			stale = append(stale, p)
			continue
		}
		if _, err = os.Stat(c.repo.Abs(p)); errors.Is(err, os.ErrNotExist) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err = c.index.DeleteByPath(c.repo.ID, stale...); err != nil {
		return xerrors.Errorf("failed to remove stale index rows: %w", err)
	}
	c.logger.Info("Removed stale index rows", slog.Int("count", len(stale)))
	return nil
}
