// Package converter copies a Maven 1 (legacy layout) repository into a
// default layout repository, upgrading its poms to modelVersion 4.0.0.
package converter

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/hash"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/pom"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

const defaultLimit = 4

var (
	ErrChecksum     = xerrors.New("source checksum does not match")
	ErrTargetExists = xerrors.New("target exists with different content")
)

type Status string

const (
	Converted Status = "converted"
	Skipped   Status = "skipped"
	Failed    Status = "failed"
)

// Result describes the conversion of one legacy file.
type Result struct {
	Path     string // legacy path
	Target   string // default layout path, empty when unparsable
	Artifact types.ArtifactReference
	Status   Status
	Warnings []string
	Err      error
}

// Report collects the results of a conversion, ordered by legacy path.
type Report struct {
	Results []Result
	DryRun  bool
}

func (r Report) Count(s Status) int {
	var n int
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// MetadataUpdater regenerates maven-metadata.xml in the target repository.
type MetadataUpdater interface {
	UpdateProject(repo types.ManagedRepository, ref types.ProjectReference) (bool, error)
	UpdateVersion(repo types.ManagedRepository, ref types.VersionedReference) (bool, error)
}

type Option struct {
	Force    bool // overwrite target files with different content
	DryRun   bool // report without writing
	Limit    int
	Metadata MetadataUpdater
	Progress func(Result)
}

type Converter struct {
	opt    Option
	logger *slog.Logger
}

func New(opt Option) *Converter {
	if opt.Limit <= 0 {
		opt.Limit = defaultLimit
	}
	return &Converter{
		opt:    opt,
		logger: slog.Default().With(slog.String("component", "converter")),
	}
}

// Convert walks the legacy repository and converts every artifact into the
// target repository. Failures of single artifacts are part of the report;
// the returned error is reserved for problems that stop the conversion.
func (c *Converter) Convert(ctx context.Context, legacy, target types.ManagedRepository) (Report, error) {
	if !legacy.IsLegacy() {
		return Report{}, xerrors.Errorf("repository %s does not use the legacy layout", legacy.ID)
	}
	if target.IsLegacy() {
		return Report{}, xerrors.Errorf("target repository %s uses the legacy layout", target.ID)
	}
	c.logger.Info("Converting legacy repository", slog.String("source", legacy.Location),
		slog.String("target", target.Location), slog.Bool("dry_run", c.opt.DryRun))

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opt.Limit)

	err := fileutil.Walk(legacy.Location, skip, func(path string, _ fs.DirEntry) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(legacy.Location, path)
		if err != nil {
			return xerrors.Errorf("relative path error: %w", err)
		}
		rel = filepath.ToSlash(rel)
		g.Go(func() error {
			res := c.ConvertFile(gctx, legacy, target, rel)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if c.opt.Progress != nil {
				c.opt.Progress(res)
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return Report{}, xerrors.Errorf("conversion aborted: %w", err)
	}

	slices.SortFunc(results, func(a, b Result) int { return strings.Compare(a.Path, b.Path) })
	report := Report{Results: results, DryRun: c.opt.DryRun}
	if err = c.updateMetadata(target, report); err != nil {
		return report, err
	}
	c.logger.Info("Conversion completed", slog.Int("converted", report.Count(Converted)),
		slog.Int("skipped", report.Count(Skipped)), slog.Int("failed", report.Count(Failed)))
	return report, nil
}

// ConvertFile converts a single legacy path.
func (c *Converter) ConvertFile(ctx context.Context, legacy, target types.ManagedRepository, rel string) Result {
	res := Result{Path: rel}
	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}
	ref, err := layout.Legacy{}.ToArtifactReference(rel)
	if err != nil {
		return res.fail(err)
	}
	res.Artifact = ref
	res.Target = layout.Default{}.ToPath(ref)

	src := legacy.Abs(rel)
	status, err := checksum.Verify(src, checksum.All...)
	if err != nil {
		return res.fail(err)
	}
	for ext, s := range status {
		if s == checksum.Invalid {
			return res.fail(xerrors.Errorf("%s%s: %w", rel, ext, ErrChecksum))
		}
	}

	var content []byte
	if ref.Type == types.PomType {
		p, err := pom.Read(src)
		if err != nil {
			return res.fail(err)
		}
		if p.IsLegacy() {
			content, res.Warnings, err = convertPom(p, ref)
			if err != nil {
				return res.fail(err)
			}
		}
	}

	dst := target.Abs(res.Target)
	same, err := sameFile(dst, src, content)
	if err != nil {
		return res.fail(err)
	}
	switch {
	case same:
		res.Status = Skipped
		return res
	case exists(dst) && !c.opt.Force:
		return res.fail(xerrors.Errorf("%s: %w", res.Target, ErrTargetExists))
	}

	if c.opt.DryRun {
		res.Status = Converted
		return res
	}
	if content != nil {
		err = fileutil.WriteFile(dst, bytes.NewReader(content))
	} else {
		err = fileutil.CopyFile(src, dst)
	}
	if err != nil {
		return res.fail(err)
	}
	if err = checksum.Create(dst, checksum.All...); err != nil {
		return res.fail(err)
	}
	if ref.Type != types.PomType {
		if warning, err := c.ensurePom(legacy, target, ref); err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		} else if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}
	res.Status = Converted
	c.logger.Debug("Converted artifact", slog.String("source", rel), slog.String("target", res.Target))
	return res
}

// ensurePom writes a minimal pom next to an artifact whose legacy repository
// has none.
func (c *Converter) ensurePom(legacy, target types.ManagedRepository, ref types.ArtifactReference) (string, error) {
	pomRef := ref
	pomRef.Type = types.PomType
	pomRef.Classifier = ""
	if ref.Classifier != "" || layout.ClassifierForType(ref.Type) != "" || exists(legacy.Abs(layout.Legacy{}.ToPath(pomRef))) {
		return "", nil
	}
	dst := target.Abs(layout.Default{}.ToPath(pomRef))
	if exists(dst) {
		return "", nil
	}
	data, err := minimalPom(ref)
	if err != nil {
		return "", err
	}
	if err = fileutil.WriteFile(dst, bytes.NewReader(data)); err != nil {
		return "", err
	}
	if err = checksum.Create(dst, checksum.All...); err != nil {
		return "", err
	}
	return "no pom found, generated a minimal one", nil
}

// updateMetadata regenerates the metadata of every converted project.
func (c *Converter) updateMetadata(target types.ManagedRepository, report Report) error {
	if c.opt.Metadata == nil || report.DryRun {
		return nil
	}
	seen := make(map[uint64]struct{})
	for _, res := range report.Results {
		if res.Status != Converted {
			continue
		}
		v := res.Artifact.Versioned()
		v.Version = versions.BaseVersion(v.Version)
		if _, ok := seen[hash.Version(v)]; !ok {
			seen[hash.Version(v)] = struct{}{}
			if _, err := c.opt.Metadata.UpdateVersion(target, v); err != nil {
				return xerrors.Errorf("failed to update version metadata: %w", err)
			}
		}
		if _, ok := seen[hash.Project(v.Project())]; !ok {
			seen[hash.Project(v.Project())] = struct{}{}
			if _, err := c.opt.Metadata.UpdateProject(target, v.Project()); err != nil {
				return xerrors.Errorf("failed to update project metadata: %w", err)
			}
		}
	}
	return nil
}

func (r Result) fail(err error) Result {
	r.Status = Failed
	r.Err = err
	return r
}

// skip leaves out hidden files, checksums, signatures and metadata.
func skip(rel string, d fs.DirEntry) bool {
	if fileutil.IsHidden(rel) {
		return true
	}
	return !d.IsDir() && (layout.IsSupportFile(rel) || layout.IsMetadata(rel))
}

// sameFile reports whether dst already holds the converted content of src.
func sameFile(dst, src string, content []byte) (bool, error) {
	want, err := os.ReadFile(dst)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, xerrors.Errorf("unable to read %s: %w", dst, err)
	}
	if content == nil {
		if content, err = os.ReadFile(src); err != nil {
			return false, xerrors.Errorf("unable to read %s: %w", src, err)
		}
	}
	return bytes.Equal(want, content), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
