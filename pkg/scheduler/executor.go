package scheduler

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/consumers"
	"github.com/apache/archiva-sub036/pkg/scanner"
	"github.com/apache/archiva-sub036/pkg/types"
)

// LastScanStore returns the statistics of the previous scan of a repository.
type LastScanStore interface {
	LastScan(repoID string) (types.ScanStatistics, bool, error)
}

type ExecutorOption struct {
	Scanner   *scanner.Scanner
	Factory   *consumers.Factory
	Known     []string
	Invalid   []string
	LastScans LastScanStore
}

// RepositoryExecutor scans repositories with freshly built consumers.
type RepositoryExecutor struct {
	opt ExecutorOption
}

func NewExecutor(opt ExecutorOption) *RepositoryExecutor {
	return &RepositoryExecutor{opt: opt}
}

// Scan walks the repository. Incremental scans only dispatch the files
// modified since the previous scan started; a repository never scanned
// before is scanned entirely.
func (e *RepositoryExecutor) Scan(ctx context.Context, repo types.ManagedRepository, full bool) error {
	var since time.Time
	if !full && e.opt.LastScans != nil {
		last, ok, err := e.opt.LastScans.LastScan(repo.ID)
		if err != nil {
			return xerrors.Errorf("unable to get the last scan: %w", err)
		} else if ok {
			since = last.Started
		}
	}
	c, err := e.opt.Factory.Build(e.opt.Known, e.opt.Invalid)
	if err != nil {
		return xerrors.Errorf("consumer error: %w", err)
	}
	if _, err = e.opt.Scanner.Scan(ctx, repo, c, since); err != nil {
		return xerrors.Errorf("scan error: %w", err)
	}
	return nil
}

func (e *RepositoryExecutor) ScanFile(ctx context.Context, repo types.ManagedRepository, path string) error {
	c, err := e.opt.Factory.Build(e.opt.Known, e.opt.Invalid)
	if err != nil {
		return xerrors.Errorf("consumer error: %w", err)
	}
	return e.opt.Scanner.ScanFile(ctx, repo, c, path)
}
