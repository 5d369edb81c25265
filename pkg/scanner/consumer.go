package scanner

import (
	"context"
	"time"

	"github.com/apache/archiva-sub036/pkg/types"
)

// Consumer receives the files of a repository during a scan.
//
// BeginScan is called once before any file, ProcessFile once per dispatched
// file, possibly from several goroutines at the same time, and CompleteScan
// once after the last file. executeOnEntireRepo is false for incremental scans.
type Consumer interface {
	ID() string
	Description() string
	BeginScan(ctx context.Context, repo types.ManagedRepository, whenGathered time.Time, executeOnEntireRepo bool) error
	ProcessFile(ctx context.Context, path string, executeOnEntireRepo bool) error
	CompleteScan(ctx context.Context, executeOnEntireRepo bool) error
	// ProcessUnmodified reports whether files unchanged since the last scan
	// are still dispatched during an incremental scan.
	ProcessUnmodified() bool
}

// KnownConsumer is a Consumer selected by file patterns.
type KnownConsumer interface {
	Consumer
	Includes() []string
	Excludes() []string
}
