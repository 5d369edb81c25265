// Package consumers implements the repository scanner consumers: indexing,
// checksum maintenance, metadata regeneration, purge and cleanup.
package consumers

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/purge"
	"github.com/apache/archiva-sub036/pkg/scanner"
	"github.com/apache/archiva-sub036/pkg/types"
)

const (
	IndexContentID           = "index-content"
	IndexCleanupID           = "index-cleanup"
	CreateMissingChecksumsID = "create-missing-checksums"
	ValidateChecksumsID      = "validate-checksums"
	MetadataUpdaterID        = "metadata-updater"
	RepositoryPurgeID        = "repository-purge"
	AutoRemoveID             = "auto-remove"
	InvalidContentID         = "invalid-content"
)

// DefaultKnown and DefaultInvalid are the consumers enabled when the
// configuration does not name any.
var (
	DefaultKnown = []string{
		AutoRemoveID, CreateMissingChecksumsID, MetadataUpdaterID,
		RepositoryPurgeID, IndexContentID, IndexCleanupID,
	}
	DefaultInvalid = []string{InvalidContentID}
)

// Index is the part of the artifact index used by consumers.
type Index interface {
	InsertIndexes(indexes []types.Index) error
	SelectPaths(repoID string) ([]string, error)
	DeleteByPath(repoID string, paths ...string) error
}

// MetadataUpdater regenerates maven-metadata.xml files.
type MetadataUpdater interface {
	purge.MetadataUpdater
}

type Option struct {
	Index     Index
	Metadata  MetadataUpdater
	FileTypes *filetypes.FileTypes
	Clock     clock.PassiveClock
	BatchSize int // rows per index transaction
}

// Factory creates fresh consumer instances for every scan, so scans of
// different repositories never share consumer state.
type Factory struct {
	opt Option
}

func NewFactory(opt Option) *Factory {
	if opt.FileTypes == nil {
		opt.FileTypes = filetypes.New(nil)
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 1000
	}
	return &Factory{opt: opt}
}

// Available lists the ids of the consumers the factory can build.
func (f *Factory) Available() []string {
	return []string{
		IndexContentID, IndexCleanupID, CreateMissingChecksumsID, ValidateChecksumsID,
		MetadataUpdaterID, RepositoryPurgeID, AutoRemoveID, InvalidContentID,
	}
}

// Build instantiates the named known and invalid consumers. Consumers needing
// the index or the metadata updater are skipped when those are not configured.
func (f *Factory) Build(known, invalid []string) (scanner.Consumers, error) {
	var consumers scanner.Consumers
	for _, id := range known {
		c, err := f.known(id)
		if err != nil {
			return scanner.Consumers{}, err
		}
		if c != nil {
			consumers.Known = append(consumers.Known, c)
		}
	}
	for _, id := range invalid {
		switch id {
		case InvalidContentID:
			consumers.Invalid = append(consumers.Invalid, NewInvalidContent())
		default:
			return scanner.Consumers{}, xerrors.Errorf("unknown invalid content consumer %q", id)
		}
	}
	return consumers, nil
}

func (f *Factory) known(id string) (scanner.KnownConsumer, error) {
	ft := f.opt.FileTypes
	switch id {
	case IndexContentID:
		if f.opt.Index == nil {
			return nil, nil
		}
		return NewIndexContent(f.opt.Index, ft, f.opt.BatchSize), nil
	case IndexCleanupID:
		if f.opt.Index == nil {
			return nil, nil
		}
		return NewIndexCleanup(f.opt.Index, ft), nil
	case CreateMissingChecksumsID:
		return NewChecksumCreator(ft), nil
	case ValidateChecksumsID:
		return NewChecksumValidator(), nil
	case MetadataUpdaterID:
		if f.opt.Metadata == nil {
			return nil, nil
		}
		return NewMetadataUpdater(f.opt.Metadata, ft), nil
	case RepositoryPurgeID:
		return NewRepositoryPurge(purge.Option{Index: f.opt.Index, Metadata: f.opt.Metadata, Clock: f.opt.Clock}, ft), nil
	case AutoRemoveID:
		return NewAutoRemove(ft), nil
	}
	return nil, xerrors.Errorf("unknown known content consumer %q", id)
}

// base carries the state every consumer keeps between BeginScan and CompleteScan.
type base struct {
	id          string
	description string
	repo        types.ManagedRepository
	logger      *slog.Logger
}

func newBase(id, description string) base {
	return base{
		id:          id,
		description: description,
		logger:      slog.Default().With(slog.String("component", "consumer"), slog.String("consumer", id)),
	}
}

func (b *base) ID() string          { return b.id }
func (b *base) Description() string { return b.description }

func (b *base) begin(repo types.ManagedRepository) {
	b.repo = repo
	b.logger = slog.Default().With(slog.String("component", "consumer"), slog.String("consumer", b.id),
		slog.String("repository", repo.ID))
}

func (b *base) BeginScan(_ context.Context, repo types.ManagedRepository, _ time.Time, _ bool) error {
	b.begin(repo)
	return nil
}

func (b *base) CompleteScan(_ context.Context, _ bool) error { return nil }

func (b *base) ProcessUnmodified() bool { return false }

func (b *base) Excludes() []string { return nil }
