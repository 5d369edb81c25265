package index

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/types"
)

const defaultBatchSize = 1000

type Inserter interface {
	InsertIndexes(indexes []types.Index) error
}

// Import stores the records of r as rows of the repository repoID. Records
// whose path does not match the default layout or their coordinates, or
// whose checksum is malformed, are logged and skipped, as are lines that
// cannot be parsed at all.
func Import(r *Reader, repoID string, index Inserter, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := slog.Default().With(slog.String("component", "import"), slog.String("repository", repoID))

	var imported, skipped int
	batch := make([]types.Index, 0, batchSize)
	flush := func() error {
		if err := index.InsertIndexes(batch); err != nil {
			return xerrors.Errorf("failed to insert index to db: %w", err)
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

loop:
	for {
		rec, err := r.Read()
		var perr *csv.ParseError
		switch {
		case errors.Is(err, io.EOF):
			break loop
		case errors.As(err, &perr):
			skipped++
			logger.Warn("Skip malformed line", slog.Int("line", perr.Line), slog.Any("error", perr.Err))
			continue
		case err != nil:
			return imported, xerrors.Errorf("read error: %w", err)
		}

		row, err := toIndex(repoID, rec)
		if err != nil {
			skipped++
			logger.Warn("Skip record", slog.String("path", rec.Path), slog.Any("error", err))
			continue
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err = flush(); err != nil {
				return imported, err
			}
		}
	}
	if err := flush(); err != nil {
		return imported, err
	}
	logger.Info("Import completed", slog.Int("imported", imported), slog.Int("skipped", skipped))
	return imported, nil
}

func toIndex(repoID string, rec Record) (types.Index, error) {
	ref, err := layout.Default{}.ToArtifactReference(rec.Path)
	if err != nil {
		return types.Index{}, err
	}
	if ref.GroupID != rec.GroupID || ref.ArtifactID != rec.ArtifactID || ref.Version != rec.Version {
		return types.Index{}, xerrors.Errorf("coordinates %s:%s:%s do not match the path", rec.GroupID, rec.ArtifactID, rec.Version)
	}

	row := types.Index{
		RepositoryID: repoID,
		GroupID:      ref.GroupID,
		ArtifactID:   ref.ArtifactID,
		Version:      ref.Version,
		Classifier:   ref.Classifier,
		Type:         ref.Type,
		Path:         rec.Path,
	}
	if rec.SHA1 != NotAvailable && rec.SHA1 != "" {
		if len(rec.SHA1) != 40 {
			return types.Index{}, xerrors.Errorf("invalid sha1 %q", rec.SHA1)
		}
		if row.SHA1, err = hex.DecodeString(rec.SHA1); err != nil {
			return types.Index{}, xerrors.Errorf("invalid sha1 %q: %w", rec.SHA1, err)
		}
	}
	return row, nil
}
