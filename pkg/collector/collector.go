// Package collector batches index rows produced concurrently and writes
// them to the artifact index.
package collector

import (
	"context"
	"log/slog"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/types"
)

const defaultBatchSize = 1000

type Index interface {
	InsertIndexes(indexes []types.Index) error
}

type Collector struct {
	index     Index
	batchSize int
	inserted  int
	logger    *slog.Logger
}

func New(index Index, batchSize int) *Collector {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Collector{
		index:     index,
		batchSize: batchSize,
		logger:    slog.Default().With(slog.String("component", "collector")),
	}
}

// Run reads rows until recordCh is closed. Rows are flushed every batchSize
// records and once more when the channel is drained.
func (c *Collector) Run(ctx context.Context, recordCh <-chan types.Index) error {
	batch := make([]types.Index, 0, c.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-recordCh:
			if !ok {
				return c.flush(batch)
			}
			batch = append(batch, row)
			if len(batch) >= c.batchSize {
				if err := c.flush(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
}

// Inserted returns the number of rows written so far. It must not be
// called while Run is active.
func (c *Collector) Inserted() int {
	return c.inserted
}

func (c *Collector) flush(batch []types.Index) error {
	if len(batch) == 0 {
		return nil
	}
	if err := c.index.InsertIndexes(batch); err != nil {
		return xerrors.Errorf("failed to insert index to db: %w", err)
	}
	c.inserted += len(batch)
	c.logger.Debug("Indexes inserted", slog.Int("count", len(batch)), slog.Int("total", c.inserted))
	return nil
}
