package collector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/archiva-sub036/pkg/collector"
	"github.com/apache/archiva-sub036/pkg/types"
)

type batchRecorder struct {
	batches []int
	err     error
}

func (b *batchRecorder) InsertIndexes(indexes []types.Index) error {
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, len(indexes))
	return nil
}

func TestCollector_Run(t *testing.T) {
	tests := []struct {
		name        string
		rows        int
		batchSize   int
		want        []int
		insertError error
		wantErr     string
	}{
		{
			name:      "flush remaining rows",
			rows:      5,
			batchSize: 2,
			want:      []int{2, 2, 1},
		},
		{
			name:      "exact batches",
			rows:      4,
			batchSize: 2,
			want:      []int{2, 2},
		},
		{
			name:      "no rows",
			batchSize: 2,
		},
		{
			name:        "insert error",
			rows:        1,
			batchSize:   2,
			insertError: errors.New("disk full"),
			wantErr:     "disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &batchRecorder{err: tt.insertError}
			c := collector.New(rec, tt.batchSize)

			ch := make(chan types.Index, tt.rows)
			for range tt.rows {
				ch <- types.Index{RepositoryID: "central"}
			}
			close(ch)

			err := c.Run(context.Background(), ch)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.batches)
			assert.Equal(t, tt.rows, c.Inserted())
		})
	}
}

func TestCollector_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := collector.New(&batchRecorder{}, 0).Run(ctx, make(chan types.Index))
	require.ErrorIs(t, err, context.Canceled)
}
