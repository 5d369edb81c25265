package index

import (
	"encoding/csv"
	"encoding/hex"
	"io"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/types"
)

type Writer struct {
	w *csv.Writer
}

func NewWriter(w io.Writer) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &Writer{w: cw}
}

// Write appends the rows and flushes them.
func (w *Writer) Write(rows ...types.Index) error {
	for _, row := range rows {
		rec := Record{Path: row.Path, GroupID: row.GroupID, ArtifactID: row.ArtifactID, Version: row.Version, SHA1: NotAvailable}
		if len(row.SHA1) > 0 {
			rec.SHA1 = hex.EncodeToString(row.SHA1)
		}
		if err := w.w.Write(rec.fields()); err != nil {
			return xerrors.Errorf("unable to write %s: %w", row.Path, err)
		}
	}
	w.w.Flush()
	return w.w.Error()
}
