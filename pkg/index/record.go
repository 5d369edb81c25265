// Package index reads and writes artifact index dumps: tab separated
// records of path, groupId, artifactId, version and sha1. Lines starting
// with # are comments.
package index

import (
	"encoding/csv"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// NotAvailable marks a record without a checksum.
const NotAvailable = "N/A"

// Record is one line of a dump.
type Record struct {
	Path       string
	GroupID    string
	ArtifactID string
	Version    string
	SHA1       string
}

func (rec Record) fields() []string {
	return []string{rec.Path, rec.GroupID, rec.ArtifactID, rec.Version, rec.SHA1}
}

// Reader decodes the records of a dump.
type Reader struct {
	csv    *csv.Reader
	closer io.Closer
}

// Open reads the dump stored at path. The caller closes the reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = len(Record{}.fields())
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Read returns the next record, or io.EOF at the end of the dump. A
// malformed line yields a *csv.ParseError and the following Read resumes
// on the next line.
func (r *Reader) Read() (Record, error) {
	fields, err := r.csv.Read()
	if err != nil {
		return Record{}, err
	}
	return Record{
		Path:       fields[0],
		GroupID:    fields[1],
		ArtifactID: fields[2],
		Version:    fields[3],
		SHA1:       fields[4],
	}, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
