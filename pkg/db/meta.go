package db

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/fileutil"
)

const metadataFile = "metadata.json"

// Client reads and writes the metadata.json describing the index database.
type Client struct {
	dir string
}

type Metadata struct {
	Version    int `json:",omitempty"`
	NextUpdate time.Time
	UpdatedAt  time.Time
	// ImportedAt is the time an index dump was last imported.
	ImportedAt time.Time
	// Repositories maps repository ids to the time their index was last rebuilt.
	Repositories map[string]time.Time `json:",omitempty"`
}

func MetadataPath(cacheDir string) string {
	return filepath.Join(cacheDir, metadataFile)
}

func NewMetadata(cacheDir string) Client {
	return Client{dir: cacheDir}
}

func (c Client) Get() (Metadata, error) {
	f, err := os.Open(MetadataPath(c.dir))
	if err != nil {
		return Metadata{}, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var meta Metadata
	if err = json.NewDecoder(f).Decode(&meta); err != nil {
		return Metadata{}, xerrors.Errorf("unable to decode metadata: %w", err)
	}
	return meta, nil
}

// Update merges meta into the stored metadata and writes it back.
func (c Client) Update(meta Metadata) error {
	current, err := c.Get()
	if err == nil {
		if meta.ImportedAt.IsZero() {
			meta.ImportedAt = current.ImportedAt
		}
		for id, t := range current.Repositories {
			if _, ok := meta.Repositories[id]; !ok {
				if meta.Repositories == nil {
					meta.Repositories = make(map[string]time.Time)
				}
				meta.Repositories[id] = t
			}
		}
	}
	if err = fileutil.WriteJSON(MetadataPath(c.dir), meta); err != nil {
		return xerrors.Errorf("unable to save metadata: %w", err)
	}
	return nil
}

// RecordImport stores t as the time of the last dump import and keeps the
// rest of the stored metadata.
func (c Client) RecordImport(t time.Time) error {
	meta, err := c.Get()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	meta.Version = SchemaVersion
	meta.ImportedAt = t
	return c.Update(meta)
}
