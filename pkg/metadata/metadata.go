// Package metadata reads, merges and regenerates maven-metadata.xml files.
package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/versions"
)

const (
	modelVersion = "1.1.0"

	// LastUpdatedFormat is the layout of versioning/lastUpdated.
	LastUpdatedFormat = "20060102150405"
)

// Decode parses a maven-metadata.xml document.
func Decode(r io.Reader) (*Metadata, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	var meta Metadata
	if err := decoder.Decode(&meta); err != nil {
		return nil, xerrors.Errorf("unable to decode metadata: %w", err)
	}
	return &meta, nil
}

// Read reads the metadata file at path. A missing file yields (nil, nil).
func Read(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := Decode(f)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// Encode renders the metadata document.
func Encode(meta *Metadata) ([]byte, error) {
	if meta.ModelVersion == "" {
		meta.ModelVersion = modelVersion
	}
	b, err := xml.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal metadata: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(b)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// Write stores the metadata at path and refreshes its checksum files.
func Write(path string, meta *Metadata) error {
	b, err := Encode(meta)
	if err != nil {
		return err
	}
	if err = fileutil.WriteFile(path, bytes.NewReader(b)); err != nil {
		return xerrors.Errorf("failed to save %s: %w", path, err)
	}
	if err = checksum.Create(path, checksum.All...); err != nil {
		return xerrors.Errorf("failed to create metadata checksums: %w", err)
	}
	return nil
}

// Remove deletes the metadata file at path together with its checksums.
func Remove(path string) error {
	for _, p := range []string{path, path + checksum.SHA1.Ext, path + checksum.MD5.Ext} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return xerrors.Errorf("unable to remove %s: %w", p, err)
		}
	}
	return nil
}

// Merge combines two metadata documents. Identity fields come from a when set;
// version lists are unioned and latest/release recomputed.
func Merge(a, b *Metadata) *Metadata {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return clone(b)
	case b == nil:
		return clone(a)
	}

	merged := clone(a)
	merged.GroupID = lo.Ternary(merged.GroupID != "", merged.GroupID, b.GroupID)
	merged.ArtifactID = lo.Ternary(merged.ArtifactID != "", merged.ArtifactID, b.ArtifactID)
	merged.Version = lo.Ternary(merged.Version != "", merged.Version, b.Version)

	if b.Versioning != nil {
		if merged.Versioning == nil {
			merged.Versioning = &Versioning{}
		}
		mv, bv := merged.Versioning, b.Versioning
		mv.Versions = lo.Uniq(append(mv.Versions, bv.Versions...))
		versions.Sort(mv.Versions)
		if len(mv.Versions) > 0 {
			mv.Latest = versions.Latest(mv.Versions)
			mv.Release = versions.LatestRelease(mv.Versions)
		} else {
			mv.Latest = latestOf(mv.Latest, bv.Latest)
			mv.Release = latestOf(mv.Release, bv.Release)
		}
		if bv.LastUpdated > mv.LastUpdated {
			mv.LastUpdated = bv.LastUpdated
		}
		if bv.Snapshot != nil && (mv.Snapshot == nil || newerSnapshot(bv.Snapshot, mv.Snapshot)) {
			s := *bv.Snapshot
			mv.Snapshot = &s
		}
		mv.SnapshotVersions = mergeSnapshotVersions(mv.SnapshotVersions, bv.SnapshotVersions)
	}

	for _, p := range b.Plugins {
		if !slices.ContainsFunc(merged.Plugins, func(x Plugin) bool { return x.Prefix == p.Prefix }) {
			merged.Plugins = append(merged.Plugins, p)
		}
	}
	return merged
}

func latestOf(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || versions.Compare(a, b) >= 0 {
		return a
	}
	return b
}

func newerSnapshot(a, b *Snapshot) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.BuildNumber > b.BuildNumber
}

func mergeSnapshotVersions(a, b []SnapshotVersion) []SnapshotVersion {
	out := slices.Clone(a)
	for _, sv := range b {
		i := slices.IndexFunc(out, func(x SnapshotVersion) bool {
			return x.Classifier == sv.Classifier && x.Extension == sv.Extension
		})
		switch {
		case i < 0:
			out = append(out, sv)
		case sv.Updated > out[i].Updated:
			out[i] = sv
		}
	}
	return out
}

func clone(m *Metadata) *Metadata {
	c := *m
	if m.Versioning != nil {
		v := *m.Versioning
		v.Versions = slices.Clone(v.Versions)
		v.SnapshotVersions = slices.Clone(v.SnapshotVersions)
		if v.Snapshot != nil {
			s := *v.Snapshot
			v.Snapshot = &s
		}
		c.Versioning = &v
	}
	c.Plugins = slices.Clone(m.Plugins)
	return &c
}
