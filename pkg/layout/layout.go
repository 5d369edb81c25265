// Package layout converts between repository paths and artifact references for
// the default (Maven 2) and legacy (Maven 1) repository layouts.
package layout

import (
	"errors"
	"strings"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/types"
)

// ErrLayout is returned when a path does not follow a repository layout.
var ErrLayout = errors.New("invalid repository layout")

const MetadataFileName = "maven-metadata.xml"

// Layout converts paths of one repository layout.
type Layout interface {
	ID() string
	ToArtifactReference(path string) (types.ArtifactReference, error)
	ToPath(ref types.ArtifactReference) string
}

// For returns the layout with the given id. Unknown ids use the default layout.
func For(id string) Layout {
	if id == types.LegacyLayout {
		return Legacy{}
	}
	return Default{}
}

func layoutErrorf(path, format string, args ...any) error {
	args = append([]any{path}, args...)
	return xerrors.Errorf("%s: "+format+": %w", append(args, ErrLayout)...)
}

func splitPath(path string) []string {
	path = strings.Trim(strings.ReplaceAll(path, "\\", "/"), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
