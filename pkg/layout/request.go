package layout

import (
	"path"
	"strings"

	"github.com/apache/archiva-sub036/pkg/types"
)

// SupportExtensions are the checksum and signature extensions stored next to artifacts.
var SupportExtensions = []string{".sha1", ".md5", ".asc", ".gpg"}

// IsSupportFile reports whether the path is a checksum or signature file.
func IsSupportFile(p string) bool {
	for _, ext := range SupportExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// StripSupportExtension removes a checksum or signature extension.
func StripSupportExtension(p string) (string, string) {
	for _, ext := range SupportExtensions {
		if strings.HasSuffix(p, ext) {
			return strings.TrimSuffix(p, ext), ext
		}
	}
	return p, ""
}

// IsMetadata reports whether the path names a maven-metadata.xml file,
// including the per-remote variants written by the proxy (maven-metadata-<id>.xml).
func IsMetadata(p string) bool {
	name := path.Base(p)
	return name == MetadataFileName || (strings.HasPrefix(name, "maven-metadata-") && strings.HasSuffix(name, ".xml"))
}

// IsMetadataSupportFile reports whether the path is a checksum of a metadata file.
func IsMetadataSupportFile(p string) bool {
	base, ext := StripSupportExtension(p)
	return ext != "" && IsMetadata(base)
}

func IsArchetypeCatalog(p string) bool {
	return path.Base(p) == "archetype-catalog.xml"
}

// IsDefault reports whether the path looks like a default layout path.
func IsDefault(p string) bool {
	return len(splitPath(p)) >= 4
}

// IsLegacy reports whether the path looks like a legacy layout path.
func IsLegacy(p string) bool {
	parts := splitPath(p)
	return len(parts) == 3 && strings.HasSuffix(parts[1], "s")
}

// ToArtifactReference parses a request path of either layout.
func ToArtifactReference(p string) (types.ArtifactReference, error) {
	if IsSupportFile(p) {
		return types.ArtifactReference{}, layoutErrorf(p, "support files are not artifacts")
	}
	if IsMetadata(p) {
		return types.ArtifactReference{}, layoutErrorf(p, "metadata files are not artifacts")
	}
	if IsDefault(p) {
		if ref, err := (Default{}).ToArtifactReference(p); err == nil {
			return ref, nil
		}
	}
	if IsLegacy(p) {
		return Legacy{}.ToArtifactReference(p)
	}
	return Default{}.ToArtifactReference(p)
}

// ToNativePath converts a request path of any layout to the layout of the
// target repository. Support files keep their extension.
func ToNativePath(p string, target Layout) (string, error) {
	p = strings.TrimPrefix(p, "/")
	base, ext := StripSupportExtension(p)
	if IsMetadata(base) {
		if target.ID() == types.LegacyLayout {
			return "", layoutErrorf(p, "metadata is not supported by the legacy layout")
		}
		return p, nil
	}
	ref, err := ToArtifactReference(base)
	if err != nil {
		return "", err
	}
	return target.ToPath(ref) + ext, nil
}
