package layout

import (
	"strings"

	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

// Default is the Maven 2 layout:
// group/path/artifactId/version/artifactId-version[-classifier].ext
type Default struct{}

func (Default) ID() string { return types.DefaultLayout }

func (Default) ToArtifactReference(path string) (types.ArtifactReference, error) {
	parts := splitPath(path)
	if len(parts) < 4 {
		return types.ArtifactReference{}, layoutErrorf(path, "not enough parts (%d) in path", len(parts))
	}
	ref := types.ArtifactReference{
		GroupID:    strings.Join(parts[:len(parts)-3], "."),
		ArtifactID: parts[len(parts)-3],
		Version:    parts[len(parts)-2],
	}
	filename := parts[len(parts)-1]

	if !strings.HasPrefix(filename, ref.ArtifactID+"-") {
		return types.ArtifactReference{}, layoutErrorf(path, "filename %q does not start with artifactId %q", filename, ref.ArtifactID)
	}
	base, ext := splitExtension(filename)
	if ext == "" {
		return types.ArtifactReference{}, layoutErrorf(path, "filename %q has no extension", filename)
	}
	rest := strings.TrimPrefix(base, ref.ArtifactID+"-")

	version, ok := matchVersion(rest, ref.Version)
	if !ok {
		return types.ArtifactReference{}, layoutErrorf(path, "filename %q does not match version %q", filename, ref.Version)
	}
	ref.Version = version
	rest = strings.TrimPrefix(rest, version)
	if rest != "" {
		// matchVersion guarantees a separator here
		ref.Classifier = rest[1:]
		if ref.Classifier == "" {
			return types.ArtifactReference{}, layoutErrorf(path, "empty classifier in %q", filename)
		}
	}
	ref.Type = TypeFor(ref.Classifier, ext)
	return ref, nil
}

// matchVersion finds the version at the start of s that is valid for the
// version directory dirVersion. Snapshot directories also accept unique
// (timestamped) versions of the same base.
func matchVersion(s, dirVersion string) (string, bool) {
	if hasVersionPrefix(s, dirVersion) {
		return dirVersion, true
	}
	if !versions.IsGenericSnapshot(dirVersion) {
		return "", false
	}
	release := versions.ReleaseVersion(dirVersion)
	if !strings.HasPrefix(s, release+"-") {
		return "", false
	}
	// release-yyyyMMdd.HHmmss-N[-classifier]
	parts := strings.SplitN(strings.TrimPrefix(s, release+"-"), "-", 3)
	if len(parts) < 2 {
		return "", false
	}
	candidate := release + "-" + parts[0] + "-" + parts[1]
	if !versions.IsUniqueSnapshot(candidate) || versions.BaseVersion(candidate) != dirVersion {
		return "", false
	}
	return candidate, true
}

func hasVersionPrefix(s, version string) bool {
	return s == version || strings.HasPrefix(s, version+"-")
}

func (Default) ToPath(ref types.ArtifactReference) string {
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(ref.GroupID, ".", "/"))
	sb.WriteString("/")
	sb.WriteString(ref.ArtifactID)
	sb.WriteString("/")
	sb.WriteString(versions.BaseVersion(ref.Version))
	sb.WriteString("/")
	sb.WriteString(filename(ref))
	return sb.String()
}

// ProjectDir returns the directory holding all versions of a project.
func ProjectDir(ref types.ProjectReference) string {
	return strings.ReplaceAll(ref.GroupID, ".", "/") + "/" + ref.ArtifactID
}

// VersionDir returns the directory holding a single (base) version of a project.
func VersionDir(ref types.VersionedReference) string {
	return ProjectDir(ref.Project()) + "/" + versions.BaseVersion(ref.Version)
}

// ProjectMetadataPath returns the path of the project level maven-metadata.xml.
func ProjectMetadataPath(ref types.ProjectReference) string {
	return ProjectDir(ref) + "/" + MetadataFileName
}

// VersionMetadataPath returns the path of the version level maven-metadata.xml.
func VersionMetadataPath(ref types.VersionedReference) string {
	return VersionDir(ref) + "/" + MetadataFileName
}

func filename(ref types.ArtifactReference) string {
	classifier := ref.Classifier
	if classifier == "" {
		classifier = ClassifierForType(ref.Type)
	}
	name := ref.ArtifactID + "-" + ref.Version
	if classifier != "" {
		name += "-" + classifier
	}
	return name + "." + ExtensionForType(ref.Type)
}
