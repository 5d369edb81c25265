package layout

import (
	"regexp"
	"strings"

	"github.com/apache/archiva-sub036/pkg/types"
)

// Legacy is the Maven 1 layout: groupId/<type>s/artifactId-version[-classifier].ext
type Legacy struct{}

func (Legacy) ID() string { return types.LegacyLayout }

// directory name -> artifact type
var legacyDirTypes = map[string]string{
	"jars":          "jar",
	"poms":          "pom",
	"wars":          "war",
	"ears":          "ear",
	"ejbs":          "ejb",
	"rars":          "rar",
	"plugins":       "maven-plugin",
	"java-sources":  "java-source",
	"javadoc.jars":  "javadoc",
	"javadocs":      "javadoc",
	"distributions": "distribution",
}

var versionPartPattern = regexp.MustCompile(`(?i)^([0-9].*|snapshot|alpha[0-9]*|beta[0-9]*|rc[0-9]*|cr[0-9]*|m[0-9]+|milestone[0-9]*|sp[0-9]*|ga|final|[0-9]{8}\.[0-9]{6})$`)

func (Legacy) ToArtifactReference(path string) (types.ArtifactReference, error) {
	parts := splitPath(path)
	if len(parts) != 3 {
		return types.ArtifactReference{}, layoutErrorf(path, "legacy paths have exactly 3 parts, got %d", len(parts))
	}
	groupID, dir, filename := parts[0], parts[1], parts[2]
	if !strings.HasSuffix(dir, "s") {
		return types.ArtifactReference{}, layoutErrorf(path, "type directory %q does not end in 's'", dir)
	}

	base, ext := splitExtension(filename)
	if ext == "" {
		return types.ArtifactReference{}, layoutErrorf(path, "filename %q has no extension", filename)
	}

	tokens := strings.Split(base, "-")
	versionStart := -1
	for i, tok := range tokens {
		if i > 0 && tok != "" && tok[0] >= '0' && tok[0] <= '9' {
			versionStart = i
			break
		}
	}
	if versionStart < 0 {
		return types.ArtifactReference{}, layoutErrorf(path, "unable to determine version from %q", filename)
	}
	versionEnd := versionStart + 1
	for versionEnd < len(tokens) && versionPartPattern.MatchString(tokens[versionEnd]) {
		versionEnd++
	}

	ref := types.ArtifactReference{
		GroupID:    groupID,
		ArtifactID: strings.Join(tokens[:versionStart], "-"),
		Version:    strings.Join(tokens[versionStart:versionEnd], "-"),
		Classifier: strings.Join(tokens[versionEnd:], "-"),
	}
	if ref.ArtifactID == "" {
		return types.ArtifactReference{}, layoutErrorf(path, "unable to determine artifactId from %q", filename)
	}

	typ, ok := legacyDirTypes[dir]
	if !ok {
		typ = strings.TrimSuffix(dir, "s")
	}
	switch typ {
	case "distribution":
		typ = TypeFor("", ext)
		if typ == "zip" {
			typ = "distribution-zip"
		}
	case "ejb":
		if ref.Classifier == "client" {
			typ = "ejb-client"
		}
	case "jar":
		typ = TypeFor(ref.Classifier, ext)
	}
	if ExtensionForType(typ) != ext && typ != ext {
		return types.ArtifactReference{}, layoutErrorf(path, "extension %q does not match type %q", ext, typ)
	}
	// implied classifiers are part of the type
	if ClassifierForType(typ) == ref.Classifier {
		ref.Classifier = ""
	}
	ref.Type = typ
	return ref, nil
}

func (Legacy) ToPath(ref types.ArtifactReference) string {
	name := ref.ArtifactID + "-" + ref.Version
	classifier := ref.Classifier
	if classifier == "" {
		classifier = ClassifierForType(ref.Type)
	}
	if classifier != "" {
		name += "-" + classifier
	}
	return ref.GroupID + "/" + legacyDir(ref.Type) + "/" + name + "." + ExtensionForType(ref.Type)
}

func legacyDir(typ string) string {
	switch typ {
	case "ejb-client":
		return "ejbs"
	case "distribution-tgz", "distribution-zip", "distribution-bzip2":
		return "distributions"
	case "java-source":
		return "java-sources"
	case "javadoc":
		return "javadoc.jars"
	case "maven-plugin":
		return "plugins"
	}
	return typ + "s"
}
