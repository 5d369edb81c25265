package layout

import "strings"

// multi-part extensions that would otherwise be split at the last dot
var compoundExtensions = []string{"tar.gz", "tar.bz2"}

var typeToExtension = map[string]string{
	"ejb-client":         "jar",
	"ejb":                "jar",
	"distribution-tgz":   "tar.gz",
	"distribution-bzip2": "tar.bz2",
	"distribution-zip":   "zip",
	"java-source":        "jar",
	"javadoc":            "jar",
	"test-jar":           "jar",
	"aspect":             "jar",
	"uberjar":            "jar",
	"bundle":             "jar",
	"maven-plugin":       "jar",
	"maven-archetype":    "jar",
	"maven-one-plugin":   "jar",
}

var classifierToType = map[string]string{
	"sources": "java-source",
	"javadoc": "javadoc",
	"tests":   "test-jar",
	"client":  "ejb-client",
}

// ExtensionForType maps an artifact type to the file extension it is stored with.
func ExtensionForType(typ string) string {
	if ext, ok := typeToExtension[typ]; ok {
		return ext
	}
	return typ
}

// TypeFor guesses the artifact type from the classifier and extension of a file.
func TypeFor(classifier, ext string) string {
	if ext == "jar" {
		if t, ok := classifierToType[classifier]; ok {
			return t
		}
	}
	switch ext {
	case "tar.gz":
		return "distribution-tgz"
	case "tar.bz2":
		return "distribution-bzip2"
	}
	return ext
}

// ClassifierForType returns the implied classifier of types like java-source.
func ClassifierForType(typ string) string {
	for c, t := range classifierToType {
		if t == typ {
			return c
		}
	}
	return ""
}

// splitExtension splits a filename into its base and extension.
func splitExtension(filename string) (string, string) {
	lower := strings.ToLower(filename)
	for _, ext := range compoundExtensions {
		if strings.HasSuffix(lower, "."+ext) {
			return filename[:len(filename)-len(ext)-1], ext
		}
	}
	i := strings.LastIndex(filename, ".")
	if i <= 0 || i == len(filename)-1 {
		return filename, ""
	}
	return filename[:i], filename[i+1:]
}
