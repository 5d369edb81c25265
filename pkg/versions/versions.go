// Package versions implements Maven version semantics: snapshot detection and
// the ordering used by Maven's ComparableVersion.
package versions

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	SnapshotSuffix = "SNAPSHOT"

	// TimestampFormat is the layout of the timestamp part of a unique snapshot version.
	TimestampFormat = "20060102.150405"
)

var uniqueSnapshotPattern = regexp.MustCompile(`^(.*)-([0-9]{8}\.[0-9]{6})-([0-9]+)$`)

// IsSnapshot reports whether v is a generic (X-SNAPSHOT) or unique
// (X-yyyyMMdd.HHmmss-N) snapshot version.
func IsSnapshot(v string) bool {
	return IsGenericSnapshot(v) || IsUniqueSnapshot(v)
}

func IsGenericSnapshot(v string) bool {
	return strings.HasSuffix(v, SnapshotSuffix)
}

func IsUniqueSnapshot(v string) bool {
	return uniqueSnapshotPattern.MatchString(v)
}

// BaseVersion converts a unique snapshot version to its X-SNAPSHOT form.
// Other versions are returned unchanged.
func BaseVersion(v string) string {
	m := uniqueSnapshotPattern.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	return m[1] + "-" + SnapshotSuffix
}

// ReleaseVersion strips the snapshot marker: 1.0-SNAPSHOT and
// 1.0-20240101.101010-1 both become 1.0.
func ReleaseVersion(v string) string {
	v = BaseVersion(v)
	return strings.TrimSuffix(strings.TrimSuffix(v, SnapshotSuffix), "-")
}

// SnapshotTimestamp returns the timestamp and build number of a unique snapshot.
func SnapshotTimestamp(v string) (time.Time, int, bool) {
	m := uniqueSnapshotPattern.FindStringSubmatch(v)
	if m == nil {
		return time.Time{}, 0, false
	}
	ts, err := time.Parse(TimestampFormat, m[2])
	if err != nil {
		return time.Time{}, 0, false
	}
	build := 0
	for _, c := range m[3] {
		build = build*10 + int(c-'0')
	}
	return ts.UTC(), build, true
}

// Compare orders two versions the way Maven does. It returns -1, 0 or 1.
func Compare(a, b string) int {
	return parse(a).compare(parse(b))
}

// Sort sorts versions in ascending Maven order.
func Sort(vs []string) {
	slices.SortStableFunc(vs, Compare)
}

// Latest returns the greatest version, or "" for an empty slice.
func Latest(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return slices.MaxFunc(vs, Compare)
}

// LatestRelease returns the greatest non-snapshot version.
func LatestRelease(vs []string) string {
	var latest string
	for _, v := range vs {
		if IsSnapshot(v) {
			continue
		}
		if latest == "" || Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}
