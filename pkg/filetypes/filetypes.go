// Package filetypes classifies repository paths into named groups using
// Ant style patterns (**/*.jar, .index/**).
package filetypes

import (
	"path"
	"strings"

	"github.com/samber/lo"
)

const (
	Artifacts        = "artifacts"
	IndexableContent = "indexable-content"
	AutoRemove       = "auto-remove"
	Ignored          = "ignored"
)

var defaults = map[string][]string{
	Artifacts: {
		"**/*.pom", "**/*.jar", "**/*.ear", "**/*.war", "**/*.car", "**/*.sar",
		"**/*.mar", "**/*.rar", "**/*.dtd", "**/*.tld", "**/*.tar.gz", "**/*.tar.bz2",
		"**/*.zip", "**/*.aar", "**/*.nar",
	},
	IndexableContent: {
		"**/*.txt", "**/*.TXT", "**/*.block", "**/*.config", "**/*.pom",
		"**/*.xml", "**/*.xsd", "**/*.dtd", "**/*.tld",
	},
	AutoRemove: {"**/*.bak", "**/*~", "**/*-", "**/*.tmp"},
	Ignored: {
		"**/.htaccess", "**/KEYS", "**/*.rb", "**/*.sh", "**/.svn/**", "**/.DAV/**",
		"**/.git/**", ".index/**", ".indexer/**", "**/.archiva-*",
	},
}

// FileTypes holds the pattern groups.
type FileTypes struct {
	groups map[string][]string
}

// New returns the default groups overridden by the given ones.
func New(overrides map[string][]string) *FileTypes {
	groups := lo.Assign(defaults)
	for name, patterns := range overrides {
		if len(patterns) > 0 {
			groups[name] = patterns
		}
	}
	return &FileTypes{groups: groups}
}

// Patterns returns the patterns of a group.
func (f *FileTypes) Patterns(group string) []string {
	return f.groups[group]
}

// Matches reports whether a repository relative path matches any pattern of the group.
func (f *FileTypes) Matches(group, p string) bool {
	return MatchAny(f.groups[group], p)
}

// MatchAny reports whether p matches any of the patterns.
func MatchAny(patterns []string, p string) bool {
	return lo.SomeBy(patterns, func(pattern string) bool {
		return Match(pattern, p)
	})
}

// Match matches a slash separated path against an Ant style pattern.
// "**" matches zero or more directories, other segments use path.Match.
func Match(pattern, p string) bool {
	return matchSegments(split(pattern), split(p))
}

func split(s string) []string {
	s = strings.Trim(strings.ReplaceAll(s, "\\", "/"), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func matchSegments(pattern, parts []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], parts[0]); err != nil || !ok {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}
