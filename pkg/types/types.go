package types

import (
	"path/filepath"
	"time"
)

const (
	// types of files
	JarType = "jar"
	PomType = "pom"
	WarType = "war"
	EarType = "ear"
	AarType = "aar"

	DefaultLayout = "default"
	LegacyLayout  = "legacy"
)

// ArtifactReference identifies a single file of a Maven artifact.
type ArtifactReference struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
	Classifier string `json:"classifier,omitempty"`
	Type       string `json:"type"`
}

func (a ArtifactReference) Versioned() VersionedReference {
	return VersionedReference{GroupID: a.GroupID, ArtifactID: a.ArtifactID, Version: a.Version}
}

func (a ArtifactReference) Project() ProjectReference {
	return ProjectReference{GroupID: a.GroupID, ArtifactID: a.ArtifactID}
}

func (a ArtifactReference) String() string {
	s := a.GroupID + ":" + a.ArtifactID + ":" + a.Version
	if a.Classifier != "" {
		s += ":" + a.Classifier
	}
	return s + ":" + a.Type
}

type VersionedReference struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
}

func (v VersionedReference) Project() ProjectReference {
	return ProjectReference{GroupID: v.GroupID, ArtifactID: v.ArtifactID}
}

type ProjectReference struct {
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
}

// ManagedRepository is a repository hosted on the local filesystem.
type ManagedRepository struct {
	ID       string `koanf:"id" json:"id"`
	Name     string `koanf:"name" json:"name"`
	Location string `koanf:"location" json:"location"`
	Layout   string `koanf:"layout" json:"layout"`

	Releases  bool `koanf:"releases" json:"releases"`
	Snapshots bool `koanf:"snapshots" json:"snapshots"`

	// Purge policy for snapshots
	DaysOlder               int  `koanf:"days_older" json:"daysOlder"`
	RetentionCount          int  `koanf:"retention_count" json:"retentionCount"`
	DeleteReleasedSnapshots bool `koanf:"delete_released_snapshots" json:"deleteReleasedSnapshots"`

	Scanned     bool   `koanf:"scanned" json:"scanned"`
	RefreshCron string `koanf:"refresh_cron" json:"refreshCron,omitempty"`
	// Guest users may read this repository.
	GuestReadable bool `koanf:"guest_readable" json:"guestReadable"`
}

// Abs returns the absolute filesystem path for a repository relative path.
func (r ManagedRepository) Abs(path string) string {
	return filepath.Join(r.Location, filepath.FromSlash(path))
}

func (r ManagedRepository) IsLegacy() bool {
	return r.Layout == LegacyLayout
}

// RemoteRepository is an upstream repository reached over HTTP.
type RemoteRepository struct {
	ID       string        `koanf:"id" json:"id"`
	Name     string        `koanf:"name" json:"name"`
	URL      string        `koanf:"url" json:"url"`
	Layout   string        `koanf:"layout" json:"layout"`
	Username string        `koanf:"username" json:"-"`
	Password string        `koanf:"password" json:"-"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout"`
}

type UpdatePolicy string

const (
	PolicyAlways UpdatePolicy = "always"
	PolicyDaily  UpdatePolicy = "daily"
	PolicyHourly UpdatePolicy = "hourly"
	PolicyOnce   UpdatePolicy = "once"
	PolicyNever  UpdatePolicy = "never"
)

type ChecksumPolicy string

const (
	ChecksumFail   ChecksumPolicy = "fail"
	ChecksumFix    ChecksumPolicy = "fix"
	ChecksumIgnore ChecksumPolicy = "ignore"
)

// ProxyConnector links a managed repository to a remote one.
type ProxyConnector struct {
	SourceRepoID    string         `koanf:"source" json:"source"`
	TargetRepoID    string         `koanf:"target" json:"target"`
	ReleasesPolicy  UpdatePolicy   `koanf:"releases" json:"releases"`
	SnapshotsPolicy UpdatePolicy   `koanf:"snapshots" json:"snapshots"`
	ChecksumPolicy  ChecksumPolicy `koanf:"checksum" json:"checksum"`
	CacheFailures   bool           `koanf:"cache_failures" json:"cacheFailures"`
}

// Index is a row of the artifact index.
type Index struct {
	RepositoryID string
	GroupID      string
	ArtifactID   string
	Version      string
	Classifier   string
	Type         string
	Path         string
	SHA1         []byte
	MD5          []byte
	Size         int64
	LastModified time.Time
	Packaging    string
	Name         string
	Licenses     []string
	Classes      []string
}

// ScanStatistics summarises one run of the repository scanner.
type ScanStatistics struct {
	RepositoryID     string
	Started          time.Time
	Finished         time.Time
	TotalFileCount   int64
	NewFileCount     int64
	InvalidFileCount int64
	ErrorCount       int64
	TotalSize        int64
	Consumers        map[string]int64
}

func (s ScanStatistics) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}
