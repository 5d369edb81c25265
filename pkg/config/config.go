// Package config loads the server configuration from a YAML file and
// ARCHIVA_* environment variables.
package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/consumers"
	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/types"
)

const envPrefix = "ARCHIVA_"

// sections are the top level keys whose environment variables keep the
// remaining underscores, e.g. ARCHIVA_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout.
var sections = []string{"server", "scanner", "proxy", "crawler"}

type Config struct {
	CacheDir string `koanf:"cache_dir"`
	LogLevel string `koanf:"log_level"`

	Server  ServerConfig  `koanf:"server"`
	Scanner ScannerConfig `koanf:"scanner"`
	Proxy   ProxyConfig   `koanf:"proxy"`
	Crawler CrawlerConfig `koanf:"crawler"`

	Repositories []types.ManagedRepository `koanf:"repositories"`
	Remotes      []types.RemoteRepository  `koanf:"remotes"`
	Connectors   []types.ProxyConnector    `koanf:"connectors"`
	Users        []security.User           `koanf:"users"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Watch queues changed files of managed repositories for scanning.
	Watch         bool          `koanf:"watch"`
	WatchDebounce time.Duration `koanf:"watch_debounce"`
}

type ScannerConfig struct {
	Limit            int                 `koanf:"limit"`
	KnownConsumers   []string            `koanf:"known_consumers"`
	InvalidConsumers []string            `koanf:"invalid_consumers"`
	FileTypes        map[string][]string `koanf:"file_types"`
}

type ProxyConfig struct {
	NegativeTTL time.Duration `koanf:"negative_ttl"`
	RetryMax    int           `koanf:"retry_max"`
	Timeout     time.Duration `koanf:"timeout"`
}

type CrawlerConfig struct {
	Limit     int64         `koanf:"limit"`
	Throttle  time.Duration `koanf:"throttle"`
	BatchSize int           `koanf:"batch_size"`
}

// Load reads path, when not empty, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Errorf("unable to read config file: %w", err)
		}
		if err = k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, xerrors.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, xerrors.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, xerrors.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps ARCHIVA_SERVER_PORT to server.port and ARCHIVA_CACHE_DIR to cache_dir.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(key, "_")
	if ok && slices.Contains(sections, section) {
		return section + "." + field
	}
	return key
}

func (c *Config) applyDefaults() error {
	if c.CacheDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return xerrors.Errorf("unable to get cache dir: %w", err)
		}
		c.CacheDir = filepath.Join(cacheDir, "archiva")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.WatchDebounce == 0 {
		c.Server.WatchDebounce = 2 * time.Second
	}

	if len(c.Scanner.KnownConsumers) == 0 {
		c.Scanner.KnownConsumers = consumers.DefaultKnown
	}
	if len(c.Scanner.InvalidConsumers) == 0 {
		c.Scanner.InvalidConsumers = consumers.DefaultInvalid
	}

	if c.Proxy.NegativeTTL == 0 {
		c.Proxy.NegativeTTL = 30 * time.Minute
	}

	if c.Crawler.Limit == 0 {
		c.Crawler.Limit = 10
	}
	if c.Crawler.Throttle == 0 {
		c.Crawler.Throttle = 100 * time.Millisecond
	}

	for i := range c.Repositories {
		if c.Repositories[i].Layout == "" {
			c.Repositories[i].Layout = types.DefaultLayout
		}
		if c.Repositories[i].Name == "" {
			c.Repositories[i].Name = c.Repositories[i].ID
		}
	}
	for i := range c.Remotes {
		if c.Remotes[i].Layout == "" {
			c.Remotes[i].Layout = types.DefaultLayout
		}
	}
	for i := range c.Connectors {
		conn := &c.Connectors[i]
		if conn.ReleasesPolicy == "" {
			conn.ReleasesPolicy = types.PolicyOnce
		}
		if conn.SnapshotsPolicy == "" {
			conn.SnapshotsPolicy = types.PolicyDaily
		}
		if conn.ChecksumPolicy == "" {
			conn.ChecksumPolicy = types.ChecksumFix
		}
	}
	return nil
}

// Validate checks identifiers, references between repositories and policy values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, xerrors.Errorf("invalid server port: %d", c.Server.Port))
	}

	ids := make(map[string]string)
	checkID := func(kind, id string) {
		switch {
		case id == "":
			errs = append(errs, xerrors.Errorf("%s without id", kind))
		case strings.ContainsAny(id, `/\ `):
			errs = append(errs, xerrors.Errorf("invalid %s id %q", kind, id))
		case ids[id] != "":
			errs = append(errs, xerrors.Errorf("%s id %q already used by a %s", kind, id, ids[id]))
		default:
			ids[id] = kind
		}
	}
	validLayout := func(l string) bool { return l == types.DefaultLayout || l == types.LegacyLayout }

	for _, r := range c.Repositories {
		checkID("repository", r.ID)
		if r.Location == "" {
			errs = append(errs, xerrors.Errorf("repository %s has no location", r.ID))
		}
		if !validLayout(r.Layout) {
			errs = append(errs, xerrors.Errorf("repository %s has unknown layout %q", r.ID, r.Layout))
		}
		if r.DaysOlder < 0 || r.RetentionCount < 0 {
			errs = append(errs, xerrors.Errorf("repository %s has a negative purge setting", r.ID))
		}
	}
	for _, r := range c.Remotes {
		checkID("remote", r.ID)
		if u, err := url.Parse(r.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, xerrors.Errorf("remote %s has invalid url %q", r.ID, r.URL))
		}
		if !validLayout(r.Layout) {
			errs = append(errs, xerrors.Errorf("remote %s has unknown layout %q", r.ID, r.Layout))
		}
	}
	for _, conn := range c.Connectors {
		if ids[conn.SourceRepoID] != "repository" {
			errs = append(errs, xerrors.Errorf("connector source %q is not a managed repository", conn.SourceRepoID))
		}
		if ids[conn.TargetRepoID] != "remote" {
			errs = append(errs, xerrors.Errorf("connector target %q is not a remote repository", conn.TargetRepoID))
		}
		for _, p := range []types.UpdatePolicy{conn.ReleasesPolicy, conn.SnapshotsPolicy} {
			if !slices.Contains(updatePolicies, p) {
				errs = append(errs, xerrors.Errorf("connector %s -> %s has unknown update policy %q", conn.SourceRepoID, conn.TargetRepoID, p))
			}
		}
		if !slices.Contains(checksumPolicies, conn.ChecksumPolicy) {
			errs = append(errs, xerrors.Errorf("connector %s -> %s has unknown checksum policy %q", conn.SourceRepoID, conn.TargetRepoID, conn.ChecksumPolicy))
		}
	}

	users := make(map[string]struct{})
	for _, u := range c.Users {
		if u.Username == "" || u.Username == security.RoleGuest {
			errs = append(errs, xerrors.Errorf("invalid username %q", u.Username))
		}
		if _, ok := users[u.Username]; ok {
			errs = append(errs, xerrors.Errorf("duplicate user %q", u.Username))
		}
		users[u.Username] = struct{}{}
	}
	return errors.Join(errs...)
}

var (
	updatePolicies = []types.UpdatePolicy{
		types.PolicyAlways, types.PolicyDaily, types.PolicyHourly, types.PolicyOnce, types.PolicyNever,
	}
	checksumPolicies = []types.ChecksumPolicy{types.ChecksumFail, types.ChecksumFix, types.ChecksumIgnore}
)

// Repository returns the managed repository with the given id.
func (c *Config) Repository(id string) (types.ManagedRepository, bool) {
	for _, r := range c.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return types.ManagedRepository{}, false
}

// Remote returns the remote repository with the given id.
func (c *Config) Remote(id string) (types.RemoteRepository, bool) {
	for _, r := range c.Remotes {
		if r.ID == id {
			return r, true
		}
	}
	return types.RemoteRepository{}, false
}

// GuestReadable lists the repositories guests may read.
func (c *Config) GuestReadable() []string {
	var ids []string
	for _, r := range c.Repositories {
		if r.GuestReadable {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
