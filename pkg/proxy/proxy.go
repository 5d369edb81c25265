// Package proxy fetches artifacts missing from a managed repository from the
// remote repositories connected to it.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/downloader"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/metrics"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/versions"
)

const defaultNegativeTTL = 30 * time.Minute

var (
	ErrNotFound = xerrors.New("artifact not found")
	ErrChecksum = xerrors.New("remote checksum does not match")
)

// MetadataUpdater merges proxied metadata into the local maven-metadata.xml.
type MetadataUpdater interface {
	UpdateProject(repo types.ManagedRepository, ref types.ProjectReference) (bool, error)
	UpdateVersion(repo types.ManagedRepository, ref types.VersionedReference) (bool, error)
}

type Option struct {
	Connectors  []types.ProxyConnector
	Remotes     []types.RemoteRepository
	Downloader  *downloader.Downloader
	Metadata    MetadataUpdater
	Clock       clock.PassiveClock
	NegativeTTL time.Duration // how long a failed fetch is remembered
}

type Proxy struct {
	connectors  map[string][]types.ProxyConnector // by managed repository
	remotes     map[string]types.RemoteRepository
	downloader  *downloader.Downloader
	metadata    MetadataUpdater
	clock       clock.PassiveClock
	negativeTTL time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	failures map[string]time.Time // remote id + path -> expiry
	locks    fileutil.PathLocks
}

func New(opt Option) *Proxy {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	if opt.NegativeTTL == 0 {
		opt.NegativeTTL = defaultNegativeTTL
	}
	if opt.Downloader == nil {
		opt.Downloader = downloader.New(downloader.Option{})
	}
	p := &Proxy{
		connectors:  make(map[string][]types.ProxyConnector),
		remotes:     make(map[string]types.RemoteRepository),
		downloader:  opt.Downloader,
		metadata:    opt.Metadata,
		clock:       opt.Clock,
		negativeTTL: opt.NegativeTTL,
		metrics:     metrics.Get(),
		logger:      slog.Default().With(slog.String("component", "proxy")),
		failures:    make(map[string]time.Time),
	}
	for _, r := range opt.Remotes {
		p.remotes[r.ID] = r
	}
	for _, c := range opt.Connectors {
		p.connectors[c.SourceRepoID] = append(p.connectors[c.SourceRepoID], c)
	}
	return p
}

// HasConnectors reports whether the managed repository proxies any remote.
func (p *Proxy) HasConnectors(repoID string) bool {
	return len(p.connectors[repoID]) > 0
}

// Fetch makes rel available in the managed repository and returns its
// absolute path. Local files are served unless a connector's update policy
// asks for a refresh. ErrNotFound is returned when neither the repository
// nor any remote has the file.
func (p *Proxy) Fetch(ctx context.Context, repo types.ManagedRepository, rel string) (string, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	local := repo.Abs(rel)

	unlock := p.locks.Lock(repo.ID + "/" + rel)
	defer unlock()

	switch {
	case layout.IsMetadataSupportFile(rel):
		base, _ := layout.StripSupportExtension(rel)
		if _, err := p.fetchMetadata(ctx, repo, base); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	case layout.IsMetadata(rel):
		return p.fetchMetadata(ctx, repo, rel)
	case layout.IsSupportFile(rel):
		base, _ := layout.StripSupportExtension(rel)
		if _, err := p.fetchArtifact(ctx, repo, base); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	default:
		return p.fetchArtifact(ctx, repo, rel)
	}
	if _, err := os.Stat(local); err != nil {
		return "", xerrors.Errorf("%s: %w", rel, ErrNotFound)
	}
	return local, nil
}

func (p *Proxy) fetchArtifact(ctx context.Context, repo types.ManagedRepository, rel string) (string, error) {
	local := repo.Abs(rel)
	info, statErr := os.Stat(local)
	exists := statErr == nil

	ref, err := layout.For(repo.Layout).ToArtifactReference(rel)
	if err != nil {
		if exists {
			return local, nil
		}
		return "", xerrors.Errorf("%s: %w", rel, ErrNotFound)
	}
	snapshot := versions.IsSnapshot(ref.Version)

	var lastErr error
	for _, conn := range p.connectors[repo.ID] {
		policy := conn.ReleasesPolicy
		if snapshot {
			policy = conn.SnapshotsPolicy
		}
		if !p.shouldUpdate(policy, info, exists) {
			continue
		}
		remote, ok := p.remotes[conn.TargetRepoID]
		if !ok {
			p.logger.Warn("Connector to unknown remote repository", slog.String("remote", conn.TargetRepoID))
			continue
		}
		err = p.transfer(ctx, conn, remote, repo, rel)
		switch {
		case err == nil:
			return local, nil
		case ctx.Err() != nil:
			return "", ctx.Err()
		case !isNotFound(err):
			p.logger.Warn("Transfer failed", slog.String("remote", remote.ID), slog.String("path", rel), slog.Any("error", err))
			lastErr = err
		}
	}
	if exists {
		return local, nil
	}
	if lastErr != nil {
		return "", xerrors.Errorf("%s: %w", rel, errors.Join(ErrNotFound, lastErr))
	}
	return "", xerrors.Errorf("%s: %w", rel, ErrNotFound)
}

// transfer downloads rel and its checksums from one remote and moves them
// into the managed repository once the checksum policy is satisfied.
func (p *Proxy) transfer(ctx context.Context, conn types.ProxyConnector, remote types.RemoteRepository, repo types.ManagedRepository, rel string) error {
	key := remote.ID + "|" + rel
	if p.failedRecently(key) {
		return xerrors.Errorf("%s from %s cached as missing: %w", rel, remote.ID, ErrNotFound)
	}

	remotePath, err := layout.ToNativePath(rel, layout.For(remote.Layout))
	if err != nil {
		return xerrors.Errorf("%s: %w", err.Error(), ErrNotFound)
	}
	if remote.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, remote.Timeout)
		defer cancel()
	}

	local := repo.Abs(rel)
	dir := filepath.Dir(local)
	creds := &downloader.Credentials{Username: remote.Username, Password: remote.Password}

	tmp, _, err := p.downloader.Download(ctx, remoteURL(remote, remotePath), dir, creds)
	if err != nil {
		p.recordFailure(conn, key, err)
		return err
	}
	defer os.Remove(tmp)

	sums := make(map[string]string) // ext -> temp file
	defer func() {
		for _, f := range sums {
			os.Remove(f)
		}
	}()
	for _, alg := range checksum.All {
		f, _, err := p.downloader.Download(ctx, remoteURL(remote, remotePath+alg.Ext), dir, creds)
		if err == nil {
			sums[alg.Ext] = f
		} else if !errors.Is(err, downloader.ErrNotFound) {
			p.logger.Debug("Unable to download checksum", slog.String("path", remotePath+alg.Ext), slog.Any("error", err))
		}
	}

	if err = p.applyChecksumPolicy(conn.ChecksumPolicy, tmp, sums); err != nil {
		p.metrics.RecordProxyFetch(remote.ID, "checksum_failure")
		return xerrors.Errorf("%s from %s: %w", rel, remote.ID, err)
	}

	if err = fileutil.MoveFile(tmp, local); err != nil {
		return err
	}
	for ext, f := range sums {
		if err = fileutil.MoveFile(f, local+ext); err != nil {
			return err
		}
	}
	if conn.ChecksumPolicy == types.ChecksumFix {
		if _, err = checksum.Fix(local, checksum.All...); err != nil {
			return err
		}
	}
	p.metrics.RecordProxyFetch(remote.ID, "success")
	p.logger.Info("Fetched from remote repository", slog.String("remote", remote.ID), slog.String("path", rel))
	return nil
}

// applyChecksumPolicy validates the downloaded file against the downloaded
// checksums. Bad checksum files are dropped when the policy fixes them.
func (p *Proxy) applyChecksumPolicy(policy types.ChecksumPolicy, file string, sums map[string]string) error {
	if policy == types.ChecksumIgnore {
		return nil
	}
	computed, err := checksum.Compute(file, checksum.All...)
	if err != nil {
		return err
	}
	var valid int
	for ext, f := range sums {
		alg, _ := checksum.ByExt(ext)
		data, err := os.ReadFile(f)
		if err != nil {
			return xerrors.Errorf("unable to read checksum: %w", err)
		}
		if strings.EqualFold(checksum.Parse(data, alg), computed[ext]) {
			valid++
			continue
		}
		if policy == types.ChecksumFail {
			return xerrors.Errorf("%s: %w", ext, ErrChecksum)
		}
		os.Remove(f)
		delete(sums, ext)
	}
	if policy == types.ChecksumFail && valid == 0 {
		return xerrors.Errorf("no checksum available: %w", ErrChecksum)
	}
	return nil
}

// fetchMetadata downloads the metadata of every remote next to the local
// metadata as maven-metadata-<remote>.xml and merges them.
func (p *Proxy) fetchMetadata(ctx context.Context, repo types.ManagedRepository, rel string) (string, error) {
	local := repo.Abs(rel)
	if repo.IsLegacy() {
		if _, err := os.Stat(local); err != nil {
			return "", xerrors.Errorf("%s: %w", rel, ErrNotFound)
		}
		return local, nil
	}
	dir := path.Dir(rel)

	var fetched bool
	for _, conn := range p.connectors[repo.ID] {
		remote, ok := p.remotes[conn.TargetRepoID]
		if !ok {
			continue
		}
		proxied := path.Join(dir, "maven-metadata-"+remote.ID+".xml")
		info, err := os.Stat(repo.Abs(proxied))
		policy := conn.ReleasesPolicy
		if versions.IsSnapshot(path.Base(dir)) {
			policy = conn.SnapshotsPolicy
		}
		if !p.shouldUpdate(policy, info, err == nil) {
			continue
		}
		if err = p.transferMetadata(ctx, conn, remote, repo, path.Join(dir, layout.MetadataFileName), proxied); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !isNotFound(err) {
				p.logger.Warn("Metadata transfer failed", slog.String("remote", remote.ID), slog.String("path", rel), slog.Any("error", err))
			}
			continue
		}
		fetched = true
	}

	if fetched && p.metadata != nil {
		if err := p.mergeMetadata(repo, dir); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(local); err != nil {
		return "", xerrors.Errorf("%s: %w", rel, ErrNotFound)
	}
	return local, nil
}

func (p *Proxy) transferMetadata(ctx context.Context, conn types.ProxyConnector, remote types.RemoteRepository, repo types.ManagedRepository, remotePath, proxied string) error {
	key := remote.ID + "|" + remotePath
	if p.failedRecently(key) {
		return ErrNotFound
	}
	creds := &downloader.Credentials{Username: remote.Username, Password: remote.Password}
	tmp, _, err := p.downloader.Download(ctx, remoteURL(remote, remotePath), filepath.Dir(repo.Abs(proxied)), creds)
	if err != nil {
		p.recordFailure(conn, key, err)
		return err
	}
	defer os.Remove(tmp)
	if err = fileutil.MoveFile(tmp, repo.Abs(proxied)); err != nil {
		return err
	}
	p.metrics.RecordProxyFetch(remote.ID, "success")
	return nil
}

// mergeMetadata regenerates maven-metadata.xml of a project or snapshot
// version directory from the local content and the proxied copies.
func (p *Proxy) mergeMetadata(repo types.ManagedRepository, dir string) error {
	parts := strings.Split(dir, "/")
	if last := parts[len(parts)-1]; versions.IsSnapshot(last) && len(parts) >= 3 {
		ref := types.VersionedReference{
			GroupID:    strings.Join(parts[:len(parts)-2], "."),
			ArtifactID: parts[len(parts)-2],
			Version:    last,
		}
		_, err := p.metadata.UpdateVersion(repo, ref)
		return err
	}
	if len(parts) < 2 {
		return nil
	}
	ref := types.ProjectReference{
		GroupID:    strings.Join(parts[:len(parts)-1], "."),
		ArtifactID: parts[len(parts)-1],
	}
	_, err := p.metadata.UpdateProject(repo, ref)
	return err
}

// shouldUpdate applies an update policy to the local copy of a file.
func (p *Proxy) shouldUpdate(policy types.UpdatePolicy, local os.FileInfo, exists bool) bool {
	switch policy {
	case types.PolicyNever:
		return false
	case types.PolicyAlways:
		return true
	case "", types.PolicyOnce:
		return !exists
	}
	if !exists {
		return true
	}
	age := p.clock.Since(local.ModTime())
	switch policy {
	case types.PolicyHourly:
		return age > time.Hour
	case types.PolicyDaily:
		return age > 24*time.Hour
	}
	return false
}

func (p *Proxy) failedRecently(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiry, ok := p.failures[key]
	if !ok {
		return false
	}
	if p.clock.Now().After(expiry) {
		delete(p.failures, key)
		return false
	}
	return true
}

func (p *Proxy) recordFailure(conn types.ProxyConnector, key string, err error) {
	result := "error"
	if errors.Is(err, downloader.ErrNotFound) {
		result = "not_found"
	}
	p.metrics.RecordProxyFetch(conn.TargetRepoID, result)
	if !conn.CacheFailures {
		return
	}
	p.mu.Lock()
	p.failures[key] = p.clock.Now().Add(p.negativeTTL)
	p.mu.Unlock()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, downloader.ErrNotFound)
}

func remoteURL(remote types.RemoteRepository, p string) string {
	u, err := url.JoinPath(remote.URL, p)
	if err != nil {
		return strings.TrimSuffix(remote.URL, "/") + "/" + p
	}
	return u
}
