// Package crawler walks the HTML directory listing of a remote Maven
// repository and adds the artifacts it finds to the artifact index.
package crawler

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/collector"
	"github.com/apache/archiva-sub036/pkg/downloader"
	"github.com/apache/archiva-sub036/pkg/hash"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/metadata"
	"github.com/apache/archiva-sub036/pkg/pom"
	"github.com/apache/archiva-sub036/pkg/types"
)

// Index is the artifact index the crawler reads known paths from and
// writes new rows to.
type Index interface {
	collector.Index
	SelectPaths(repoID string) ([]string, error)
}

type Option struct {
	Limit      int64
	Remote     types.RemoteRepository
	Downloader *downloader.Downloader
	Index      Index
	BatchSize  int
}

type Crawler struct {
	remote     types.RemoteRepository
	rootURL    string
	http       *downloader.Downloader
	index      Index
	batchSize  int
	limit      *semaphore.Weighted
	logger     *slog.Logger
	storedPath map[uint64]struct{} // read-only once the crawl starts

	visited atomic.Int64

	mu              sync.Mutex
	wrongSHA1Values []string
	wrongPomFiles   []string
}

func NewCrawler(opt Option) *Crawler {
	if opt.Limit <= 0 {
		opt.Limit = 10
	}
	if opt.Downloader == nil {
		opt.Downloader = downloader.New(downloader.Option{Throttle: defaultThrottle})
	}
	return &Crawler{
		remote:    opt.Remote,
		rootURL:   strings.TrimSuffix(opt.Remote.URL, "/") + "/",
		http:      opt.Downloader,
		index:     opt.Index,
		batchSize: opt.BatchSize,
		limit:     semaphore.NewWeighted(opt.Limit),
		logger:    slog.Default().With(slog.String("component", "crawler"), slog.String("remote", opt.Remote.ID)),
	}
}

// Crawl visits the whole remote repository. Paths already indexed for the
// remote are not fetched again.
func (c *Crawler) Crawl(ctx context.Context) (int, error) {
	c.logger.Info("Crawl remote repository", slog.String("url", c.rootURL))
	paths, err := c.index.SelectPaths(c.remote.ID)
	if err != nil {
		return 0, xerrors.Errorf("failed to list indexed paths: %w", err)
	}
	c.storedPath = make(map[uint64]struct{}, len(paths))
	for _, p := range paths {
		c.storedPath[hash.Of(p)] = struct{}{}
	}

	recordCh := make(chan types.Index, c.batchSize)
	col := collector.New(c.index, c.batchSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return col.Run(ctx, recordCh)
	})
	g.Go(func() error {
		defer close(recordCh)
		return c.crawl(ctx, recordCh)
	})
	if err = g.Wait(); err != nil {
		return col.Inserted(), xerrors.Errorf("crawl error: %w", err)
	}

	c.logger.Info("Crawl completed", slog.Int64("dirs", c.visited.Load()), slog.Int("indexed", col.Inserted()))
	for _, wrongSHA1 := range c.wrongSHA1Values {
		c.logger.Warn("Wrong SHA1 file", slog.String("error", wrongSHA1))
	}
	for _, wrongPomFile := range c.wrongPomFiles {
		c.logger.Warn("Wrong pom file", slog.String("error", wrongPomFile))
	}
	return col.Inserted(), nil
}

func (c *Crawler) crawl(ctx context.Context, recordCh chan<- types.Index) error {
	g, ctx := errgroup.WithContext(ctx)
	var visit func(url string)
	visit = func(url string) {
		g.Go(func() error {
			if err := c.limit.Acquire(ctx, 1); err != nil {
				return xerrors.Errorf("semaphore acquire error: %w", err)
			}
			children, err := c.Visit(ctx, url, recordCh)
			c.limit.Release(1)
			if err != nil {
				return err
			}
			for _, child := range children {
				visit(child)
			}
			return nil
		})
	}
	visit(c.rootURL)
	return g.Wait()
}

// Visit reads one directory listing. Project directories, recognised by
// their maven-metadata.xml, are indexed; the subdirectories of any other
// directory are returned for crawling.
func (c *Crawler) Visit(ctx context.Context, url string, recordCh chan<- types.Index) ([]string, error) {
	if n := c.visited.Add(1); n%1000 == 0 {
		c.logger.Info("Visited directories", slog.Int64("count", n))
	}
	links, ok, err := c.list(ctx, url)
	if err != nil || !ok {
		return nil, err
	}

	var children []string
	var foundMetadata bool
	for _, link := range links {
		if link == layout.MetadataFileName {
			foundMetadata = true
		} else if link != "../" && strings.HasSuffix(link, "/") {
			// only `../` and dirs have `/` suffix
			children = append(children, link)
		}
	}

	if foundMetadata {
		meta, err := c.parseMetadata(ctx, url+layout.MetadataFileName)
		if err != nil {
			return nil, xerrors.Errorf("metadata parse error: %w", err)
		}
		if meta != nil {
			return nil, c.crawlVersions(ctx, url, meta, children, recordCh)
		}
	}

	urls := make([]string, 0, len(children))
	for _, child := range children {
		urls = append(urls, url+child)
	}
	return urls, nil
}

// crawlVersions indexes the artifacts of every version directory of a project.
func (c *Crawler) crawlVersions(ctx context.Context, baseURL string, meta *metadata.Metadata, dirs []string, recordCh chan<- types.Index) error {
	for _, dir := range dirs {
		versionURL := baseURL + dir
		links, ok, err := c.list(ctx, versionURL)
		if err != nil {
			return xerrors.Errorf("unable to list %q: %w", versionURL, err)
		} else if !ok {
			continue
		}

		var rows []types.Index
		var pomURL string
		for _, link := range links {
			if strings.HasSuffix(link, ".pom") {
				pomURL = versionURL + link
			}
			artifact, ok := strings.CutSuffix(link, checksum.SHA1.Ext)
			if !ok || skipArtifact(artifact) {
				continue
			}
			rel := strings.TrimPrefix(versionURL+artifact, c.rootURL)
			if _, stored := c.storedPath[hash.Of(rel)]; stored {
				continue
			}
			ref, err := layout.Default{}.ToArtifactReference(rel)
			if err != nil || ref.GroupID != meta.GroupID || ref.ArtifactID != meta.ArtifactID {
				continue
			}

			sha1, err := c.fetchSHA1(ctx, versionURL+link)
			if err != nil {
				return xerrors.Errorf("unable to fetch sha1: %w", err)
			} else if sha1 == nil {
				continue
			}
			rows = append(rows, types.Index{
				RepositoryID: c.remote.ID,
				GroupID:      ref.GroupID,
				ArtifactID:   ref.ArtifactID,
				Version:      ref.Version,
				Classifier:   ref.Classifier,
				Type:         ref.Type,
				Path:         rel,
				SHA1:         sha1,
			})
		}
		if len(rows) == 0 {
			continue
		}

		if pomURL != "" {
			p, err := c.pom(ctx, pomURL)
			if err != nil {
				c.mu.Lock()
				c.wrongPomFiles = append(c.wrongPomFiles, pomURL+" ("+err.Error()+")")
				c.mu.Unlock()
			}
			for i := range rows {
				if p != nil {
					rows[i].Name = p.Name
					rows[i].Packaging = p.Packaging
					rows[i].Licenses = p.LicenseNames()
				}
			}
		}

		for _, row := range rows {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case recordCh <- row:
			}
		}
	}
	return nil
}

// list returns the links of a directory listing; ok is false when the
// directory doesn't exist.
func (c *Crawler) list(ctx context.Context, url string) ([]string, bool, error) {
	resp, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, false, xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	// listings can point to directories that are gone
	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}

	d, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, false, xerrors.Errorf("can't create new goquery doc: %w", err)
	}
	var links []string
	d.Find("a").Each(func(_ int, selection *goquery.Selection) {
		links = append(links, linkFromSelection(selection))
	})
	return links, true, nil
}

// parseMetadata returns the project level metadata at url, or nil for group
// or version level metadata.
func (c *Crawler) parseMetadata(ctx context.Context, url string) (*metadata.Metadata, error) {
	resp, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	meta, err := metadata.Decode(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("%s decode error: %w", url, err)
	}
	// group level metadata lists plugins, version level metadata has no versions
	if meta.ArtifactID == "" || meta.GroupID == "" || len(meta.AllVersions()) == 0 {
		return nil, nil
	}
	return meta, nil
}

func (c *Crawler) fetchSHA1(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()

	// listed checksum files are sometimes missing
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("can't read sha1 %s: %w", url, err)
	}
	digest := checksum.Parse(data, checksum.SHA1)
	if digest == checksum.NotAvailable {
		if len(data) > 0 {
			c.mu.Lock()
			c.wrongSHA1Values = append(c.wrongSHA1Values, url)
			c.mu.Unlock()
		}
		return nil, nil
	}
	return hex.DecodeString(digest)
}

func (c *Crawler) pom(ctx context.Context, url string) (*pom.Project, error) {
	resp, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("http get error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return pom.Parse(resp.Body)
}

func (c *Crawler) httpGet(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.http.Get(ctx, url, &downloader.Credentials{Username: c.remote.Username, Password: c.remote.Password})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, xerrors.Errorf("http error (%s): %w", url, err)
	}
	return resp, nil
}
