// Package downloader is the HTTP client shared by the proxy and the crawler.
package downloader

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/xerrors"
)

var ErrNotFound = xerrors.New("remote file not found")

type Option struct {
	RetryMax     int // negative disables retries
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Throttle is the upper bound of a random pause before every request,
	// used to avoid 429 responses when crawling.
	Throttle time.Duration
	Timeout  time.Duration
}

// Credentials for HTTP basic authentication.
type Credentials struct {
	Username string
	Password string
}

type Downloader struct {
	http     *retryablehttp.Client
	throttle time.Duration
	logger   *slog.Logger
}

func New(opt Option) *Downloader {
	if opt.RetryMax == 0 {
		opt.RetryMax = 3
	}
	if opt.RetryWaitMin == 0 {
		opt.RetryWaitMin = 1 * time.Second
	}
	if opt.RetryWaitMax == 0 {
		opt.RetryWaitMax = 30 * time.Second
	}
	logger := slog.Default().With(slog.String("component", "downloader"))

	client := retryablehttp.NewClient()
	client.RetryMax = max(opt.RetryMax, 0)
	client.Logger = logger
	client.RetryWaitMin = opt.RetryWaitMin
	client.RetryWaitMax = opt.RetryWaitMax
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = opt.Timeout
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		// missing files are expected when probing remote repositories
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			logger.Warn("Unexpected http response", slog.String("url", resp.Request.URL.String()), slog.String("status", resp.Status))
		}
	}
	client.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		l := logger
		if resp != nil {
			l = l.With(slog.String("url", resp.Request.URL.String()), slog.Int("status_code", resp.StatusCode),
				slog.Int("num_tries", numTries))
		}
		if err != nil {
			l = l.With(slog.String("error", err.Error()))
		}
		l.Error("HTTP request failed after retries")
		if err == nil {
			return resp, nil
		}
		return resp, xerrors.Errorf("HTTP request failed after retries: %w", err)
	}

	return &Downloader{
		http:     client,
		throttle: opt.Throttle,
		logger:   logger,
	}
}

// Get issues a GET request. The caller closes the body; non 200 responses
// are returned as is.
func (d *Downloader) Get(ctx context.Context, url string, creds *Credentials) (*http.Response, error) {
	d.sleep()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("unable to create a HTTP request: %w", err)
	}
	if creds != nil && creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("http error (%s): %w", url, err)
	}
	return resp, nil
}

// Download stores the body of url in a new temporary file under dir and
// returns its path together with the Last-Modified time announced by the
// server. A 404 response yields ErrNotFound.
func (d *Downloader) Download(ctx context.Context, url, dir string, creds *Credentials) (string, time.Time, error) {
	resp, err := d.Get(ctx, url, creds)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", time.Time{}, xerrors.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", time.Time{}, xerrors.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", time.Time{}, xerrors.Errorf("unable to create a directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+path.Base(resp.Request.URL.Path)+".*.download")
	if err != nil {
		return "", time.Time{}, xerrors.Errorf("unable to create a temp file: %w", err)
	}
	if _, err = io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", time.Time{}, xerrors.Errorf("can't copy %s: %w", url, err)
	}
	if err = f.Close(); err != nil {
		os.Remove(f.Name())
		return "", time.Time{}, xerrors.Errorf("unable to close temp file: %w", err)
	}
	if err = os.Chmod(f.Name(), 0644); err != nil {
		os.Remove(f.Name())
		return "", time.Time{}, xerrors.Errorf("unable to chmod temp file: %w", err)
	}

	var modified time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		modified, _ = http.ParseTime(lm)
	}
	d.logger.Debug("Downloaded", slog.String("url", url), slog.String("path", f.Name()))
	return f.Name(), modified, nil
}

func (d *Downloader) sleep() {
	if d.throttle <= 0 {
		return
	}
	r := rand.New(rand.NewSource(int64(time.Now().Nanosecond())))
	time.Sleep(time.Duration(r.Float64() * float64(d.throttle)))
}
