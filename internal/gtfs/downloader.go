package gtfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Downloader fetches the GTFS zip with conditional requests. A source
// without an http(s) scheme is read from the local filesystem.
type Downloader struct {
	client *http.Client
	source string
	dir    string // Directory to store downloaded files
	logger *slog.Logger
}

// NewDownloader creates a Downloader for a feed URL or zip path.
func NewDownloader(source, dir string, logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: 10 * time.Minute},
		source: source,
		dir:    dir,
		logger: logger,
	}
}

// Source is the feed URL or path.
func (d *Downloader) Source() string {
	return d.source
}

func (d *Downloader) isRemote() bool {
	return strings.HasPrefix(d.source, "http://") || strings.HasPrefix(d.source, "https://")
}

func (d *Downloader) localPath() string {
	return strings.TrimPrefix(d.source, "file://")
}

// CheckResult holds the result of a conditional check.
type CheckResult struct {
	NeedsUpdate  bool
	LastModified string
	ETag         string
}

// Check asks whether the feed changed since the version described by
// lastModified and etag.
func (d *Downloader) Check(ctx context.Context, lastModified, etag string) (*CheckResult, error) {
	if !d.isRemote() {
		fi, err := os.Stat(d.localPath())
		if err != nil {
			return nil, fmt.Errorf("stat feed: %w", err)
		}
		mod := fi.ModTime().UTC().Format(http.TimeFormat)
		if mod == lastModified {
			d.logger.Info("GTFS feed not modified")
			return &CheckResult{NeedsUpdate: false}, nil
		}
		return &CheckResult{NeedsUpdate: true, LastModified: mod}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HEAD request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		d.logger.Info("GTFS feed not modified")
		return &CheckResult{NeedsUpdate: false}, nil
	}
	// Servers that ignore conditional headers still echo the validators.
	newMod, newTag := resp.Header.Get("Last-Modified"), resp.Header.Get("ETag")
	if (etag != "" && newTag == etag) || (etag == "" && lastModified != "" && newMod == lastModified) {
		d.logger.Info("GTFS feed unchanged")
		return &CheckResult{NeedsUpdate: false}, nil
	}

	return &CheckResult{
		NeedsUpdate:  true,
		LastModified: newMod,
		ETag:         newTag,
	}, nil
}

// Download copies the feed to a temp file in the download directory and
// returns its path and version. The caller removes the file.
func (d *Downloader) Download(ctx context.Context) (string, FeedVersion, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", FeedVersion{}, fmt.Errorf("create dir: %w", err)
	}

	var body io.Reader
	version := FeedVersion{Source: d.source}
	if d.isRemote() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.source, nil)
		if err != nil {
			return "", FeedVersion{}, fmt.Errorf("create request: %w", err)
		}

		d.logger.Info("downloading GTFS feed", "url", d.source)
		resp, err := d.client.Do(req)
		if err != nil {
			return "", FeedVersion{}, fmt.Errorf("GET request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", FeedVersion{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		body = resp.Body
		version.LastModified = resp.Header.Get("Last-Modified")
		version.ETag = resp.Header.Get("ETag")
	} else {
		f, err := os.Open(d.localPath())
		if err != nil {
			return "", FeedVersion{}, fmt.Errorf("open feed: %w", err)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return "", FeedVersion{}, fmt.Errorf("stat feed: %w", err)
		}
		body = f
		version.LastModified = fi.ModTime().UTC().Format(http.TimeFormat)
	}

	tmpFile, err := os.CreateTemp(d.dir, "gtfs-*.zip")
	if err != nil {
		return "", FeedVersion{}, fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, body)
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", FeedVersion{}, fmt.Errorf("write file: %w", err)
	}

	path := tmpFile.Name()
	d.logger.Info("GTFS feed downloaded",
		"path", filepath.Base(path),
		"size_mb", fmt.Sprintf("%.1f", float64(written)/(1024*1024)),
	)
	return path, version, nil
}
