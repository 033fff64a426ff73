// Package rulesdl fetches and caches rule archives. The cache is keyed by
// the base64 of the rules URL and holds the decoded rules body plus the
// Last-Modified / ETag validators for conditional refetches. Every failure
// path leaves the cache untouched.
package rulesdl

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/groblegark/pulse/datastore"
)

// rulesFileName is the document located inside the downloaded archive.
const rulesFileName = "rules.json"

// cacheCollection is the datastore collection holding cache entries.
const cacheCollection = "rules.cache"

var (
	// ErrUnzip is returned when the archive cannot be decoded or holds no
	// rules document.
	ErrUnzip = errors.New("rulesdl: unusable rules archive")

	// ErrNotFound is returned on an HTTP response other than 200/304, and
	// on a 304 when there is no cache entry to serve.
	ErrNotFound = errors.New("rulesdl: rules fetch failed")
)

// cacheEntry is the persisted shape of one cache slot.
type cacheEntry struct {
	Body         []byte
	LastModified string
	ETag         string
}

// Downloader fetches rules over HTTP or from S3 (s3:// URLs) with
// conditional-GET semantics.
type Downloader struct {
	store  *datastore.Store
	client *http.Client
	log    *slog.Logger

	s3 *s3Source
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithS3 enables s3:// URLs, resolving objects in the given region. A
// non-empty endpoint switches to path-style addressing (MinIO and
// similar).
func WithS3(region, endpoint string) Option {
	return func(d *Downloader) { d.s3 = &s3Source{region: region, endpoint: endpoint} }
}

// New creates a downloader caching into store. A nil logger falls back to
// slog.Default().
func New(store *datastore.Store, logger *slog.Logger, opts ...Option) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Downloader{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load fetches the rules document for url, consulting the cache first. On
// a 304 (or unchanged S3 object) the cached body is returned without
// refetching the archive.
func (d *Downloader) Load(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "s3://") {
		return d.loadS3(ctx, url)
	}
	return d.loadHTTP(ctx, url)
}

// Cached returns the cached rules body for url, if any.
func (d *Downloader) Cached(url string) ([]byte, bool) {
	entry := d.readCache(url)
	if entry == nil || len(entry.Body) == 0 {
		return nil, false
	}
	return entry.Body, true
}

func (d *Downloader) loadHTTP(ctx context.Context, url string) ([]byte, error) {
	entry := d.readCache(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rules request: %w", err)
	}
	if entry != nil {
		if entry.LastModified != "" {
			req.Header.Set("If-Modified-Since", entry.LastModified)
		}
		if entry.ETag != "" {
			req.Header.Set("If-None-Match", entry.ETag)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if entry == nil {
			return nil, fmt.Errorf("%w: 304 with no cache entry", ErrNotFound)
		}
		d.log.Debug("rules not modified, using cache", "url", url)
		return entry.Body, nil

	case http.StatusOK:
		archive, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read rules archive: %w", err)
		}
		body, err := extractRules(archive)
		if err != nil {
			return nil, err
		}
		d.writeCache(url, cacheEntry{
			Body:         body,
			LastModified: resp.Header.Get("Last-Modified"),
			ETag:         resp.Header.Get("ETag"),
		})
		return body, nil

	default:
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	}
}

// extractRules unzips the archive into a scratch directory and returns the
// contents of the rules document found inside.
func extractRules(archive []byte) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnzip, err)
	}

	scratch, err := os.MkdirTemp("", "pulse-rules-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var rulesPath string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Flatten: archives nest rules.json under arbitrary directories.
		dest := filepath.Join(scratch, filepath.Base(f.Name))
		if err := extractFile(f, dest); err != nil {
			return nil, err
		}
		if filepath.Base(f.Name) == rulesFileName {
			rulesPath = dest
		}
	}
	if rulesPath == "" {
		return nil, fmt.Errorf("%w: no %s in archive", ErrUnzip, rulesFileName)
	}

	body, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read extracted rules: %w", err)
	}
	return body, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnzip, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrUnzip, err)
	}
	return nil
}

func cacheKey(url string) string {
	return base64.URLEncoding.EncodeToString([]byte(url))
}

func (d *Downloader) readCache(url string) *cacheEntry {
	c := d.store.Collection(cacheCollection)
	v, ok := c.Get(cacheKey(url))
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	bodyB64, _ := m["body"].(string)
	body, err := base64.StdEncoding.DecodeString(bodyB64)
	if err != nil {
		return nil
	}
	lastModified, _ := m["lastModified"].(string)
	etag, _ := m["etag"].(string)
	return &cacheEntry{Body: body, LastModified: lastModified, ETag: etag}
}

func (d *Downloader) writeCache(url string, entry cacheEntry) {
	c := d.store.Collection(cacheCollection)
	err := c.Set(cacheKey(url), map[string]any{
		"body":         base64.StdEncoding.EncodeToString(entry.Body),
		"lastModified": entry.LastModified,
		"etag":         entry.ETag,
	})
	if err != nil {
		d.log.Error("writing rules cache failed", "url", url, "error", err)
	}
}
