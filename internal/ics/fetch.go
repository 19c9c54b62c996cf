package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// ErrNoCachedBody is returned for a 304 response when nothing is cached.
var ErrNoCachedBody = errors.New("ics: not modified but no cached body")

// Source names a calendar feed.
type Source struct {
	// ID is an internal identifier ("remote", "local", or a file path).
	ID string
	// URL is the ICS endpoint or file location.
	URL string
}

// FetchResult is the body obtained for a Source.
type FetchResult struct {
	Source Source
	Body   []byte
	// FromCache is set when the body came from disk: 304, or a failed
	// request with a previous copy available.
	FromCache bool
}

// Fetcher downloads ICS feeds with conditional requests and keeps the last
// good copy of every feed on disk.
type Fetcher struct {
	client *http.Client
	dir    string

	// CacheBust appends t=<unix seconds> to every request so that proxies
	// and providers that ignore conditional headers still return fresh data.
	// The cache key is the URL without the parameter.
	CacheBust bool
	now       func() time.Time
}

// NewFetcher returns a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "lcarsvoice-ics-cache")
	}
	return &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		dir:       cacheDir,
		CacheBust: true,
		now:       time.Now,
	}
}

// feedCache is the on-disk copy of one feed: body.ics plus meta.json with
// the validators needed for a conditional GET.
type feedCache struct {
	dir string

	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	body []byte
}

func (f *Fetcher) openCache(feedURL string) *feedCache {
	sum := sha256.Sum256([]byte(feedURL))
	c := &feedCache{dir: filepath.Join(f.dir, hex.EncodeToString(sum[:8]))}
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		if err := json.Unmarshal(data, c); err != nil {
			appLog.Warn("ics cache meta unreadable", "dir", c.dir, "err", err.Error())
		}
	}
	c.body, _ = os.ReadFile(filepath.Join(c.dir, "body.ics"))
	return c
}

// store replaces the cached copy. The body is written first so meta never
// describes a body that is not there.
func (c *feedCache) store(feedURL string, hdr http.Header, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	if err := config.WriteFileAtomic(filepath.Join(c.dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	c.URL = feedURL
	c.ETag = hdr.Get("ETag")
	c.LastModified = hdr.Get("Last-Modified")
	c.UpdatedAt = time.Now().UTC()
	c.body = body

	meta, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(filepath.Join(c.dir, "meta.json"), meta, 0o600)
}

func (c *feedCache) conditional(req *http.Request) {
	if len(c.body) == 0 {
		return
	}
	if c.ETag != "" {
		req.Header.Set("If-None-Match", c.ETag)
	}
	if c.LastModified != "" {
		req.Header.Set("If-Modified-Since", c.LastModified)
	}
}

// FetchOne downloads src. On network errors and non-200 answers the last
// good copy is returned instead, if there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}
	cache := f.openCache(src.URL)
	fromCache := func(reason error) (FetchResult, error) {
		if len(cache.body) == 0 {
			return FetchResult{}, reason
		}
		appLog.Error("ics fetch failed, using cached copy", reason, "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cache.body, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(src.URL), nil)
	if err != nil {
		return FetchResult{}, err
	}
	cache.conditional(req)

	appLog.Info("ics fetch start", "id", src.ID, "url", redactURL(src.URL))
	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache(fmt.Errorf("ics: fetch: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fromCache(fmt.Errorf("ics: read body: %w", err))
		}
		if err := cache.store(src.URL, resp.Header, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		appLog.Info("ics fetch done", "id", src.ID, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cache.body) == 0 {
			return FetchResult{}, ErrNoCachedBody
		}
		appLog.Info("ics feed not modified", "id", src.ID)
		return FetchResult{Source: src, Body: cache.body, FromCache: true}, nil

	default:
		return fromCache(fmt.Errorf("ics: fetch: %s", resp.Status))
	}
}

// requestURL returns u with the cache-busting parameter when enabled.
func (f *Fetcher) requestURL(u string) string {
	if !f.CacheBust {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "t=" + strconv.FormatInt(f.now().Unix(), 10)
}

// redactURL hides the path and query of a calendar URL for logging; private
// feed URLs carry their secret token there.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
