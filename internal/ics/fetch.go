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
	"time"

	appLog "visitical/internal/log"
)

// maxPayloadBytes caps a single fetched payload.
const maxPayloadBytes = 4 << 20

// Source is a remote endpoint that serves visit payloads.
type Source struct {
	ID   string
	Name string
	URL  string
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source    Source
	Body      []byte // payload (either freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused
}

// payloadCache is the on-disk copy of one source: payload.ics plus the
// validators needed for a conditional GET in meta.json.
type payloadCache struct {
	dir          string
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
	body         []byte
}

func (c *payloadCache) bodyPath() string { return filepath.Join(c.dir, "payload.ics") }
func (c *payloadCache) metaPath() string { return filepath.Join(c.dir, "meta.json") }

// load fills c from disk. Missing or unreadable files leave it empty.
func (c *payloadCache) load() {
	if data, err := os.ReadFile(c.metaPath()); err == nil {
		_ = json.Unmarshal(data, c)
	}
	c.body, _ = os.ReadFile(c.bodyPath())
}

// conditional adds validators when they were saved for rawURL.
func (c *payloadCache) conditional(req *http.Request, rawURL string) {
	if c.URL != rawURL {
		return
	}
	if c.ETag != "" {
		req.Header.Set("If-None-Match", c.ETag)
	}
	if c.LastModified != "" {
		req.Header.Set("If-Modified-Since", c.LastModified)
	}
}

// store writes the body before the metadata so meta.json never describes a
// body that is not on disk.
func (c *payloadCache) store(rawURL string, h http.Header, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(c.bodyPath(), body, 0o600); err != nil {
		return err
	}
	c.URL, c.ETag, c.LastModified = rawURL, h.Get("ETag"), h.Get("Last-Modified")
	c.SavedAt = time.Now().UTC()
	c.body = body
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(), data, 0o600)
}

// Fetcher downloads payloads with HTTP caching (ETag / Last-Modified) and a
// disk-backed copy of the last good body.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher. cacheDir holds one subdirectory per URL;
// client may be nil.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/visit-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches all sources. Failures are logged and collected; the
// results only contain sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			appLog.Error("payload fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches a single source. On network errors or non-OK statuses
// the cached body is returned when one exists.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cache := f.cacheFor(src.URL)
	cache.load()

	// fallback serves the cached body in place of cause, if there is one.
	fallback := func(cause error, kv ...any) (FetchResult, error) {
		if len(cache.body) == 0 {
			return FetchResult{}, cause
		}
		appLog.Error("payload fetch failed, serving cached body", cause,
			append([]any{"id", src.ID, "url", redactURL(src.URL)}, kv...)...)
		return FetchResult{Source: src, Body: cache.body, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	cache.conditional(req, src.URL)

	appLog.Debug("payload fetch start", "id", src.ID, "url", redactURL(src.URL))
	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if len(cache.body) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached payload")
		}
		appLog.Debug("payload not modified", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cache.body, FromCache: true}, nil
	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status), "status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return fallback(err)
	}
	if len(body) > maxPayloadBytes {
		return FetchResult{}, fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	if err := cache.store(src.URL, resp.Header, body); err != nil {
		appLog.Error("payload cache write failed", err, "id", src.ID, "url", redactURL(src.URL))
	}
	appLog.Info("payload fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
	return FetchResult{Source: src, Body: body}, nil
}

// cacheFor keys the cache directory by the first 8 bytes of the URL's
// SHA-256.
func (f *Fetcher) cacheFor(u string) *payloadCache {
	sum := sha256.Sum256([]byte(u))
	return &payloadCache{dir: filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))}
}

// redactURL keeps only scheme and host so tokens in paths or queries never
// reach the logs.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
