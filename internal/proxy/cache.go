// Package proxy caches same-origin blob copies of cross-origin audio
// URLs. Serving audio from a local blob is what lets an analysis tap
// read the stream; playback starts on the original URL and upgrades to
// the blob in the background.
//
// The cache is keyed by original source URL and append-only: entries
// are revoked explicitly, never evicted. Concurrent fetches for the
// same URL share one in-flight download.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	appName       = "vibrato"
	indexFileName = "index.json"
	fetchTimeout  = 60 * time.Second
)

// Options configures a Cache.
type Options struct {
	Dir        string // blob directory; "" means the xdg cache dir
	ConvertURL string // optional remote conversion endpoint
	Token      string // session bearer token, sent to the conversion endpoint only
	Client     *http.Client
	Logger     *log.Logger
}

// Entry describes one cached blob.
type Entry struct {
	URL  string
	Path string
	Size int64
}

// Cache maps original source URLs to local blob files.
type Cache struct {
	mu      sync.Mutex
	dir     string
	convert string
	token   string
	client  *http.Client
	log     *log.Logger
	entries map[string]string
	pending map[string]*fetchCall
}

type fetchCall struct {
	done chan struct{}
	path string
	err  error
}

// New opens the cache, restoring the URL index from previous runs and
// dropping entries whose blob files no longer exist.
func New(opts Options) (*Cache, error) {
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(xdg.CacheHome, appName, "media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	c := &Cache{
		dir:     dir,
		convert: opts.ConvertURL,
		token:   opts.Token,
		client:  client,
		log:     logger,
		entries: make(map[string]string),
		pending: make(map[string]*fetchCall),
	}
	c.loadIndex()
	return c, nil
}

// Dir returns the blob directory.
func (c *Cache) Dir() string { return c.dir }

// ResolveSync returns the cached blob path for a URL, or the URL
// unmodified when nothing is cached. It never blocks on I/O.
func (c *Cache) ResolveSync(url string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path, ok := c.entries[url]; ok {
		return path
	}
	return url
}

// IsCached reports whether a blob exists for the URL.
func (c *Cache) IsCached(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[url]
	return ok
}

// IsLocal reports whether a resolved source is a local path (one of our
// blobs, or any non-URL file path) rather than a remote URL.
func (c *Cache) IsLocal(source string) bool {
	return !isHTTPURL(source)
}

// FetchBlob downloads a blob for the URL, going through the conversion
// endpoint when one is configured. Concurrent calls for the same URL
// share a single download. The download itself is not bound to ctx:
// a completed fetch is cached by URL and is harmless to share, so it
// runs to completion even when the caller that started it has moved on;
// ctx bounds only this caller's wait.
func (c *Cache) FetchBlob(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	if path, ok := c.entries[url]; ok {
		c.mu.Unlock()
		return path, nil
	}
	if call, ok := c.pending[url]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.path, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.pending[url] = call
	c.mu.Unlock()

	path, err := c.fetch(url)

	c.mu.Lock()
	call.path, call.err = path, err
	if err == nil {
		c.entries[url] = path
		c.saveIndexLocked()
	}
	delete(c.pending, url)
	c.mu.Unlock()
	close(call.done)

	if err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		// The blob is cached either way; this caller just stopped caring.
		return "", ctx.Err()
	default:
	}
	return path, nil
}

// Revoke drops the cache entry for a URL and deletes its blob file.
func (c *Cache) Revoke(url string) {
	c.mu.Lock()
	path, ok := c.entries[url]
	if ok {
		delete(c.entries, url)
		c.saveIndexLocked()
	}
	c.mu.Unlock()
	if ok {
		os.Remove(path)
	}
}

// Entries returns the cached blobs sorted by URL.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for url, path := range c.entries {
		e := Entry{URL: url, Path: path}
		if fi, err := os.Stat(path); err == nil {
			e.Size = fi.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// TotalSize returns the combined size of all cached blobs in bytes.
func (c *Cache) TotalSize() int64 {
	var total int64
	for _, e := range c.Entries() {
		total += e.Size
	}
	return total
}

// Clear removes every blob and resets the index.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.saveIndexLocked()
	dir := c.dir
	c.mu.Unlock()

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range dirents {
		if de.IsDir() || de.Name() == indexFileName {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// fetch downloads one blob. When a conversion endpoint is configured,
// the download goes through it (the endpoint normalizes exotic codecs
// server-side); otherwise the original URL is fetched directly, without
// credentials.
func (c *Cache) fetch(url string) (string, error) {
	fetchURL := url
	viaConvert := c.convert != ""
	if viaConvert {
		fetchURL = c.convert + "?src=" + neturl.QueryEscape(url)
	}

	req, err := http.NewRequest(http.MethodGet, fetchURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if viaConvert && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("fetching blob", "url", url, "convert", viaConvert)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch blob: status %d", resp.StatusCode)
	}

	name := uuid.New().String() + blobExt(url, resp.Header.Get("Content-Type"))
	path := filepath.Join(c.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// loadIndex restores url → path mappings written by previous runs.
func (c *Cache) loadIndex() {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFileName))
	if err != nil {
		return
	}
	var index map[string]string
	if err := json.Unmarshal(data, &index); err != nil {
		c.log.Warn("blob index unreadable, starting empty", "err", err)
		return
	}
	for url, path := range index {
		if _, err := os.Stat(path); err == nil {
			c.entries[url] = path
		}
	}
}

func (c *Cache) saveIndexLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, indexFileName), data, 0o644); err != nil {
		c.log.Warn("failed to write blob index", "err", err)
	}
}

func blobExt(rawURL, contentType string) string {
	if u, err := neturl.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(filepath.Ext(u.Path)); ext {
		case ".mp3", ".flac", ".ogg", ".m4a":
			return ext
		}
	}
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	}
	return ""
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
