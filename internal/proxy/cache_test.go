package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestCache_FetchBlob_CachesAndResolves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	c := newTestCache(t, Options{})
	url := srv.URL + "/track.mp3"

	path, err := c.FetchBlob(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchBlob() error = %v", err)
	}
	if !strings.HasPrefix(path, c.Dir()) {
		t.Errorf("FetchBlob() path = %q, want under %q", path, c.Dir())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("blob content = %q, want %q", data, "audio-bytes")
	}

	if !c.IsCached(url) {
		t.Error("IsCached() = false after successful fetch")
	}
	if got := c.ResolveSync(url); got != path {
		t.Errorf("ResolveSync() = %q, want %q", got, path)
	}
}

func TestCache_FetchBlob_SharesInFlightDownload(t *testing.T) {
	var hits int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		once.Do(func() { close(started) })
		<-release
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := newTestCache(t, Options{})
	url := srv.URL + "/track.mp3"

	type result struct {
		path string
		err  error
	}
	first := make(chan result, 1)
	go func() {
		p, err := c.FetchBlob(context.Background(), url)
		first <- result{p, err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		p, err := c.FetchBlob(context.Background(), url)
		second <- result{p, err}
	}()
	close(release)

	r1 := <-first
	r2 := <-second
	if r1.err != nil || r2.err != nil {
		t.Fatalf("FetchBlob() errors = %v, %v", r1.err, r2.err)
	}
	if r1.path != r2.path {
		t.Errorf("concurrent fetches returned %q and %q, want same path", r1.path, r2.path)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestCache_FetchBlob_ErrorNotCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestCache(t, Options{})
	url := srv.URL + "/track.mp3"

	if _, err := c.FetchBlob(context.Background(), url); err == nil {
		t.Fatal("FetchBlob() error = nil, want status error")
	}
	if c.IsCached(url) {
		t.Error("IsCached() = true after failed fetch")
	}
	if _, err := c.FetchBlob(context.Background(), url); err == nil {
		t.Fatal("FetchBlob() retry error = nil, want status error")
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("server hits = %d, want 2 (failures must not pin the pending slot)", n)
	}
}

func TestCache_ResolveSync_PassthroughWhenUncached(t *testing.T) {
	c := newTestCache(t, Options{})
	url := "https://cdn.example.com/track.mp3"
	if got := c.ResolveSync(url); got != url {
		t.Errorf("ResolveSync() = %q, want %q", got, url)
	}
}

func TestCache_Revoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := newTestCache(t, Options{})
	url := srv.URL + "/track.mp3"
	path, err := c.FetchBlob(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchBlob() error = %v", err)
	}

	c.Revoke(url)

	if c.IsCached(url) {
		t.Error("IsCached() = true after Revoke")
	}
	if got := c.ResolveSync(url); got != url {
		t.Errorf("ResolveSync() = %q after Revoke, want %q", got, url)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("blob file still exists after Revoke: %v", err)
	}
}

func TestCache_FetchBlob_UsesConversionEndpoint(t *testing.T) {
	original := "https://cdn.example.com/episode.ogg"
	var gotSrc, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSrc = r.URL.Query().Get("src")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("converted"))
	}))
	defer srv.Close()

	c := newTestCache(t, Options{ConvertURL: srv.URL + "/convert", Token: "tok-1"})
	path, err := c.FetchBlob(context.Background(), original)
	if err != nil {
		t.Fatalf("FetchBlob() error = %v", err)
	}
	if gotSrc != original {
		t.Errorf("conversion src = %q, want %q", gotSrc, original)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-1")
	}
	if data, _ := os.ReadFile(path); string(data) != "converted" {
		t.Errorf("blob content = %q, want %q", data, "converted")
	}
}

func TestCache_IndexSurvivesReopen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c1 := newTestCache(t, Options{Dir: dir})
	url := srv.URL + "/track.mp3"
	path, err := c1.FetchBlob(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchBlob() error = %v", err)
	}

	c2 := newTestCache(t, Options{Dir: dir})
	if got := c2.ResolveSync(url); got != path {
		t.Errorf("ResolveSync() after reopen = %q, want %q", got, path)
	}
}

func TestCache_Clear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("xxxx"))
	}))
	defer srv.Close()

	c := newTestCache(t, Options{})
	urls := []string{srv.URL + "/a.mp3", srv.URL + "/b.mp3"}
	for _, u := range urls {
		if _, err := c.FetchBlob(context.Background(), u); err != nil {
			t.Fatalf("FetchBlob(%q) error = %v", u, err)
		}
	}
	if got := len(c.Entries()); got != 2 {
		t.Fatalf("Entries() len = %d, want 2", got)
	}
	if c.TotalSize() == 0 {
		t.Error("TotalSize() = 0, want > 0")
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := len(c.Entries()); got != 0 {
		t.Errorf("Entries() len after Clear = %d, want 0", got)
	}
	if got := c.TotalSize(); got != 0 {
		t.Errorf("TotalSize() after Clear = %d, want 0", got)
	}
	for _, u := range urls {
		if c.IsCached(u) {
			t.Errorf("IsCached(%q) = true after Clear", u)
		}
	}
}

func TestCache_IsLocal(t *testing.T) {
	c := newTestCache(t, Options{})
	tests := []struct {
		source string
		want   bool
	}{
		{"/var/cache/vibrato/media/abc.mp3", true},
		{"relative/path.flac", true},
		{"http://cdn.example.com/a.mp3", false},
		{"https://cdn.example.com/a.mp3", false},
	}
	for _, tt := range tests {
		if got := c.IsLocal(tt.source); got != tt.want {
			t.Errorf("IsLocal(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestBlobExt(t *testing.T) {
	tests := []struct {
		url         string
		contentType string
		want        string
	}{
		{"https://cdn.example.com/track.mp3", "", ".mp3"},
		{"https://cdn.example.com/track.FLAC?sig=1", "", ".flac"},
		{"https://cdn.example.com/stream", "audio/mpeg", ".mp3"},
		{"https://cdn.example.com/stream", "audio/x-flac", ".flac"},
		{"https://cdn.example.com/stream", "text/html", ""},
	}
	for _, tt := range tests {
		if got := blobExt(tt.url, tt.contentType); got != tt.want {
			t.Errorf("blobExt(%q, %q) = %q, want %q", tt.url, tt.contentType, got, tt.want)
		}
	}
}
