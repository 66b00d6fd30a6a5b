package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_ViewURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file-123/view" {
			t.Errorf("path = %q, want /files/file-123/view", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://st.example.com/view/file-123?sig=abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")

	got, err := c.ViewURL(context.Background(), "file-123")
	if err != nil {
		t.Fatalf("ViewURL() error = %v", err)
	}
	if got != "https://st.example.com/view/file-123?sig=abc" {
		t.Errorf("ViewURL() = %q", got)
	}
}

func TestClient_ViewURL_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")

	if _, err := c.ViewURL(context.Background(), "missing"); err == nil {
		t.Error("ViewURL() should fail on a non-200 status")
	}
}

func TestClient_ViewURL_EmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"url":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")

	if _, err := c.ViewURL(context.Background(), "file-1"); err == nil {
		t.Error("ViewURL() should fail when the service returns no url")
	}
}

func TestResolverFunc(t *testing.T) {
	r := ResolverFunc(func(_ context.Context, fileID string) (string, error) {
		return "resolved:" + fileID, nil
	})

	got, err := r.ViewURL(context.Background(), "x")
	if err != nil || got != "resolved:x" {
		t.Errorf("ViewURL() = %q, %v", got, err)
	}
}
