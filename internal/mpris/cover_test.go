//go:build linux

package mpris

import (
	"os"
	"path/filepath"
	"testing"
)

func writeArt(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindAlbumArt(t *testing.T) {
	dir := t.TempDir()
	coverPath := writeArt(t, dir, "cover.jpg")

	got := FindAlbumArt(filepath.Join(dir, "track.mp3"))
	if got != coverPath {
		t.Errorf("FindAlbumArt() = %q, want %q", got, coverPath)
	}
}

func TestFindAlbumArt_NotFound(t *testing.T) {
	dir := t.TempDir()

	got := FindAlbumArt(filepath.Join(dir, "track.mp3"))
	if got != "" {
		t.Errorf("FindAlbumArt() = %q, want empty string", got)
	}
}

func TestFindAlbumArt_Priority(t *testing.T) {
	dir := t.TempDir()
	writeArt(t, dir, "folder.jpg")
	coverPath := writeArt(t, dir, "cover.jpg")

	got := FindAlbumArt(filepath.Join(dir, "track.mp3"))
	if got != coverPath {
		t.Errorf("FindAlbumArt() = %q, want %q (cover outranks folder)", got, coverPath)
	}
}

func TestFindAlbumArt_ExtensionOrder(t *testing.T) {
	dir := t.TempDir()
	writeArt(t, dir, "cover.png")
	jpgPath := writeArt(t, dir, "cover.jpg")

	got := FindAlbumArt(filepath.Join(dir, "track.mp3"))
	if got != jpgPath {
		t.Errorf("FindAlbumArt() = %q, want %q (jpg outranks png)", got, jpgPath)
	}
}
