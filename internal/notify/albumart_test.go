//go:build linux

package notify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindAlbumArtPath(t *testing.T) {
	dir := t.TempDir()
	trackPath := filepath.Join(dir, "01-song.mp3")

	// No cover yet
	if got := FindAlbumArtPath(trackPath); got != "" {
		t.Errorf("FindAlbumArtPath() = %q, want empty", got)
	}

	coverPath := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(coverPath, []byte{0xFF, 0xD8, 0xFF}, 0o600); err != nil {
		t.Fatal(err)
	}

	if got := FindAlbumArtPath(trackPath); got != coverPath {
		t.Errorf("FindAlbumArtPath() = %q, want %q", got, coverPath)
	}
}
