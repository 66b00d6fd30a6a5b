//go:build linux

package mpris

import (
	"os"
	"path/filepath"
)

// Common album art base names in priority order, each tried with every
// extension before moving to the next base.
var (
	coverBases = []string{"cover", "folder", "album", "front"}
	coverExts  = []string{".jpg", ".png", ".jpeg"}
)

// FindAlbumArt looks for album art next to the track file. Returns the
// art path, or empty string if none is found.
func FindAlbumArt(trackPath string) string {
	dir := filepath.Dir(trackPath)
	for _, base := range coverBases {
		for _, ext := range coverExts {
			path := filepath.Join(dir, base+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
