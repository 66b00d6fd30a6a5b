package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// ProbeFile reads tag metadata from a local audio file and returns an
// item describing it. Missing tags fall back to the file name without
// its extension; a file without any readable tag is still playable.
func ProbeFile(path string) (Item, error) {
	base := filepath.Base(path)
	item := Item{
		ID:     path,
		Title:  strings.TrimSuffix(base, filepath.Ext(base)),
		Source: ExternalSource{URL: path},
	}

	f, err := os.Open(path)
	if err != nil {
		return Item{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// Unreadable tags are not an error for playback purposes.
		return item, nil //nolint:nilerr // fall back to file name metadata
	}

	if t := m.Title(); t != "" {
		item.Title = t
	}
	item.Artist = m.Artist()
	return item, nil
}
