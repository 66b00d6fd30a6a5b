package media

import (
	"os"
	"testing"
)

func TestItem_HasSource(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{
			name: "external url",
			item: Item{ID: "t1", Source: ExternalSource{URL: "https://cdn.example.com/a.mp3"}},
			want: true,
		},
		{
			name: "internal file id",
			item: Item{ID: "t2", Source: InternalSource{FileID: "file-123"}},
			want: true,
		},
		{
			name: "nil source",
			item: Item{ID: "t3"},
			want: false,
		},
		{
			name: "empty external url",
			item: Item{ID: "t4", Source: ExternalSource{}},
			want: false,
		},
		{
			name: "empty internal file id",
			item: Item{ID: "t5", Source: InternalSource{}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.HasSource(); got != tt.want {
				t.Errorf("HasSource() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProbeFile_MissingFile(t *testing.T) {
	_, err := ProbeFile("/nonexistent/track.mp3")
	if err == nil {
		t.Error("ProbeFile() on a missing file should return an error")
	}
}

func TestProbeFile_Untagged(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/untagged.mp3"
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	item, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile() error = %v", err)
	}
	if item.Title != "untagged" {
		t.Errorf("Title = %q, want file name fallback without extension", item.Title)
	}
	if item.Artist != "" {
		t.Errorf("Artist = %q, want empty", item.Artist)
	}
	if !item.HasSource() {
		t.Error("probed item should carry a source")
	}
}

// id3v23 builds a minimal ID3v2.3 tag with the given text frames.
func id3v23(frames map[string]string) []byte {
	var body []byte
	for id, text := range frames {
		payload := append([]byte{0}, []byte(text)...) // ISO-8859-1
		body = append(body, []byte(id)...)
		size := len(payload)
		body = append(body, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
		body = append(body, 0, 0) // frame flags
		body = append(body, payload...)
	}
	n := len(body)
	header := []byte{
		'I', 'D', '3', 3, 0, 0,
		byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f),
	}
	return append(header, body...)
}

func TestProbeFile_Tagged(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/07 - track.mp3"
	data := id3v23(map[string]string{"TIT2": "Night Drive", "TPE1": "Analog"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	item, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile() error = %v", err)
	}
	if item.Title != "Night Drive" {
		t.Errorf("Title = %q, want %q", item.Title, "Night Drive")
	}
	if item.Artist != "Analog" {
		t.Errorf("Artist = %q, want %q", item.Artist, "Analog")
	}
	if item.ID != path {
		t.Errorf("ID = %q, want the file path", item.ID)
	}
}
