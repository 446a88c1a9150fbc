package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExtensionFilters(t *testing.T) {
	tests := []struct {
		name  string
		image bool
		audio bool
	}{
		{"a.JPG", true, false},
		{"b.webp", true, false},
		{"c.tiff", true, false},
		{"song.MP3", false, true},
		{"track.flac", false, true},
		{"notes.txt", false, false},
		{"deck.pdf", false, false},
	}
	for _, tt := range tests {
		if got := IsImage(tt.name); got != tt.image {
			t.Errorf("IsImage(%s) = %v, expected %v", tt.name, got, tt.image)
		}
		if got := IsAudio(tt.name); got != tt.audio {
			t.Errorf("IsAudio(%s) = %v, expected %v", tt.name, got, tt.audio)
		}
	}
	if !IsPDF("Deck.PDF") {
		t.Error("Expected Deck.PDF to be a PDF")
	}
}

func TestOpenImagesDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 4, 3)
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2)
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0644)

	files, err := OpenImages(dir, 72)
	if err != nil {
		t.Fatalf("OpenImages failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(files))
	}
	if files[0].Name != "a.png" || files[1].Name != "b.png" {
		t.Errorf("Expected name order a.png, b.png; got %s, %s", files[0].Name, files[1].Name)
	}
	if len(files[0].Data) == 0 {
		t.Error("Expected payload bytes")
	}


	single, err := OpenImages(filepath.Join(dir, "b.png"), 72)
	if err != nil || len(single) != 1 || single[0].Name != "b.png" {
		t.Errorf("Expected the single file b.png, got %v (%v)", single, err)
	}
	if _, err := OpenImages(filepath.Join(dir, "missing"), 72); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

type fakePages struct {
	n int
}

func (f fakePages) PageCount() int { return f.n }
func (f fakePages) GetPageDimensions(int) (float64, float64, error) {
	return 10, 10, nil
}
func (f fakePages) RenderPage(index int, dpi int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(0, 0, color.RGBA{uint8(index), 0, 0, 255})
	return img, nil
}
func (f fakePages) Close() error { return nil }

func TestPagesEncodesPNG(t *testing.T) {
	files, err := Pages(fakePages{n: 3}, 150, "deck")
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(files))
	}
	if files[2].Name != "deck_p003.png" {
		t.Errorf("Unexpected page name %s", files[2].Name)
	}
	if _, err := png.Decode(bytes.NewReader(files[1].Data)); err != nil {
		t.Errorf("Page payload is not PNG: %v", err)
	}
}

func TestWatchReportsNewImages(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan File, 4)
	if err := Watch(ctx, dir, 20*time.Millisecond, func(f File) { got <- f }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644)
	writePNG(t, filepath.Join(dir, "new.png"), 2, 2)

	select {
	case f := <-got:
		if f.Name != "new.png" {
			t.Errorf("Expected new.png, got %s", f.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watcher did not report the new image")
	}
}

func TestPDFPagesRejectsGarbage(t *testing.T) {
	if _, err := PDFPages(File{Name: "broken.pdf", Data: []byte("not a pdf")}, 72); err == nil {
		t.Error("Expected an error for an invalid PDF")
	}
}
