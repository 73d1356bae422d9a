package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return path
}

func TestThumbnailDownscalesLargeImage(t *testing.T) {
	path := writeTestPNG(t, 800, 400)

	data, mimeType, err := Thumbnail(path, 200)
	if err != nil {
		t.Fatalf("Thumbnail() error: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Errorf("mime type = %q, want image/jpeg", mimeType)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if got := img.Bounds().Dx(); got != 200 {
		t.Errorf("width = %d, want 200", got)
	}
	if got := img.Bounds().Dy(); got != 100 {
		t.Errorf("height = %d, want 100", got)
	}
}

func TestThumbnailKeepsSmallImage(t *testing.T) {
	path := writeTestPNG(t, 100, 60)

	data, _, err := Thumbnail(path, 512)
	if err != nil {
		t.Fatalf("Thumbnail() error: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 60 {
		t.Errorf("dimensions = %dx%d, want 100x60 unchanged",
			img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestThumbnailRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Thumbnail(path, 512); err == nil {
		t.Fatal("Thumbnail() succeeded on a text file, want error")
	}
}

func TestThumbnailDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		max           int
		wantW, wantH  int
	}{
		{"landscape", 2000, 1000, 500, 500, 250},
		{"portrait", 1000, 2000, 500, 250, 500},
		{"square", 1000, 1000, 500, 500, 500},
		{"within bounds", 300, 200, 512, 300, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := thumbnailDimensions(tt.width, tt.height, tt.max)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("thumbnailDimensions(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.width, tt.height, tt.max, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}
