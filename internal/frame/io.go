package frame

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedImageExtensions lists the file extensions LoadImage accepts.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path        string  `json:"path,omitempty"`
	Format      string  `json:"format"`
	SizeBytes   int64   `json:"size_bytes,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &ProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, Metadata{}, &ProcessingError{
			Operation: "load",
			Err:       fmt.Errorf("unsupported format: %s", filepath.Ext(path)),
		}
	}

	f, err := os.Open(path) //nolint:gosec // G304: user-provided image path
	if err != nil {
		return nil, Metadata{}, &ProcessingError{Operation: "load", Err: err}
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Error closing image file", "path", path, "error", err)
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, Metadata{}, &ProcessingError{Operation: "load", Err: err}
	}

	img, meta, err := DecodeImage(f)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta.Path = path
	meta.SizeBytes = fi.Size()
	return img, meta, nil
}

// DecodeImage decodes any registered format from r.
func DecodeImage(r io.Reader) (image.Image, Metadata, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, Metadata{}, &ProcessingError{Operation: "decode", Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, Metadata{}, &ProcessingError{Operation: "decode", Err: errors.New("empty image")}
	}
	return img, Metadata{
		Format:      format,
		Width:       b.Dx(),
		Height:      b.Dy(),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
	}, nil
}
