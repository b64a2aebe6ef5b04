package raster

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned when a file extension has no lossless encoder
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Formats lists the lossless encodings frames can be stored in. Lossy
// encodings would disturb the zero sites that coverage depends on.
var Formats = []string{"png", "tiff", "bmp"}

// Extension returns the file extension (with dot) for a format name
func Extension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "png", "":
		return ".png", nil
	case "tiff", "tif":
		return ".tiff", nil
	case "bmp":
		return ".bmp", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// LoadImage decodes an image file of any registered format
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// Load reads an image file into a grid
func Load(path string) (*Grid, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// SaveImage encodes img according to the extension of path. Parent
// directories are created as needed.
func SaveImage(path string, img image.Image) error {
	var encode func(w io.Writer, img image.Image) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = png.Encode
	case ".tif", ".tiff":
		encode = func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	case ".bmp":
		encode = bmp.Encode
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := encode(file, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// Save quantizes g and writes it to path
func Save(path string, g *Grid) error {
	return SaveImage(path, g.ToImage())
}
