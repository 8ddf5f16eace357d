// Package imageio turns uploaded bytes into pixel buffers. Codec work is
// delegated to the registered image decoders; this package only sniffs the
// container format and normalizes errors.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned when bytes cannot be decoded into pixels.
var ErrInvalidImage = errors.New("invalid image")

// MaxPixels caps the declared width*height of an input. Headers above it
// are rejected before any pixel buffer is allocated.
var MaxPixels int64 = 50_000_000

// Format names reported by Sniff.
const (
	FormatJPEG    = "jpeg"
	FormatPNG     = "png"
	FormatGIF     = "gif"
	FormatBMP     = "bmp"
	FormatWEBP    = "webp"
	FormatTIFF    = "tiff"
	FormatUnknown = "unknown"
)

// SupportedExtensions lists file extensions accepted by LoadFile.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tif", ".tiff"}

// RawImage is an opaque upload plus the format hint sniffed from its header.
type RawImage struct {
	Data   []byte
	Format string
}

// NewRawImage wraps data and sniffs its format.
func NewRawImage(data []byte) RawImage {
	return RawImage{Data: data, Format: Sniff(data)}
}

// DecodeError records which format failed to decode.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrInvalidImage for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrInvalidImage }

// Sniff inspects magic bytes and returns a format name.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	default:
		return FormatUnknown
	}
}

// Decode converts raw bytes into an image.
func Decode(raw RawImage) (image.Image, error) {
	if len(raw.Data) == 0 {
		return nil, &DecodeError{Format: raw.Format, Err: errors.New("empty input")}
	}
	img, err := decodePixels(raw.Data)
	if err != nil {
		return nil, &DecodeError{Format: raw.Format, Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Format: raw.Format, Err: fmt.Errorf("zero-sized image %dx%d", b.Dx(), b.Dy())}
	}
	return img, nil
}

// decodePixels rejects headers above MaxPixels before allocating and turns a
// codec panic into an error.
func decodePixels(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("decoder panicked: %v", r)
		}
	}()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxPixels {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	return img, err
}

// DecodeBytes is a shorthand for Decode(NewRawImage(data)).
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(NewRawImage(data))
}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ReadFile loads an image file from disk without decoding it.
func ReadFile(path string) (RawImage, error) {
	if path == "" {
		return RawImage{}, errors.New("empty path")
	}
	if !IsSupported(path) {
		return RawImage{}, fmt.Errorf("unsupported image extension: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided image path is expected
	if err != nil {
		return RawImage{}, fmt.Errorf("read %s: %w", path, err)
	}
	return NewRawImage(data), nil
}
