package barcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	tuotoo "github.com/tuotoo/qrcode"
)

type tuotooDecoder struct{}

// NewTuotoo returns the tuotoo/qrcode decoder. The library only reads from
// an io.Reader, so the image is re-encoded as PNG first.
func NewTuotoo() Decoder { return tuotooDecoder{} }

func (tuotooDecoder) Name() string { return NameTuotoo }

func (tuotooDecoder) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode for tuotoo: %w", err)
	}
	m, err := tuotoo.Decode(&buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if m == nil || m.Content == "" {
		return "", ErrNotFound
	}
	return payloadText([]byte(m.Content)), nil
}
