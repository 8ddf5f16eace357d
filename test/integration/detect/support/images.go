package support

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

// imageBytes renders a named fixture kind as PNG bytes.
//
//	qr      a clean 300px QR code encoding content
//	invoice an invoice page with a QR code encoding content
//	blank   a white page
//	noise   deterministic noise
func imageBytes(kind, content string) ([]byte, error) {
	var img image.Image
	var err error
	switch kind {
	case "qr":
		img, err = testutil.RenderQR(testutil.QRConfig{Content: content, Size: 300})
	case "invoice":
		img, err = testutil.RenderInvoice(content)
	case "blank":
		img = testutil.BlankImage(400, 300, color.White)
	case "noise":
		img = testutil.NoiseImage(400, 300)
	default:
		return nil, fmt.Errorf("unknown image kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s image: %w", kind, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", kind, err)
	}
	return buf.Bytes(), nil
}
