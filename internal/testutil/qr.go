package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SampleURL is a typical invoice verification link.
const SampleURL = "https://invoice.example.com/verify?id=INV-2024-000123&total=149.90"

// QRConfig controls QR rendering.
type QRConfig struct {
	Content string
	// Size is the edge length of the rendered symbol including quiet zone.
	Size int
	// Rotation in degrees, counter-clockwise; multiples of 90 are lossless.
	Rotation float64
}

// RenderQR renders content as a black-on-white QR symbol.
func RenderQR(cfg QRConfig) (*image.Gray, error) {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	bm, err := qrcode.NewQRCodeWriter().Encode(cfg.Content, gozxing.BarcodeFormat_QR_CODE, cfg.Size, cfg.Size, nil)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	w, h := bm.GetWidth(), bm.GetHeight()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if !bm.Get(x, y) {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	if cfg.Rotation == 0 {
		return out, nil
	}
	rotated := imaging.Rotate(out, cfg.Rotation, color.White)
	g := image.NewGray(image.Rect(0, 0, rotated.Bounds().Dx(), rotated.Bounds().Dy()))
	draw.Draw(g, g.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
	return g, nil
}

// QRImage renders a QR symbol and fails the test on error.
func QRImage(t *testing.T, content string, size int) *image.Gray {
	t.Helper()
	img, err := RenderQR(QRConfig{Content: content, Size: size})
	require.NoError(t, err)
	return img
}

// InvoiceImage draws a synthetic invoice page and fails the test on error.
func InvoiceImage(t *testing.T, content string) *image.RGBA {
	t.Helper()
	img, err := RenderInvoice(content)
	require.NoError(t, err)
	return img
}

// RenderInvoice draws a synthetic invoice page with a QR code pasted in the
// lower right corner. The page is RGB and slightly off-white.
func RenderInvoice(content string) (*image.RGBA, error) {
	const pageW, pageH, qrSize = 800, 1000, 240

	page := image.NewRGBA(image.Rect(0, 0, pageW, pageH))
	draw.Draw(page, page.Bounds(), &image.Uniform{color.RGBA{246, 244, 240, 255}}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: page, Src: image.NewUniform(color.RGBA{30, 30, 30, 255}), Face: basicfont.Face7x13}
	lines := []string{"INVOICE INV-2024-000123", "Date: 2024-05-14", "Item 1 ........ 99.90", "Item 2 ........ 50.00", "TOTAL 149.90"}
	for i, l := range lines {
		d.Dot = fixed.P(60, 80+i*30)
		d.DrawString(l)
	}

	qr, err := RenderQR(QRConfig{Content: content, Size: qrSize})
	if err != nil {
		return nil, err
	}
	at := image.Pt(pageW-qrSize-60, pageH-qrSize-60)
	draw.Draw(page, image.Rectangle{Min: at, Max: at.Add(qr.Bounds().Size())}, qr, image.Point{}, draw.Src)
	return page, nil
}

// BlankImage returns a uniform image of the given color.
func BlankImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// NoiseImage returns a deterministic pseudo-random pattern that contains no
// decodable symbol.
func NoiseImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	var s uint32 = 2463534242
	for i := range img.Pix {
		s ^= s << 13
		s ^= s >> 17
		s ^= s << 5
		img.Pix[i] = uint8(s)
	}
	return img
}

// PNG encodes img and fails the test on error.
func PNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// PNGHeader returns a PNG signature plus a valid IHDR chunk declaring an
// 8-bit RGB image of the given size, with no pixel data behind it.
func PNGHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8], ihdr[9] = 8, 2

	buf := bytes.NewBufferString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte("IHDR"))
	_, _ = crc.Write(ihdr)
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	_ = binary.Write(buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

// JPEG encodes img at the given quality and fails the test on error.
func JPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}
