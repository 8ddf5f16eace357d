package barcode

import (
	"context"
	"fmt"
	"image"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type zxingQR struct{}

// NewZXingQR returns the ZXing QR reader configured with TRY_HARDER.
func NewZXingQR() Decoder { return zxingQR{} }

func (zxingQR) Name() string { return NameZXingQR }

func (zxingQR) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("zxing bitmap: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	// Readers keep per-call state, so one is built per Decode.
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if res.GetText() == "" {
		return "", ErrNotFound
	}
	return res.GetText(), nil
}

type zxingMulti struct{}

// NewZXingMulti returns the 2D multi-symbology scanner (QR, Data Matrix,
// Aztec). Linear symbols are skipped.
func NewZXingMulti() Decoder { return zxingMulti{} }

func (zxingMulti) Name() string { return NameZXingMulti }

func (zxingMulti) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("zxing bitmap: %w", err)
	}
	readers := []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
		aztec.NewAztecReader(),
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	for _, r := range readers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := r.Decode(bmp, hints)
		if err != nil || res == nil {
			continue
		}
		if txt := res.GetText(); txt != "" {
			return txt, nil
		}
	}
	return "", ErrNotFound
}
