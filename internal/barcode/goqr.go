package barcode

import (
	"context"
	"fmt"
	"image"

	"github.com/liyue201/goqr"
)

type goqrDecoder struct{}

// NewGoQR returns the quirc-port decoder.
func NewGoQR() Decoder { return goqrDecoder{} }

func (goqrDecoder) Name() string { return NameGoQR }

func (goqrDecoder) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	codes, err := goqr.Recognize(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	for _, c := range codes {
		if c == nil || len(c.Payload) == 0 {
			continue
		}
		return payloadText(c.Payload), nil
	}
	return "", ErrNotFound
}
