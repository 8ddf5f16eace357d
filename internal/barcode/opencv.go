//go:build opencv

package barcode

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

type opencvDecoder struct{}

func newOpenCV() (Decoder, error) { return opencvDecoder{}, nil }

func (opencvDecoder) Name() string { return NameOpenCV }

func (opencvDecoder) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		mat gocv.Mat
		err error
	)
	if g, ok := img.(*image.Gray); ok {
		mat, err = gocv.ImageGrayToMatGray(g)
	} else {
		mat, err = gocv.ImageToMatRGB(img)
	}
	if err != nil {
		return "", fmt.Errorf("convert to mat: %w", err)
	}
	defer mat.Close()

	// QRCodeDetector is not goroutine-safe; one per call.
	det := gocv.NewQRCodeDetector()
	defer det.Close()

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	txt := det.DetectAndDecode(mat, &points, &straight)
	if txt == "" {
		return "", ErrNotFound
	}
	return txt, nil
}
