package detector

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
)

const (
	padRatio     = 0.2
	minPad       = 20
	maxPad       = 50
	minBoxSide   = 10
	upscaleBelow = 200
)

// Transforms applied to a crop before decoding.
const (
	TransformNone    = "none"
	TransformUpscale = "upscale2x"
	TransformRot90   = "rot90"
	TransformRot180  = "rot180"
	TransformRot270  = "rot270"
)

func padFor(side int) int {
	p := math.Max(float64(side)*padRatio, minPad)
	return int(math.Min(p, maxPad))
}

// CropRegion cuts the box out of img with padding of 20% of the box side
// (at least 20 px, at most 50 px). ok is false for boxes under 10 px.
func CropRegion(img image.Image, b Box) (crop image.Image, ok bool) {
	bounds := img.Bounds()
	r := b.Rect(bounds.Dx(), bounds.Dy())
	if r.Dx() < minBoxSide || r.Dy() < minBoxSide {
		return nil, false
	}
	px, py := padFor(r.Dx()), padFor(r.Dy())
	padded := image.Rect(r.Min.X-px, r.Min.Y-py, r.Max.X+px, r.Max.Y+py).
		Add(bounds.Min).
		Intersect(bounds)
	return imaging.Crop(img, padded), true
}

// RegionResult is a decoded crop.
type RegionResult struct {
	Payload   string
	Decoder   string
	Transform string
}

// RegionDecoder decodes detector crops with a short list of native decoders.
type RegionDecoder struct {
	decoders []barcode.Decoder
}

// NewRegionDecoder returns a decoder that tries decoders in order on every
// transform of a crop.
func NewRegionDecoder(decoders ...barcode.Decoder) *RegionDecoder {
	out := make([]barcode.Decoder, 0, len(decoders))
	for _, d := range decoders {
		if d != nil {
			out = append(out, d)
		}
	}
	return &RegionDecoder{decoders: out}
}

type transformed struct {
	name string
	img  func() image.Image
}

func transformsFor(crop image.Image) []transformed {
	w, h := crop.Bounds().Dx(), crop.Bounds().Dy()
	out := []transformed{{TransformNone, func() image.Image { return crop }}}
	if w < upscaleBelow || h < upscaleBelow {
		out = append(out, transformed{TransformUpscale, func() image.Image {
			return imaging.Resize(crop, w*2, h*2, imaging.Lanczos)
		}})
	}
	return append(out,
		transformed{TransformRot90, func() image.Image { return imaging.Rotate90(crop) }},
		transformed{TransformRot180, func() image.Image { return imaging.Rotate180(crop) }},
		transformed{TransformRot270, func() image.Image { return imaging.Rotate270(crop) }},
	)
}

// Decode tries the crop as is, a 2x upscale when either side is under
// 200 px, then 90/180/270 degree rotations. It returns barcode.ErrNotFound
// when nothing decodes and ctx.Err() when cancelled.
func (r *RegionDecoder) Decode(ctx context.Context, crop image.Image) (RegionResult, error) {
	if len(r.decoders) == 0 {
		return RegionResult{}, errors.New("region decoder has no decoders")
	}
	for _, t := range transformsFor(crop) {
		img := t.img()
		for _, d := range r.decoders {
			if err := ctx.Err(); err != nil {
				return RegionResult{}, err
			}
			payload, err := barcode.SafeDecode(ctx, d, img)
			if err == nil {
				return RegionResult{Payload: payload, Decoder: d.Name(), Transform: t.name}, nil
			}
			if !errors.Is(err, barcode.ErrNotFound) {
				slog.Debug("Region decode failed", "decoder", d.Name(), "transform", t.name, "error", err)
			}
		}
	}
	return RegionResult{}, barcode.ErrNotFound
}
