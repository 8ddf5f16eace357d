package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/models"
)

// Attempt records one variant run.
type Attempt struct {
	Variant    string
	Success    bool
	Payload    string
	Boxes      int
	Confidence float32 // confidence of the decoded box, or of the best box on failure
	Decoder    string
	Transform  string
	Elapsed    time.Duration
	Err        error
}

// Outcome is the result of a tier run.
type Outcome struct {
	Payload    string
	Variant    string
	Confidence float32
	Found      bool
	Attempts   []Attempt
}

// Tier escalates through detector variants, cheapest first.
type Tier struct {
	registry *Registry
	variants []string
	region   *RegionDecoder
}

// NewTier builds a tier over the given variants, reordered by cost.
func NewTier(registry *Registry, variants []string, region *RegionDecoder) (*Tier, error) {
	if registry == nil {
		return nil, errors.New("nil registry")
	}
	if region == nil {
		return nil, errors.New("nil region decoder")
	}
	sorted, err := models.SortVariants(variants)
	if err != nil {
		return nil, err
	}
	return &Tier{registry: registry, variants: sorted, region: region}, nil
}

// Variants returns the variants in execution order.
func (t *Tier) Variants() []string {
	out := make([]string, len(t.variants))
	copy(out, t.variants)
	return out
}

// Registry returns the model registry backing the tier.
func (t *Tier) Registry() *Registry { return t.registry }

// Run tries each variant until one decodes a payload. The error is non-nil
// only when ctx ends first.
func (t *Tier) Run(ctx context.Context, img image.Image) (Outcome, error) {
	out := Outcome{Attempts: make([]Attempt, 0, len(t.variants))}
	for _, v := range t.variants {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := t.RunVariant(ctx, v, img)
		out.Attempts = append(out.Attempts, a)
		if err != nil {
			return out, err
		}
		if a.Success {
			out.Payload, out.Variant, out.Confidence, out.Found = a.Payload, v, a.Confidence, true
			return out, nil
		}
	}
	return out, nil
}

// RunVariant detects with one variant and decodes its boxes in confidence
// order. A variant that failed to load yields an unsuccessful attempt.
func (t *Tier) RunVariant(ctx context.Context, variant string, img image.Image) (Attempt, error) {
	start := time.Now()
	a := Attempt{Variant: variant}
	finish := func(err error) (Attempt, error) {
		a.Elapsed = time.Since(start)
		return a, err
	}

	m, err := t.registry.Get(variant)
	if err != nil {
		a.Err = err
		return finish(nil)
	}

	boxes, err := safeDetect(ctx, m, img)
	if err != nil {
		a.Err = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(ctxErr)
		}
		return finish(nil)
	}
	a.Boxes = len(boxes)
	if len(boxes) == 0 {
		a.Err = fmt.Errorf("%w: no detections", barcode.ErrNotFound)
		return finish(nil)
	}
	a.Confidence = boxes[0].Confidence

	for _, b := range boxes {
		if err := ctx.Err(); err != nil {
			a.Err = err
			return finish(err)
		}
		crop, ok := CropRegion(img, b)
		if !ok {
			continue
		}
		res, err := t.region.Decode(ctx, crop)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				a.Err = ctxErr
				return finish(ctxErr)
			}
			continue
		}
		a.Success, a.Payload, a.Confidence = true, res.Payload, b.Confidence
		a.Decoder, a.Transform = res.Decoder, res.Transform
		return finish(nil)
	}
	a.Err = fmt.Errorf("%w: %d boxes, none decoded", barcode.ErrNotFound, len(boxes))
	return finish(nil)
}

func safeDetect(ctx context.Context, m Model, img image.Image) (boxes []Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			boxes, err = nil, fmt.Errorf("detector %s panicked: %v", m.Variant(), r)
		}
	}()
	return m.Detect(ctx, img)
}
