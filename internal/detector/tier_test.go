package detector

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

// qrBox covers the QR that testutil.InvoiceImage draws.
var qrBox = Box{CX: 620.0 / 800, CY: 820.0 / 1000, W: 240.0 / 800, H: 240.0 / 1000, Confidence: 0.82}

var decoyBox = Box{CX: 0.2, CY: 0.1, W: 0.2, H: 0.05, Confidence: 0.95}

func newTestTier(t *testing.T, models map[string]*fakeModel, variants ...string) *Tier {
	t.Helper()
	reg := NewRegistry(func(v string) (Model, error) {
		m, ok := models[v]
		if !ok {
			return nil, errors.New("model file not found")
		}
		return m, nil
	})
	tier, err := NewTier(reg, variants, NewRegionDecoder(barcode.NewZXingQR(), barcode.NewGoQR()))
	require.NoError(t, err)
	return tier
}

func TestTier_EscalatesInCostOrder(t *testing.T) {
	page := testutil.InvoiceImage(t, testutil.SampleURL)
	nano := &fakeModel{variant: "nano"}
	small := &fakeModel{variant: "small", boxes: []Box{decoyBox}}
	medium := &fakeModel{variant: "medium", boxes: []Box{decoyBox, qrBox}}
	large := &fakeModel{variant: "large", boxes: []Box{qrBox}}

	tier := newTestTier(t, map[string]*fakeModel{"nano": nano, "small": small, "medium": medium, "large": large},
		"large", "medium", "small", "nano")
	assert.Equal(t, []string{"nano", "small", "medium", "large"}, tier.Variants())

	out, err := tier.Run(context.Background(), page)
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, testutil.SampleURL, out.Payload)
	assert.Equal(t, "medium", out.Variant)
	assert.InDelta(t, 0.82, out.Confidence, 1e-6)

	require.Len(t, out.Attempts, 3)
	assert.ErrorIs(t, out.Attempts[0].Err, barcode.ErrNotFound)
	assert.Equal(t, 1, out.Attempts[1].Boxes)
	assert.InDelta(t, 0.95, out.Attempts[1].Confidence, 1e-6)
	assert.True(t, out.Attempts[2].Success)
	assert.Zero(t, large.calls.Load())
}

func TestTier_FailedVariantIsSkipped(t *testing.T) {
	page := testutil.InvoiceImage(t, testutil.SampleURL)
	small := &fakeModel{variant: "small", boxes: []Box{qrBox}}
	tier := newTestTier(t, map[string]*fakeModel{"small": small}, "nano", "small")

	out, err := tier.Run(context.Background(), page)
	require.NoError(t, err)
	require.True(t, out.Found)
	require.Len(t, out.Attempts, 2)
	assert.ErrorIs(t, out.Attempts[0].Err, ErrModelUnavailable)
	assert.Equal(t, "small", out.Variant)

	// Failed load is not retried.
	_, err = tier.Run(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 1, tier.Registry().LoadCount("nano"))
}

func TestTier_PanicIsolated(t *testing.T) {
	page := testutil.InvoiceImage(t, testutil.SampleURL)
	tier := newTestTier(t, map[string]*fakeModel{
		"nano":  {variant: "nano", panics: true},
		"small": {variant: "small", boxes: []Box{qrBox}},
	}, "nano", "small")

	out, err := tier.Run(context.Background(), page)
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Contains(t, out.Attempts[0].Err.Error(), "panicked")
}

func TestTier_NothingFound(t *testing.T) {
	tier := newTestTier(t, map[string]*fakeModel{
		"nano":  {variant: "nano", boxes: []Box{decoyBox}},
		"small": {variant: "small"},
	}, "nano", "small")

	out, err := tier.Run(context.Background(), testutil.BlankImage(640, 640, color.White))
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Len(t, out.Attempts, 2)
}

func TestTier_Cancelled(t *testing.T) {
	nano := &fakeModel{variant: "nano", boxes: []Box{qrBox}}
	tier := newTestTier(t, map[string]*fakeModel{"nano": nano}, "nano")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := tier.Run(ctx, testutil.InvoiceImage(t, "x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, out.Found)
	assert.Zero(t, nano.calls.Load())
}

func TestNewTier_UnknownVariant(t *testing.T) {
	_, err := NewTier(NewRegistry(nil), []string{"tiny"}, NewRegionDecoder(barcode.NewGoQR()))
	require.Error(t, err)
}
