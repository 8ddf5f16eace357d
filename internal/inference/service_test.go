package inference

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

// invoiceQR covers the QR that testutil.InvoiceImage draws.
func invoiceQR(conf float32) detector.Box {
	return detector.Box{CX: 620.0 / 800, CY: 820.0 / 1000, W: 240.0 / 800, H: 240.0 / 1000, Confidence: conf}
}

type fakeModel struct {
	variant string
	boxes   []detector.Box
	calls   atomic.Int32
}

func (m *fakeModel) Variant() string { return m.variant }

func (m *fakeModel) Detect(context.Context, image.Image) ([]detector.Box, error) {
	m.calls.Add(1)
	return m.boxes, nil
}

func (m *fakeModel) Close() error { return nil }

func registryOf(models ...*fakeModel) *detector.Registry {
	byName := make(map[string]*fakeModel, len(models))
	for _, m := range models {
		byName[m.variant] = m
	}
	return detector.NewRegistry(func(v string) (detector.Model, error) {
		if m, ok := byName[v]; ok {
			return m, nil
		}
		return nil, errors.New("model file not found")
	})
}

type blindDecoder struct{}

func (blindDecoder) Name() string { return "blind" }

func (blindDecoder) Decode(context.Context, image.Image) (string, error) {
	return "", barcode.ErrNotFound
}

// newService builds a service whose classical stage never decodes, so the
// ML stages are reached. Crops are still read by the real decoders.
func newService(t *testing.T, reg *detector.Registry) *Service {
	t.Helper()
	s, err := New(DefaultConfig(), reg)
	require.NoError(t, err)
	s.cascade = barcode.NewCascade(barcode.Stage{Decoder: blindDecoder{}})
	return s
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Config{}, registryOf())
	require.NoError(t, err)
	cfg := s.Config()
	assert.Equal(t, []string{"small", "medium"}, cfg.Variants)
	assert.InDelta(t, 0.65, cfg.SmallAcceptConfidence, 1e-6)
	assert.Equal(t, 2048, cfg.MaxDimension)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)

	_, err = New(Config{Preload: []string{"huge"}}, registryOf())
	require.Error(t, err)
}

func TestDetect_ClassicalBinaryFirst(t *testing.T) {
	small := &fakeModel{variant: "small"}
	s, err := New(DefaultConfig(), registryOf(small))
	require.NoError(t, err)

	d, err := s.Detect(context.Background(), testutil.QRImage(t, testutil.SampleURL, 300))
	require.NoError(t, err)
	require.True(t, d.Found)
	assert.Equal(t, testutil.SampleURL, d.Payload)
	assert.Equal(t, StateSuccess, d.State)
	assert.Equal(t, []string{StrategyBinary}, d.Stages)
	assert.True(t, barcode.IsKnown(d.Model))
	assert.Zero(t, small.calls.Load())
}

func TestDetect_SmallAcceptedAboveThreshold(t *testing.T) {
	small := &fakeModel{variant: "small", boxes: []detector.Box{invoiceQR(0.9)}}
	medium := &fakeModel{variant: "medium", boxes: []detector.Box{invoiceQR(0.9)}}
	s := newService(t, registryOf(small, medium))

	d, err := s.Detect(context.Background(), testutil.InvoiceImage(t, testutil.SampleURL))
	require.NoError(t, err)
	require.True(t, d.Found)
	assert.Equal(t, "small", d.Model)
	assert.InDelta(t, 0.9, d.Confidence, 1e-6)
	assert.Equal(t, []string{StrategyBinary, StrategyGray, "small"}, d.Stages)
	assert.Zero(t, medium.calls.Load())
}

func TestDetect_LowConfidenceSmallEscalatesToMedium(t *testing.T) {
	small := &fakeModel{variant: "small", boxes: []detector.Box{invoiceQR(0.5)}}
	medium := &fakeModel{variant: "medium", boxes: []detector.Box{invoiceQR(0.4)}}
	s := newService(t, registryOf(small, medium))

	d, err := s.Detect(context.Background(), testutil.InvoiceImage(t, testutil.SampleURL))
	require.NoError(t, err)
	require.True(t, d.Found)
	assert.Equal(t, "medium", d.Model)
	assert.Equal(t, testutil.SampleURL, d.Payload)
	assert.Equal(t, []string{StrategyBinary, StrategyGray, "small", "medium"}, d.Stages)
	assert.Equal(t, int32(1), small.calls.Load())
}

func TestDetect_UnavailableSmallEscalates(t *testing.T) {
	medium := &fakeModel{variant: "medium", boxes: []detector.Box{invoiceQR(0.3)}}
	s := newService(t, registryOf(medium))

	d, err := s.Detect(context.Background(), testutil.InvoiceImage(t, testutil.SampleURL))
	require.NoError(t, err)
	require.True(t, d.Found)
	assert.Equal(t, "medium", d.Model)
}

func TestDetect_FinalFailure(t *testing.T) {
	s := newService(t, registryOf(&fakeModel{variant: "small"}, &fakeModel{variant: "medium"}))
	d, err := s.Detect(context.Background(), testutil.NoiseImage(300, 300))
	require.NoError(t, err)
	assert.False(t, d.Found)
	assert.Equal(t, StateFailure, d.State)
	assert.Len(t, d.Stages, 4)
}

func TestDetect_Cancelled(t *testing.T) {
	s := newService(t, registryOf())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Detect(ctx, testutil.NoiseImage(50, 50))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimitSize(t *testing.T) {
	big := image.NewGray(image.Rect(0, 0, 3000, 1000))
	out := limitSize(big, 2048)
	assert.Equal(t, 2048, out.Bounds().Dx())
	assert.InDelta(t, 683, out.Bounds().Dy(), 1)

	small := image.NewGray(image.Rect(0, 0, 800, 600))
	assert.Same(t, small, limitSize(small, 2048))
}

func TestStatus(t *testing.T) {
	reg := registryOf(&fakeModel{variant: "small"})
	s, err := New(DefaultConfig(), reg)
	require.NoError(t, err)
	assert.Equal(t, StatusLoading, s.Status())
	assert.Equal(t, map[string]bool{"small": false, "medium": false}, s.Models())

	require.NoError(t, s.Preload())
	assert.Equal(t, StatusHealthy, s.Status())
	assert.True(t, s.Models()["small"])

	cfg := DefaultConfig()
	cfg.Preload = []string{"medium"}
	broken, err := New(cfg, registryOf())
	require.NoError(t, err)
	require.Error(t, broken.Preload())
	assert.Equal(t, StatusUnhealthy, broken.Status())
}
