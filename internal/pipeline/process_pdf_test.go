package pipeline

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/pdf"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

func TestDetectPDF_MissingFile(t *testing.T) {
	p := build(t, NewBuilder().WithStages(stage("native", TierNative, 1, "x")))
	res, err := p.DetectPDF(context.Background(), "r", "/nonexistent/invoice.pdf", pdf.Options{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "extract images")
}

func TestDetectPDF_BadPageRange(t *testing.T) {
	p := build(t, NewBuilder().WithStages(stage("native", TierNative, 1, "x")))
	_, err := p.DetectPDF(context.Background(), "r", "/nonexistent/invoice.pdf", pdf.Options{PageRange: "3-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid page range")
}

func blankPages() []pdf.Page {
	white := testutil.BlankImage(32, 32, color.White)
	return []pdf.Page{
		{Number: 1, Images: []image.Image{white, white}},
		{Number: 3, Images: []image.Image{white}},
	}
}

func TestDetectPages_PerImageRequestIDs(t *testing.T) {
	p := build(t, NewBuilder().WithStages(stage("native", TierNative, 1, "")))
	res := &PDFResult{RequestID: "inv-7", Images: []*Result{}}

	p.detectPages(context.Background(), res, blankPages())
	assert.False(t, res.Success)
	assert.Equal(t, FailureNotFound, res.Failure)

	ids := make([]string, len(res.Images))
	for i, r := range res.Images {
		ids[i] = r.RequestID
	}
	assert.Equal(t, []string{"inv-7-p1-0", "inv-7-p1-1", "inv-7-p3-0"}, ids)
}

func TestDetectPages_StopsAtFirstPayload(t *testing.T) {
	p := build(t, NewBuilder().WithStages(stage("native", TierNative, 1, "x")))
	res := &PDFResult{RequestID: "inv-8", Images: []*Result{}}

	p.detectPages(context.Background(), res, blankPages())
	require.True(t, res.Success)
	assert.Equal(t, "x", res.Payload)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, FailureNone, res.Failure)
	assert.Len(t, res.Images, 1)
}

func TestDetectPages_CancelledIsMarked(t *testing.T) {
	s := stage("native", TierNative, 1, "x")
	p := build(t, NewBuilder().WithStages(s))
	res := &PDFResult{RequestID: "inv-9", Images: []*Result{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.detectPages(ctx, res, blankPages())
	assert.False(t, res.Success)
	assert.Equal(t, FailureCancelled, res.Failure)
	assert.NotEmpty(t, res.Err)
	assert.Empty(t, res.Images)
	assert.Zero(t, s.calls.Load())

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"failure":"cancelled"`)
}
