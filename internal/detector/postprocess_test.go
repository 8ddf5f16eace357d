package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// featureMajor lays boxes out as [1, F, N].
func featureMajor(f int, boxes [][]float32) []float32 {
	n := len(boxes)
	out := make([]float32, f*n)
	for i, b := range boxes {
		for k, v := range b {
			out[k*n+i] = v
		}
	}
	return out
}

func TestParseOutput_FeatureMajor(t *testing.T) {
	raw := [][]float32{
		{320, 320, 64, 64, 0.9, 0.1},  // pixel space
		{0.25, 0.25, 0.1, 0.1, 0.15},  // below threshold
		{0.75, 0.5, 0.2, 0.1, 0.5, 0}, // normalised
		{0.1, 0.1, 0.1, 0.1, 0.01},
		{0.2, 0.2, 0.1, 0.1, 0.02},
		{0.3, 0.3, 0.1, 0.1, 0.03},
		{0.4, 0.4, 0.1, 0.1, 0.04},
		{0.5, 0.5, 0.1, 0.1, 0.05},
	}
	data := featureMajor(6, raw)

	boxes, err := ParseOutput(data, []int64{1, 6, 8}, 640, 0.20)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.InDelta(t, 0.5, boxes[0].CX, 1e-6)
	assert.InDelta(t, 0.1, boxes[0].W, 1e-6)
	assert.InDelta(t, 0.9, boxes[0].Confidence, 1e-6)
	assert.InDelta(t, 0.75, boxes[1].CX, 1e-6)
}

func TestParseOutput_RowMajor(t *testing.T) {
	// [1, N, F] with N < F is ambiguous, so use more rows than features.
	rows := [][]float32{
		{0.5, 0.5, 0.2, 0.2, 0.8},
		{0.1, 0.1, 0.1, 0.1, 0.1},
		{0.3, 0.3, 0.1, 0.1, 0.3},
		{0.9, 0.9, 0.1, 0.1, 0.0},
		{0.2, 0.7, 0.1, 0.1, 0.05},
		{0.6, 0.2, 0.1, 0.1, 0.21},
	}
	var data []float32
	for _, r := range rows {
		data = append(data, r...)
	}
	boxes, err := ParseOutput(data, []int64{1, 6, 5}, 640, 0.20)
	require.NoError(t, err)
	require.Len(t, boxes, 3)
	assert.InDelta(t, 0.8, boxes[0].Confidence, 1e-6)
}

func TestParseOutput_ThresholdIsStrict(t *testing.T) {
	row := []float32{0.5, 0.5, 0.1, 0.1, 0.20}
	data := featureMajor(5, [][]float32{row, row, row, row, row, row})
	boxes, err := ParseOutput(data, []int64{1, 5, 6}, 640, 0.20)
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestParseOutput_Errors(t *testing.T) {
	tests := []struct {
		name  string
		data  []float32
		shape []int64
	}{
		{"rank", make([]float32, 10), []int64{2, 5}},
		{"batch", make([]float32, 10), []int64{2, 5, 1}},
		{"features", make([]float32, 4*10), []int64{1, 4, 10}},
		{"length", make([]float32, 7), []int64{1, 5, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOutput(tt.data, tt.shape, 640, 0.2)
			require.ErrorIs(t, err, errBadOutput)
		})
	}
}

func TestSelectBoxes_TopK(t *testing.T) {
	var boxes []Box
	for i := range 40 {
		boxes = append(boxes, Box{
			CX: float32(i%8)*0.12 + 0.05, CY: float32(i/8)*0.18 + 0.05,
			W: 0.05, H: 0.05, Confidence: 0.3 + float32(i)*0.01,
		})
	}
	got := SelectBoxes(boxes, 0.5, 15)
	require.Len(t, got, 15)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
	assert.InDelta(t, 0.69, got[0].Confidence, 1e-5)
}
