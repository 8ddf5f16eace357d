package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/onnx"
)

func TestListModels(t *testing.T) {
	dir := t.TempDir()
	nano := models.GetDetectorModelPath(dir, models.VariantNano)
	require.NoError(t, os.MkdirAll(filepath.Dir(nano), 0o750))
	require.NoError(t, os.WriteFile(nano, []byte("onnx"), 0o600))

	entries := listModels(dir)
	require.Len(t, entries, len(models.ListAvailableModels()))

	byVariant := map[string]modelEntry{}
	for _, e := range entries {
		byVariant[e.Variant] = e
	}
	assert.True(t, byVariant[models.VariantNano].Available)
	assert.Equal(t, nano, byVariant[models.VariantNano].Path)
	assert.False(t, byVariant[models.VariantLarge].Available)
	assert.Positive(t, byVariant[models.VariantLarge].LatencyMs)
}

func TestListDecoders(t *testing.T) {
	decoders := listDecoders()
	require.NotEmpty(t, decoders)

	names := map[string]bool{}
	for _, d := range decoders {
		names[d.Name] = d.Available
	}
	assert.True(t, names[barcode.NameGoQR])
	assert.True(t, names[barcode.NameZXingQR])
	assert.Contains(t, names, barcode.NameOpenCV)
}

func TestModelsCommandFlags(t *testing.T) {
	assert.Equal(t, "models", modelsCmd.Use)
	f := modelsCmd.Flags().Lookup("format")
	require.NotNil(t, f)
	assert.Equal(t, outputFormatText, f.DefValue)
}

func TestWriteInspection(t *testing.T) {
	var buf bytes.Buffer
	writeInspection(&buf, modelEntry{Variant: "nano"})
	assert.Empty(t, buf.String())

	writeInspection(&buf, modelEntry{Inspection: &onnx.ModelInfo{
		Inputs:   []onnx.TensorInfo{{Name: "images", Dimensions: []int64{1, 3, 640, 640}, DataType: "float"}},
		Outputs:  []onnx.TensorInfo{{Name: "output0", Dimensions: []int64{1, 5, 8400}, DataType: "float"}},
		Producer: "pytorch",
	}})
	out := buf.String()
	assert.Contains(t, out, "input images")
	assert.Contains(t, out, "[1 3 640 640]")
	assert.Contains(t, out, "output output0")
	assert.Contains(t, out, "producer pytorch")

	buf.Reset()
	writeInspection(&buf, modelEntry{InspectError: "bad model"})
	assert.Contains(t, buf.String(), "error: bad model")
}

func TestListDecoders_UnavailableOpenCVCarriesBuildNote(t *testing.T) {
	for _, d := range listDecoders() {
		if d.Name != barcode.NameOpenCV {
			continue
		}
		if d.Available {
			assert.Empty(t, d.Note)
		} else {
			assert.Contains(t, d.Note, "-tags opencv")
		}
	}
}

func TestWriteDecoders_PrintsBuildNote(t *testing.T) {
	var buf bytes.Buffer
	writeDecoders(&buf, []decoderEntry{
		{Name: barcode.NameGoQR, CostMs: 5, Available: true},
		{Name: barcode.NameOpenCV, CostMs: 25, Note: opencvBuildNote},
	})
	out := buf.String()
	assert.Contains(t, out, "goqr\ttrue\t5ms")
	assert.Contains(t, out, "note: opencv not compiled in; build with -tags opencv")
	assert.NotContains(t, out, "note: goqr")
}
