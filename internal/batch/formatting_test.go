package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

func sampleResult() *Result {
	return &Result{
		Duration:    time.Second,
		WorkerCount: 1,
		Items: []Item{
			{File: "a.png", Image: &pipeline.Result{RequestID: "r1", Success: true, Payload: "HELLO", Strategy: "goqr", Elapsed: 1500 * time.Microsecond}},
			{File: "b.png", Image: &pipeline.Result{RequestID: "r2", Failure: pipeline.FailureInvalidImage, Err: "bad header"}},
			{File: "c.pdf", PDF: &pipeline.PDFResult{Success: true, Payload: "PDFPAY", Strategy: "yolo-small", Page: 3}},
			{File: "d.png", Err: errors.New("failed to read d.png")},
		},
	}
}

func TestWriteResults_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleResult().WriteResults(&buf, FormatText))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "a.png\tHELLO\tgoqr\t1.5ms", lines[0])
	assert.Equal(t, "b.png\t-\tinvalid_image: bad header\t0.0ms", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "c.pdf#page=3\tPDFPAY\tyolo-small\t"))
	assert.Equal(t, "d.png\t-\terror: failed to read d.png", lines[3])
}

func TestWriteResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleResult().WriteResults(&buf, FormatJSON))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a.png", first["file"])
	assert.Equal(t, "HELLO", first["payload"])
	assert.Equal(t, "r1", first["request_id"])
	assert.NotContains(t, first, "pdf")

	var third map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	pdfObj, ok := third["pdf"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PDFPAY", pdfObj["payload"])

	var fourth map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &fourth))
	assert.Equal(t, "failed to read d.png", fourth["file_error"])
}

func TestWriteResults_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleResult().WriteResults(&buf, FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"file", "success", "payload", "strategy", "page", "elapsed_ms", "error"}, rows[0])
	assert.Equal(t, []string{"a.png", "true", "HELLO", "goqr", "", "1.5", ""}, rows[1])
	assert.Equal(t, "invalid_image: bad header", rows[2][6])
	assert.Equal(t, "3", rows[3][4])
	assert.Equal(t, "false", rows[4][1])
}

func TestWriteResults_UnknownFormat(t *testing.T) {
	err := sampleResult().WriteResults(&bytes.Buffer{}, "xml")
	require.Error(t, err)
	assert.False(t, IsFormat("xml"))
	assert.True(t, IsFormat(FormatCSV))
}

func TestStats_WriteStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleResult().Stats().WriteStats(&buf))

	out := buf.String()
	assert.Contains(t, out, "Total files: 4")
	assert.Contains(t, out, "Found: 2")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Strategy goqr: 1")
	assert.Less(t, strings.Index(out, "Strategy goqr"), strings.Index(out, "Strategy yolo-small"))
}
