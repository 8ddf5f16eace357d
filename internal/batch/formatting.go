package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// IsFormat reports whether f names a supported output format.
func IsFormat(f string) bool {
	return f == FormatText || f == FormatJSON || f == FormatCSV
}

// WriteResults writes the items of r to w in the given format. JSON is one
// object per line.
func (r *Result) WriteResults(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, r.Items)
	case FormatCSV:
		return writeCSV(w, r.Items)
	case FormatText:
		return writeText(w, r.Items)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

type jsonItem struct {
	File  string `json:"file"`
	Error string `json:"file_error,omitempty"`
	*pipeline.Result
	PDF *pipeline.PDFResult `json:"pdf,omitempty"`
}

func writeJSON(w io.Writer, items []Item) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		ji := jsonItem{File: it.File, Result: it.Image, PDF: it.PDF}
		if it.Err != nil {
			ji.Error = it.Err.Error()
		}
		if err := enc.Encode(ji); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, items []Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "success", "payload", "strategy", "page", "elapsed_ms", "error"}); err != nil {
		return err
	}
	for _, it := range items {
		page := ""
		if it.PDF != nil && it.PDF.Success {
			page = strconv.Itoa(it.PDF.Page)
		}
		row := []string{
			it.File,
			strconv.FormatBool(it.Found()),
			it.Payload(),
			it.Strategy(),
			page,
			fmt.Sprintf("%.1f", millis(it.Elapsed())),
			itemError(it),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeText writes one tab-separated line per file:
// file, payload or "-", strategy or failure, elapsed.
func writeText(w io.Writer, items []Item) error {
	for _, it := range items {
		var err error
		switch {
		case it.Err != nil:
			_, err = fmt.Fprintf(w, "%s\t-\terror: %s\n", it.File, it.Err)
		case it.Found() && it.PDF != nil:
			_, err = fmt.Fprintf(w, "%s#page=%d\t%s\t%s\t%.1fms\n", it.File, it.PDF.Page, it.Payload(), it.Strategy(), millis(it.Elapsed()))
		case it.Found():
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\t%.1fms\n", it.File, it.Payload(), it.Strategy(), millis(it.Elapsed()))
		default:
			_, err = fmt.Fprintf(w, "%s\t-\t%s\t%.1fms\n", it.File, itemError(it), millis(it.Elapsed()))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// itemError describes why an item has no payload.
func itemError(it Item) string {
	switch {
	case it.Err != nil:
		return it.Err.Error()
	case it.Found():
		return ""
	case it.PDF != nil:
		failure := it.PDF.Failure
		if failure == "" {
			failure = pipeline.FailureNotFound
		}
		return fmt.Sprintf("%s (%d images)", failure, len(it.PDF.Images))
	case it.Image != nil && it.Image.Err != "":
		return fmt.Sprintf("%s: %s", it.Image.Failure, it.Image.Err)
	case it.Image != nil:
		return string(it.Image.Failure)
	}
	return ""
}

// WriteStats writes a human-readable summary.
func (s Stats) WriteStats(w io.Writer) error {
	_, err := fmt.Fprintf(w, `
Processing Statistics:
  Total files: %d
  Found: %d
  Missed: %d
  Failed: %d
  Cached: %d
  Workers: %d
  Duration: %v
  Avg per file: %v
  Throughput: %.1f files/sec
`, s.Total, s.Found, s.Missed, s.Failed, s.Cached, s.WorkerCount,
		s.TotalDuration.Round(time.Millisecond), s.AveragePerFile.Round(time.Millisecond), s.ThroughputPerSec)
	if err != nil {
		return err
	}
	for _, strategy := range slices.Sorted(maps.Keys(s.ByStrategy)) {
		if _, err := fmt.Fprintf(w, "  Strategy %s: %d\n", strategy, s.ByStrategy[strategy]); err != nil {
			return err
		}
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
