package benchmark

import (
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteText prints system information, a per-variant summary and the
// fixtures each variant got wrong.
func (r *Report) WriteText(w io.Writer) error {
	bw := &errWriter{w: w}
	bw.printf("%s\n", strings.Repeat("=", 72))
	bw.printf("QR Cascade Benchmark Results\n")
	bw.printf("%s\n", strings.Repeat("=", 72))
	bw.printf("System Information:\n")
	bw.printf("  GOOS: %s\n  GOARCH: %s\n  NumCPU: %d\n  Go Version: %s\n",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
	bw.printf("  Iterations: %d\n  Total time: %v\n", r.Iterations, r.Duration.Round(time.Millisecond))
	bw.printf("  Memory before: %s\n  Memory after:  %s\n\n", r.MemoryBefore, r.MemoryAfter)
	if bw.err != nil {
		return bw.err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VARIANT\tACCURACY\tMEAN\tP50\tP95\tMAX\tSPEEDUP\tSTRATEGIES")
	for _, s := range r.Summaries() {
		_, _ = fmt.Fprintf(tw, "%s\t%d/%d (%.1f%%)\t%v\t%v\t%v\t%v\t%.2fx\t%s\n",
			s.Variant, s.Correct, s.Runs, s.Accuracy*100,
			round(s.Mean), round(s.P50), round(s.P95), round(s.Max), s.Speedup, strategies(s.ByStrategy))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	bw.printf("\n")
	misses := 0
	for _, fr := range r.Results {
		if c := fr.Correct(); c < len(fr.Samples) {
			if misses == 0 {
				bw.printf("Incorrect fixtures:\n")
			}
			misses++
			bw.printf("  %s / %s: %d/%d correct\n", fr.Variant, fr.Fixture, c, len(fr.Samples))
		}
	}
	return bw.err
}

// WriteCSV writes one row per variant and fixture.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"variant", "fixture", "expected_found", "runs", "correct", "mean_ms", "p95_ms"}); err != nil {
		return err
	}
	for _, fr := range r.Results {
		d := fr.Durations()
		var total time.Duration
		for _, x := range d {
			total += x
		}
		mean := time.Duration(0)
		if len(d) > 0 {
			mean = total / time.Duration(len(d))
		}
		row := []string{
			fr.Variant,
			fr.Fixture,
			strconv.FormatBool(fr.Expected != ""),
			strconv.Itoa(len(fr.Samples)),
			strconv.Itoa(fr.Correct()),
			fmt.Sprintf("%.2f", ms(mean)),
			fmt.Sprintf("%.2f", ms(Percentile(d, 95))),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func strategies(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, ",")
}

func round(d time.Duration) time.Duration {
	return d.Round(10 * time.Microsecond)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
