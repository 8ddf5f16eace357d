package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// Detector is the part of the pipeline a benchmark drives.
type Detector interface {
	Detect(ctx context.Context, requestID string, data []byte) *pipeline.Result
}

// Variant is one pipeline configuration under test.
type Variant struct {
	Name     string
	Detector Detector
}

// Sample is the outcome of a single Detect call.
type Sample struct {
	Duration time.Duration
	Found    bool
	Correct  bool
	Strategy string
	Cached   bool
}

// FixtureResult collects the samples of one fixture under one variant.
type FixtureResult struct {
	Variant  string
	Fixture  string
	Expected string
	Samples  []Sample
}

// Correct returns the number of samples with the expected outcome.
func (r FixtureResult) Correct() int {
	n := 0
	for _, s := range r.Samples {
		if s.Correct {
			n++
		}
	}
	return n
}

// Durations returns the sample durations in ascending order.
func (r FixtureResult) Durations() []time.Duration {
	out := make([]time.Duration, len(r.Samples))
	for i, s := range r.Samples {
		out[i] = s.Duration
	}
	slices.Sort(out)
	return out
}

// Report holds the results of a benchmark run.
type Report struct {
	Variants     []string
	Results      []FixtureResult
	Iterations   int
	Duration     time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
}

// Run executes every fixture iterations times against each variant. Fixture
// files are read once up front; a missing file aborts the run.
func Run(ctx context.Context, variants []Variant, fixtures []Fixture, iterations int) (*Report, error) {
	if len(variants) == 0 {
		return nil, errors.New("no variants to benchmark")
	}
	if iterations <= 0 {
		iterations = 1
	}

	data := make([][]byte, len(fixtures))
	for i, f := range fixtures {
		b, err := os.ReadFile(f.File)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", f.Name, err)
		}
		data[i] = b
	}

	report := &Report{Iterations: iterations}
	runtime.GC()
	report.MemoryBefore = GetMemoryStats()
	timer := NewTimer("benchmark")

	for _, v := range variants {
		report.Variants = append(report.Variants, v.Name)
		for i, f := range fixtures {
			fr := FixtureResult{Variant: v.Name, Fixture: f.Name, Expected: f.Expected}
			for it := range iterations {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				id := fmt.Sprintf("bench-%s-%s-%d", v.Name, f.Name, it)
				res := v.Detector.Detect(ctx, id, data[i])
				fr.Samples = append(fr.Samples, sampleOf(res, f.Expected))
			}
			slog.Debug("Fixture benchmarked", "variant", v.Name, "fixture", f.Name,
				"correct", fr.Correct(), "iterations", iterations)
			report.Results = append(report.Results, fr)
		}
	}

	report.Duration = timer.Stop()
	report.MemoryAfter = GetMemoryStats()
	return report, nil
}

func sampleOf(res *pipeline.Result, expected string) Sample {
	s := Sample{Duration: res.Elapsed, Found: res.Success, Strategy: res.Strategy, Cached: res.Cached}
	if expected == "" {
		s.Correct = !res.Success
	} else {
		s.Correct = res.Success && res.Payload == expected
	}
	return s
}

// Summary aggregates a variant over all fixtures.
type Summary struct {
	Variant    string
	Runs       int
	Correct    int
	Accuracy   float64
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	Max        time.Duration
	ByStrategy map[string]int
	// Speedup is the baseline mean divided by this variant's mean; the
	// first variant is the baseline.
	Speedup float64
}

// Summaries returns one Summary per variant in run order.
func (r *Report) Summaries() []Summary {
	out := make([]Summary, 0, len(r.Variants))
	for _, v := range r.Variants {
		s := Summary{Variant: v, ByStrategy: map[string]int{}}
		var durations []time.Duration
		var total time.Duration
		for _, fr := range r.Results {
			if fr.Variant != v {
				continue
			}
			for _, sm := range fr.Samples {
				s.Runs++
				total += sm.Duration
				durations = append(durations, sm.Duration)
				if sm.Correct {
					s.Correct++
				}
				if sm.Found {
					s.ByStrategy[sm.Strategy]++
				}
			}
		}
		if s.Runs > 0 {
			s.Accuracy = float64(s.Correct) / float64(s.Runs)
			s.Mean = total / time.Duration(s.Runs)
			slices.Sort(durations)
			s.P50 = Percentile(durations, 50)
			s.P95 = Percentile(durations, 95)
			s.Max = durations[len(durations)-1]
		}
		out = append(out, s)
	}
	if len(out) > 0 && out[0].Mean > 0 {
		for i := range out {
			if out[i].Mean > 0 {
				out[i].Speedup = float64(out[0].Mean) / float64(out[i].Mean)
			}
		}
	}
	return out
}

// Percentile returns the nearest-rank percentile of sorted durations.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
