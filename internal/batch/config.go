package batch

import (
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/pdf"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// Config holds all configuration for a batch run.
type Config struct {
	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Workers is the number of files in flight. The pipeline's own worker
	// pool still bounds CPU-bound detections.
	Workers int

	// ForcePDF treats every input as a PDF regardless of extension.
	ForcePDF bool
	PDF      pdf.Options

	// RequestID, when set, prefixes the per-file request IDs.
	RequestID string
}

// Item is the outcome for one input file. Exactly one of Image, PDF and Err
// is set.
type Item struct {
	File  string
	Image *pipeline.Result
	PDF   *pipeline.PDFResult
	Err   error
}

// Found reports whether the file yielded a payload.
func (it Item) Found() bool {
	switch {
	case it.Image != nil:
		return it.Image.Success
	case it.PDF != nil:
		return it.PDF.Success
	}
	return false
}

// Payload returns the decoded payload or "".
func (it Item) Payload() string {
	switch {
	case it.Image != nil:
		return it.Image.Payload
	case it.PDF != nil:
		return it.PDF.Payload
	}
	return ""
}

// Strategy returns the strategy that produced the payload.
func (it Item) Strategy() string {
	switch {
	case it.Image != nil:
		return it.Image.Strategy
	case it.PDF != nil:
		return it.PDF.Strategy
	}
	return ""
}

// Elapsed returns the wall time spent on the file.
func (it Item) Elapsed() time.Duration {
	switch {
	case it.Image != nil:
		return it.Image.Elapsed
	case it.PDF != nil:
		return it.PDF.Elapsed
	}
	return 0
}

// Result holds the items of a batch run in input order.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Stats summarizes a batch run.
type Stats struct {
	Total            int           `json:"total"`
	Found            int           `json:"found"`
	Missed           int           `json:"missed"`
	Failed           int           `json:"failed"`
	Cached           int           `json:"cached"`
	WorkerCount      int           `json:"workers"`
	TotalDuration    time.Duration `json:"-"`
	AveragePerFile   time.Duration `json:"-"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
	// ByStrategy counts successful files per winning strategy.
	ByStrategy map[string]int `json:"by_strategy"`
}

// Stats computes summary statistics.
func (r *Result) Stats() Stats {
	s := Stats{Total: len(r.Items), WorkerCount: r.WorkerCount, TotalDuration: r.Duration, ByStrategy: map[string]int{}}
	for _, it := range r.Items {
		switch {
		case it.Err != nil:
			s.Failed++
		case it.Found():
			s.Found++
			s.ByStrategy[it.Strategy()]++
			if it.Image != nil && it.Image.Cached {
				s.Cached++
			}
		default:
			s.Missed++
		}
	}
	if s.Total > 0 {
		s.AveragePerFile = r.Duration / time.Duration(s.Total)
	}
	if secs := r.Duration.Seconds(); secs > 0 {
		s.ThroughputPerSec = float64(s.Total) / secs
	}
	return s
}
