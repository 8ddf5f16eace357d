package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"time"
)

// Stage is one decoder plus its expected cost.
type Stage struct {
	Decoder Decoder
	Cost    time.Duration
}

// Attempt records a single decoder invocation.
type Attempt struct {
	Decoder string
	Success bool
	Elapsed time.Duration
	Err     error
}

// Outcome is the result of a cascade run. Found is false when every decoder
// reported no match; that is not an error.
type Outcome struct {
	Payload  string
	Decoder  string
	Found    bool
	Attempts []Attempt
}

// Cascade tries decoders cheapest first and stops at the first success.
type Cascade struct {
	stages []Stage
}

// NewCascade builds a cascade. Stages are sorted by ascending cost; equal
// costs keep their given order.
func NewCascade(stages ...Stage) *Cascade {
	s := make([]Stage, 0, len(stages))
	for _, st := range stages {
		if st.Decoder != nil {
			s = append(s, st)
		}
	}
	sort.SliceStable(s, func(i, j int) bool { return s[i].Cost < s[j].Cost })
	return &Cascade{stages: s}
}

// NewCascadeFromNames resolves backend names. Backends missing from this
// build are skipped with a log line; unknown names are an error.
func NewCascadeFromNames(names []string) (*Cascade, error) {
	if len(names) == 0 {
		names = DefaultNames()
	}
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		spec, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown decoder %q", name)
		}
		dec, err := spec.New()
		if errors.Is(err, ErrUnavailable) {
			slog.Debug("Decoder not available in this build", "decoder", name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create decoder %s: %w", name, err)
		}
		stages = append(stages, Stage{Decoder: dec, Cost: spec.Cost})
	}
	if len(stages) == 0 {
		return nil, errors.New("no decoders available")
	}
	return NewCascade(stages...), nil
}

// Names returns decoder names in execution order.
func (c *Cascade) Names() []string {
	out := make([]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.Decoder.Name()
	}
	return out
}

// Len returns the number of decoders.
func (c *Cascade) Len() int { return len(c.stages) }

// Fastest returns the cheapest decoder, or nil for an empty cascade.
func (c *Cascade) Fastest() Decoder {
	if len(c.stages) == 0 {
		return nil
	}
	return c.stages[0].Decoder
}

// Cheapest returns up to n decoders in execution order.
func (c *Cascade) Cheapest(n int) []Decoder {
	n = min(max(n, 0), len(c.stages))
	out := make([]Decoder, n)
	for i := range n {
		out[i] = c.stages[i].Decoder
	}
	return out
}

// ExpectedCost sums the per-decoder cost estimates.
func (c *Cascade) ExpectedCost() time.Duration {
	var total time.Duration
	for _, s := range c.stages {
		total += s.Cost
	}
	return total
}

// Run tries each decoder once. The returned error is non-nil only when ctx
// ends before a decoder succeeds.
func (c *Cascade) Run(ctx context.Context, img image.Image) (Outcome, error) {
	out := Outcome{Attempts: make([]Attempt, 0, len(c.stages))}
	for _, s := range c.stages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := s.Decoder.Name()
		start := time.Now()
		payload, err := SafeDecode(ctx, s.Decoder, img)
		a := Attempt{Decoder: name, Elapsed: time.Since(start)}
		if err == nil {
			a.Success = true
			out.Attempts = append(out.Attempts, a)
			out.Payload, out.Decoder, out.Found = payload, name, true
			return out, nil
		}
		a.Err = err
		out.Attempts = append(out.Attempts, a)
		if !errors.Is(err, ErrNotFound) {
			slog.Debug("Decoder failed", "decoder", name, "error", err)
		}
	}
	return out, nil
}

// SafeDecode invokes d and converts a panic inside the backend into an
// error. Several backends index past slice bounds on malformed symbols.
func SafeDecode(ctx context.Context, d Decoder, img image.Image) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = ""
			err = fmt.Errorf("decoder %s panicked: %v", d.Name(), r)
		}
	}()
	payload, err = d.Decode(ctx, img)
	if err == nil && payload == "" {
		err = ErrNotFound
	}
	return payload, err
}
