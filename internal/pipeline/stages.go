package pipeline

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/fallback"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/preprocess"
)

// StageSpec describes a stage. Stages run in ascending Cost order.
type StageSpec struct {
	Name string
	Tier string
	Cost time.Duration
}

// StageOutcome is what a stage reports back to the orchestrator.
type StageOutcome struct {
	Attempts []Attempt
	Payload  string
	Strategy string
	Found    bool
}

// Stage is one tier of the cascade. Run returns a non-nil error only when
// ctx ended; every other failure is recorded as an unsuccessful attempt.
type Stage interface {
	Spec() StageSpec
	Run(ctx context.Context, in *Input) (StageOutcome, error)
}

// Input carries one request's image through the stages. The binarized
// buffer is computed on first use and shared afterwards.
type Input struct {
	Data  []byte
	Image image.Image

	binOnce sync.Once
	binary  *image.Gray
}

// NewInput wraps decoded image data.
func NewInput(data []byte, img image.Image) *Input {
	return &Input{Data: data, Image: img}
}

// Binary returns the preprocessed luma buffer.
func (in *Input) Binary() *image.Gray {
	in.binOnce.Do(func() { in.binary = preprocess.Binarize(in.Image) })
	return in.binary
}

// tierRank fixes the escalation order between tiers. Unknown tiers run after
// the in-process ones and before remote.
func tierRank(tier string) int {
	switch tier {
	case TierNative:
		return 0
	case TierML:
		return 1
	case TierRemote:
		return 3
	default:
		return 2
	}
}

// SortStages orders stages by tier, then by ascending cost within a tier,
// keeping the given order for ties.
func SortStages(stages []Stage) {
	sort.SliceStable(stages, func(i, j int) bool {
		a, b := stages[i].Spec(), stages[j].Spec()
		if ra, rb := tierRank(a.Tier), tierRank(b.Tier); ra != rb {
			return ra < rb
		}
		return a.Cost < b.Cost
	})
}

// runStage isolates a stage so a panic becomes an unsuccessful attempt.
func runStage(ctx context.Context, st Stage, in *Input) (out StageOutcome, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			spec := st.Spec()
			a := newAttempt(spec.Tier, spec.Name, time.Since(start))
			a.Err = fmt.Sprintf("stage %s panicked: %v", spec.Name, r)
			out = StageOutcome{Attempts: append(out.Attempts, a)}
			err = nil
		}
	}()
	return st.Run(ctx, in)
}

// NativeStage runs the classical decoder cascade on the binarized image.
type NativeStage struct {
	cascade *barcode.Cascade
}

// NewNativeStage wraps a decoder cascade.
func NewNativeStage(c *barcode.Cascade) *NativeStage { return &NativeStage{cascade: c} }

func (s *NativeStage) Spec() StageSpec {
	return StageSpec{Name: TierNative, Tier: TierNative, Cost: s.cascade.ExpectedCost()}
}

func (s *NativeStage) Run(ctx context.Context, in *Input) (StageOutcome, error) {
	res, err := s.cascade.Run(ctx, in.Binary())
	out := StageOutcome{Attempts: make([]Attempt, 0, len(res.Attempts))}
	for _, a := range res.Attempts {
		pa := newAttempt(TierNative, a.Decoder, a.Elapsed)
		pa.Success = a.Success
		pa.Err = errString(a.Err)
		if a.Success {
			pa.Payload = res.Payload
		}
		out.Attempts = append(out.Attempts, pa)
	}
	if res.Found {
		out.Found, out.Payload, out.Strategy = true, res.Payload, res.Decoder
	}
	return out, err
}

// MLStage runs the YOLO detector tier on the original image.
type MLStage struct {
	tier *detector.Tier
}

// NewMLStage wraps a detector tier.
func NewMLStage(t *detector.Tier) *MLStage { return &MLStage{tier: t} }

func (s *MLStage) Spec() StageSpec {
	var cost time.Duration
	for _, v := range s.tier.Variants() {
		if info, ok := models.Lookup(v); ok {
			cost += info.ExpectedLatency
		}
	}
	return StageSpec{Name: TierML, Tier: TierML, Cost: cost}
}

func (s *MLStage) Run(ctx context.Context, in *Input) (StageOutcome, error) {
	res, err := s.tier.Run(ctx, in.Image)
	out := StageOutcome{Attempts: make([]Attempt, 0, len(res.Attempts))}
	for _, a := range res.Attempts {
		pa := newAttempt(TierML, StrategyMLPrefix+a.Variant, a.Elapsed)
		pa.Success, pa.Payload, pa.Err = a.Success, a.Payload, errString(a.Err)
		out.Attempts = append(out.Attempts, pa)
	}
	if res.Found {
		out.Found, out.Payload, out.Strategy = true, res.Payload, StrategyMLPrefix+res.Variant
	}
	return out, err
}

// Fallback is the remote inference client as seen by the pipeline.
type Fallback interface {
	Detect(ctx context.Context, data []byte) fallback.Outcome
	Timeout() time.Duration
}

// RemoteStage posts the original bytes to the inference service.
type RemoteStage struct {
	client Fallback
}

// NewRemoteStage wraps a fallback client.
func NewRemoteStage(c Fallback) *RemoteStage { return &RemoteStage{client: c} }

func (s *RemoteStage) Spec() StageSpec {
	return StageSpec{Name: TierRemote, Tier: TierRemote, Cost: s.client.Timeout()}
}

func (s *RemoteStage) Run(ctx context.Context, in *Input) (StageOutcome, error) {
	o := s.client.Detect(ctx, in.Data)
	strategy := o.Strategy
	if strategy == "" {
		strategy = fallback.StrategyPrefix
	}
	a := newAttempt(TierRemote, strategy, o.Elapsed)
	a.Success, a.Payload = o.Found, o.Payload
	if !o.Found {
		a.Err = string(o.Reason)
		if o.Err != nil {
			a.Err = fmt.Sprintf("%s: %v", o.Reason, o.Err)
		}
	}
	out := StageOutcome{Attempts: []Attempt{a}}
	if o.Found {
		out.Found, out.Payload, out.Strategy = true, o.Payload, strategy
		return out, nil
	}
	if o.Reason == fallback.ReasonCancelled {
		return out, ctx.Err()
	}
	return out, nil
}
