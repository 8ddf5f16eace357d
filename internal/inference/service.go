// Package inference is the out-of-process QR detection service the
// pipeline's remote stage calls. A request moves through
//
//	received -> preprocessing -> classical -> small-model -> medium-model -> success | failure
//
// and stops at the first strategy that yields a payload. Model handles come
// from one Registry shared by all requests.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/preprocess"
)

// State is a step of a detect request.
type State string

const (
	StateReceived      State = "received"
	StatePreprocessing State = "preprocessing"
	StateClassical     State = "classical"
	StateSuccess       State = "success"
	StateFailure       State = "failure"
)

// modelState names the state for a detector variant, e.g. "small-model".
func modelState(variant string) State { return State(variant + "-model") }

// Classical strategy names.
const (
	StrategyBinary = "classical-binary"
	StrategyGray   = "classical-gray"
)

// Config holds service settings.
type Config struct {
	Decoders              []string // native backends for the classical stage
	Variants              []string // detector variants in escalation order (default: small, medium)
	Preload               []string // variants loaded at startup (default: small)
	SmallAcceptConfidence float32  // small-model results need a box confidence above this (default: 0.65)
	MaxDimension          int      // longest side before the ML stages (default: 2048)
	MaxUploadBytes        int64    // request body limit (default: 20 MiB)
}

// DefaultConfig returns service defaults.
func DefaultConfig() Config {
	return Config{
		Decoders:              barcode.DefaultNames(),
		Variants:              []string{models.VariantSmall, models.VariantMedium},
		Preload:               []string{models.VariantSmall},
		SmallAcceptConfidence: 0.65,
		MaxDimension:          2048,
		MaxUploadBytes:        20 << 20,
	}
}

// Detection is the outcome of one request.
type Detection struct {
	State      State
	Found      bool
	Payload    string
	Model      string // decoder name or detector variant that produced Payload
	Confidence float32
	Stages     []string // strategies tried, in order
}

// Service runs the server-side cascade.
type Service struct {
	cfg      Config
	cascade  *barcode.Cascade
	registry *detector.Registry
	tier     *detector.Tier
	started  time.Time
}

// New builds a service over registry.
func New(cfg Config, registry *detector.Registry) (*Service, error) {
	d := DefaultConfig()
	if len(cfg.Variants) == 0 {
		cfg.Variants = d.Variants
	}
	if cfg.SmallAcceptConfidence <= 0 {
		cfg.SmallAcceptConfidence = d.SmallAcceptConfidence
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = d.MaxDimension
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = d.MaxUploadBytes
	}
	for _, v := range cfg.Preload {
		if !models.IsVariant(v) {
			return nil, fmt.Errorf("unknown preload variant %q", v)
		}
	}

	cascade, err := barcode.NewCascadeFromNames(cfg.Decoders)
	if err != nil {
		return nil, fmt.Errorf("init classical decoders: %w", err)
	}
	tier, err := detector.NewTier(registry, cfg.Variants, detector.NewRegionDecoder(cascade.Cheapest(2)...))
	if err != nil {
		return nil, fmt.Errorf("init detector tier: %w", err)
	}
	cfg.Variants = tier.Variants()
	return &Service{cfg: cfg, cascade: cascade, registry: registry, tier: tier, started: time.Now()}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Preload loads the startup variants. Failures leave the service reporting
// unhealthy; lazily loaded variants are unaffected.
func (s *Service) Preload() error {
	start := time.Now()
	err := s.registry.Preload(s.cfg.Preload...)
	if err != nil {
		slog.Error("Model preload failed", "variants", s.cfg.Preload, "error", err)
		return err
	}
	slog.Info("Models preloaded", "variants", s.cfg.Preload, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Readiness of the preloaded variants.
const (
	StatusHealthy   = "healthy"
	StatusLoading   = "loading"
	StatusUnhealthy = "unhealthy"
)

// Status reports whether every preload variant is ready.
func (s *Service) Status() string {
	for _, v := range s.cfg.Preload {
		switch s.registry.State(v) {
		case detector.StateFailed:
			return StatusUnhealthy
		case detector.StateLoaded:
		default:
			return StatusLoading
		}
	}
	return StatusHealthy
}

// Models reports which configured variants are loaded.
func (s *Service) Models() map[string]bool {
	out := make(map[string]bool, len(s.cfg.Variants))
	for _, v := range s.cfg.Variants {
		out[v] = s.registry.Loaded(v)
	}
	return out
}

func (s *Service) acceptThreshold(variant string) float32 {
	if variant == models.VariantSmall {
		return s.cfg.SmallAcceptConfidence
	}
	return 0
}

// Detect runs the cascade on img. The error is non-nil only when ctx ends.
func (s *Service) Detect(ctx context.Context, img image.Image) (Detection, error) {
	d := Detection{State: StateReceived}
	advance := func(next State) {
		slog.Debug("Inference state", "from", d.State, "to", next)
		d.State = next
	}

	advance(StatePreprocessing)
	if err := ctx.Err(); err != nil {
		return d, err
	}
	binary := preprocess.Binarize(img)

	advance(StateClassical)
	classical := []struct {
		strategy string
		img      func() image.Image
	}{
		{StrategyBinary, func() image.Image { return binary }},
		{StrategyGray, func() image.Image { return preprocess.ToGray(img) }},
	}
	for _, c := range classical {
		start := time.Now()
		out, err := s.cascade.Run(ctx, c.img())
		d.Stages = append(d.Stages, c.strategy)
		record(c.strategy, out.Found, time.Since(start))
		if err != nil {
			return d, err
		}
		if out.Found {
			d.Found, d.Payload, d.Model = true, out.Payload, out.Decoder
			advance(StateSuccess)
			return d, nil
		}
	}

	scaled := limitSize(img, s.cfg.MaxDimension)
	for _, v := range s.cfg.Variants {
		advance(modelState(v))
		a, err := s.tier.RunVariant(ctx, v, scaled)
		d.Stages = append(d.Stages, v)
		if err != nil {
			record(v, false, a.Elapsed)
			return d, err
		}
		if a.Err != nil && errors.Is(a.Err, detector.ErrModelUnavailable) {
			slog.Warn("Model unavailable, escalating", "variant", v, "error", a.Err)
		}
		threshold := s.acceptThreshold(v)
		accepted := a.Success && a.Confidence > threshold
		record(v, accepted, a.Elapsed)
		if a.Success && !accepted {
			slog.Debug("Rejected low-confidence decode", "variant", v, "confidence", a.Confidence, "threshold", threshold)
		}
		if accepted {
			d.Found, d.Payload, d.Model, d.Confidence = true, a.Payload, v, a.Confidence
			advance(StateSuccess)
			return d, nil
		}
	}
	advance(StateFailure)
	return d, nil
}

func record(strategy string, success bool, elapsed time.Duration) {
	strategyAttempts.WithLabelValues(strategy).Inc()
	strategyDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if success {
		strategySuccesses.WithLabelValues(strategy).Inc()
	}
}

// limitSize scales img down so its longer side is at most maxSide.
func limitSize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}
