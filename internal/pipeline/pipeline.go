// Package pipeline orchestrates QR extraction: image decode, then the
// native decoder cascade, the ML detector tier and the remote fallback, in
// ascending cost order, stopping at the first stage that yields a payload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/cache"
	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/fallback"
	"github.com/MeKo-Tech/qrcascade/internal/imageio"
	"github.com/MeKo-Tech/qrcascade/internal/models"
)

// regionDecoders is how many of the cheapest native decoders read ML crops.
const regionDecoders = 2

// NativeConfig controls the classical decoder stage.
type NativeConfig struct {
	Enabled  bool
	Decoders []string // backend names; empty means all in default order
}

// MLConfig controls the detector stage.
type MLConfig struct {
	Enabled  bool
	Detector detector.Config
}

// Config holds configuration for the pipeline and its stages.
type Config struct {
	ModelsDir  string
	Native     NativeConfig
	ML         MLConfig
	Fallback   fallback.Config
	Cache      cache.Config
	MaxWorkers int // CPU-bound concurrency; 0 = NumCPU
}

// DefaultConfig returns a pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.GetModelsDir(""),
		Native:    NativeConfig{Enabled: true, Decoders: barcode.DefaultNames()},
		ML:        MLConfig{Enabled: true, Detector: detector.DefaultConfig()},
		Fallback: fallback.Config{
			Enabled:   true,
			URL:       "http://127.0.0.1:8008",
			Timeout:   3 * time.Second,
			HealthTTL: 30 * time.Second,
		},
		Cache: cache.Config{
			Backend:    cache.BackendMemory,
			TTL:        30 * time.Minute,
			MaxEntries: 1024,
		},
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	stages   []Stage
	registry *detector.Registry
	fallback Fallback
	cache    cache.Cache
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing config.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the directory holding detector models.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithNative enables or disables the classical decoder stage.
func (b *Builder) WithNative(enabled bool) *Builder {
	b.cfg.Native.Enabled = enabled
	return b
}

// WithDecoders selects native backends by name.
func (b *Builder) WithDecoders(names []string) *Builder {
	if len(names) > 0 {
		b.cfg.Native.Decoders = names
	}
	return b
}

// WithML enables or disables the detector stage.
func (b *Builder) WithML(enabled bool) *Builder {
	b.cfg.ML.Enabled = enabled
	return b
}

// WithVariants selects detector variants.
func (b *Builder) WithVariants(variants []string) *Builder {
	if len(variants) > 0 {
		b.cfg.ML.Detector.Variants = variants
	}
	return b
}

// WithMinConfidence sets the detector box threshold.
func (b *Builder) WithMinConfidence(c float32) *Builder {
	if c > 0 {
		b.cfg.ML.Detector.MinConfidence = c
	}
	return b
}

// WithThreads sets ONNX intra-op threads (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.ML.Detector.NumThreads = n
	}
	return b
}

// WithWarmupIterations sets warmup passes run after each model load.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.ML.Detector.Warmup = n
	}
	return b
}

// WithGPU enables CUDA for detector sessions.
func (b *Builder) WithGPU(enabled bool, deviceID int) *Builder {
	b.cfg.ML.Detector.GPU.UseGPU = enabled
	b.cfg.ML.Detector.GPU.DeviceID = deviceID
	return b
}

// WithFallbackURL enables the remote stage against url.
func (b *Builder) WithFallbackURL(url string, timeout time.Duration) *Builder {
	b.cfg.Fallback.Enabled = url != ""
	b.cfg.Fallback.URL = url
	if timeout > 0 {
		b.cfg.Fallback.Timeout = timeout
	}
	return b
}

// WithoutFallback drops the remote stage.
func (b *Builder) WithoutFallback() *Builder {
	b.cfg.Fallback.Enabled = false
	b.fallback = nil
	return b
}

// WithMaxWorkers bounds CPU-bound concurrency.
func (b *Builder) WithMaxWorkers(n int) *Builder {
	if n >= 0 {
		b.cfg.MaxWorkers = n
	}
	return b
}

// WithCacheConfig configures the result cache.
func (b *Builder) WithCacheConfig(c cache.Config) *Builder {
	b.cfg.Cache = c
	return b
}

// WithCache uses an existing cache backend.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithRegistry shares a model registry instead of creating one.
func (b *Builder) WithRegistry(r *detector.Registry) *Builder {
	b.registry = r
	return b
}

// WithFallback uses an existing remote client.
func (b *Builder) WithFallback(f Fallback) *Builder {
	b.fallback = f
	return b
}

// WithStages replaces the configured stages entirely.
func (b *Builder) WithStages(stages ...Stage) *Builder {
	b.stages = append([]Stage{}, stages...)
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the configuration looks sane.
func (b *Builder) Validate() error {
	if b.stages != nil {
		if len(b.stages) == 0 {
			return errors.New("no stages configured")
		}
		return nil
	}
	c := b.cfg
	if !c.Native.Enabled && !c.ML.Enabled && !c.Fallback.Enabled && b.fallback == nil {
		return errors.New("at least one stage must be enabled")
	}
	for _, name := range c.Native.Decoders {
		if !barcode.IsKnown(name) {
			return fmt.Errorf("unknown decoder %q", name)
		}
	}
	if c.ML.Enabled {
		if _, err := models.SortVariants(c.ML.Detector.Variants); err != nil {
			return err
		}
		if m := c.ML.Detector.MinConfidence; m < 0 || m > 1 {
			return fmt.Errorf("min confidence must be in [0,1], got %v", m)
		}
	}
	if c.Fallback.Enabled && b.fallback == nil && c.Fallback.Timeout <= 0 {
		return errors.New("fallback timeout must be positive")
	}
	return nil
}

// Build validates the config and wires the stages.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: b.cfg, pool: NewWorkerPool(b.cfg.MaxWorkers), cache: b.cache}

	stages := b.stages
	if stages == nil {
		var err error
		if stages, err = b.buildStages(p); err != nil {
			return nil, err
		}
	}
	p.stages = append([]Stage(nil), stages...)
	SortStages(p.stages)

	if p.cache == nil {
		c, err := cache.New(b.cfg.Cache)
		switch {
		case errors.Is(err, cache.ErrDisabled):
		case err != nil:
			_ = p.Close()
			return nil, fmt.Errorf("init cache: %w", err)
		default:
			p.cache, p.ownsCache = c, true
		}
	}
	return p, nil
}

func (b *Builder) buildStages(p *Pipeline) ([]Stage, error) {
	var stages []Stage
	cascade, err := barcode.NewCascadeFromNames(b.cfg.Native.Decoders)
	if err != nil {
		return nil, fmt.Errorf("init native decoders: %w", err)
	}
	if b.cfg.Native.Enabled {
		stages = append(stages, NewNativeStage(cascade))
	}

	if b.cfg.ML.Enabled {
		reg := b.registry
		if reg == nil {
			dc := b.cfg.ML.Detector
			dc.ModelsDir = b.cfg.ModelsDir
			reg = detector.NewRegistry(detector.ONNXLoader(dc))
			p.ownsRegistry = true
		}
		p.registry = reg
		tier, err := detector.NewTier(reg, b.cfg.ML.Detector.Variants,
			detector.NewRegionDecoder(cascade.Cheapest(regionDecoders)...))
		if err != nil {
			return nil, fmt.Errorf("init detector tier: %w", err)
		}
		stages = append(stages, NewMLStage(tier))
	}

	client := b.fallback
	if client == nil && b.cfg.Fallback.Enabled {
		c, err := fallback.New(b.cfg.Fallback)
		if err != nil {
			return nil, fmt.Errorf("init fallback client: %w", err)
		}
		client = c
	}
	if client != nil {
		stages = append(stages, NewRemoteStage(client))
	}
	if len(stages) == 0 {
		return nil, errors.New("no stages enabled")
	}
	return stages, nil
}

// Pipeline runs the detection cascade. It is safe for concurrent use.
type Pipeline struct {
	cfg          Config
	stages       []Stage
	pool         *WorkerPool
	registry     *detector.Registry
	ownsRegistry bool
	cache        cache.Cache
	ownsCache    bool
}

// Stages returns stage specs in execution order.
func (p *Pipeline) Stages() []StageSpec {
	out := make([]StageSpec, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Spec()
	}
	return out
}

// Registry returns the model registry, or nil when the ML stage is off.
func (p *Pipeline) Registry() *detector.Registry { return p.registry }

// Pool returns the worker pool.
func (p *Pipeline) Pool() *WorkerPool { return p.pool }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns key pipeline properties.
func (p *Pipeline) Info() map[string]any {
	stages := make([]map[string]any, 0, len(p.stages))
	for _, s := range p.Stages() {
		stages = append(stages, map[string]any{"name": s.Name, "tier": s.Tier, "cost_ms": s.Cost.Milliseconds()})
	}
	info := map[string]any{
		"models_dir": p.cfg.ModelsDir,
		"stages":     stages,
		"pool":       p.pool.Stats(),
		"cache":      p.cache != nil,
	}
	if p.registry != nil {
		info["models"] = p.registry.Status()
	}
	return info
}

// Close releases owned resources.
func (p *Pipeline) Close() error {
	var errs []error
	if p.ownsRegistry && p.registry != nil {
		errs = append(errs, p.registry.Close())
		p.registry = nil
	}
	if p.ownsCache && p.cache != nil {
		errs = append(errs, p.cache.Close())
		p.cache = nil
	}
	return errors.Join(errs...)
}

// Detect extracts a QR payload from encoded image bytes. It never returns
// nil and never panics on malformed input; an empty requestID is replaced
// by a generated one.
func (p *Pipeline) Detect(ctx context.Context, requestID string, data []byte) *Result {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	start := time.Now()
	res := &Result{RequestID: requestID, Attempts: []Attempt{}}
	defer func() { p.finish(res, start) }()

	if ctx.Err() != nil {
		res.Failure, res.Err = FailureCancelled, ctx.Err().Error()
		return res
	}

	var key string
	if p.cache != nil {
		key = cache.Key(data)
		if e := p.lookup(ctx, key); e != nil {
			res.Success, res.Payload, res.Strategy, res.Cached = true, e.Payload, e.Strategy, true
			return res
		}
	}

	if err := p.pool.Acquire(ctx); err != nil {
		res.Failure, res.Err = FailureCancelled, err.Error()
		return res
	}
	held := true
	release := func() {
		if held {
			p.pool.Release()
			held = false
		}
	}
	defer release()

	img, err := imageio.DecodeBytes(data)
	if err != nil {
		res.Failure, res.Err = FailureInvalidImage, err.Error()
		return res
	}
	in := NewInput(data, img)

	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			res.Failure, res.Err = FailureCancelled, err.Error()
			return res
		}
		spec := st.Spec()
		if spec.Tier == TierRemote {
			release()
		}
		out, err := runStage(ctx, st, in)
		res.Attempts = append(res.Attempts, out.Attempts...)
		if err != nil {
			res.Failure, res.Err = FailureCancelled, err.Error()
			return res
		}
		if out.Found {
			res.Success, res.Payload, res.Strategy = true, out.Payload, out.Strategy
			p.store(ctx, key, res)
			return res
		}
		slog.Debug("Stage found nothing", "request_id", requestID, "stage", spec.Name, "attempts", len(out.Attempts))
	}
	res.Failure = FailureNotFound
	return res
}

func (p *Pipeline) lookup(ctx context.Context, key string) *cache.Entry {
	e, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		slog.Warn("Cache lookup failed", "error", err)
		return nil
	case e == nil:
		cacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return e
}

func (p *Pipeline) store(ctx context.Context, key string, res *Result) {
	if p.cache == nil || key == "" {
		return
	}
	e := cache.Entry{Payload: res.Payload, Strategy: res.Strategy, StoredAt: time.Now()}
	if err := p.cache.Set(ctx, key, e); err != nil {
		slog.Warn("Cache store failed", "request_id", res.RequestID, "error", err)
	}
}

func (p *Pipeline) finish(res *Result, start time.Time) {
	res.Elapsed = time.Since(start)
	res.ElapsedMs = millis(res.Elapsed)

	for _, a := range res.Attempts {
		result := "failure"
		if a.Success {
			result = "success"
		}
		attemptsTotal.WithLabelValues(a.Tier, a.Strategy, result).Inc()
		attemptDuration.WithLabelValues(a.Tier).Observe(a.Elapsed.Seconds())
	}

	outcome := string(res.Failure)
	switch {
	case res.Cached:
		outcome = "cached"
	case res.Success:
		outcome = "success"
	}
	detectionsTotal.WithLabelValues(outcome).Inc()
	detectionDuration.Observe(res.Elapsed.Seconds())

	attrs := []any{
		"request_id", res.RequestID,
		"strategy", res.Strategy,
		"elapsed_ms", res.ElapsedMs,
		"attempts", len(res.Attempts),
	}
	switch res.Failure {
	case FailureNone:
		slog.Info("QR detected", append(attrs, "cached", res.Cached)...)
	case FailureInvalidImage:
		slog.Info("Invalid image", append(attrs, "error", res.Err)...)
	default:
		slog.Info("No QR detected", append(attrs, "failure", res.Failure)...)
	}
}
