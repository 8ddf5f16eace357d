package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/qrcascade/internal/models"
)

// ErrModelUnavailable marks a variant whose load failed or that is unknown.
var ErrModelUnavailable = errors.New("detector: model unavailable")

// Loader creates the Model for a variant. It is called at most once per
// variant by a Registry.
type Loader func(variant string) (Model, error)

// ONNXLoader returns a Loader that builds ONNX handles with cfg and runs
// cfg.Warmup warmup passes after each load.
func ONNXLoader(cfg Config) Loader {
	return func(variant string) (Model, error) {
		h, err := NewHandle(variant, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Warmup > 0 {
			if err := h.Warmup(cfg.Warmup); err != nil {
				slog.Warn("Detector warmup failed", "variant", variant, "error", err)
			}
		}
		return h, nil
	}
}

type slot struct {
	once  sync.Once
	done  chan struct{}
	model Model
	err   error
	loads atomic.Int32
}

// Registry hands out one shared Model per variant. Concurrent callers for a
// variant that is still loading wait for that load; a failed load is
// remembered and returned to every later caller.
type Registry struct {
	load Loader

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

// NewRegistry creates a registry backed by load.
func NewRegistry(load Loader) *Registry {
	return &Registry{load: load, slots: make(map[string]*slot)}
}

func (r *Registry) slot(variant string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[variant]
	if !ok {
		s = &slot{done: make(chan struct{})}
		r.slots[variant] = s
	}
	return s
}

// Get returns the model for variant, loading it on first use.
func (r *Registry) Get(variant string) (Model, error) {
	if !models.IsVariant(variant) {
		return nil, fmt.Errorf("%w: unknown variant %q", ErrModelUnavailable, variant)
	}
	if r.isClosed() {
		return nil, closedError(variant)
	}
	s := r.slot(variant)
	s.once.Do(func() {
		defer close(s.done)
		s.loads.Add(1)
		m, err := r.load(variant)
		if err != nil {
			slog.Error("Detector model failed to load; variant disabled", "variant", variant, "error", err)
			s.err = fmt.Errorf("%w: %s: %w", ErrModelUnavailable, variant, err)
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = m.Close()
			s.err = closedError(variant)
			return
		}
		s.model = m
		r.mu.Unlock()
		slog.Info("Detector model loaded", "variant", variant)
	})
	if r.isClosed() {
		return nil, closedError(variant)
	}
	return s.model, s.err
}

func closedError(variant string) error {
	return fmt.Errorf("%w: %s: registry closed", ErrModelUnavailable, variant)
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Preload loads the given variants and returns the joined load errors.
func (r *Registry) Preload(variants ...string) error {
	var errs []error
	for _, v := range variants {
		if _, err := r.Get(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadCount reports how many times the loader ran for variant.
func (r *Registry) LoadCount(variant string) int {
	r.mu.Lock()
	s, ok := r.slots[variant]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return int(s.loads.Load())
}

// Loaded reports whether variant has a ready model.
func (r *Registry) Loaded(variant string) bool {
	return r.State(variant) == StateLoaded
}

// Variant load states.
const (
	StateNotLoaded = "not_loaded"
	StateLoading   = "loading"
	StateLoaded    = "loaded"
	StateFailed    = "failed"
)

// State returns the load state of variant.
func (r *Registry) State(variant string) string {
	r.mu.Lock()
	s, ok := r.slots[variant]
	closed := r.closed
	r.mu.Unlock()
	if !ok || closed || s.loads.Load() == 0 {
		return StateNotLoaded
	}
	select {
	case <-s.done:
	default:
		return StateLoading
	}
	if s.err != nil {
		return StateFailed
	}
	return StateLoaded
}

// Status returns the state of every variant the registry has seen.
func (r *Registry) Status() map[string]string {
	r.mu.Lock()
	names := make([]string, 0, len(r.slots))
	for v := range r.slots {
		names = append(names, v)
	}
	r.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, v := range names {
		out[v] = r.State(v)
	}
	return out
}

// Close releases every loaded model. Later Get calls return
// ErrModelUnavailable.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for v, s := range r.slots {
		if s.model == nil {
			continue
		}
		if err := s.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", v, err))
		}
	}
	return errors.Join(errs...)
}
