package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/barcode"
	"github.com/MeKo-Tech/qrcascade/internal/cache"
	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/fallback"
	"github.com/MeKo-Tech/qrcascade/internal/inference"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/onnx"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
	"github.com/MeKo-Tech/qrcascade/internal/server"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	det := pc.ML.Detector
	ic := inference.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Native: NativeConfig{
			Enabled:  pc.Native.Enabled,
			Decoders: pc.Native.Decoders,
		},
		ML: MLConfig{
			Enabled:       pc.ML.Enabled,
			Variants:      det.Variants,
			MinConfidence: float64(det.MinConfidence),
			InputSize:     det.InputSize,
			MaxBoxes:      det.MaxBoxes,
			NMSThreshold:  det.NMSThreshold,
		},
		Fallback: FallbackConfig{
			Enabled:   pc.Fallback.Enabled,
			URL:       pc.Fallback.URL,
			Timeout:   pc.Fallback.Timeout,
			HealthTTL: pc.Fallback.HealthTTL,
		},
		Cache: CacheConfig{
			Backend:    pc.Cache.Backend,
			RedisAddr:  "localhost:6379",
			TTL:        pc.Cache.TTL,
			MaxEntries: pc.Cache.MaxEntries,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Inference: InferenceConfig{
			Host:                  "127.0.0.1",
			Port:                  8008,
			Variants:              ic.Variants,
			Preload:               ic.Preload,
			SmallAcceptConfidence: float64(ic.SmallAcceptConfidence),
			MaxDimension:          ic.MaxDimension,
			MaxUploadMB:           int(ic.MaxUploadBytes >> 20),
		},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := validateThreshold(c.ML.MinConfidence, "ml.min_confidence"); err != nil {
		return err
	}
	if err := validateThreshold(c.ML.NMSThreshold, "ml.nms_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Inference.SmallAcceptConfidence, "inference.small_accept_confidence"); err != nil {
		return err
	}

	for _, name := range c.Native.Decoders {
		if !barcode.IsKnown(name) {
			return fmt.Errorf("invalid native.decoders: unknown decoder %q", name)
		}
	}
	if err := validateVariants(c.ML.Variants, "ml.variants"); err != nil {
		return err
	}
	if err := validateVariants(c.Inference.Variants, "inference.variants"); err != nil {
		return err
	}
	if err := validateVariants(c.Inference.Preload, "inference.preload"); err != nil {
		return err
	}
	for _, v := range c.Inference.Preload {
		if !slices.Contains(c.Inference.Variants, v) {
			return fmt.Errorf("invalid inference.preload: %s is not in inference.variants", v)
		}
	}
	if !c.Native.Enabled && !c.ML.Enabled && !c.Fallback.Enabled {
		return fmt.Errorf("at least one of native, ml or fallback must be enabled")
	}

	if err := validatePort(c.Server.Port, "server.port"); err != nil {
		return err
	}
	if err := validatePort(c.Inference.Port, "inference.port"); err != nil {
		return err
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Inference.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid inference max upload size: %d (must be positive)", c.Inference.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	if c.Pool.MaxWorkers < 0 {
		return fmt.Errorf("invalid pool max workers: %d (must not be negative)", c.Pool.MaxWorkers)
	}

	if c.Fallback.Enabled {
		if c.Fallback.URL == "" {
			return fmt.Errorf("fallback.url is required when the fallback is enabled")
		}
		if c.Fallback.Timeout <= 0 {
			return fmt.Errorf("invalid fallback.timeout: %s (must be positive)", c.Fallback.Timeout)
		}
		if c.Fallback.Timeout >= time.Duration(c.Server.TimeoutSec)*time.Second {
			return fmt.Errorf("fallback.timeout %s must be shorter than server.timeout_sec %ds",
				c.Fallback.Timeout, c.Server.TimeoutSec)
		}
	}

	switch c.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.Enabled && c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be one of: %s, %s)", c.Cache.Backend, cache.BackendMemory, cache.BackendRedis)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if err := validateMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

// ToDetectorConfig converts to detector.Config.
func (c *Config) ToDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.Variants = c.ML.Variants
	cfg.MinConfidence = float32(c.ML.MinConfidence)
	cfg.NMSThreshold = c.ML.NMSThreshold
	cfg.InputSize = c.ML.InputSize
	cfg.MaxBoxes = c.ML.MaxBoxes
	cfg.NumThreads = c.ML.NumThreads
	cfg.Warmup = c.ML.Warmup
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		ModelsDir: c.ModelsDir,
		Native: pipeline.NativeConfig{
			Enabled:  c.Native.Enabled,
			Decoders: c.Native.Decoders,
		},
		ML: pipeline.MLConfig{
			Enabled:  c.ML.Enabled,
			Detector: c.ToDetectorConfig(),
		},
		Fallback:   c.toFallbackConfig(),
		Cache:      c.toCacheConfig(),
		MaxWorkers: c.Pool.MaxWorkers,
	}
}

// ToServerConfig converts to server.Config.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		CORSOrigin:      c.Server.CORSOrigin,
		MaxUploadMB:     int64(c.Server.MaxUploadMB),
		TimeoutSec:      c.Server.TimeoutSec,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		PipelineConfig:  c.ToPipelineConfig(),
	}
}

// ToInferenceConfig converts to inference.Config.
func (c *Config) ToInferenceConfig() inference.Config {
	return inference.Config{
		Decoders:              c.Native.Decoders,
		Variants:              c.Inference.Variants,
		Preload:               c.Inference.Preload,
		SmallAcceptConfidence: float32(c.Inference.SmallAcceptConfidence),
		MaxDimension:          c.Inference.MaxDimension,
		MaxUploadBytes:        int64(c.Inference.MaxUploadMB) << 20,
	}
}

// ToInferenceDetectorConfig is the detector config for the inference service:
// the shared ML settings with the service's own variant list.
func (c *Config) ToInferenceDetectorConfig() detector.Config {
	cfg := c.ToDetectorConfig()
	cfg.Variants = c.Inference.Variants
	return cfg
}

func (c *Config) toFallbackConfig() fallback.Config {
	return fallback.Config{
		Enabled:     c.Fallback.Enabled,
		URL:         c.Fallback.URL,
		Timeout:     c.Fallback.Timeout,
		HealthCheck: c.Fallback.HealthCheck,
		HealthTTL:   c.Fallback.HealthTTL,
	}
}

func (c *Config) toCacheConfig() cache.Config {
	return cache.Config{
		Enabled:       c.Cache.Enabled,
		Backend:       c.Cache.Backend,
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		RedisDB:       c.Cache.RedisDB,
		TTL:           c.Cache.TTL,
		MaxEntries:    c.Cache.MaxEntries,
	}
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	limit, _ := parseMemoryLimit(c.GPU.MemoryLimit)
	return onnx.GPUConfig{
		UseGPU:      c.GPU.Enabled,
		DeviceID:    c.GPU.Device,
		GPUMemLimit: limit,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

func validatePort(port int, name string) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d (must be between 1 and 65535)", name, port)
	}
	return nil
}

func validateVariants(variants []string, name string) error {
	for _, v := range variants {
		if !models.IsVariant(v) {
			return fmt.Errorf("invalid %s: unknown variant %q (known: %s)", name, v, strings.Join(models.Variants(), ", "))
		}
	}
	return nil
}

var memoryUnits = []struct {
	suffix string
	factor float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

// parseMemoryLimit converts "auto", "" or a size like "1.5GB" to bytes; 0 means unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	for _, u := range memoryUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
