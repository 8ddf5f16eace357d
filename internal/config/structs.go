//nolint:lll
package config

import "time"

// Config represents the complete configuration for qrcascade.
// It includes settings for all commands (detect, serve, inference) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Cascade stages
	Native   NativeConfig   `mapstructure:"native" yaml:"native" json:"native"`
	ML       MLConfig       `mapstructure:"ml" yaml:"ml" json:"ml"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback" json:"fallback"`

	// Result cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Remote inference service (for inference command)
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference" json:"inference"`

	// CPU worker pool
	Pool PoolConfig `mapstructure:"pool" yaml:"pool" json:"pool"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// NativeConfig contains classical decoder settings.
type NativeConfig struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Decoders []string `mapstructure:"decoders" yaml:"decoders" json:"decoders"`
}

// MLConfig contains in-process detector settings.
type MLConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Variants      []string `mapstructure:"variants" yaml:"variants" json:"variants"`
	MinConfidence float64  `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	InputSize     int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	NumThreads    int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	Warmup        int      `mapstructure:"warmup" yaml:"warmup" json:"warmup"`
	MaxBoxes      int      `mapstructure:"max_boxes" yaml:"max_boxes" json:"max_boxes"`
	NMSThreshold  float64  `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
}

// FallbackConfig contains remote inference client settings.
type FallbackConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL         string        `mapstructure:"url" yaml:"url" json:"url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	HealthCheck bool          `mapstructure:"health_check" yaml:"health_check" json:"health_check"`
	HealthTTL   time.Duration `mapstructure:"health_ttl" yaml:"health_ttl" json:"health_ttl"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Backend       string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password" json:"-"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db" json:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// InferenceConfig contains remote inference service settings.
type InferenceConfig struct {
	Host                  string   `mapstructure:"host" yaml:"host" json:"host"`
	Port                  int      `mapstructure:"port" yaml:"port" json:"port"`
	Variants              []string `mapstructure:"variants" yaml:"variants" json:"variants"`
	Preload               []string `mapstructure:"preload" yaml:"preload" json:"preload"`
	SmallAcceptConfidence float64  `mapstructure:"small_accept_confidence" yaml:"small_accept_confidence" json:"small_accept_confidence"`
	MaxDimension          int      `mapstructure:"max_dimension" yaml:"max_dimension" json:"max_dimension"`
	MaxUploadMB           int      `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
}

// PoolConfig contains worker pool settings.
type PoolConfig struct {
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
