package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/qrcascade/internal/config"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "qrcascade",
	Short: "Extract QR payloads from invoice images",
	Long: `qrcascade extracts the QR code payload from photographed or scanned invoices.

Each image runs through a cost-ordered cascade and stops at the first success:
- classical decoders (goqr, zxing, tuotoo, opencv)
- YOLO QR detectors (nano, small, medium, large) with crop-and-decode
- a remote inference service as the last resort

Examples:
  qrcascade detect invoice.jpg
  qrcascade detect scan.pdf --format json
  qrcascade serve --port 8080
  qrcascade inference --port 8008`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "qrcascade version "+version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "",
		"config file (default is qrcascade.yaml in ., $HOME, $XDG_CONFIG_HOME/qrcascade, /etc/qrcascade)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	pf.String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	pf.Bool("version", false, "print version information and exit")

	addPipelineFlags(rootCmd)
	bindFlags(rootCmd, []flagBinding{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"models_dir", "models-dir"},
	}, true)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		setupLogging(GetConfig())
	}
}

// addPipelineFlags registers the cascade flags shared by detect and serve.
func addPipelineFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.Bool("native", true, "run the classical decoder stage")
	pf.StringSlice("decoders", nil, "classical decoders in order (default: all available)")
	pf.Bool("ml", true, "run the in-process YOLO detector stage")
	pf.StringSlice("variants", nil, "detector variants to escalate through (default: nano,small,medium,large)")
	pf.Float64("min-confidence", 0.20, "minimum detector box confidence (0..1)")
	pf.Int("threads", 0, "ONNX intra-op threads (0 = runtime default)")
	pf.Int("warmup", 0, "warmup passes after each model load")
	pf.Bool("fallback", true, "use the remote inference service as the last stage")
	pf.String("fallback-url", "", "remote inference service base URL")
	pf.Duration("fallback-timeout", 0, "remote inference request timeout")
	pf.Bool("cache", false, "cache successful results by image hash")
	pf.String("cache-backend", "", "result cache backend: memory or redis")
	pf.String("redis-addr", "", "redis address for the redis cache backend")
	pf.Int("max-workers", 0, "concurrent CPU-bound detections (0 = NumCPU)")
	pf.Bool("gpu", false, "enable GPU acceleration using CUDA")
	pf.Int("gpu-device", 0, "CUDA device ID to use")
	pf.String("gpu-mem-limit", "auto", "GPU memory limit (e.g. 512MB, 2GB, auto)")

	bindFlags(cmd, []flagBinding{
		{"native.enabled", "native"},
		{"native.decoders", "decoders"},
		{"ml.enabled", "ml"},
		{"ml.variants", "variants"},
		{"ml.min_confidence", "min-confidence"},
		{"ml.num_threads", "threads"},
		{"ml.warmup", "warmup"},
		{"fallback.enabled", "fallback"},
		{"fallback.url", "fallback-url"},
		{"fallback.timeout", "fallback-timeout"},
		{"cache.enabled", "cache"},
		{"cache.backend", "cache-backend"},
		{"cache.redis_addr", "redis-addr"},
		{"pool.max_workers", "max-workers"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
		{"gpu.memory_limit", "gpu-mem-limit"},
	}, true)
}

type flagBinding struct {
	key  string
	flag string
}

func bindFlags(cmd *cobra.Command, bindings []flagBinding, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for _, b := range bindings {
		if err := viper.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", b.flag, err))
		}
	}
}

func setupLogging(cfg *config.Config) {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the configuration including flags bound after the
// initial load.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}
	cfg, err := GetConfigLoader().Reload()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
