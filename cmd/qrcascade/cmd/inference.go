package cmd

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/inference"
)

// inferenceCmd represents the inference command.
var inferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Start the remote inference service",
	Long: `Start the out-of-process inference service used as the last cascade stage.

Each request runs classical decoding on the binarized and the grayscale image,
then the small detector (accepted only above --small-accept-confidence) and
finally the medium detector. Preloaded models are loaded in the background;
/health answers "loading" until they are ready.

Endpoints:
  POST /detect  - Detect a QR payload (multipart field "file" or "image", or raw body)
  GET  /health  - healthy, loading or unhealthy
  GET  /metrics - Prometheus metrics

Examples:
  qrcascade inference
  qrcascade inference --host 0.0.0.0 --port 8008 --preload small,medium`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		registry := detector.NewRegistry(detector.ONNXLoader(cfg.ToInferenceDetectorConfig()))
		svc, err := inference.New(cfg.ToInferenceConfig(), registry)
		if err != nil {
			_ = registry.Close()
			return fmt.Errorf("failed to initialize inference service: %w", err)
		}
		go func() { _ = svc.Preload() }()

		return runHTTPServer(cmd.Context(), httpOptions{
			name:            "inference service",
			addr:            net.JoinHostPort(cfg.Inference.Host, strconv.Itoa(cfg.Inference.Port)),
			handler:         svc.Router(),
			timeout:         time.Duration(cfg.Server.TimeoutSec) * time.Second,
			shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
			closer:          closerFunc(registry.Close),
		})
	},
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	rootCmd.AddCommand(inferenceCmd)
	inferenceCmd.Flags().String("host", "127.0.0.1", "service host")
	inferenceCmd.Flags().Int("port", 8008, "service port")
	inferenceCmd.Flags().StringSlice("models", nil, "detector variants in escalation order (default: small,medium)")
	inferenceCmd.Flags().StringSlice("preload", nil, "variants loaded at startup (default: small)")
	inferenceCmd.Flags().Float64("small-accept-confidence", 0.65, "box confidence the small model needs to be trusted")
	inferenceCmd.Flags().Int("max-dimension", 2048, "longest image side before the detector stages")
	inferenceCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")

	bindFlags(inferenceCmd, []flagBinding{
		{"inference.host", "host"},
		{"inference.port", "port"},
		{"inference.variants", "models"},
		{"inference.preload", "preload"},
		{"inference.small_accept_confidence", "small-accept-confidence"},
		{"inference.max_dimension", "max-dimension"},
		{"inference.max_upload_mb", "max-upload-size"},
	}, false)
}
