package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrcascade/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for QR detection",
	Long: `Start an HTTP server that runs the detection cascade on uploaded images.

The server provides the following endpoints:
  POST /qr/detect - Detect a QR payload (multipart field "image" or raw body)
  GET  /health    - Health check with pipeline stages and model states
  GET  /models    - List detector variants
  GET  /metrics   - Prometheus metrics

Examples:
  qrcascade serve
  qrcascade serve --port 8080
  qrcascade serve --host 0.0.0.0 --cache --cache-backend redis`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sc := cfg.ToServerConfig()
		srv, err := server.NewServer(sc)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		return runHTTPServer(cmd.Context(), httpOptions{
			name:            "QR detection server",
			addr:            net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)),
			handler:         srv.Handler(),
			timeout:         time.Duration(sc.TimeoutSec) * time.Second,
			shutdownTimeout: time.Duration(sc.ShutdownTimeout) * time.Second,
			closer:          srv,
		})
	},
}

type httpOptions struct {
	name            string
	addr            string
	handler         http.Handler
	timeout         time.Duration
	shutdownTimeout time.Duration
	closer          io.Closer
	// ready is called once the listener is bound.
	ready func(addr net.Addr)
}

// runHTTPServer serves until SIGINT/SIGTERM or ctx ends, then shuts down
// gracefully and closes opts.closer.
func runHTTPServer(ctx context.Context, opts httpOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		if opts.closer != nil {
			_ = opts.closer.Close()
		}
		return fmt.Errorf("failed to listen on %s: %w", opts.addr, err)
	}

	httpServer := &http.Server{
		Handler:           opts.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.timeout,
		WriteTimeout:      opts.timeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting "+opts.name, "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			serveErr <- err
			cancel()
		}
	}()
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", opts.shutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	if opts.closer != nil {
		if err := opts.closer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
	}

	slog.Info("Graceful shutdown completed")
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")

	bindFlags(serveCmd, []flagBinding{
		{"server.host", "host"},
		{"server.port", "port"},
		{"server.cors_origin", "cors-origin"},
		{"server.max_upload_mb", "max-upload-size"},
		{"server.timeout_sec", "timeout"},
		{"server.shutdown_timeout", "shutdown-timeout"},
	}, false)
}
