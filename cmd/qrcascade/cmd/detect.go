package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrcascade/internal/batch"
	"github.com/MeKo-Tech/qrcascade/internal/config"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

const (
	outputFormatJSON = batch.FormatJSON
	outputFormatText = batch.FormatText
)

// errNoPayload is returned when at least one input yielded no QR payload.
var errNoPayload = errors.New("no QR code found")

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect [files or directories...]",
	Short: "Detect QR payloads in images or PDF invoices",
	Long: `Run the detection cascade on image files, PDFs or directories of them.

Supported formats: JPEG, PNG, GIF, BMP, WebP, TIFF and PDF (embedded images).
Files ending in .pdf are scanned page by page; --pdf forces PDF handling.
Directories are expanded to the supported files they contain.

Examples:
  qrcascade detect invoice.jpg
  qrcascade detect *.png --format json
  qrcascade detect scans/ --recursive --workers 4 --stats
  qrcascade detect scan.pdf --pages 1-2
  qrcascade detect photo.jpg --fallback=false --variants nano,small`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if !batch.IsFormat(format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s, %s, %s)",
				format, batch.FormatText, batch.FormatJSON, batch.FormatCSV)
		}
		bc, err := batchConfigFromFlags(cmd)
		if err != nil {
			return err
		}

		p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Build()
		if err != nil {
			return fmt.Errorf("failed to build pipeline: %w", err)
		}
		defer func() { _ = p.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := batch.Process(ctx, p, args, bc)
		if err != nil {
			return err
		}
		return reportBatch(cmd, res, format)
	},
}

func batchConfigFromFlags(cmd *cobra.Command) (*batch.Config, error) {
	flags := cmd.Flags()
	bc := &batch.Config{}
	bc.Recursive, _ = flags.GetBool("recursive")
	bc.IncludePatterns, _ = flags.GetStringSlice("include")
	bc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	bc.Workers, _ = flags.GetInt("workers")
	bc.ForcePDF, _ = flags.GetBool("pdf")
	bc.RequestID, _ = flags.GetString("request-id")
	bc.PDF.PageRange, _ = flags.GetString("pages")
	bc.PDF.UserPassword, _ = flags.GetString("password")
	bc.PDF.OwnerPassword, _ = flags.GetString("owner-password")
	if bc.Workers < 0 {
		return nil, fmt.Errorf("invalid --workers: %d", bc.Workers)
	}
	return bc, nil
}

// reportBatch writes the results and statistics and turns misses and
// failures into the command error.
func reportBatch(cmd *cobra.Command, res *batch.Result, format string) error {
	out := cmd.OutOrStdout()
	if outputFile, _ := cmd.Flags().GetString("output"); outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // G304: user-provided output path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := res.WriteResults(out, format); err != nil {
		return err
	}

	stats := res.Stats()
	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		if err := stats.WriteStats(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	for _, it := range res.Items {
		if errors.Is(it.Err, batch.ErrCancelled) {
			return it.Err
		}
	}
	if misses := stats.Missed + stats.Failed; misses > 0 {
		return fmt.Errorf("%w in %d of %d input(s)", errNoPayload, misses, stats.Total)
	}
	return nil
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// loadConfig returns the merged configuration, flags included, and validates it.
func loadConfig() (*config.Config, error) {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addDetectFlags(detectCmd)
}

func addDetectFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("format", "f", outputFormatText, "output format (text, json, csv)")
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.Bool("pdf", false, "treat every input as a PDF")
	flags.String("pages", "", "PDF page range, e.g. 1-3,5")
	flags.String("password", "", "PDF user password")
	flags.String("owner-password", "", "PDF owner password")
	flags.String("request-id", "", "request ID prefix for log correlation")
	flags.BoolP("recursive", "r", false, "descend into subdirectories")
	flags.StringSlice("include", nil, "only process files matching these patterns (e.g. '*.png')")
	flags.StringSlice("exclude", nil, "skip files matching these patterns")
	flags.IntP("workers", "w", 0, "files processed in parallel (0 = NumCPU)")
	flags.Bool("stats", false, "print processing statistics to stderr")
}
