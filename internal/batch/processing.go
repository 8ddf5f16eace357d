package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/qrcascade/internal/pdf"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// ErrCancelled wraps the error of a file whose detection was interrupted.
var ErrCancelled = errors.New("detection cancelled")

// Detector is the part of the pipeline a batch drives.
type Detector interface {
	Detect(ctx context.Context, requestID string, data []byte) *pipeline.Result
	DetectPDF(ctx context.Context, requestID, path string, opts pdf.Options) (*pipeline.PDFResult, error)
}

func requestID(prefix, file string) string {
	if prefix == "" {
		return ""
	}
	return prefix + ":" + filepath.Base(file)
}

// processFile runs one input through the detector.
func processFile(ctx context.Context, det Detector, file string, cfg *Config) Item {
	it := Item{File: file}
	id := requestID(cfg.RequestID, file)

	if cfg.ForcePDF || IsPDF(file) {
		res, err := det.DetectPDF(ctx, id, file, cfg.PDF)
		switch {
		case err != nil && errors.Is(err, pdf.ErrEncrypted):
			it.Err = fmt.Errorf("%s is encrypted, pass --password: %w", file, err)
		case err != nil:
			it.Err = err
		case res.Failure == pipeline.FailureCancelled:
			it.Err = fmt.Errorf("%w: %s: %s", ErrCancelled, file, res.Err)
		default:
			it.PDF = res
		}
		return it
	}

	data, err := os.ReadFile(file) //nolint:gosec // G304: paths come from the caller
	if err != nil {
		it.Err = fmt.Errorf("failed to read %s: %w", file, err)
		return it
	}
	res := det.Detect(ctx, id, data)
	if res.Failure == pipeline.FailureCancelled {
		it.Err = fmt.Errorf("%w: %s: %s", ErrCancelled, file, res.Err)
		return it
	}
	if !res.Success {
		slog.Debug("No payload found", "file", file, "request_id", res.RequestID, "failure", res.Failure)
	}
	it.Image = res
	return it
}
