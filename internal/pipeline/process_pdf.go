package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/qrcascade/internal/pdf"
)

// PDFResult is the outcome of scanning a PDF's embedded images.
type PDFResult struct {
	RequestID string        `json:"request_id"`
	File      string        `json:"file"`
	Success   bool          `json:"success"`
	Payload   string        `json:"payload,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Page      int           `json:"page,omitempty"`
	Failure   FailureKind   `json:"failure,omitempty"`
	Err       string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs float64       `json:"elapsed_ms"`
	Images    []*Result     `json:"images"`
}

// DetectPDF extracts the images embedded in a PDF and runs Detect on each,
// page by page, until one yields a payload. The error is non-nil only when
// the PDF cannot be read. Image i of page n is detected under the request
// id "<requestID>-p<n>-<i>".
func (p *Pipeline) DetectPDF(ctx context.Context, requestID, path string, opts pdf.Options) (*PDFResult, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	start := time.Now()
	pages, err := pdf.ExtractImages(path, opts)
	if err != nil {
		return nil, fmt.Errorf("extract images from %s: %w", path, err)
	}

	res := &PDFResult{RequestID: requestID, File: path, Images: []*Result{}}
	p.detectPages(ctx, res, pages)
	res.Elapsed = time.Since(start)
	res.ElapsedMs = millis(res.Elapsed)
	return res, nil
}

func (p *Pipeline) detectPages(ctx context.Context, res *PDFResult, pages []pdf.Page) {
	for _, page := range pages {
		for i, img := range page.Images {
			if err := ctx.Err(); err != nil {
				res.Failure, res.Err = FailureCancelled, err.Error()
				return
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				slog.Debug("Skipping unencodable PDF image", "page", page.Number, "image", i, "error", err)
				continue
			}
			r := p.Detect(ctx, imageRequestID(res.RequestID, page.Number, i), buf.Bytes())
			res.Images = append(res.Images, r)
			if r.Success {
				res.Success, res.Payload, res.Strategy, res.Page = true, r.Payload, r.Strategy, page.Number
				return
			}
			if r.Failure == FailureCancelled {
				res.Failure, res.Err = FailureCancelled, r.Err
				return
			}
		}
	}
	res.Failure = FailureNotFound
}

func imageRequestID(requestID string, page, image int) string {
	return fmt.Sprintf("%s-p%d-%d", requestID, page, image)
}
