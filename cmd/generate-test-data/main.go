package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/qrcascade/internal/benchmark"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir  = flag.String("out", "testdata/qr", "Output directory, relative to the project root")
		payload = flag.String("payload", testutil.SampleURL, "QR payload to encode")
		verbose = flag.Bool("v", false, "Verbose output")
		help    = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a labelled QR fixture corpus plus manifest.json for qrcascade benchmarks.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                      # Generate into testdata/qr\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -out /tmp/qr -v      # Generate elsewhere\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	dir := *outDir
	if !filepath.IsAbs(dir) {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, dir)
	}

	fixtures, err := generate(dir, *payload, *verbose)
	if err != nil {
		slog.Error("Failed to generate fixtures", "error", err)
		os.Exit(1)
	}

	manifest := filepath.Join(dir, "manifest.json")
	if err := benchmark.SaveManifest(manifest, &benchmark.Manifest{Generated: time.Now().UTC(), Fixtures: fixtures}); err != nil {
		slog.Error("Failed to write manifest", "error", err)
		os.Exit(1)
	}
	slog.Info("Test data generation completed", "fixtures", len(fixtures), "manifest", manifest)
}

type sample struct {
	category string
	name     string
	img      image.Image
	jpeg     int // JPEG quality, 0 for PNG
	expected string
}

// generate renders every sample under dir and returns the manifest entries.
func generate(dir, payload string, verbose bool) ([]benchmark.Fixture, error) {
	samples, err := buildSamples(payload)
	if err != nil {
		return nil, err
	}

	fixtures := make([]benchmark.Fixture, 0, len(samples))
	for _, s := range samples {
		ext := ".png"
		if s.jpeg > 0 {
			ext = ".jpg"
		}
		rel := filepath.Join(s.category, s.name+ext)
		if err := writeImage(filepath.Join(dir, rel), s.img, s.jpeg); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		if verbose {
			slog.Info("Generated fixture", "file", rel)
		}
		fixtures = append(fixtures, benchmark.Fixture{
			Name:     s.category + "_" + s.name,
			File:     rel,
			Expected: s.expected,
			Tags:     []string{s.category},
		})
	}
	return fixtures, nil
}

func buildSamples(payload string) ([]sample, error) {
	clean, err := testutil.RenderQR(testutil.QRConfig{Content: payload, Size: 300})
	if err != nil {
		return nil, err
	}
	samples := []sample{
		{category: "clean", name: "qr_300", img: clean, expected: payload},
	}

	for _, angle := range []float64{90, 180, 270, 15, -30} {
		rot, err := testutil.RenderQR(testutil.QRConfig{Content: payload, Size: 300, Rotation: angle})
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("rot_%s", strings.ReplaceAll(fmt.Sprintf("%.0f", angle), "-", "m"))
		samples = append(samples, sample{category: "rotated", name: name, img: rot, expected: payload})
	}

	for _, size := range []int{120, 600} {
		img, err := testutil.RenderQR(testutil.QRConfig{Content: payload, Size: size})
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample{category: "scaled", name: fmt.Sprintf("qr_%d", size), img: img, expected: payload})
	}

	invoice, err := testutil.RenderInvoice(payload)
	if err != nil {
		return nil, err
	}
	samples = append(samples,
		sample{category: "invoice", name: "page", img: invoice, expected: payload},
		sample{category: "invoice", name: "page_q40", img: invoice, jpeg: 40, expected: payload},
		sample{category: "invoice", name: "page_blur", img: imaging.Blur(invoice, 1.2), expected: payload},
		sample{category: "invoice", name: "page_dim", img: imaging.AdjustContrast(imaging.AdjustBrightness(invoice, -35), -40), expected: payload},
		sample{category: "negative", name: "blank", img: testutil.BlankImage(400, 300, color.White)},
		sample{category: "negative", name: "noise", img: testutil.NoiseImage(400, 300)},
	)
	return samples, nil
}

func writeImage(path string, img image.Image, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: Test data generation uses controlled paths
	if err != nil {
		return err
	}
	if quality > 0 {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
	} else {
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
