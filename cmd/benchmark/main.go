package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/qrcascade/internal/benchmark"
	"github.com/MeKo-Tech/qrcascade/internal/config"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "testdata/qr/manifest.json", "Fixture manifest written by generate-test-data")
		configFile   = flag.String("config", "", "qrcascade config file (default: search paths)")
		iterations   = flag.Int("iterations", 3, "Number of iterations per fixture")
		variants     = flag.String("variants", "classical,cascade", "Comma-separated variants: classical, ml, cascade, gpu")
		outputFile   = flag.String("output", "", "Output file for CSV results (optional)")
		tags         = flag.String("tags", "", "Only run fixtures with one of these comma-separated tags")
	)
	flag.Parse()

	fmt.Println("qrcascade Cascade Benchmark")
	fmt.Println("===========================")

	manifest, err := benchmark.LoadManifest(*manifestPath)
	if err != nil {
		log.Fatalf("Failed to load fixtures: %v (run generate-test-data first)", err)
	}
	fixtures := filterByTags(manifest.Fixtures, *tags)
	if len(fixtures) == 0 {
		log.Fatalf("No fixtures match tags %q", *tags)
	}

	loader := config.NewLoader()
	var cfg *config.Config
	if *configFile != "" {
		cfg, err = loader.LoadWithFile(*configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var runs []benchmark.Variant
	for _, name := range strings.Split(*variants, ",") {
		name = strings.TrimSpace(name)
		p, err := buildVariant(cfg.ToPipelineConfig(), name)
		if err != nil {
			log.Printf("Skipping variant %s: %v", name, err)
			continue
		}
		defer func() { _ = p.Close() }()
		runs = append(runs, benchmark.Variant{Name: name, Detector: p})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Running %d fixtures x %d iterations across %d variants...\n\n", len(fixtures), *iterations, len(runs))
	report, err := benchmark.Run(ctx, runs, fixtures, *iterations)
	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
	if err := report.WriteText(os.Stdout); err != nil {
		log.Fatalf("Failed to print results: %v", err)
	}

	if *outputFile != "" {
		if err := saveResultsToFile(*outputFile, report); err != nil {
			log.Printf("Failed to save results to file: %v", err)
		} else {
			fmt.Printf("Results saved to: %s\n", *outputFile)
		}
	}
}

// buildVariant derives a pipeline from the configured one. The result cache
// is always off so every iteration runs the stages.
func buildVariant(pc pipeline.Config, name string) (*pipeline.Pipeline, error) {
	pc.Cache.Enabled = false
	switch name {
	case "classical":
		pc.Native.Enabled, pc.ML.Enabled, pc.Fallback.Enabled = true, false, false
	case "ml":
		pc.Native.Enabled, pc.ML.Enabled, pc.Fallback.Enabled = false, true, false
	case "cascade":
	case "gpu":
		pc.ML.Detector.GPU.UseGPU = true
	default:
		return nil, fmt.Errorf("unknown variant %q", name)
	}
	return pipeline.NewBuilderFromConfig(pc).Build()
}

func filterByTags(fixtures []benchmark.Fixture, tags string) []benchmark.Fixture {
	if tags == "" {
		return fixtures
	}
	want := map[string]bool{}
	for _, t := range strings.Split(tags, ",") {
		want[strings.TrimSpace(t)] = true
	}
	var out []benchmark.Fixture
	for _, f := range fixtures {
		for _, t := range f.Tags {
			if want[t] {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func saveResultsToFile(filename string, report *benchmark.Report) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return err
	}
	file, err := os.Create(filename) //nolint:gosec // G304: user-provided output path
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	return report.WriteCSV(file)
}
