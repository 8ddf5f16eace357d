package support

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrcascade/internal/batch"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

func (testCtx *TestContext) inputDir() string {
	return filepath.Join(testCtx.TempDir, "inputs")
}

func (testCtx *TestContext) writeInputs(kind, content string, count int) error {
	data, err := imageBytes(kind, content)
	if err != nil {
		return err
	}
	dir := testCtx.inputDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for i := range count {
		name := filepath.Join(dir, fmt.Sprintf("%s_%02d.png", kind, i))
		if err := os.WriteFile(name, data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func (testCtx *TestContext) aDirectoryWithImages(qr int, content string, blank int) error {
	if err := testCtx.writeInputs("qr", content, qr); err != nil {
		return err
	}
	return testCtx.writeInputs("blank", "", blank)
}

// iRunBatchDetection runs the directory through a classical-only pipeline.
func (testCtx *TestContext) iRunBatchDetection(workers int) error {
	pc := pipeline.DefaultConfig()
	pc.ML.Enabled = false
	pc.Fallback.Enabled = false
	pc.Cache.Enabled = false
	p, err := pipeline.NewBuilderFromConfig(pc).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := batch.Process(ctx, p, []string{testCtx.inputDir()}, &batch.Config{Workers: workers, RequestID: "batch"})
	if err != nil {
		return err
	}
	testCtx.LastBatch = res
	return nil
}

func (testCtx *TestContext) filesShouldBeFound(found, total int) error {
	if testCtx.LastBatch == nil {
		return fmt.Errorf("no batch has been run")
	}
	stats := testCtx.LastBatch.Stats()
	if stats.Found != found || stats.Total != total {
		return fmt.Errorf("expected %d of %d files found, got %d of %d", found, total, stats.Found, stats.Total)
	}
	return nil
}

func (testCtx *TestContext) everyFoundPayloadShouldBe(want string) error {
	for _, it := range testCtx.LastBatch.Items {
		if it.Found() && it.Payload() != want {
			return fmt.Errorf("%s: expected payload %q, got %q", it.File, want, it.Payload())
		}
	}
	return nil
}

// RegisterBatchSteps registers the directory batch steps.
func (testCtx *TestContext) RegisterBatchSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a directory with (\d+) qr images? encoding "([^"]*)" and (\d+) blank images?$`, testCtx.aDirectoryWithImages)
	sc.Step(`^I run batch detection on the directory with (\d+) workers?$`, testCtx.iRunBatchDetection)
	sc.Step(`^(\d+) of (\d+) files should be found$`, testCtx.filesShouldBeFound)
	sc.Step(`^every found payload should be "([^"]*)"$`, testCtx.everyFoundPayloadShouldBe)
}
