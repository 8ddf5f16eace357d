package support

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/MeKo-Tech/qrcascade/internal/batch"
	"github.com/MeKo-Tech/qrcascade/internal/server"
)

// TestContext holds the state of one scenario. Servers run in-process on
// httptest listeners.
type TestContext struct {
	// Test environment
	TempDir string

	// Inference service
	Inference *httptest.Server

	// Detection server
	API       *httptest.Server
	APIServer *server.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPBody       []byte
	LastHTTPHeaders    http.Header
	lastJSON           map[string]any

	// Batch state
	LastBatch *batch.Result
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "qrcascade-integration-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir}, nil
}

// Cleanup stops the servers and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.API != nil {
		testCtx.API.Close()
		testCtx.API = nil
	}
	if testCtx.APIServer != nil {
		if err := testCtx.APIServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close detection server: %w", err))
		}
		testCtx.APIServer = nil
	}
	if testCtx.Inference != nil {
		testCtx.Inference.Close()
		testCtx.Inference = nil
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory: %w", err))
	}
	return errors.Join(errs...)
}

// baseURL resolves a step's target name to a running server.
func (testCtx *TestContext) baseURL(target string) (string, error) {
	switch target {
	case "detection server":
		if testCtx.API == nil {
			return "", errors.New("detection server is not running")
		}
		return testCtx.API.URL, nil
	case "inference service":
		if testCtx.Inference == nil {
			return "", errors.New("inference service is not running")
		}
		return testCtx.Inference.URL, nil
	default:
		return "", fmt.Errorf("unknown target %q", target)
	}
}
