package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// mockPipeline is a canned pipeline for handler tests.
type mockPipeline struct {
	mu       sync.Mutex
	result   pipeline.Result
	block    bool
	calls    int
	lastID   string
	lastData []byte
	closed   bool
}

func (m *mockPipeline) Detect(ctx context.Context, requestID string, data []byte) *pipeline.Result {
	m.mu.Lock()
	m.calls++
	m.lastID, m.lastData = requestID, data
	m.mu.Unlock()

	res := m.result
	if requestID == "" {
		requestID = "generated-id"
	}
	res.RequestID = requestID
	if m.block {
		<-ctx.Done()
		res.Success, res.Failure, res.Err = false, pipeline.FailureCancelled, ctx.Err().Error()
	}
	if res.Attempts == nil {
		res.Attempts = []pipeline.Attempt{}
	}
	return &res
}

func (m *mockPipeline) Info() map[string]any {
	return map[string]any{
		"models_dir": "models",
		"models":     map[string]string{"nano": "loaded", "small": "failed"},
	}
}

func (m *mockPipeline) Close() error {
	m.closed = true
	return nil
}

// multipartBody builds a multipart form with one file field.
func multipartBody(field, filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// newMultipartRequest returns a POST /qr/detect request uploading data under field.
func newMultipartRequest(field string, data []byte) (*http.Request, error) {
	body, contentType, err := multipartBody(field, "invoice.png", data)
	if err != nil {
		return nil, err
	}
	req := httptest.NewRequest(http.MethodPost, "/qr/detect", body)
	req.Header.Set("Content-Type", contentType)
	return req, nil
}
