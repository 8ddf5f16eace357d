package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
	"github.com/MeKo-Tech/qrcascade/internal/version"
)

func found(payload string) pipeline.Result {
	return pipeline.Result{
		Success:  true,
		Payload:  payload,
		Strategy: "goqr",
		Attempts: []pipeline.Attempt{{Strategy: "goqr", Tier: pipeline.TierNative, Success: true, Payload: payload}},
	}
}

func rawRequest(data []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/qr/detect", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	return req
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) pipeline.Result {
	t.Helper()
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{"GET request success", http.MethodGet, http.StatusOK, true},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed, false},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed, false},
	}

	server := New(Config{}, &mockPipeline{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if !tt.checkResponse {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, version.Version, response.Version)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "models", response.Pipeline["models_dir"])
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_ModelsHandler(t *testing.T) {
	server := New(Config{PipelineConfig: pipeline.Config{ModelsDir: t.TempDir()}}, &mockPipeline{})

	w := httptest.NewRecorder()
	server.modelsHandler(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 4, response.Count)

	byName := map[string]ModelInfo{}
	for _, m := range response.Models {
		byName[m.Name] = m
		assert.False(t, m.Available, "no weights in an empty models dir")
		assert.Equal(t, "detection", m.Type)
		assert.True(t, strings.HasSuffix(m.Path, ".onnx"))
	}
	assert.Equal(t, "loaded", byName["nano"].State)
	assert.Equal(t, "failed", byName["small"].State)
	assert.Equal(t, "not_loaded", byName["medium"].State)
	assert.Equal(t, int64(50), byName["nano"].LatencyMs)

	w = httptest.NewRecorder()
	server.modelsHandler(w, httptest.NewRequest(http.MethodPost, "/models", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_DetectHandler_RawBody(t *testing.T) {
	mock := &mockPipeline{result: found(testutil.SampleURL)}
	server := New(Config{}, mock)

	req := rawRequest([]byte("image-bytes"))
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	server.detectHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	res := decodeResult(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, testutil.SampleURL, res.Payload)
	assert.Equal(t, "goqr", res.Strategy)
	assert.Equal(t, "req-42", res.RequestID)
	assert.Equal(t, []byte("image-bytes"), mock.lastData)
}

func TestServer_DetectHandler_MultipartFields(t *testing.T) {
	for _, field := range []string{"image", "file"} {
		t.Run(field, func(t *testing.T) {
			mock := &mockPipeline{result: found("https://x.example")}
			server := New(Config{}, mock)

			req, err := newMultipartRequest(field, []byte("png-data"))
			require.NoError(t, err)
			w := httptest.NewRecorder()
			server.detectHandler(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []byte("png-data"), mock.lastData)
			assert.Equal(t, "generated-id", w.Header().Get(HeaderRequestID))
		})
	}
}

func TestServer_DetectHandler_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     pipeline.Result
		wantStatus int
		wantFail   pipeline.FailureKind
	}{
		{"not found is not an error", pipeline.Result{Failure: pipeline.FailureNotFound}, http.StatusOK, pipeline.FailureNotFound},
		{"invalid image", pipeline.Result{Failure: pipeline.FailureInvalidImage, Err: "unknown format"}, http.StatusBadRequest, pipeline.FailureInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, &mockPipeline{result: tt.result})
			w := httptest.NewRecorder()
			server.detectHandler(w, rawRequest([]byte("x")))

			assert.Equal(t, tt.wantStatus, w.Code)
			res := decodeResult(t, w)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantFail, res.Failure)
			assert.NotNil(t, res.Attempts)
		})
	}
}

func TestServer_DetectHandler_ClientGone(t *testing.T) {
	server := New(Config{}, &mockPipeline{block: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	server.detectHandler(w, rawRequest([]byte("x")).WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, pipeline.FailureCancelled, decodeResult(t, w).Failure)
}

func TestServer_DetectHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name:       "GET not allowed",
			req:        func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/qr/detect", nil) },
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "empty body",
			req:        func(*testing.T) *http.Request { return rawRequest(nil) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown multipart field",
			req: func(t *testing.T) *http.Request {
				r, err := newMultipartRequest("pdf", []byte("data"))
				require.NoError(t, err)
				return r
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too large",
			req:        func(*testing.T) *http.Request { return rawRequest(make([]byte, 2<<20)) },
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockPipeline{result: found("x")}
			server := New(Config{MaxUploadMB: 1}, mock)
			w := httptest.NewRecorder()
			server.detectHandler(w, tt.req(t))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Zero(t, mock.calls)
			if tt.wantStatus != http.StatusMethodNotAllowed {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestServer_Routes(t *testing.T) {
	server := New(Config{CORSOrigin: "*"}, &mockPipeline{result: found("https://routes.example")})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/qr/detect", "application/octet-stream", strings.NewReader("img"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "qrcascade_http_requests_total")
	assert.Contains(t, body.String(), "qrcascade_http_detect_requests_total")
}

func TestServer_CloseClosesPipeline(t *testing.T) {
	mock := &mockPipeline{}
	require.NoError(t, New(Config{}, mock).Close())
	assert.True(t, mock.closed)
	assert.NoError(t, (&Server{}).Close())
}

func TestNewServer_RealPipelineDecodesQR(t *testing.T) {
	pc := pipeline.DefaultConfig()
	pc.ML.Enabled = false
	pc.Fallback.Enabled = false

	server, err := NewServer(Config{PipelineConfig: pc})
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	data := testutil.PNG(t, testutil.QRImage(t, testutil.SampleURL, 300))
	req, err := newMultipartRequest("image", data)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	server.detectHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.True(t, res.Success, "attempts: %+v", res.Attempts)
	assert.Equal(t, testutil.SampleURL, res.Payload)
	assert.NotEmpty(t, res.RequestID)
}
