package inference

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/fallback"
	"github.com/MeKo-Tech/qrcascade/internal/testutil"
)

func newTestServer(t *testing.T, s *Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandleDetect_RawBody(t *testing.T) {
	s, err := New(DefaultConfig(), registryOf())
	require.NoError(t, err)
	srv := newTestServer(t, s)

	img := testutil.PNG(t, testutil.QRImage(t, testutil.SampleURL, 300))
	resp, err := http.Post(srv.URL+"/detect", "application/octet-stream", bytes.NewReader(img))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[fallback.Response](t, resp)
	assert.True(t, body.Success)
	require.NotNil(t, body.Payload)
	assert.Equal(t, testutil.SampleURL, *body.Payload)
	assert.NotEmpty(t, body.DetectorModel)
	assert.GreaterOrEqual(t, body.ProcessingTimeMs, int64(0))
	assert.Equal(t, []string{StrategyBinary}, body.Stages)
}

func TestHandleDetect_MultipartFile(t *testing.T) {
	s, err := New(DefaultConfig(), registryOf())
	require.NoError(t, err)
	srv := newTestServer(t, s)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "invoice.jpg")
	require.NoError(t, err)
	_, err = fw.Write(testutil.JPEG(t, testutil.InvoiceImage(t, testutil.SampleURL), 95))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/detect", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[fallback.Response](t, resp)
	assert.True(t, body.Success)
}

func TestHandleDetect_NotFoundIs200(t *testing.T) {
	s := newService(t, registryOf(&fakeModel{variant: "small"}, &fakeModel{variant: "medium"}))
	srv := newTestServer(t, s)

	resp, err := http.Post(srv.URL+"/detect", "image/png", bytes.NewReader(testutil.PNG(t, testutil.NoiseImage(64, 64))))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[fallback.Response](t, resp)
	assert.False(t, body.Success)
	assert.Nil(t, body.Payload)
	assert.Len(t, body.Stages, 4)
}

func TestHandleDetect_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 1024
	s, err := New(cfg, registryOf())
	require.NoError(t, err)
	srv := newTestServer(t, s)

	tests := []struct {
		name   string
		body   []byte
		status int
		code   string
	}{
		{"garbage", []byte("definitely not an image"), http.StatusBadRequest, "invalid_image"},
		{"empty", nil, http.StatusBadRequest, "invalid_request"},
		{"too large", make([]byte, 4096), http.StatusRequestEntityTooLarge, "too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/detect", "application/octet-stream", bytes.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Code)
			assert.False(t, body.Success)
		})
	}

	resp, err := http.Get(srv.URL + "/detect")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	s, err := New(DefaultConfig(), registryOf(&fakeModel{variant: "small"}))
	require.NoError(t, err)
	srv := newTestServer(t, s)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	h := decodeBody[fallback.HealthResponse](t, resp)
	assert.Equal(t, StatusLoading, h.Status)

	require.NoError(t, s.Preload())
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	h = decodeBody[fallback.HealthResponse](t, resp)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.True(t, h.Models["small"])
	assert.False(t, h.Models["medium"])
	assert.NotEmpty(t, h.Version)
	assert.NotEmpty(t, h.Time)
}

func TestMetricsEndpoint(t *testing.T) {
	s, err := New(DefaultConfig(), registryOf())
	require.NoError(t, err)
	srv := newTestServer(t, s)

	img := testutil.PNG(t, testutil.QRImage(t, testutil.SampleURL, 300))
	resp, err := http.Post(srv.URL+"/detect", "image/png", bytes.NewReader(img))
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "qrcascade_inference_attempts_total")
	assert.Contains(t, string(text), `strategy="classical-binary"`)
}
