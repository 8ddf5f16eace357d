package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/inference"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
	"github.com/MeKo-Tech/qrcascade/internal/server"
)

// emptyModel is a detector that loads instantly and never finds a region.
type emptyModel struct{ variant string }

func (m emptyModel) Variant() string { return m.variant }

func (emptyModel) Detect(context.Context, image.Image) ([]detector.Box, error) { return nil, nil }

func (emptyModel) Close() error { return nil }

// anInferenceServiceWith starts the inference service. When broken is set
// every model load fails and the service reports unhealthy.
func (testCtx *TestContext) anInferenceServiceWith(broken bool) error {
	registry := detector.NewRegistry(func(variant string) (detector.Model, error) {
		if broken {
			return nil, errors.New("model file not found")
		}
		return emptyModel{variant: variant}, nil
	})
	svc, err := inference.New(inference.DefaultConfig(), registry)
	if err != nil {
		return fmt.Errorf("failed to create inference service: %w", err)
	}
	if err := svc.Preload(); err != nil && !broken {
		return fmt.Errorf("failed to preload models: %w", err)
	}
	testCtx.Inference = httptest.NewServer(svc.Router())
	return nil
}

// aDetectionServer starts the detection server with the ML tier off. The
// remote tier points at the running inference service, if any.
func (testCtx *TestContext) aDetectionServer(native string) error {
	pc := pipeline.DefaultConfig()
	pc.Native.Enabled = native == "enabled"
	pc.ML.Enabled = false
	pc.Cache.Enabled = false
	pc.Fallback.Enabled = testCtx.Inference != nil
	if testCtx.Inference != nil {
		pc.Fallback.URL = testCtx.Inference.URL
		pc.Fallback.HealthCheck = true
		pc.Fallback.Timeout = 5 * time.Second
	}

	srv, err := server.NewServer(server.Config{CORSOrigin: "*", TimeoutSec: 10, PipelineConfig: pc})
	if err != nil {
		return fmt.Errorf("failed to create detection server: %w", err)
	}
	testCtx.APIServer = srv
	testCtx.API = httptest.NewServer(srv.Handler())
	return nil
}

func (testCtx *TestContext) iUploadAnImageEncoding(kind, content, target, path string) error {
	data, err := imageBytes(kind, content)
	if err != nil {
		return err
	}
	return testCtx.upload(target, path, data, nil)
}

func (testCtx *TestContext) iUploadAnImage(kind, target, path string) error {
	data, err := imageBytes(kind, "")
	if err != nil {
		return err
	}
	return testCtx.upload(target, path, data, nil)
}

func (testCtx *TestContext) iUploadTheBytes(body, target, path string) error {
	return testCtx.upload(target, path, []byte(body), nil)
}

func (testCtx *TestContext) iUploadAQRWithRequestID(content, requestID string) error {
	data, err := imageBytes("qr", content)
	if err != nil {
		return err
	}
	return testCtx.upload("detection server", "/qr/detect", data, http.Header{server.HeaderRequestID: {requestID}})
}

// upload posts data as the "image" field of a multipart form.
func (testCtx *TestContext) upload(target, path string, data []byte, header http.Header) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "upload.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", writer.FormDataContentType())
	return testCtx.do(http.MethodPost, target, path, &body, header)
}

func (testCtx *TestContext) iSendARequest(method, target, path string) error {
	return testCtx.do(method, target, path, nil, nil)
}

func (testCtx *TestContext) do(method, target, path string, body io.Reader, header http.Header) error {
	base, err := testCtx.baseURL(target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPBody = data
	testCtx.LastHTTPHeaders = resp.Header
	testCtx.lastJSON = nil
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != want {
		return fmt.Errorf("expected header %s to be %q, got %q", name, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseBodyShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPBody, []byte(text)) {
		return fmt.Errorf("expected response body to contain %q", text)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	got, err := testCtx.jsonField(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %s to be %q, got %q", path, want, got)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldStartWith(path, prefix string) error {
	got, err := testCtx.jsonField(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(got, prefix) {
		return fmt.Errorf("expected %s to start with %q, got %q", path, prefix, got)
	}
	return nil
}

// jsonField looks up a dotted path such as "models.0.name" in the last
// response body and renders the value as text.
func (testCtx *TestContext) jsonField(path string) (string, error) {
	if testCtx.lastJSON == nil {
		if err := json.Unmarshal(testCtx.LastHTTPBody, &testCtx.lastJSON); err != nil {
			return "", fmt.Errorf("response is not a JSON object: %w", err)
		}
	}

	var cur any = testCtx.lastJSON
	for _, key := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return "", fmt.Errorf("field %q missing in response", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return "", fmt.Errorf("index %q out of range in %q", key, path)
			}
			cur = v[i]
		default:
			return "", fmt.Errorf("cannot descend into %q of %q", key, path)
		}
	}

	switch v := cur.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		raw, err := json.Marshal(v)
		return string(raw), err
	}
}

// RegisterServerSteps registers the HTTP steps for both servers.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	// Server lifecycle
	sc.Step(`^an inference service with loadable models$`, func() error {
		return testCtx.anInferenceServiceWith(false)
	})
	sc.Step(`^an inference service whose models fail to load$`, func() error {
		return testCtx.anInferenceServiceWith(true)
	})
	sc.Step(`^a detection server with native decoding (enabled|disabled)$`, testCtx.aDetectionServer)

	// Requests
	sc.Step(`^I upload an? (qr|invoice) image encoding "([^"]*)" to the (detection server|inference service) at "([^"]*)"$`,
		testCtx.iUploadAnImageEncoding)
	sc.Step(`^I upload an? (blank|noise) image to the (detection server|inference service) at "([^"]*)"$`,
		testCtx.iUploadAnImage)
	sc.Step(`^I upload the bytes "([^"]*)" to the (detection server|inference service) at "([^"]*)"$`,
		testCtx.iUploadTheBytes)
	sc.Step(`^I upload a qr image encoding "([^"]*)" with request id "([^"]*)"$`, testCtx.iUploadAQRWithRequestID)
	sc.Step(`^I send an? (GET|OPTIONS|PUT) request to the (detection server|inference service) at "([^"]*)"$`,
		testCtx.iSendARequest)

	// Assertions
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response body should contain "([^"]*)"$`, testCtx.theResponseBodyShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should start with "([^"]*)"$`, testCtx.theJSONFieldShouldStartWith)
}
