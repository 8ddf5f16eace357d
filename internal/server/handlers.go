package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/qrcascade/internal/detector"
	"github.com/MeKo-Tech/qrcascade/internal/imageio"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
	"github.com/MeKo-Tech/qrcascade/internal/version"
)

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/qr/detect", s.corsMiddleware(s.detectHandler))
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/qr/stream", s.streamHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		response.Pipeline = s.pipeline.Info()
	}
	writeJSON(w, http.StatusOK, response)
}

// modelsHandler returns information about the detector variants.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var states map[string]string
	if s.pipeline != nil {
		states, _ = s.pipeline.Info()["models"].(map[string]string)
	}

	infos := models.ListAvailableModels()
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		path := models.GetDetectorModelPath(s.modelsDir, info.Variant)
		state := states[info.Variant]
		if state == "" {
			state = detector.StateNotLoaded
		}
		list[i] = ModelInfo{
			Name:        info.Variant,
			Path:        path,
			Type:        models.TypeDetection,
			Description: info.Description,
			LatencyMs:   info.ExpectedLatency.Milliseconds(),
			Available:   models.ValidateModelExists(path) == nil,
			State:       state,
		}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: list, Count: len(list)})
}

// detectHandler runs the cascade on one uploaded image. Both "not found" and
// success answer 200 with the full result; callers branch on success.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get(HeaderRequestID)
	data, err := imageio.ReadUpload(w, r, s.maxUploadMB<<20, "image", "file")
	if err != nil {
		detectRequestsTotal.WithLabelValues("bad_request").Inc()
		s.writeErrorResponse(w, requestID, err.Error(), imageio.UploadStatus(err))
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	if s.pipeline == nil {
		s.writeErrorResponse(w, requestID, "detection pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	res := s.pipeline.Detect(ctx, requestID, data)
	detectRequestsTotal.WithLabelValues(outcome(res)).Inc()

	w.Header().Set(HeaderRequestID, res.RequestID)
	writeJSON(w, resultStatus(res, ctx.Err()), res)
}

func outcome(res *pipeline.Result) string {
	if res.Success {
		return "success"
	}
	return string(res.Failure)
}

func resultStatus(res *pipeline.Result, ctxErr error) int {
	switch res.Failure {
	case pipeline.FailureInvalidImage:
		return http.StatusBadRequest
	case pipeline.FailureCancelled:
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, requestID, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message, RequestID: requestID})
}
