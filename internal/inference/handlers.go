package inference

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/qrcascade/internal/fallback"
	"github.com/MeKo-Tech/qrcascade/internal/imageio"
	"github.com/MeKo-Tech/qrcascade/internal/version"
)

// ErrorResponse is the body of a non-200 reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// Router returns the service routes.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Service) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { requestDuration.Observe(time.Since(start).Seconds()) }()

	data, err := imageio.ReadUpload(w, r, s.cfg.MaxUploadBytes)
	if err != nil {
		code := "invalid_request"
		if errors.Is(err, imageio.ErrTooLarge) {
			code = "too_large"
		}
		requestsTotal.WithLabelValues(code).Inc()
		sendError(w, code, err.Error(), imageio.UploadStatus(err))
		return
	}
	img, err := imageio.DecodeBytes(data)
	if err != nil {
		requestsTotal.WithLabelValues("invalid_image").Inc()
		sendError(w, "invalid_image", err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.Detect(r.Context(), img)
	if err != nil {
		requestsTotal.WithLabelValues("cancelled").Inc()
		sendError(w, "cancelled", err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := fallback.Response{
		Success:          d.Found,
		DetectorModel:    d.Model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Confidence:       float64(d.Confidence),
		Stages:           d.Stages,
	}
	result := "not_found"
	if d.Found {
		payload := d.Payload
		resp.Payload = &payload
		result = "success"
	}
	requestsTotal.WithLabelValues(result).Inc()
	slog.Info("Inference request finished",
		"result", result,
		"detector_model", d.Model,
		"stages", d.Stages,
		"elapsed_ms", resp.ProcessingTimeMs)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.Status()
	code := http.StatusOK
	if status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, fallback.HealthResponse{
		Status:  status,
		Models:  s.Models(),
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func sendError(w http.ResponseWriter, code, msg string, status int) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
