package server

import (
	"context"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// detectorPipeline defines the methods needed by the server from a pipeline.
type detectorPipeline interface {
	Detect(ctx context.Context, requestID string, data []byte) *pipeline.Result
	Info() map[string]any
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    detectorPipeline
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	modelsDir   string
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	PipelineConfig  pipeline.Config
}

// HeaderRequestID carries a caller supplied request identifier.
const HeaderRequestID = "X-Request-ID"

// Response types for API endpoints.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Time     string         `json:"time"`
	Pipeline map[string]any `json:"pipeline,omitempty"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
	LatencyMs   int64  `json:"expected_latency_ms"`
	Available   bool   `json:"available"`
	State       string `json:"state,omitempty"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// ErrorResponse is the body of every non-2xx answer that is not a detection result.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewServer builds the detection pipeline from config and wraps it.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.NewBuilderFromConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	return New(config, pl), nil
}

// New wraps an existing pipeline. The server takes ownership of p.
func New(config Config, p detectorPipeline) *Server {
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	return &Server{
		pipeline:    p,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		modelsDir:   config.PipelineConfig.ModelsDir,
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}
