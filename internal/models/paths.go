package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// QR detector variants, smallest first.
const (
	VariantNano   = "nano"
	VariantSmall  = "small"
	VariantMedium = "medium"
	VariantLarge  = "large"
)

// TypeDetection is the subdirectory holding detector weights.
const TypeDetection = "detection"

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "QRCASCADE_MODELS_DIR"

// ModelInfo contains metadata about a detector variant.
type ModelInfo struct {
	Variant     string
	Filename    string
	Description string
	// ExpectedLatency is the typical CPU forward pass time; it orders variants.
	ExpectedLatency time.Duration
}

var variants = []ModelInfo{
	{Variant: VariantNano, Filename: DetectorFilename(VariantNano), Description: "YOLO QR detector, nano", ExpectedLatency: 50 * time.Millisecond},
	{Variant: VariantSmall, Filename: DetectorFilename(VariantSmall), Description: "YOLO QR detector, small", ExpectedLatency: 100 * time.Millisecond},
	{Variant: VariantMedium, Filename: DetectorFilename(VariantMedium), Description: "YOLO QR detector, medium", ExpectedLatency: 150 * time.Millisecond},
	{Variant: VariantLarge, Filename: DetectorFilename(VariantLarge), Description: "YOLO QR detector, large", ExpectedLatency: 300 * time.Millisecond},
}

// DetectorFilename returns the ONNX file name for a variant.
func DetectorFilename(variant string) string {
	return fmt.Sprintf("qreader_detector_%s.onnx", variant)
}

// ListAvailableModels returns all known variants in ascending cost.
func ListAvailableModels() []ModelInfo {
	out := make([]ModelInfo, len(variants))
	copy(out, variants)
	return out
}

// Variants returns all variant names in ascending cost.
func Variants() []string {
	out := make([]string, len(variants))
	for i, v := range variants {
		out[i] = v.Variant
	}
	return out
}

// Lookup returns the metadata for a variant.
func Lookup(variant string) (ModelInfo, bool) {
	for _, v := range variants {
		if v.Variant == variant {
			return v, true
		}
	}
	return ModelInfo{}, false
}

// IsVariant reports whether name is a known variant.
func IsVariant(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// SortVariants returns the known names from in ascending cost, dropping
// duplicates. Unknown names produce an error.
func SortVariants(in []string) ([]string, error) {
	want := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if !IsVariant(v) {
			return nil, fmt.Errorf("unknown model variant %q (want one of %s)", v, strings.Join(Variants(), ", "))
		}
		want[v] = true
	}
	out := make([]string, 0, len(want))
	for _, v := range variants {
		if want[v.Variant] {
			out = append(out, v.Variant)
		}
	}
	return out, nil
}

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory path from various sources
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/detection/<file> and falls back to the flat
// <dir>/<file> layout.
func ResolveModelPath(modelsDir, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	organized := filepath.Join(baseDir, TypeDetection, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(baseDir, filename)
}

// GetDetectorModelPath returns the path for a detector variant.
func GetDetectorModelPath(modelsDir, variant string) string {
	return ResolveModelPath(modelsDir, DetectorFilename(variant))
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}
