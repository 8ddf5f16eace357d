package onnx

import (
	"fmt"
	"log/slog"

	"github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name       string  `json:"name"`
	Dimensions []int64 `json:"dimensions"`
	DataType   string  `json:"data_type"`
}

// ModelInfo is the static description of an ONNX model file.
type ModelInfo struct {
	Path        string       `json:"path"`
	Inputs      []TensorInfo `json:"inputs"`
	Outputs     []TensorInfo `json:"outputs"`
	Producer    string       `json:"producer,omitempty"`
	Version     int64        `json:"version,omitempty"`
	Description string       `json:"description,omitempty"`
}

// Inspect reads the tensor signature and metadata of a model without
// creating a session. InitRuntime must have succeeded.
func Inspect(modelPath string) (ModelInfo, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to get model info: %w", err)
	}
	info := ModelInfo{Path: modelPath, Inputs: tensorInfos(inputs), Outputs: tensorInfos(outputs)}

	meta, err := onnxruntime_go.GetModelMetadata(modelPath)
	if err != nil {
		slog.Debug("Model metadata unavailable", "path", modelPath, "error", err)
		return info, nil
	}
	defer func() {
		if err := meta.Destroy(); err != nil {
			slog.Error("Failed to destroy model metadata", "error", err)
		}
	}()
	if producer, err := meta.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if version, err := meta.GetVersion(); err == nil {
		info.Version = version
	}
	if description, err := meta.GetDescription(); err == nil {
		info.Description = description
	}
	return info, nil
}

func tensorInfos(in []onnxruntime_go.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(in))
	for i, t := range in {
		out[i] = TensorInfo{
			Name:       t.Name,
			Dimensions: append([]int64(nil), t.Dimensions...),
			DataType:   t.DataType.String(),
		}
	}
	return out
}
