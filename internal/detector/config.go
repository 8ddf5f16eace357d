package detector

import (
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/onnx"
)

// Config holds detector tier settings.
type Config struct {
	ModelsDir     string
	Variants      []string       // enabled variants; ordered by cost when the tier is built
	InputSize     int            // model input edge (default: 640)
	MinConfidence float32        // box confidence threshold (default: 0.20)
	NMSThreshold  float64        // IoU above which lower boxes are dropped (default: 0.5)
	MaxBoxes      int            // boxes tried per variant (default: 15)
	NumThreads    int            // intra-op threads, 0 = ORT default
	Warmup        int            // warmup forward passes after load
	GPU           onnx.GPUConfig // CUDA settings
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Variants:      models.Variants(),
		InputSize:     640,
		MinConfidence: 0.20,
		NMSThreshold:  0.5,
		MaxBoxes:      15,
		GPU:           onnx.DefaultGPUConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputSize <= 0 {
		c.InputSize = d.InputSize
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = d.NMSThreshold
	}
	if c.MaxBoxes <= 0 {
		c.MaxBoxes = d.MaxBoxes
	}
	return c
}
