package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/qrcascade/internal/mempool"
	"github.com/MeKo-Tech/qrcascade/internal/models"
	"github.com/MeKo-Tech/qrcascade/internal/onnx"
)

// Model is a loaded detector variant. Implementations must be safe for
// concurrent Detect calls.
type Model interface {
	Variant() string
	Detect(ctx context.Context, img image.Image) ([]Box, error)
	Close() error
}

// Handle is an ONNX-backed Model. One Handle per variant is shared by all
// requests; DynamicAdvancedSession.Run is reentrant.
type Handle struct {
	variant    string
	path       string
	cfg        Config
	inputSize  int
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo

	mu      sync.RWMutex
	session *onnxruntime_go.DynamicAdvancedSession
}

// NewHandle loads the model file for variant.
func NewHandle(variant string, cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	if !models.IsVariant(variant) {
		return nil, fmt.Errorf("unknown model variant %q", variant)
	}
	path := models.GetDetectorModelPath(cfg.ModelsDir, variant)
	if err := models.ValidateModelExists(path); err != nil {
		return nil, err
	}

	slog.Debug("Loading QR detector", "variant", variant, "model_path", path, "gpu_enabled", cfg.GPU.UseGPU)

	if err := onnx.InitRuntime(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}
	inputInfo, outputInfo, err := validateModelInfo(path)
	if err != nil {
		return nil, err
	}
	session, err := createSession(path, inputInfo, outputInfo, cfg)
	if err != nil {
		return nil, err
	}

	size := cfg.InputSize
	if d := inputInfo.Dimensions; d[2] > 0 && d[2] == d[3] {
		size = int(d[2])
	}
	return &Handle{
		variant:    variant,
		path:       path,
		cfg:        cfg,
		inputSize:  size,
		inputInfo:  inputInfo,
		outputInfo: outputInfo,
		session:    session,
	}, nil
}

// validateModelInfo gets and validates model input/output information.
func validateModelInfo(modelPath string) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) < 1 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			errors.New("model has no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

func createSession(modelPath string, inputInfo, outputInfo onnxruntime_go.InputOutputInfo,
	cfg Config,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnx.NewSessionOptions(cfg.NumThreads, cfg.GPU)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Variant returns the variant name.
func (h *Handle) Variant() string { return h.variant }

// Path returns the model file path.
func (h *Handle) Path() string { return h.path }

// InputSize returns the square model input edge.
func (h *Handle) InputSize() int { return h.inputSize }

// Detect runs one forward pass on img resized to the model input and returns
// the selected boxes, best first.
func (h *Handle) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := mempool.GetFloat32(3 * h.inputSize * h.inputSize)
	defer mempool.PutFloat32(data)
	fillNCHW(data, img, h.inputSize)

	tensor, err := onnx.NewImageTensor(data, 3, h.inputSize, h.inputSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	out, shape, err := h.run(tensor)
	if err != nil {
		return nil, err
	}
	boxes, err := ParseOutput(out, shape, h.inputSize, h.cfg.MinConfidence)
	if err != nil {
		return nil, err
	}
	return SelectBoxes(boxes, h.cfg.NMSThreshold, h.cfg.MaxBoxes), nil
}

func (h *Handle) run(tensor onnx.Tensor) ([]float32, []int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return nil, nil, errors.New("detector session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(tensor.Shape...), tensor.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying input tensor: %v\n", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := h.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			if err := outputs[0].Destroy(); err != nil {
				fmt.Fprintf(os.Stderr, "Error destroying output tensor: %v\n", err)
			}
		}
	}()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, errors.New("output tensor is not float32")
	}
	src := ft.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return data, []int64(ft.GetShape()), nil
}

// Warmup runs forward passes on a blank image to reduce first-run latency.
func (h *Handle) Warmup(iterations int) error {
	blank := image.NewRGBA(image.Rect(0, 0, h.inputSize, h.inputSize))
	for range iterations {
		if _, err := h.Detect(context.Background(), blank); err != nil {
			return fmt.Errorf("warmup %s: %w", h.variant, err)
		}
	}
	return nil
}

// Close releases the session. The runtime environment stays up.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	return err
}

// fillNCHW resizes img to size x size with Lanczos and writes RGB/255 planes
// into dst, which must hold 3*size*size values.
func fillNCHW(dst []float32, img image.Image, size int) {
	resized := imaging.Resize(img, size, size, imaging.Lanczos)
	plane := size * size
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			i := y*size + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}
