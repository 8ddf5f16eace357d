// Package onnx wraps ONNX Runtime process setup: shared library discovery,
// one-time environment initialisation, execution provider options and small
// tensor helpers shared by the detector sessions.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// EnvLibraryPath overrides shared library discovery.
const EnvLibraryPath = "ONNXRUNTIME_LIB_PATH"

var (
	initOnce sync.Once
	errInit  error
)

// InitRuntime locates the shared library and initialises the ONNX Runtime
// environment. Only the first call does work; later calls return its result.
func InitRuntime(useGPU bool) error {
	initOnce.Do(func() {
		if onnxruntime_go.IsInitialized() {
			return
		}
		if err := SetONNXLibraryPath(useGPU); err != nil {
			errInit = err
			return
		}
		if err := onnxruntime_go.InitializeEnvironment(); err != nil {
			errInit = fmt.Errorf("initialize onnx runtime: %w", err)
			return
		}
		slog.Info("ONNX Runtime initialized", "gpu", useGPU)
	})
	return errInit
}

// Shutdown destroys the environment if it was initialised.
func Shutdown() error {
	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}

// libraryCandidates lists absolute paths to try, in order.
func libraryCandidates(useGPU bool, projectRoot, libName string) []string {
	var out []string
	if p := os.Getenv(EnvLibraryPath); p != "" {
		out = append(out, p)
	}
	if useGPU {
		out = append(out, "/opt/onnxruntime/gpu/lib/"+libLinux)
	}
	out = append(out,
		"/usr/local/lib/"+libLinux,
		"/usr/lib/"+libLinux,
		"/opt/onnxruntime/cpu/lib/"+libLinux,
	)
	if projectRoot != "" {
		if useGPU {
			out = append(out, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", libName))
		}
		out = append(out, filepath.Join(projectRoot, "onnxruntime", "lib", libName))
	}
	return out
}

// findProjectRoot finds the project root directory by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// getLibraryName returns the appropriate library filename for the current OS.
func getLibraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// FindLibrary returns the first existing candidate path.
func FindLibrary(useGPU bool) (string, error) {
	libName, err := getLibraryName()
	if err != nil {
		return "", err
	}
	root, _ := findProjectRoot()
	for _, p := range libraryCandidates(useGPU, root, libName) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found (set %s)", libName, EnvLibraryPath)
}

// SetONNXLibraryPath points onnxruntime_go at the discovered shared library.
func SetONNXLibraryPath(useGPU bool) error {
	p, err := FindLibrary(useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(p)
	return nil
}
