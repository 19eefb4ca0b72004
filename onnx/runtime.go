package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/krau/snapclassify/config"
	"github.com/krau/snapclassify/lifecycle"
	ort "github.com/yalue/onnxruntime_go"
)

var pathOnce sync.Once
var libPath string

func LibPath() string {
	pathOnce.Do(func() {
		libPath = loadLibPath(config.C().Libonnx)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func loadLibPath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
	case "darwin":
		candidates = []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		candidates = []string{filepath.Join("onnxlibs", "onnxruntime.dll"), "onnxruntime.dll"}
	default:
		return ""
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// Runtime owns the ONNX Runtime environment and the session options of the
// selected backend.
type Runtime struct {
	libPath     string
	accelerator string
	deviceID    int

	mu      sync.Mutex
	opts    *ort.SessionOptions
	backend lifecycle.Backend
}

func NewRuntime(libPath, accelerator string, deviceID int) *Runtime {
	return &Runtime{
		libPath:     libPath,
		accelerator: accelerator,
		deviceID:    deviceID,
	}
}

func (r *Runtime) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ort.IsInitialized() {
		return nil
	}
	if r.libPath == "" {
		return fmt.Errorf("no ONNX Runtime library for %s", runtime.GOOS)
	}
	ort.SetSharedLibraryPath(r.libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	slog.Info("ONNX Runtime ready", slog.String("version", ort.GetVersion()))
	return nil
}

func (r *Runtime) SelectBackend(ctx context.Context, b lifecycle.Backend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("failed to create session options: %w", err)
	}
	if b == lifecycle.Accelerated {
		if err := r.appendAccelerator(opts); err != nil {
			opts.Destroy()
			return fmt.Errorf("%s provider: %w", r.accelerator, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts != nil {
		r.opts.Destroy()
	}
	r.opts = opts
	r.backend = b
	slog.Info("Execution backend selected", slog.String("backend", b.String()), slog.String("accelerator", r.accelerator))
	return nil
}

func (r *Runtime) appendAccelerator(opts *ort.SessionOptions) error {
	device := strconv.Itoa(r.deviceID)
	switch r.accelerator {
	case "cuda":
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": device}); err != nil {
			return err
		}
		return opts.AppendExecutionProviderCUDA(cuda)
	case "tensorrt":
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trt.Destroy()
		if err := trt.Update(map[string]string{"device_id": device}); err != nil {
			return err
		}
		return opts.AppendExecutionProviderTensorRT(trt)
	case "coreml":
		return opts.AppendExecutionProviderCoreML(0)
	case "directml":
		return opts.AppendExecutionProviderDirectML(r.deviceID)
	case "", "none":
		return fmt.Errorf("no accelerator configured")
	default:
		return fmt.Errorf("unknown accelerator %q", r.accelerator)
	}
}

// SessionOptions returns the options of the selected backend, or nil before
// SelectBackend succeeds.
func (r *Runtime) SessionOptions() *ort.SessionOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

func (r *Runtime) Backend() lifecycle.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend
}

func (r *Runtime) Close() {
	r.mu.Lock()
	if r.opts != nil {
		r.opts.Destroy()
		r.opts = nil
	}
	r.mu.Unlock()
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
		}
	}
}
