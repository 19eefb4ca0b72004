package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/krau/snapclassify/config"
	"github.com/krau/snapclassify/lifecycle"
	"github.com/krau/snapclassify/onnx"
	"github.com/krau/snapclassify/service"
)

// App bundles the lifecycle components wired to ONNX Runtime.
type App struct {
	Handle      *lifecycle.Handle
	Initializer *lifecycle.Initializer
	Controller  *lifecycle.Controller
	Runtime     *onnx.Runtime

	once sync.Once
	done chan struct{}
}

func Init(cfg config.Config, libPath string, d lifecycle.Display) *App {
	rt := onnx.NewRuntime(libPath, cfg.Accelerator, cfg.DeviceID)
	loader := &service.Loader{
		Runtime: rt,
		Options: service.Options{
			ImageSize:    cfg.ImageSize,
			ApplySoftmax: cfg.ApplySoftmax,
			Workers:      cfg.Workers,
		},
		ModelDir:  cfg.ModelDir,
		ModelFile: cfg.ModelFileName,
		ModelUrl:  cfg.ModelUrl,
		LabelFile: cfg.LabelsFileName,
		LabelUrl:  cfg.LabelsUrl,
	}
	handle := lifecycle.NewHandle()
	logger := slog.Default()
	return &App{
		Handle:      handle,
		Initializer: lifecycle.NewInitializer(rt, loader, handle, d, logger.With(slog.String("component", "init"))),
		Controller:  lifecycle.NewController(handle, service.Decoder{MaxBytes: cfg.MaxUploadBytes()}, d, cfg.TopK, logger.With(slog.String("component", "controller"))),
		Runtime:     rt,
		done:        make(chan struct{}),
	}
}

// Start runs the initializer in the background. Close waits for it.
func (a *App) Start(ctx context.Context) {
	a.once.Do(func() {
		go func() {
			defer close(a.done)
			if _, err := a.Initializer.Run(ctx); err != nil {
				slog.Error("Classification disabled until restart", slog.String("error", err.Error()))
			}
		}()
	})
}

// Done is closed once a started initializer returns.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Close releases the model and the runtime. If Start was called it first
// waits for the initializer, which may still be using the environment.
func (a *App) Close() {
	started := true
	a.once.Do(func() { started = false })
	if started {
		<-a.done
	}
	if m, ok := a.Handle.Get(); ok {
		if closer, ok := m.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	a.Runtime.Close()
}
