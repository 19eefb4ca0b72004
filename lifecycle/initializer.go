package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

type Initializer struct {
	runtime Runtime
	loader  Loader
	handle  *Handle
	status  StatusSink
	log     *slog.Logger

	started atomic.Bool
}

func NewInitializer(rt Runtime, loader Loader, handle *Handle, status StatusSink, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{
		runtime: rt,
		loader:  loader,
		handle:  handle,
		status:  status,
		log:     logger,
	}
}

// Run brings the runtime up, selects a backend and publishes the model.
// It may be called once; any failure is terminal.
func (i *Initializer) Run(ctx context.Context) (Backend, error) {
	if !i.started.CompareAndSwap(false, true) {
		return 0, ErrAlreadyStarted
	}

	i.status.SetStatus(StatusInitializing)
	if err := i.runtime.Ready(ctx); err != nil {
		return 0, i.fail(fmt.Errorf("%w: %w", ErrRuntimeInit, err))
	}

	backend, err := i.selectBackend(ctx)
	if err != nil {
		return 0, i.fail(err)
	}

	i.status.SetStatus(StatusLoadingModel)
	model, err := i.loader.Load(ctx)
	if err != nil && backend == Accelerated && errors.Is(err, ErrBackendSelect) {
		// the provider was accepted but could not start a session
		i.log.Warn("Accelerated backend failed to start, falling back", slog.String("error", err.Error()))
		if err := i.fallback(ctx); err != nil {
			return 0, i.fail(err)
		}
		backend = Fallback
		i.status.SetStatus(StatusLoadingModel)
		model, err = i.loader.Load(ctx)
	}
	if err != nil {
		return backend, i.fail(fmt.Errorf("%w: %w", ErrModelLoad, err))
	}

	if w, ok := model.(Warmer); ok {
		if err := w.Warmup(ctx); err != nil {
			i.log.Warn("Warm-up failed, continuing", slog.String("backend", backend.String()), slog.String("error", err.Error()))
		}
	}

	if err := i.handle.Publish(model, backend); err != nil {
		return backend, i.fail(err)
	}

	i.status.SetStatus(StatusReady)
	i.log.Info("Model ready", slog.String("backend", backend.String()))
	return backend, nil
}

func (i *Initializer) selectBackend(ctx context.Context) (Backend, error) {
	err := i.runtime.SelectBackend(ctx, Accelerated)
	if err == nil {
		i.status.SetStatus(StatusAccelerated)
		return Accelerated, nil
	}
	i.log.Warn("Accelerated backend unavailable, falling back", slog.String("error", err.Error()))

	if err := i.fallback(ctx); err != nil {
		return 0, err
	}
	return Fallback, nil
}

func (i *Initializer) fallback(ctx context.Context) error {
	if err := i.runtime.SelectBackend(ctx, Fallback); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendSelect, err)
	}
	i.status.SetStatus(StatusFallback)
	return nil
}

func (i *Initializer) fail(err error) error {
	i.log.Error("Initialization failed", slog.String("error", err.Error()))
	i.status.SetStatus(StatusInitError)
	return err
}
