// Package lifecycle drives model readiness and per-photo classification.
//
// An Initializer brings the inference runtime up once and publishes a Model
// into a write-once Handle. A Controller reacts to file selections, reading
// the Handle and writing status and results to a Display.
package lifecycle

import (
	"context"
	"errors"
	"image"
)

type Backend int

const (
	Accelerated Backend = iota
	Fallback
)

func (b Backend) String() string {
	switch b {
	case Accelerated:
		return "accelerated"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

type Prediction struct {
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// File is one user selection. Data holds the raw bytes of the photo.
type File struct {
	Name string
	Data []byte
}

type Runtime interface {
	Ready(ctx context.Context) error
	SelectBackend(ctx context.Context, b Backend) error
}

// Loader opens the model on the selected backend. An error wrapping
// ErrBackendSelect means the backend itself could not start a session.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// Warmer is implemented by models that can run a throwaway inference to
// force lazy allocations on the backend ahead of the first request.
type Warmer interface {
	Warmup(ctx context.Context) error
}

type Model interface {
	// Classify returns predictions ranked by descending probability.
	Classify(ctx context.Context, img image.Image) ([]Prediction, error)
}

type ImageDecoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

// StatusSink receives lifecycle status messages. Each call replaces the
// previous message.
type StatusSink interface {
	SetStatus(msg string)
}

type Display interface {
	StatusSink
	SetResults(text string)
	ShowPreview(img image.Image)
}

var (
	ErrRuntimeInit      = errors.New("runtime initialization failed")
	ErrBackendSelect    = errors.New("backend selection failed")
	ErrModelLoad        = errors.New("model load failed")
	ErrImageLoad        = errors.New("cannot load image")
	ErrClassify         = errors.New("classification failed")
	ErrAlreadyPublished = errors.New("model handle already published")
	ErrAlreadyStarted   = errors.New("initializer already started")
)

const (
	StatusInitializing = "initializing runtime"
	StatusAccelerated  = "backend: accelerated"
	StatusFallback     = "backend: fallback"
	StatusLoadingModel = "loading model"
	StatusReady        = "ready for input"
	StatusInitError    = "initialization error"

	StatusPreparing     = "preparing image"
	StatusCannotLoad    = "cannot load image"
	StatusModelNotReady = "model not ready"
	StatusClassifying   = "classification in progress"
	StatusDone          = "done"
	StatusAnalysisError = "error during analysis"

	NoPredictions = "no predictions"
)

// IsErrorStatus reports whether msg is one of the failure statuses.
func IsErrorStatus(msg string) bool {
	switch msg {
	case StatusInitError, StatusCannotLoad, StatusModelNotReady, StatusAnalysisError:
		return true
	}
	return false
}
