package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/krau/snapclassify/lifecycle"
	"github.com/krau/snapclassify/onnx"
	ort "github.com/yalue/onnxruntime_go"
)

// Model is an ONNX classifier backed by a pool of sessions.
type Model struct {
	labels []string
	opts   Options
	pool   chan *session
	all    []*session
}

func (m *Model) Classify(ctx context.Context, img image.Image) ([]lifecycle.Prediction, error) {
	inputData, err := Preprocess(img, m.opts.ImageSize)
	if err != nil {
		return nil, err
	}

	var s *session
	select {
	case s = <-m.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.pool <- s }()

	copy(s.input.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	raw := s.output.GetData()
	scores := make([]float32, len(raw))
	copy(scores, raw)
	if m.opts.ApplySoftmax {
		scores = Softmax(scores)
	}
	return Rank(scores, m.labels), nil
}

// Warmup runs one inference on a zero input through every pooled session so
// the backend finishes its lazy allocations before the first request.
func (m *Model) Warmup(ctx context.Context) error {
	var errs []error
	for range m.all {
		var s *session
		select {
		case s = <-m.pool:
		case <-ctx.Done():
			return ctx.Err()
		}
		clear(s.input.GetData())
		if err := s.session.Run(); err != nil {
			errs = append(errs, err)
		}
		m.pool <- s
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("warm-up inference failed: %w", err)
	}
	return nil
}

func (m *Model) Labels() []string {
	return m.labels
}

func (m *Model) Close() {
	for _, s := range m.all {
		s.destroy()
	}
	m.all = nil
}

// Loader fetches the model and labels if needed and opens sessions with the
// backend selected on the runtime.
type Loader struct {
	Runtime   *onnx.Runtime
	Options   Options
	ModelDir  string
	ModelFile string
	ModelUrl  string
	LabelFile string
	LabelUrl  string
}

func (l *Loader) Load(ctx context.Context) (lifecycle.Model, error) {
	modelPath := filepath.Join(l.ModelDir, l.ModelFile)
	labelPath := filepath.Join(l.ModelDir, l.LabelFile)
	if err := onnx.Fetch(ctx, nil, l.ModelUrl, modelPath); err != nil {
		return nil, err
	}
	if err := onnx.Fetch(ctx, nil, l.LabelUrl, labelPath); err != nil {
		return nil, err
	}

	labels, err := ReadLabels(labelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", labelPath)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", modelPath)
	}

	opts := l.Options
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	m := &Model{
		labels: labels,
		opts:   opts,
		pool:   make(chan *session, opts.Workers),
	}
	for range opts.Workers {
		s, err := l.newSession(modelPath, inputs[0].Name, outputs[0].Name, len(labels))
		if err != nil {
			m.Close()
			return nil, l.sessionErr(err)
		}
		m.all = append(m.all, s)
		m.pool <- s
	}

	slog.Info("Model loaded",
		slog.String("path", modelPath),
		slog.String("input", inputs[0].Name),
		slog.String("output", outputs[0].Name),
		slog.Int("labels", len(labels)),
		slog.Int("workers", opts.Workers))
	return m, nil
}

// sessionErr marks a session failure under the accelerated backend as a
// backend failure, so the caller can retry on the fallback.
func (l *Loader) sessionErr(err error) error {
	if l.Runtime != nil && l.Runtime.Backend() == lifecycle.Accelerated {
		return fmt.Errorf("%w: %w", lifecycle.ErrBackendSelect, err)
	}
	return err
}

func (l *Loader) newSession(modelPath, inputName, outputName string, classes int) (*session, error) {
	size := int64(l.Options.ImageSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		l.Runtime.SessionOptions(),
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return &session{session: sess, input: inputTensor, output: outputTensor}, nil
}
