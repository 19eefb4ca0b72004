package lifecycle

import (
	"context"
	"errors"
	"image"
	"sync"
)

type fakeRuntime struct {
	readyErr       error
	acceleratedErr error
	fallbackErr    error

	selected []Backend
}

func (r *fakeRuntime) Ready(context.Context) error { return r.readyErr }

func (r *fakeRuntime) SelectBackend(_ context.Context, b Backend) error {
	r.selected = append(r.selected, b)
	if b == Accelerated {
		return r.acceleratedErr
	}
	return r.fallbackErr
}

type fakeLoader struct {
	model Model
	err   error
	// errs, when set, are returned by successive calls before err applies.
	errs  []error
	calls int
}

func (l *fakeLoader) Load(context.Context) (Model, error) {
	l.calls++
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

type fakeModel struct {
	mu    sync.Mutex
	preds []Prediction
	err   error
	calls int
	// block, when set, holds Classify until it is closed or ctx ends.
	block chan struct{}

	warmErr error
	warmups int
}

func (m *fakeModel) Warmup(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmups++
	return m.warmErr
}

func (m *fakeModel) Classify(ctx context.Context, _ image.Image) ([]Prediction, error) {
	m.mu.Lock()
	m.calls++
	block, preds, err := m.block, m.preds, m.err
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return preds, err
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var errCorrupt = errors.New("corrupt image")

type fakeDecoder struct{}

func (fakeDecoder) Decode(_ context.Context, data []byte) (image.Image, error) {
	if string(data) == "corrupt" {
		return nil, errCorrupt
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

type recorder struct {
	mu       sync.Mutex
	statuses []string
	results  []string
	previews int
}

func (r *recorder) SetStatus(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recorder) SetResults(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, text)
}

func (r *recorder) ShowPreview(image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews++
}

func (r *recorder) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) lastResults() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return ""
	}
	return r.results[len(r.results)-1]
}

func (r *recorder) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses) + len(r.results) + r.previews
}
