package lifecycle

import "sync"

// Handle holds the process model. It can be published exactly once.
type Handle struct {
	mu      sync.RWMutex
	model   Model
	backend Backend
	ready   chan struct{}
}

func NewHandle() *Handle {
	return &Handle{ready: make(chan struct{})}
}

func (h *Handle) Publish(m Model, b Backend) error {
	if m == nil {
		return ErrModelLoad
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		return ErrAlreadyPublished
	}
	h.model = m
	h.backend = b
	close(h.ready)
	return nil
}

func (h *Handle) Get() (Model, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model, h.model != nil
}

// Backend reports the backend the published model runs on. The second
// result is false until Publish succeeds.
func (h *Handle) Backend() (Backend, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backend, h.model != nil
}

// Ready is closed once a model is published.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}
