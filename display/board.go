// Package display holds the surfaces the lifecycle writes to: an in-memory
// board shared by the web page and a plain writer for the terminal.
package display

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/nfnt/resize"
)

type Snapshot struct {
	Status     string    `json:"status"`
	Results    string    `json:"results"`
	HasPreview bool      `json:"has_preview"`
	Version    uint64    `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Board is the shared status/results/preview surface. Every change bumps
// Version and is fanned out to subscribers; slow subscribers miss updates
// rather than block writers.
type Board struct {
	previewSize uint

	mu      sync.RWMutex
	snap    Snapshot
	preview []byte
	subs    map[chan Snapshot]struct{}
}

func NewBoard(previewSize int) *Board {
	if previewSize <= 0 {
		previewSize = 320
	}
	return &Board{
		previewSize: uint(previewSize),
		subs:        make(map[chan Snapshot]struct{}),
	}
}

func (b *Board) SetStatus(msg string) {
	b.update(func(s *Snapshot) { s.Status = msg })
}

func (b *Board) SetResults(text string) {
	b.update(func(s *Snapshot) { s.Results = text })
}

// ShowPreview stores a JPEG thumbnail of img bounded by the preview size.
func (b *Board) ShowPreview(img image.Image) {
	thumb := resize.Thumbnail(b.previewSize, b.previewSize, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		slog.Error("Failed to encode preview", slog.String("error", err.Error()))
		return
	}
	b.mu.Lock()
	b.preview = buf.Bytes()
	b.mu.Unlock()
	b.update(func(s *Snapshot) { s.HasPreview = true })
}

func (b *Board) Preview() ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.preview, b.preview != nil
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Subscribe returns a channel receiving every snapshot after the current
// one, and a func to stop the subscription.
func (b *Board) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Board) update(fn func(*Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.snap)
	b.snap.Version++
	b.snap.UpdatedAt = time.Now()
	for ch := range b.subs {
		select {
		case ch <- b.snap:
		default:
		}
	}
}
