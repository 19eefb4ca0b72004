package display

import (
	"fmt"
	"image"
	"io"
	"sync"
)

// Writer prints status and results lines to w. Used by the one-shot CLI.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	status  string
	results string
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (d *Writer) SetStatus(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = msg
	fmt.Fprintf(d.w, "[status] %s\n", msg)
}

func (d *Writer) SetResults(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = text
	if text != "" {
		fmt.Fprintln(d.w, text)
	}
}

func (d *Writer) ShowPreview(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := img.Bounds()
	fmt.Fprintf(d.w, "[image] %dx%d\n", b.Dx(), b.Dy())
}

func (d *Writer) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
