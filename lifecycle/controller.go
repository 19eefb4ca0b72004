package lifecycle

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type Phase int

const (
	Idle Phase = iota
	LoadingImage
	ImageReady
	Classifying
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case LoadingImage:
		return "loading_image"
	case ImageReady:
		return "image_ready"
	case Classifying:
		return "classifying"
	default:
		return "unknown"
	}
}

// Outcome describes how one selection ended.
type Outcome struct {
	NoOp        bool         `json:"no_op,omitempty"`
	Superseded  bool         `json:"superseded,omitempty"`
	Status      string       `json:"status"`
	Results     string       `json:"results"`
	Predictions []Prediction `json:"predictions,omitempty"`
	Err         error        `json:"-"`
}

// Controller runs one classification cycle per file selection. A newer
// selection cancels the one in flight; writes from a superseded cycle never
// reach the display.
type Controller struct {
	handle  *Handle
	decoder ImageDecoder
	display Display
	topK    int
	log     *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	phase  Phase
}

func NewController(handle *Handle, decoder ImageDecoder, display Display, topK int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 3
	}
	return &Controller{
		handle:  handle,
		decoder: decoder,
		display: display,
		topK:    topK,
		log:     logger,
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Select(ctx context.Context, f *File) Outcome {
	if f == nil {
		return Outcome{NoOp: true}
	}

	ctx, gen := c.begin(ctx)
	defer c.end(gen)

	c.write(gen, LoadingImage, func(d Display) {
		d.SetResults("")
		d.SetStatus(StatusPreparing)
	})

	img, err := c.decoder.Decode(ctx, f.Data)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrImageLoad, err)
		c.log.Error("Image load failed", slog.String("file", f.Name), slog.String("error", err.Error()))
		return c.finish(gen, Outcome{Status: StatusCannotLoad, Err: err}, nil)
	}
	if !c.write(gen, ImageReady, func(d Display) { d.ShowPreview(img) }) {
		return Outcome{Superseded: true}
	}

	model, ok := c.handle.Get()
	if !ok {
		return c.finish(gen, Outcome{Status: StatusModelNotReady}, nil)
	}

	c.write(gen, Classifying, func(d Display) { d.SetStatus(StatusClassifying) })
	preds, err := classify(ctx, model, img)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrClassify, err)
		c.log.Error("Classification failed", slog.String("file", f.Name), slog.String("error", err.Error()))
		return c.finish(gen, Outcome{Status: StatusAnalysisError, Results: err.Error(), Err: err}, nil)
	}

	top := TopK(preds, c.topK)
	return c.finish(gen, Outcome{Status: StatusDone, Results: FormatPredictions(top)}, top)
}

func classify(ctx context.Context, m Model, img image.Image) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Classify(ctx, img)
}

func (c *Controller) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = cancel
	return ctx, c.gen
}

func (c *Controller) end(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancel()
		c.cancel = nil
		c.phase = Idle
	}
}

// write applies fn to the display only while gen is the newest cycle.
func (c *Controller) write(gen uint64, phase Phase, fn func(Display)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.phase = phase
	fn(c.display)
	return true
}

func (c *Controller) finish(gen uint64, out Outcome, preds []Prediction) Outcome {
	out.Predictions = preds
	ok := c.write(gen, Idle, func(d Display) {
		if out.Status == StatusDone || out.Status == StatusAnalysisError {
			d.SetResults(out.Results)
		}
		d.SetStatus(out.Status)
	})
	if !ok {
		return Outcome{Superseded: true, Err: out.Err}
	}
	return out
}

// TopK returns at most k predictions in descending probability order.
func TopK(preds []Prediction, k int) []Prediction {
	ranked := make([]Prediction, len(preds))
	copy(ranked, preds)
	sortPredictions(ranked)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

func sortPredictions(preds []Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
}

// FormatPredictions renders one "label (p.ppp)" line per prediction.
func FormatPredictions(preds []Prediction) string {
	if len(preds) == 0 {
		return NoPredictions
	}
	lines := make([]string, 0, len(preds))
	for _, p := range preds {
		lines = append(lines, fmt.Sprintf("%s (%.3f)", p.Label, p.Probability))
	}
	return strings.Join(lines, "\n")
}
