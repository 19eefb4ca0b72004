package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyController(t *testing.T, m Model) (*Controller, *recorder) {
	t.Helper()
	h := NewHandle()
	require.NoError(t, h.Publish(m, Accelerated))
	rec := &recorder{}
	return NewController(h, fakeDecoder{}, rec, 3, nil), rec
}

var sample = []Prediction{
	{Label: "cat", Probability: 0.942},
	{Label: "dog", Probability: 0.031},
	{Label: "fox", Probability: 0.012},
	{Label: "rat", Probability: 0.004},
}

func TestSelectTopThree(t *testing.T) {
	c, rec := readyController(t, &fakeModel{preds: sample})

	out := c.Select(context.Background(), &File{Name: "cat.jpg", Data: []byte("jpeg")})
	require.NoError(t, out.Err)
	assert.Equal(t, "cat (0.942)\ndog (0.031)\nfox (0.012)", out.Results)
	assert.Equal(t, StatusDone, out.Status)
	assert.Len(t, out.Predictions, 3)

	assert.Equal(t, "cat (0.942)\ndog (0.031)\nfox (0.012)", rec.lastResults())
	assert.Equal(t, StatusDone, rec.lastStatus())
	assert.Equal(t, []string{StatusPreparing, StatusClassifying, StatusDone}, rec.statuses)
	assert.Equal(t, "", rec.results[0], "results are cleared first")
	assert.Equal(t, 1, rec.previews)
	assert.Equal(t, Idle, c.Phase())
}

func TestSelectRanksUnorderedPredictions(t *testing.T) {
	shuffled := []Prediction{sample[3], sample[1], sample[0], sample[2]}
	c, _ := readyController(t, &fakeModel{preds: shuffled})

	out := c.Select(context.Background(), &File{Data: []byte("x")})
	assert.Equal(t, "cat (0.942)\ndog (0.031)\nfox (0.012)", out.Results)
}

func TestSelectNoPredictions(t *testing.T) {
	c, rec := readyController(t, &fakeModel{})

	out := c.Select(context.Background(), &File{Data: []byte("x")})
	assert.Equal(t, NoPredictions, out.Results)
	assert.Equal(t, NoPredictions, rec.lastResults())
	assert.Equal(t, StatusDone, rec.lastStatus())
}

func TestSelectNilFileIsNoOp(t *testing.T) {
	model := &fakeModel{preds: sample}
	c, rec := readyController(t, model)

	out := c.Select(context.Background(), nil)
	assert.True(t, out.NoOp)
	assert.Equal(t, 0, rec.writes())
	assert.Equal(t, 0, model.Calls())
}

func TestSelectModelNotReady(t *testing.T) {
	rec := &recorder{}
	c := NewController(NewHandle(), fakeDecoder{}, rec, 3, nil)

	out := c.Select(context.Background(), &File{Data: []byte("x")})
	assert.Equal(t, StatusModelNotReady, out.Status)
	assert.Equal(t, StatusModelNotReady, rec.lastStatus())
	assert.NotContains(t, rec.statuses, StatusClassifying)
}

func TestSelectCorruptImage(t *testing.T) {
	model := &fakeModel{preds: sample}
	c, rec := readyController(t, model)

	out := c.Select(context.Background(), &File{Data: []byte("corrupt")})
	assert.ErrorIs(t, out.Err, ErrImageLoad)
	assert.ErrorIs(t, out.Err, errCorrupt)
	assert.Equal(t, StatusCannotLoad, rec.lastStatus())
	assert.Equal(t, 0, model.Calls())
	assert.Equal(t, 0, rec.previews)
}

func TestSelectClassifyError(t *testing.T) {
	c, rec := readyController(t, &fakeModel{err: errors.New("tensor shape mismatch")})

	out := c.Select(context.Background(), &File{Data: []byte("x")})
	assert.ErrorIs(t, out.Err, ErrClassify)
	assert.Equal(t, StatusAnalysisError, rec.lastStatus())
	assert.Contains(t, rec.lastResults(), "tensor shape mismatch")
	assert.Equal(t, out.Err.Error(), rec.lastResults())
}

func TestSelectSameFileTwiceIsIdempotent(t *testing.T) {
	c, rec := readyController(t, &fakeModel{preds: sample})
	f := &File{Data: []byte("x")}

	first := c.Select(context.Background(), f)
	firstDisplay := rec.lastResults()
	second := c.Select(context.Background(), f)

	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, firstDisplay, rec.lastResults())
}

func TestNewerSelectionSupersedesInFlight(t *testing.T) {
	slow := &fakeModel{preds: []Prediction{{Label: "slow", Probability: 0.9}}, block: make(chan struct{})}
	c, rec := readyController(t, slow)

	done := make(chan Outcome, 1)
	go func() {
		done <- c.Select(context.Background(), &File{Name: "first", Data: []byte("x")})
	}()

	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, time.Millisecond)

	// The second cycle runs with an unblocked model.
	slow.mu.Lock()
	slow.block = nil
	slow.preds = []Prediction{{Label: "fast", Probability: 0.8}}
	slow.mu.Unlock()

	second := c.Select(context.Background(), &File{Name: "second", Data: []byte("x")})
	assert.Equal(t, "fast (0.800)", second.Results)

	first := <-done
	assert.True(t, first.Superseded)
	assert.Equal(t, "fast (0.800)", rec.lastResults())
	assert.Equal(t, StatusDone, rec.lastStatus())
}

func TestFormatPredictions(t *testing.T) {
	assert.Equal(t, NoPredictions, FormatPredictions(nil))
	assert.Equal(t, "a (1.000)\nb (0.000)", FormatPredictions([]Prediction{{"a", 1}, {"b", 0.0001}}))
	assert.Equal(t, "x (0.124)", FormatPredictions([]Prediction{{"x", 0.1236}}))
}

func TestTopKDoesNotMutateInput(t *testing.T) {
	in := []Prediction{{"b", 0.1}, {"a", 0.9}}
	out := TopK(in, 3)
	assert.Equal(t, "b", in[0].Label)
	assert.Equal(t, []Prediction{{"a", 0.9}, {"b", 0.1}}, out)
}

func TestIsErrorStatus(t *testing.T) {
	assert.True(t, IsErrorStatus(StatusCannotLoad))
	assert.True(t, IsErrorStatus(StatusInitError))
	assert.False(t, IsErrorStatus(StatusDone))
	assert.False(t, IsErrorStatus(StatusReady))
}
