package service

import (
	"encoding/json"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/krau/snapclassify/lifecycle"
)

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func clamp01(v float32) float32 {
	if v < 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rank pairs scores with labels, highest first. Scores past the end of
// labels are dropped.
func Rank(scores []float32, labels []string) []lifecycle.Prediction {
	n := min(len(scores), len(labels))
	preds := make([]lifecycle.Prediction, 0, n)
	for i := range n {
		preds = append(preds, lifecycle.Prediction{
			Label:       labels[i],
			Probability: clamp01(scores[i]),
		})
	}
	return lifecycle.TopK(preds, len(preds))
}

func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

// ReadLabels reads a JSON array of strings for .json files and one label per
// line otherwise.
func ReadLabels(path string) ([]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadLines(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal(b, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// Preprocess fills a size x size square from the image center and returns it
// as a normalized NCHW float32 buffer.
func Preprocess(img image.Image, size int) ([]float32, error) {
	// flatten transparency onto white before resampling
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	img = imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
	img = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	out := make([]float32, 3*size*size)
	rBase := 0
	gBase := size * size
	bBase := 2 * size * size

	for y := range size {
		for x := range size {
			r, g, b, _ := img.At(x, y).RGBA()
			fr := float32(r) / 65535.0
			fg := float32(g) / 65535.0
			fb := float32(b) / 65535.0

			out[rBase] = (fr - ImageNetMean[0]) / ImageNetStd[0]
			out[gBase] = (fg - ImageNetMean[1]) / ImageNetStd[1]
			out[bBase] = (fb - ImageNetMean[2]) / ImageNetStd[2]

			rBase++
			gBase++
			bBase++
		}
	}
	return out, nil
}
