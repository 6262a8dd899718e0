// Package detection locates objects in a bounded preview. Every backend returns normalized
// boxes with ids of the form box-N in output order.
package detection

import (
	"context"
	"fmt"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/random"
	"github.com/menta2k/capture-studio/pkg/types"
)

// Detector finds objects in an encoded image
type Detector interface {
	Detect(ctx context.Context, img preview.Blob) ([]types.DetectionBoxInput, error)
}

// Labels used by the built-in detectors
const (
	LabelLargest   = "Largest object"
	LabelObject    = "Object"
	LabelMain      = "Main object"
	LabelSecondary = "Secondary object"
)

// BoxID returns the id of the box at index i
func BoxID(i int) string {
	return fmt.Sprintf("box-%d", i+1)
}

// Mock produces synthetic boxes without looking at the image
type Mock struct {
	rng random.Source
}

// NewMock creates a mock detector drawing from rng
func NewMock(rng random.Source) *Mock {
	return &Mock{rng: rng}
}

// Detect implements Detector
func (m *Mock) Detect(ctx context.Context, _ preview.Blob) ([]types.DetectionBoxInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return MockBoxes(m.rng), nil
}

// MockBoxes draws 3 to 5 boxes. The first box is the largest by construction and every box
// stays inside the frame margins.
func MockBoxes(rng random.Source) []types.DetectionBoxInput {
	count := 3 + rng.Intn(3)
	boxes := make([]types.DetectionBoxInput, 0, count)

	for i := 0; i < count; i++ {
		largest := i == 0
		var w, h float64
		if largest {
			w = random.Between(rng, 0.44, 0.58)
			h = random.Between(rng, 0.32, 0.48)
		} else {
			w = random.Between(rng, 0.2, 0.35)
			h = random.Between(rng, 0.16, 0.32)
		}
		x := random.Between(rng, 0.04, 0.96-w)
		y := random.Between(rng, 0.06, 0.95-h)

		label := LabelObject
		if largest {
			label = LabelLargest
		}
		confidence := random.Between(rng, 0.55, 0.92)

		boxes = append(boxes, types.DetectionBoxInput{
			ID:         BoxID(i),
			Bounds:     types.NormalizedBounds{X: x, Y: y, Width: w, Height: h},
			Label:      label,
			Confidence: &confidence,
		})
	}
	return boxes
}

type fallbackSpec struct {
	bounds     types.NormalizedBounds
	label      string
	confidence float64
}

var (
	landscapeFallback = []fallbackSpec{
		{types.NormalizedBounds{X: 0.2, Y: 0.16, Width: 0.48, Height: 0.42}, LabelMain, 0.9},
		{types.NormalizedBounds{X: 0.65, Y: 0.2, Width: 0.22, Height: 0.26}, "Foreground object", 0.82},
		{types.NormalizedBounds{X: 0.28, Y: 0.58, Width: 0.26, Height: 0.28}, LabelSecondary, 0.76},
	}
	portraitFallback = []fallbackSpec{
		{types.NormalizedBounds{X: 0.22, Y: 0.12, Width: 0.44, Height: 0.5}, LabelMain, 0.9},
		{types.NormalizedBounds{X: 0.18, Y: 0.64, Width: 0.28, Height: 0.26}, "Left object", 0.78},
		{types.NormalizedBounds{X: 0.58, Y: 0.64, Width: 0.24, Height: 0.26}, "Right object", 0.74},
	}
)

// FallbackBoxes returns a fixed layout chosen by aspect ratio, used when a detector has
// nothing usable. At least one box is always returned.
func FallbackBoxes(width, height, maxResults int) []types.DetectionBoxInput {
	layout := landscapeFallback
	if height > 0 && width < height {
		layout = portraitFallback
	}
	if maxResults < 1 {
		maxResults = 1
	}

	boxes := make([]types.DetectionBoxInput, 0, len(layout))
	for i, slot := range layout {
		if i >= maxResults {
			break
		}
		confidence := slot.confidence
		boxes = append(boxes, types.DetectionBoxInput{
			ID: BoxID(i),
			Bounds: types.NormalizedBounds{
				X:      geometry.Clamp(slot.bounds.X, 0, 1),
				Y:      geometry.Clamp(slot.bounds.Y, 0, 1),
				Width:  geometry.Clamp(slot.bounds.Width, 0.05, 0.95),
				Height: geometry.Clamp(slot.bounds.Height, 0.05, 0.95),
			},
			Label:      slot.label,
			Confidence: &confidence,
		})
	}
	return boxes
}
