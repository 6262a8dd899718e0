package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/menta2k/capture-studio/pkg/client"
	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/types"
)

// DefaultPrompt asks a vision model for a list of object boxes
const DefaultPrompt = `You are an object locator for a photo annotation tool.

Return JSON only:
{
  "objects": [
    {"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- List distinct physical objects, most prominent first, at most %d entries.
- Boxes should tightly include each object.
- Labels: short lowercase nouns. Do not guess real identities.
- If nothing is found, return {"objects": []}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// minBoxSide drops slivers the model sometimes reports
const minBoxSide = 0.02

// Vision detects objects by asking a vision model
type Vision struct {
	client     client.VisionClient
	model      string
	maxResults int
}

// NewVision creates a model-backed detector
func NewVision(c client.VisionClient, model string, maxResults int) *Vision {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Vision{client: c, model: model, maxResults: maxResults}
}

type modelBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type modelObject struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Box        modelBox `json:"box"`
}

type modelAnswer struct {
	Objects []modelObject `json:"objects"`
}

// Detect implements Detector. Transport failures are returned; answers without usable boxes
// yield FallbackBoxes.
func (v *Vision) Detect(ctx context.Context, img preview.Blob) ([]types.DetectionBoxInput, error) {
	prompt := fmt.Sprintf(DefaultPrompt, v.maxResults)
	raw, err := v.client.SimpleQuery(ctx, v.model, prompt, client.EncodeImage(img.Data))
	if err != nil {
		return nil, fmt.Errorf("vision detection failed: %w", err)
	}

	boxes := parseObjects(raw, img.Width, img.Height, v.maxResults)
	if len(boxes) == 0 {
		return FallbackBoxes(img.Width, img.Height, v.maxResults), nil
	}
	return boxes, nil
}

// parseObjects extracts usable boxes from a model answer, most confident first
func parseObjects(raw string, imgW, imgH, maxResults int) []types.DetectionBoxInput {
	var answer modelAnswer
	if err := json.Unmarshal([]byte(client.SanitizeJSON(raw)), &answer); err != nil {
		return nil
	}

	objects := make([]modelObject, 0, len(answer.Objects))
	for _, o := range answer.Objects {
		o.Box = normalizeBox(o.Box, imgW, imgH)
		if o.Box.W < minBoxSide || o.Box.H < minBoxSide {
			continue
		}
		objects = append(objects, o)
	}
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].Confidence > objects[j].Confidence
	})
	if len(objects) > maxResults {
		objects = objects[:maxResults]
	}

	boxes := make([]types.DetectionBoxInput, 0, len(objects))
	for i, o := range objects {
		confidence := geometry.Clamp(o.Confidence, 0, 1)
		label := strings.ToLower(strings.TrimSpace(o.Label))
		if label == "" {
			label = strings.ToLower(LabelObject)
		}
		boxes = append(boxes, types.DetectionBoxInput{
			ID:         BoxID(i),
			Bounds:     types.NormalizedBounds{X: o.Box.X, Y: o.Box.Y, Width: o.Box.W, Height: o.Box.H},
			Label:      label,
			Confidence: &confidence,
		})
	}
	return boxes
}

// normalizeBox converts pixel boxes to fractions when needed and keeps the box inside the frame
func normalizeBox(b modelBox, imgW, imgH int) modelBox {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = modelBox{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}

	x := geometry.Clamp(b.X, 0, 1)
	y := geometry.Clamp(b.Y, 0, 1)
	return modelBox{
		X: x,
		Y: y,
		W: geometry.Clamp(b.W, 0, 1-x),
		H: geometry.Clamp(b.H, 0, 1-y),
	}
}
