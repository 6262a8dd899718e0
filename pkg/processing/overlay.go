package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/types"
)

// DrawDetections outlines every box on a copy of img. The selected box is drawn last in a
// highlight colour so it stays on top.
func DrawDetections(img image.Image, boxes []types.DetectionBox, selectedID string) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	white := color.NRGBA{255, 255, 255, 220}
	gold := color.NRGBA{255, 204, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side

	var selected *types.DetectionBox
	for i := range boxes {
		if boxes[i].ID == selectedID {
			selected = &boxes[i]
			continue
		}
		drawBox(nrgba, boxes[i].Bounds, w, h, white, stroke)
	}
	if selected != nil {
		drawBox(nrgba, selected.Bounds, w, h, gold, stroke+1)
	}

	return nrgba
}

// CropToBox crops img to a normalized region, optionally filling a target size
func CropToBox(img image.Image, box types.NormalizedBounds, targetWidth, targetHeight int) (image.Image, error) {
	bounds := img.Bounds()
	x0, y0, x1, y1 := geometry.ToPixels(box, bounds.Dx(), bounds.Dy())

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}

	cropped := imaging.Crop(img, rect)

	// Resize to exact target dimensions while preserving aspect ratio
	if targetWidth > 0 && targetHeight > 0 {
		cropped = imaging.Fill(cropped, targetWidth, targetHeight, imaging.Center, imaging.Lanczos)
	}

	return cropped, nil
}

func drawBox(img *image.NRGBA, box types.NormalizedBounds, w, h int, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := geometry.ToPixels(box, w, h)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = maxInt(x0, 0)
	x1 = minInt(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = maxInt(y0, 0)
	y1 = minInt(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}

// drawLine draws a straight segment with Bresenham's algorithm
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	b := img.Bounds()
	for {
		if image.Pt(x0, y0).In(b) {
			img.SetNRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
