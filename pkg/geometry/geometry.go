// Package geometry holds the numeric helpers shared by detection boxes and label cards.
package geometry

import (
	"math"

	"github.com/menta2k/capture-studio/pkg/types"
)

// Label card scale limits
const (
	MinTagScale = 0.7
	MaxTagScale = 1.6
)

// Clamp limits v to [lo, hi]. When lo > hi the upper bound wins. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// ClampInt limits v to [lo, hi]
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Area returns the area of a normalized rectangle, treating negative extents as zero
func Area(b types.NormalizedBounds) float64 {
	return math.Max(0, b.Width) * math.Max(0, b.Height)
}

// Rect is an axis aligned rectangle in pixels
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Point is a pointer location in pixels
type Point struct {
	X float64
	Y float64
}

// Valid reports whether r has a finite, positive size
func (r Rect) Valid() bool {
	return isFinite(r.Width) && isFinite(r.Height) && r.Width > 0 && r.Height > 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// HalfExtents returns half of the card size as fractions of the container size
func HalfExtents(cardWidth, cardHeight float64, container Rect) (float64, float64) {
	if container.Width <= 0 || container.Height <= 0 {
		return 0, 0
	}
	return cardWidth / container.Width / 2, cardHeight / container.Height / 2
}

// ClampCenter keeps a card centre far enough from the container edges for the whole card to fit.
// Cards larger than the container end up centred; the result is always inside [0,1].
func ClampCenter(pos types.TagPosition, halfW, halfH float64) types.TagPosition {
	halfW = Clamp(halfW, 0, 0.5)
	halfH = Clamp(halfH, 0, 0.5)
	return types.TagPosition{
		XPercent: Clamp(pos.XPercent, halfW, 1-halfW),
		YPercent: Clamp(pos.YPercent, halfH, 1-halfH),
	}
}

// ClampPosition limits a card centre to the unit square
func ClampPosition(pos types.TagPosition) types.TagPosition {
	return ClampCenter(pos, 0, 0)
}

// ClampScale limits a card scale to [MinTagScale, MaxTagScale]
func ClampScale(scale float64) float64 {
	if math.IsNaN(scale) {
		return 1
	}
	return Clamp(scale, MinTagScale, MaxTagScale)
}

// TagAnchor places a label card just below and to the right of a box centre
func TagAnchor(b types.NormalizedBounds) types.TagPosition {
	return types.TagPosition{
		XPercent: Clamp(b.X+b.Width*0.65, 0.16, 0.84),
		YPercent: Clamp(b.Y+b.Height+0.12, 0.22, 0.9),
	}
}

// ToPixels converts normalized bounds to a pixel rectangle for an image of size w x h
func ToPixels(b types.NormalizedBounds, w, h int) (x0, y0, x1, y1 int) {
	fw, fh := float64(w), float64(h)
	x0 = int(Clamp(b.X, 0, 1)*fw + 0.5)
	y0 = int(Clamp(b.Y, 0, 1)*fh + 0.5)
	x1 = int(Clamp(b.X+b.Width, 0, 1)*fw + 0.5)
	y1 = int(Clamp(b.Y+b.Height, 0, 1)*fh + 0.5)
	return x0, y0, x1, y1
}

// Normalize clamps b into the unit square so that the whole box stays inside the frame
func Normalize(b types.NormalizedBounds) types.NormalizedBounds {
	x := Clamp(b.X, 0, 1)
	y := Clamp(b.Y, 0, 1)
	return types.NormalizedBounds{
		X:      x,
		Y:      y,
		Width:  Clamp(b.Width, 0, 1-x),
		Height: Clamp(b.Height, 0, 1-y),
	}
}
