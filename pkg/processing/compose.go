package processing

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/types"
)

// Artwork layout in pixels at scale 1
const (
	tagBaseWidth  = 320
	tagBaseHeight = 210
	chipWidth     = 180
	chipHeight    = 74
	coinWidth     = 140
	coinHeight    = 32
	chipMargin    = 12
	lineHeight    = 14
)

var (
	tagFrame   = color.NRGBA{196, 119, 24, 255}
	tagFill    = color.NRGBA{255, 230, 179, 240}
	tagDivider = color.NRGBA{180, 104, 16, 255}
	tagText    = color.NRGBA{92, 50, 10, 255}
	woodFill   = color.NRGBA{206, 162, 112, 235}
	woodEdge   = color.NRGBA{120, 82, 44, 255}
	coinFill   = color.NRGBA{234, 188, 76, 240}
	coinEdge   = color.NRGBA{162, 108, 28, 255}
	energyText = color.NRGBA{46, 102, 8, 255}
	healthText = color.NRGBA{141, 26, 26, 255}
)

// categories whose cards show energy and health
var edibleCategories = map[string]bool{"Dish": true, "Food": true}

// Compose renders the final artwork: the label card for draft, a date and clock chip and a coin
// plate, drawn over a copy of base.
func Compose(base image.Image, draft types.LabelDraft) *image.NRGBA {
	canvas := imaging.Clone(base)
	drawTag(canvas, draft)
	drawTimeChip(canvas, draft.Time)
	drawCoin(canvas)
	return canvas
}

// ComposePNG decodes base, composes the artwork and encodes it as PNG
func (p *Processor) ComposePNG(base []byte, draft types.LabelDraft) ([]byte, error) {
	img, err := p.Decode(base)
	if err != nil {
		return nil, err
	}
	data, _, err := p.Encode(Compose(img, draft), "image/png")
	return data, err
}

func drawTag(canvas *image.NRGBA, draft types.LabelDraft) {
	cw, ch := float64(canvas.Bounds().Dx()), float64(canvas.Bounds().Dy())
	scale := geometry.Clamp(draft.TagScale, 0.6, 2.0)
	tw := float64(tagBaseWidth) * scale
	th := float64(tagBaseHeight) * scale

	cx := geometry.Clamp(draft.TagPosition.XPercent, 0.05, 0.95) * cw
	cy := geometry.Clamp(draft.TagPosition.YPercent, 0.05, 0.95) * ch
	x0 := int(geometry.Clamp(cx-tw/2, 0, cw-tw))
	y0 := int(geometry.Clamp(cy-th/2, 0, ch-th))
	x1 := x0 + int(tw)
	y1 := y0 + int(th)

	fillRect(canvas, image.Rect(x0, y0, x1, y1), tagFill)
	outlineRect(canvas, image.Rect(x0, y0, x1, y1), tagFrame, 3)

	padding := int(12 * scale)
	textX := x0 + padding
	y := y0 + padding

	drawText(canvas, textX, y, orDefault(draft.Name, "Unnamed item"), tagFrame)
	y += int(18 * scale)
	drawHLine(canvas, y, textX, x1-padding, tagDivider)

	y += int(8 * scale)
	drawText(canvas, textX, y, orDefault(draft.Category, "Category"), tagText)
	y += int(14 * scale)
	for s := 0; s < 3; s++ {
		drawHLine(canvas, y+s, textX, x1-padding, tagDivider)
	}

	y += int(10 * scale)
	bodyWidth := x1 - padding - textX
	limit := int(float64(bodyWidth) / (7 * scale))
	for _, line := range wrapText(orDefault(draft.Description, "Write the story of this item here."), limit) {
		drawText(canvas, textX, y, line, tagText)
		y += int(lineHeight * scale)
	}

	if edibleCategories[draft.Category] {
		y += int(6 * scale)
		drawText(canvas, textX, y, fmt.Sprintf("+%d Energy", draft.Energy), energyText)
		drawText(canvas, textX+bodyWidth/2, y, fmt.Sprintf("+%d Health", draft.Health), healthText)
	}
}

func drawTimeChip(canvas *image.NRGBA, t types.TimeState) {
	x1 := canvas.Bounds().Dx() - chipMargin
	x0 := x1 - chipWidth
	y0 := chipMargin
	y1 := y0 + chipHeight

	fillRect(canvas, image.Rect(x0, y0, x1, y1), woodFill)
	outlineRect(canvas, image.Rect(x0, y0, x1, y1), woodEdge, 2)

	drawText(canvas, x0+12, y0+10, FormatDateLabel(t.Month, t.Day), woodEdge)
	drawText(canvas, x0+12, y0+28, FormatTimeLabel(t.Hour, t.Minute), woodEdge)

	cx := float64(x1 - 36)
	cy := float64(y0) + chipHeight/2
	radius := 24.0
	drawCircle(canvas, cx, cy, radius, woodEdge)

	minuteAngle := float64(t.Minute) / 60 * 360
	hourAngle := float64(t.Hour%12)/12*360 + float64(t.Minute)/60*30
	drawHand(canvas, cx, cy, radius*0.9, minuteAngle, woodEdge)
	drawHand(canvas, cx, cy, radius*0.65, hourAngle, woodEdge)
}

func drawCoin(canvas *image.NRGBA) {
	x1 := canvas.Bounds().Dx() - chipMargin
	x0 := x1 - coinWidth
	y0 := chipMargin + chipHeight + 10
	y1 := y0 + coinHeight

	fillRect(canvas, image.Rect(x0, y0, x1, y1), coinFill)
	outlineRect(canvas, image.Rect(x0, y0, x1, y1), coinEdge, 2)
	drawText(canvas, x0+12, y0+8, "88888888", coinEdge)
}

// drawHand draws a clock hand; angle is in degrees clockwise from twelve o'clock
func drawHand(canvas *image.NRGBA, cx, cy, length, angle float64, c color.NRGBA) {
	rad := (angle - 90) * math.Pi / 180
	x := cx + length*math.Cos(rad)
	y := cy + length*math.Sin(rad)
	drawLine(canvas, int(cx), int(cy), int(math.Round(x)), int(math.Round(y)), c)
}

func drawCircle(canvas *image.NRGBA, cx, cy, r float64, c color.NRGBA) {
	steps := int(2 * math.Pi * r)
	for i := 0; i < steps; i++ {
		a := float64(i) / float64(steps) * 2 * math.Pi
		x := int(math.Round(cx + r*math.Cos(a)))
		y := int(math.Round(cy + r*math.Sin(a)))
		if image.Pt(x, y).In(canvas.Bounds()) {
			canvas.SetNRGBA(x, y, c)
		}
	}
}

func fillRect(canvas *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(canvas, r.Intersect(canvas.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

func outlineRect(canvas *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(canvas, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(canvas, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(canvas, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(canvas, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

// drawText draws s with its top-left corner at (x, y)
func drawText(canvas *image.NRGBA, x, y int, s string, c color.NRGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(s)
}

// FormatTimeLabel renders a 24h time as a 12h label such as "AM 8:05"
func FormatTimeLabel(hour, minute int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	display := hour % 12
	if display == 0 {
		display = 12
	}
	return fmt.Sprintf("%s %d:%02d", suffix, display, minute)
}

// FormatDateLabel renders a month and day such as "Mar 9"
func FormatDateLabel(month, day int) string {
	names := [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	if month < 1 || month > 12 {
		return fmt.Sprintf("%d/%d", month, day)
	}
	return fmt.Sprintf("%s %d", names[month-1], day)
}

// wrapText splits text into lines of at most limit characters
func wrapText(text string, limit int) []string {
	runes := []rune(text)
	if limit < 1 || len(runes) <= limit {
		return []string{text}
	}
	var lines []string
	for len(runes) > limit {
		lines = append(lines, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
