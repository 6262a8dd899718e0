package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/types"
)

// SaliencyConfig holds configuration for local subject detection
type SaliencyConfig struct {
	EdgeThreshold  float64
	ContrastWeight float64
	ColorWeight    float64
	// MaxOverlap is the IoU above which a weaker region is dropped
	MaxOverlap   float64
	MaxResults   int
	AnalysisSize int
}

// DefaultSaliencyConfig returns the standard detection settings
func DefaultSaliencyConfig() SaliencyConfig {
	return SaliencyConfig{
		EdgeThreshold:  0.01,
		ContrastWeight: 0.3,
		ColorWeight:    0.2,
		MaxOverlap:     0.3,
		MaxResults:     5,
		AnalysisSize:   160,
	}
}

// Region is a rectangle of interest in analysis pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// IoU returns the intersection over union of two regions
func (r Region) IoU(o Region) float64 {
	x0 := maxInt(r.X, o.X)
	y0 := maxInt(r.Y, o.Y)
	x1 := minInt(r.X+r.Width, o.X+o.Width)
	y1 := minInt(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	return float64(inter) / float64(r.Area()+o.Area()-inter)
}

// Saliency finds high-contrast regions without a model
type Saliency struct {
	config    SaliencyConfig
	processor *processing.Processor
}

// NewSaliency creates a saliency detector
func NewSaliency(processor *processing.Processor, config SaliencyConfig) *Saliency {
	def := DefaultSaliencyConfig()
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.AnalysisSize <= 0 {
		config.AnalysisSize = def.AnalysisSize
	}
	if config.MaxOverlap <= 0 {
		config.MaxOverlap = def.MaxOverlap
	}
	return &Saliency{config: config, processor: processor}
}

// Detect implements Detector
func (s *Saliency) Detect(ctx context.Context, blob preview.Blob) ([]types.DetectionBoxInput, error) {
	img, err := s.processor.Decode(blob.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	small := imaging.Fit(img, s.config.AnalysisSize, s.config.AnalysisSize, imaging.Box)
	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	regions := s.DetectRegions(small)
	if len(regions) == 0 {
		return FallbackBoxes(w, h, s.config.MaxResults), nil
	}

	top := regions[0].Score
	boxes := make([]types.DetectionBoxInput, 0, len(regions))
	for i, r := range regions {
		confidence := 0.9 * r.Score / top
		label := LabelObject
		if i == 0 {
			label = LabelMain
		}
		boxes = append(boxes, types.DetectionBoxInput{
			ID: BoxID(i),
			Bounds: types.NormalizedBounds{
				X:      float64(r.X) / float64(w),
				Y:      float64(r.Y) / float64(h),
				Width:  float64(r.Width) / float64(w),
				Height: float64(r.Height) / float64(h),
			},
			Label:      label,
			Confidence: &confidence,
		})
	}
	return boxes, nil
}

// DetectRegions returns the strongest non-overlapping regions of img, best first
func (s *Saliency) DetectRegions(img *image.NRGBA) []Region {
	saliencyMap := s.calculateSaliencyMap(img)
	candidates := s.findImportantRegions(saliencyMap, img.Bounds().Dx(), img.Bounds().Dy())

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var kept []Region
	for _, c := range candidates {
		overlapping := false
		for _, k := range kept {
			if c.IoU(k) > s.config.MaxOverlap {
				overlapping = true
				break
			}
		}
		if overlapping {
			continue
		}
		kept = append(kept, c)
		if len(kept) == s.config.MaxResults {
			break
		}
	}
	return kept
}

// calculateSaliencyMap scores each pixel by colour difference to its 8 neighbours plus a
// brightness term
func (s *Saliency) calculateSaliencyMap(img *image.NRGBA) [][]float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	saliencyMap := make([][]float64, height)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, width)
	}

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	maxDiff := math.Sqrt(3 * 255 * 255)

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			c := img.NRGBAAt(x, y)

			var edgeStrength float64
			for _, offset := range neighbors {
				n := img.NRGBAAt(x+offset[0], y+offset[1])
				dr := float64(c.R) - float64(n.R)
				dg := float64(c.G) - float64(n.G)
				db := float64(c.B) - float64(n.B)
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8 * maxDiff

			brightness := (float64(c.R) + float64(c.G) + float64(c.B)) / (3 * 255)
			saliencyMap[y][x] = s.config.ContrastWeight*edgeStrength + s.config.ColorWeight*brightness
		}
	}

	return saliencyMap
}

// findImportantRegions slides windows of several sizes over the map, scoring each by the mean
// saliency it covers. A summed-area table keeps every window O(1).
func (s *Saliency) findImportantRegions(saliencyMap [][]float64, width, height int) []Region {
	integral := make([][]float64, height+1)
	for i := range integral {
		integral[i] = make([]float64, width+1)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			integral[y+1][x+1] = saliencyMap[y][x] + integral[y][x+1] + integral[y+1][x] - integral[y][x]
		}
	}

	short := minInt(width, height)
	var regions []Region
	for _, frac := range []float64{0.3, 0.45, 0.6} {
		size := int(float64(short) * frac)
		if size < 8 {
			continue
		}
		step := maxInt(1, size/4)
		for y := 0; y+size <= height; y += step {
			for x := 0; x+size <= width; x += step {
				sum := integral[y+size][x+size] - integral[y][x+size] - integral[y+size][x] + integral[y][x]
				score := sum / float64(size*size)
				if score > s.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: size, Height: size, Score: score})
				}
			}
		}
	}
	return regions
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
