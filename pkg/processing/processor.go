package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/types"
)

var (
	// ErrDecode is returned when input bytes are not a supported image
	ErrDecode = errors.New("image could not be decoded")
	// ErrEncode is returned when re-encoding produced no output
	ErrEncode = errors.New("image could not be encoded")
)

// Config holds the resize buckets and encoder settings
type Config struct {
	MinLongEdge     int `json:"min_long_edge"`
	DefaultLongEdge int `json:"default_long_edge"`
	MaxLongEdge     int `json:"max_long_edge"`
	JPEGQuality     int `json:"jpeg_quality"`
}

// DefaultConfig returns the standard bucket policy
func DefaultConfig() Config {
	return Config{
		MinLongEdge:     720,
		DefaultLongEdge: 1280,
		MaxLongEdge:     1600,
		JPEGQuality:     92,
	}
}

// Processor handles image processing operations
type Processor struct {
	config Config
}

// NewProcessor creates a new image processor with the default buckets
func NewProcessor() *Processor {
	return NewProcessorWithConfig(DefaultConfig())
}

// NewProcessorWithConfig creates an image processor with custom buckets
func NewProcessorWithConfig(cfg Config) *Processor {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	return &Processor{config: cfg}
}

// Config returns the processor configuration
func (p *Processor) Config() Config {
	return p.config
}

// Decode decodes image bytes with WebP support
func (p *Processor) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	// Try standard image.Decode first
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unknown or unsupported format", ErrDecode)
	}
	return img, nil
}

// TargetLongEdge maps a source long edge onto its bucket. Anything between the lower and upper
// bound collapses to DefaultLongEdge.
func (p *Processor) TargetLongEdge(longEdge int) int {
	switch {
	case longEdge < p.config.MinLongEdge:
		return p.config.MinLongEdge
	case longEdge > p.config.MaxLongEdge:
		return p.config.MaxLongEdge
	default:
		return p.config.DefaultLongEdge
	}
}

// TargetSize returns the bounded dimensions for a w x h source
func (p *Processor) TargetSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w >= h {
		tw := p.TargetLongEdge(w)
		th := int(math.Round(float64(h) * float64(tw) / float64(w)))
		return tw, maxInt(1, th)
	}
	th := p.TargetLongEdge(h)
	tw := int(math.Round(float64(w) * float64(th) / float64(h)))
	return maxInt(1, tw), th
}

// ResizeToBounds decodes an upload, rescales it into its bucket and re-encodes it, keeping the
// upload's media type where an encoder exists for it.
func (p *Processor) ResizeToBounds(upload *types.Upload) (preview.Blob, error) {
	if upload == nil {
		return preview.Blob{}, fmt.Errorf("%w: no upload", ErrDecode)
	}
	img, err := p.Decode(upload.Data)
	if err != nil {
		return preview.Blob{}, err
	}

	b := img.Bounds()
	tw, th := p.TargetSize(b.Dx(), b.Dy())
	resized := imaging.Resize(img, tw, th, imaging.Lanczos)

	data, mediaType, err := p.Encode(resized, upload.MediaType)
	if err != nil {
		return preview.Blob{}, err
	}
	return preview.Blob{Data: data, MediaType: mediaType, Width: tw, Height: th}, nil
}

// Encode encodes img in the requested media type. Types without an encoder fall back to PNG.
// The media type actually used is returned alongside the bytes.
func (p *Processor) Encode(img image.Image, mediaType string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error

	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		mediaType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.JPEGQuality})
	case "image/webp":
		mediaType = "image/webp"
		err = webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: float32(p.config.JPEGQuality)})
	case "image/gif":
		mediaType = "image/gif"
		err = gif.Encode(&buf, img, nil)
	default:
		mediaType = "image/png"
		err = png.Encode(&buf, img)
	}

	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("%w: empty output", ErrEncode)
	}
	return buf.Bytes(), mediaType, nil
}

// Pixelate samples img down to roughly one pixel per block and back up with nearest neighbour
// filtering. The result has the same size as img.
func Pixelate(img image.Image, blockSize int) *image.NRGBA {
	if blockSize < 1 {
		blockSize = 1
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	sw := maxInt(1, int(math.Round(float64(w)/float64(blockSize))))
	sh := maxInt(1, int(math.Round(float64(h)/float64(blockSize))))

	small := imaging.Resize(img, sw, sh, imaging.NearestNeighbor)
	return imaging.Resize(small, w, h, imaging.NearestNeighbor)
}

// Stylize pixelates an encoded blob and returns it as PNG
func (p *Processor) Stylize(src preview.Blob, blockSize int) (preview.Blob, error) {
	img, err := p.Decode(src.Data)
	if err != nil {
		return preview.Blob{}, err
	}
	out := Pixelate(img, blockSize)

	data, mediaType, err := p.Encode(out, "image/png")
	if err != nil {
		return preview.Blob{}, err
	}
	return preview.Blob{Data: data, MediaType: mediaType, Width: out.Bounds().Dx(), Height: out.Bounds().Dy()}, nil
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
