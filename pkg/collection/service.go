package collection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/menta2k/capture-studio/internal/logger"
	"github.com/menta2k/capture-studio/internal/utils"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/types"
)

// Listing limits
const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// ThumbnailSize is the edge of the square thumbnail cut from the selected box
const ThumbnailSize = 160

// URLPrefix is prepended to stored file names to form artwork URLs
const URLPrefix = "/artworks/"

// SaveRequest is one artwork to compose and store
type SaveRequest struct {
	UserID string
	// Base is the styled preview the label card is drawn on
	Base preview.Blob
	// Box is the selected region; a zero box skips the thumbnail
	Box   types.NormalizedBounds
	Draft types.LabelDraft
}

// Slot is one cell of the collection grid
type Slot struct {
	Index   int      `json:"index"`
	Artwork *Artwork `json:"artwork,omitempty"`
}

// Service composes, stores and lists artworks
type Service struct {
	repo       Repository
	processor  *processing.Processor
	storageDir string
	now        func() time.Time
	logger     logger.Leveled
}

// NewService creates a service writing image files to storageDir
func NewService(repo Repository, processor *processing.Processor, storageDir string) *Service {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	return &Service{
		repo:       repo,
		processor:  processor,
		storageDir: storageDir,
		now:        time.Now,
		logger:     logger.Nop{},
	}
}

// WithLogger sets the service logger
func (s *Service) WithLogger(l logger.Leveled) *Service {
	s.logger = logger.OrNop(l)
	return s
}

// WithClock replaces the clock used for creation times
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StorageDir returns the directory artwork files are written to
func (s *Service) StorageDir() string {
	return s.storageDir
}

// Save composes the artwork, writes it to storage and records it. Identical artworks map to the
// same record.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*Artwork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, err := s.processor.Decode(req.Base.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base image: %w", err)
	}
	composed, _, err := s.processor.Encode(processing.Compose(base, req.Draft), "image/png")
	if err != nil {
		return nil, fmt.Errorf("failed to encode artwork: %w", err)
	}

	sum := sha256.Sum256(composed)
	checksum := hex.EncodeToString(sum[:])
	filename := fmt.Sprintf("artwork-%s.png", checksum)

	if err := utils.EnsureDir(s.storageDir); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.storageDir, filename), composed, 0644); err != nil {
		return nil, fmt.Errorf("failed to write artwork: %w", err)
	}

	artwork := &Artwork{
		ID:        checksum[:16],
		UserID:    req.UserID,
		URL:       URLPrefix + filename,
		Name:      req.Draft.Name,
		Category:  req.Draft.Category,
		Checksum:  checksum,
		CreatedAt: s.now().UTC(),
	}

	if req.Box.Width > 0 && req.Box.Height > 0 {
		thumb, err := s.writeThumbnail(base, req.Box, checksum)
		if err != nil {
			s.logger.Warning("thumbnail for %s skipped: %v", artwork.ID, err)
		} else {
			artwork.ThumbnailURL = URLPrefix + thumb
		}
	}

	if err := s.repo.Insert(ctx, artwork); err != nil {
		return nil, err
	}
	s.logger.Info("saved artwork %s for user %q", artwork.ID, artwork.UserID)
	return artwork, nil
}

func (s *Service) writeThumbnail(base image.Image, box types.NormalizedBounds, checksum string) (string, error) {
	cropped, err := processing.CropToBox(base, box, ThumbnailSize, ThumbnailSize)
	if err != nil {
		return "", err
	}
	data, _, err := s.processor.Encode(cropped, "image/png")
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("thumb-%s.png", checksum)
	if err := os.WriteFile(filepath.Join(s.storageDir, name), data, 0644); err != nil {
		return "", err
	}
	return name, nil
}

// SaveArtwork stores a capture and returns the artwork id
func (s *Service) SaveArtwork(ctx context.Context, userID string, base preview.Blob, box types.NormalizedBounds, draft types.LabelDraft) (string, error) {
	a, err := s.Save(ctx, SaveRequest{UserID: userID, Base: base, Box: box, Draft: draft})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// Get returns one artwork
func (s *Service) Get(ctx context.Context, id string) (*Artwork, error) {
	return s.repo.Get(ctx, id)
}

// ClampLimit maps a requested page size onto [1, MaxLimit]; zero selects DefaultLimit
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// List returns the newest artworks
func (s *Service) List(ctx context.Context, limit int) ([]Artwork, error) {
	return s.repo.List(ctx, ClampLimit(limit))
}

// Slots lays the newest artworks out over n grid cells. Cells without an artwork stay empty.
func (s *Service) Slots(ctx context.Context, n int) ([]Slot, error) {
	if n < 1 {
		return []Slot{}, nil
	}
	items, err := s.repo.List(ctx, n)
	if err != nil {
		return nil, err
	}
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Index = i + 1
		if i < len(items) {
			a := items[i]
			slots[i].Artwork = &a
		}
	}
	return slots, nil
}
