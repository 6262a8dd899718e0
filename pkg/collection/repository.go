// Package collection stores saved artworks and serves the collection page.
package collection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an artwork does not exist
var ErrNotFound = errors.New("artwork not found")

// Artwork is a saved capture
type Artwork struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists artwork records
type Repository interface {
	// Insert stores a record, replacing one with the same ID
	Insert(ctx context.Context, a *Artwork) error
	Get(ctx context.Context, id string) (*Artwork, error)
	// List returns at most limit records, newest first
	List(ctx context.Context, limit int) ([]Artwork, error)
	Close() error
}

// MemoryRepository keeps records in memory
type MemoryRepository struct {
	mu       sync.RWMutex
	artworks map[string]Artwork
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{artworks: make(map[string]Artwork)}
}

// Insert implements Repository
func (r *MemoryRepository) Insert(ctx context.Context, a *Artwork) error {
	r.mu.Lock()
	r.artworks[a.ID] = *a
	r.mu.Unlock()
	return nil
}

// Get implements Repository
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Artwork, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.artworks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// List implements Repository
func (r *MemoryRepository) List(ctx context.Context, limit int) ([]Artwork, error) {
	r.mu.RLock()
	items := make([]Artwork, 0, len(r.artworks))
	for _, a := range r.artworks {
		items = append(items, a)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Close implements Repository
func (r *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
