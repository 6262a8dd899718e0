// Package preview keeps encoded rasters behind opaque handles. A handle stays valid until it
// is released; owners must release handles they no longer display.
package preview

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const handlePrefix = "blob:"

// Blob is an encoded image with its dimensions
type Blob struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// Registry maps handles to blobs
type Registry struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]Blob)}
}

// Create stores b and returns a fresh handle for it
func (r *Registry) Create(b Blob) string {
	handle := handlePrefix + uuid.NewString()

	r.mu.Lock()
	r.blobs[handle] = b
	r.mu.Unlock()

	return handle
}

// Get returns the blob behind handle
func (r *Registry) Get(handle string) (Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[handle]
	return b, ok
}

// Release drops the blob behind handle. Releasing an unknown handle is a no-op.
func (r *Registry) Release(handle string) {
	if handle == "" {
		return
	}
	r.mu.Lock()
	delete(r.blobs, handle)
	r.mu.Unlock()
}

// Len returns the number of live handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// IsHandle reports whether s looks like a registry handle
func IsHandle(s string) bool {
	return strings.HasPrefix(s, handlePrefix)
}
