// Package interaction turns pointer gestures on a label card into constrained draft updates.
package interaction

import (
	"sync"

	"github.com/menta2k/capture-studio/pkg/geometry"
)

// EventType is the kind of pointer event
type EventType int

const (
	PointerMove EventType = iota
	PointerUp
	PointerCancel
)

// PointerEvent is a pointer event in container pixels
type PointerEvent struct {
	Type     EventType
	Position geometry.Point
}

// Listener handles pointer events
type Listener func(PointerEvent)

// Bus fans pointer events out to the listeners of in-flight gestures
type Bus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscription is a registered listener. Close is idempotent.
type Subscription struct {
	bus  *Bus
	id   int
	once sync.Once
}

// Subscribe registers fn until the returned subscription is closed
func (b *Bus) Subscribe(fn Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return &Subscription{bus: b, id: id}
}

// Close removes the listener
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.listeners, s.id)
		s.bus.mu.Unlock()
	})
}

// Dispatch delivers ev to every listener registered at the time of the call
func (b *Bus) Dispatch(ev PointerEvent) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Move dispatches a PointerMove at (x, y)
func (b *Bus) Move(x, y float64) {
	b.Dispatch(PointerEvent{Type: PointerMove, Position: geometry.Point{X: x, Y: y}})
}

// Up dispatches a PointerUp at (x, y)
func (b *Bus) Up(x, y float64) {
	b.Dispatch(PointerEvent{Type: PointerUp, Position: geometry.Point{X: x, Y: y}})
}

// Len returns the number of registered listeners
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
