package interaction

import (
	"errors"
	"math"
	"sync"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/types"
)

var (
	// ErrGestureInProgress is returned when a gesture starts while another is active
	ErrGestureInProgress = errors.New("another gesture is in progress")
	// ErrNoDraft is returned when the box has no label draft
	ErrNoDraft = errors.New("no label draft for box")
	// ErrInvalidGeometry is returned when the container or card size cannot be used for layout
	ErrInvalidGeometry = errors.New("container must have a positive size and card a finite, non-negative size")
)

// ScaleDivisor converts summed pointer travel in pixels into a scale delta
const ScaleDivisor = 220.0

// DraftStore is the part of the capture store gestures need
type DraftStore interface {
	Snapshot() store.Session
	UpdateLabelDraft(id string, update types.LabelDraftUpdate)
}

// Kind is the gesture type
type Kind string

const (
	KindDrag   Kind = "drag"
	KindResize Kind = "resize"
)

// Controller starts gestures and guarantees at most one is active
type Controller struct {
	store DraftStore
	bus   *Bus

	mu     sync.Mutex
	active *Gesture
}

// NewController creates a controller listening on bus
func NewController(st DraftStore, bus *Bus) *Controller {
	return &Controller{store: st, bus: bus}
}

// Active returns the in-flight gesture or nil
func (c *Controller) Active() *Gesture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel ends the active gesture, if any
func (c *Controller) Cancel() {
	if g := c.Active(); g != nil {
		g.Cancel()
	}
}

// BeginDrag starts moving the card of boxID. container and card are the rendered rectangles at
// pointer-down; start is the pointer position.
func (c *Controller) BeginDrag(boxID string, container, card geometry.Rect, start geometry.Point) (*Gesture, error) {
	if err := checkGeometry(container, card, start); err != nil {
		return nil, err
	}
	draft, err := c.draft(boxID)
	if err != nil {
		return nil, err
	}

	halfW, halfH := geometry.HalfExtents(card.Width, card.Height, container)
	startPos := draft.TagPosition

	move := func(p geometry.Point) {
		absX := startPos.XPercent*container.Width + (p.X - start.X)
		absY := startPos.YPercent*container.Height + (p.Y - start.Y)
		next := geometry.ClampCenter(types.TagPosition{
			XPercent: absX / container.Width,
			YPercent: absY / container.Height,
		}, halfW, halfH)
		c.store.UpdateLabelDraft(boxID, types.LabelDraftUpdate{TagPosition: &next})
	}
	return c.begin(KindDrag, boxID, move)
}

// BeginResize starts scaling the card of boxID. The card position is re-clamped after every
// scale change so the card stays inside the container.
func (c *Controller) BeginResize(boxID string, container, card geometry.Rect, start geometry.Point) (*Gesture, error) {
	if err := checkGeometry(container, card, start); err != nil {
		return nil, err
	}
	draft, err := c.draft(boxID)
	if err != nil {
		return nil, err
	}

	startScale := draft.TagScale
	if startScale <= 0 {
		startScale = 1
	}
	baseW := card.Width / startScale
	baseH := card.Height / startScale

	move := func(p geometry.Point) {
		delta := ((p.X - start.X) + (p.Y - start.Y)) / ScaleDivisor
		scale := geometry.ClampScale(startScale + delta)
		halfW, halfH := geometry.HalfExtents(baseW*scale, baseH*scale, container)

		current := types.TagPosition{XPercent: 0.5, YPercent: 0.5}
		if d, ok := c.store.Snapshot().LabelDrafts[boxID]; ok {
			current = d.TagPosition
		}
		pos := geometry.ClampCenter(current, halfW, halfH)
		c.store.UpdateLabelDraft(boxID, types.LabelDraftUpdate{TagScale: &scale, TagPosition: &pos})
	}
	return c.begin(KindResize, boxID, move)
}

func checkGeometry(container, card geometry.Rect, start geometry.Point) error {
	if !container.Valid() {
		return ErrInvalidGeometry
	}
	if !finite(card.Width) || !finite(card.Height) || card.Width < 0 || card.Height < 0 {
		return ErrInvalidGeometry
	}
	if !finite(start.X) || !finite(start.Y) {
		return ErrInvalidGeometry
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c *Controller) draft(boxID string) (types.LabelDraft, error) {
	d, ok := c.store.Snapshot().LabelDrafts[boxID]
	if !ok {
		return types.LabelDraft{}, ErrNoDraft
	}
	return d, nil
}

func (c *Controller) begin(kind Kind, boxID string, move func(geometry.Point)) (*Gesture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrGestureInProgress
	}

	g := &Gesture{kind: kind, boxID: boxID, move: move, done: make(chan struct{})}
	g.release = func() {
		c.mu.Lock()
		if c.active == g {
			c.active = nil
		}
		c.mu.Unlock()
	}
	g.sub = c.bus.Subscribe(g.handle)
	c.active = g
	return g, nil
}

// Gesture is one drag or resize, alive from pointer-down until pointer-up or cancellation
type Gesture struct {
	kind    Kind
	boxID   string
	move    func(geometry.Point)
	sub     *Subscription
	release func()

	mu    sync.Mutex
	ended bool
	done  chan struct{}
}

// Kind returns the gesture type
func (g *Gesture) Kind() Kind { return g.kind }

// BoxID returns the box whose card is being manipulated
func (g *Gesture) BoxID() string { return g.boxID }

// Done is closed when the gesture ends
func (g *Gesture) Done() <-chan struct{} { return g.done }

// Cancel ends the gesture without applying further moves
func (g *Gesture) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.end()
}

func (g *Gesture) handle(ev PointerEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return
	}
	switch ev.Type {
	case PointerMove:
		if finite(ev.Position.X) && finite(ev.Position.Y) {
			g.move(ev.Position)
		}
	case PointerUp, PointerCancel:
		g.end()
	}
}

// end must be called with g.mu held
func (g *Gesture) end() {
	if g.ended {
		return
	}
	g.ended = true
	g.sub.Close()
	g.release()
	close(g.done)
}
