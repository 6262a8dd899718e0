// Package workflow runs the capture pipeline for an uploaded file: resize, detect, seed label
// drafts, stylize. Each accepted file gets a task token; only the newest task may commit results.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/menta2k/capture-studio/internal/logger"
	"github.com/menta2k/capture-studio/pkg/describe"
	"github.com/menta2k/capture-studio/pkg/detection"
	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/preview"
	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/random"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/stylize"
	"github.com/menta2k/capture-studio/pkg/types"
)

var (
	// ErrInvalidInput is returned when the upload is not an image
	ErrInvalidInput = errors.New("only image files are accepted")
	// ErrNothingToSave is returned when there is no finished capture to save
	ErrNothingToSave = errors.New("nothing to save")
	// ErrNoSelection is returned by commands that need a selected box
	ErrNoSelection = errors.New("no detection box selected")
)

// State is a step of the capture workflow
type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateResizing        State = "resizing"
	StateDetectingMock   State = "detecting"
	StateStyleGenerating State = "style_generating"
	StateStyleFallback   State = "style_fallback"
	StateReady           State = "ready"
	StateError           State = "error"
)

// User visible messages
const (
	NoteCompressing = "Compressing and summoning pixel style..."
	NoteGenerating  = "Generating pixel art..."
	NoteFallback    = "The model is busy, switched to the local pixel filter"

	MessageInvalidType = "Only image files can be uploaded, try another one"
	MessageFailed      = "Something went wrong while processing the image, try another one"
)

// Status is the workflow state shown next to the preview
type Status struct {
	State      State  `json:"state"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
	Generating bool   `json:"generating"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Token      uint64 `json:"token"`
	// Preview is the handle of the displayed preview
	Preview string `json:"preview,omitempty"`
}

// Saver persists a finished capture and returns the saved artwork id
type Saver interface {
	SaveArtwork(ctx context.Context, userID string, base preview.Blob, box types.NormalizedBounds, draft types.LabelDraft) (string, error)
}

// Options configures an Orchestrator. Nil fields get working defaults.
type Options struct {
	Processor *processing.Processor
	Detector  detection.Detector
	Stylizer  stylize.Stylizer
	Fallback  stylize.Stylizer
	Describer *describe.Describer
	Saver     Saver
	Registry  *preview.Registry
	Random    random.Source
	Logger    logger.Leveled
	Now       func() time.Time
	// SaveDelay simulates persistence latency when no Saver is configured
	SaveDelay time.Duration
}

// Orchestrator drives captures into a store
type Orchestrator struct {
	store     *store.Store
	registry  *preview.Registry
	processor *processing.Processor
	detector  detection.Detector
	stylizer  stylize.Stylizer
	fallback  stylize.Stylizer
	describer *describe.Describer
	saver     Saver
	rng       random.Source
	logger    logger.Leveled
	now       func() time.Time
	saveDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu serialises token changes with every commit to the store
	mu      sync.Mutex
	token   uint64
	status  Status
	resized string
	styled  string
}

// New creates an orchestrator writing to st
func New(st *store.Store, opts Options) *Orchestrator {
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.Random == nil {
		opts.Random = random.NewTimeSeeded()
	}
	if opts.Registry == nil {
		opts.Registry = preview.NewRegistry()
	}
	if opts.Detector == nil {
		opts.Detector = detection.NewMock(opts.Random)
	}
	if opts.Fallback == nil {
		opts.Fallback = stylize.NewLocal(opts.Processor, stylize.LocalBlockSize)
	}
	if opts.Stylizer == nil {
		opts.Stylizer = stylize.NewRemote(opts.Processor, stylize.DefaultRemoteConfig(), opts.Random)
	}
	if opts.Describer == nil {
		opts.Describer = describe.New(nil, "", opts.Random)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     st,
		registry:  opts.Registry,
		processor: opts.Processor,
		detector:  opts.Detector,
		stylizer:  opts.Stylizer,
		fallback:  opts.Fallback,
		describer: opts.Describer,
		saver:     opts.Saver,
		rng:       opts.Random,
		logger:    logger.OrNop(opts.Logger),
		now:       opts.Now,
		saveDelay: opts.SaveDelay,
		ctx:       ctx,
		cancel:    cancel,
		status:    Status{State: StateIdle},
	}
}

// Store returns the session store
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Registry returns the preview registry
func (o *Orchestrator) Registry() *preview.Registry {
	return o.registry
}

// Status returns the current workflow status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// DisplayedPreview returns the styled preview, or the resized one while styling is pending
func (o *Orchestrator) DisplayedPreview() (string, preview.Blob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle := o.displayedLocked()
	if handle == "" {
		return "", preview.Blob{}, false
	}
	b, ok := o.registry.Get(handle)
	return handle, b, ok
}

func (o *Orchestrator) displayedLocked() string {
	if o.styled != "" {
		return o.styled
	}
	return o.resized
}

// Wait blocks until every started task has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops in-flight tasks and releases every preview handle
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked()
}

// AcceptFile validates upload and starts processing it. The returned token identifies the task.
func (o *Orchestrator) AcceptFile(upload *types.Upload) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if upload == nil || !strings.HasPrefix(strings.ToLower(upload.MediaType), "image/") {
		o.status.Error = MessageInvalidType
		mediaType := ""
		if upload != nil {
			mediaType = upload.MediaType
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidInput, mediaType)
	}

	o.token++
	token := o.token
	o.releaseLocked()
	o.store.Reset()
	o.status = Status{State: StateValidating, Note: NoteCompressing, Generating: true, Token: token}
	o.logger.Info("task %d: accepted %s (%s, %d bytes)", token, upload.Name, upload.MediaType, upload.Size())

	o.wg.Add(1)
	go o.run(token, upload)
	return token, nil
}

// releaseLocked drops the handles of the current session
func (o *Orchestrator) releaseLocked() {
	o.registry.Release(o.resized)
	o.registry.Release(o.styled)
	o.resized = ""
	o.styled = ""
}

// commit runs fn under the orchestrator lock if token is still current
func (o *Orchestrator) commit(token uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token != token {
		o.logger.Info("task %d: superseded by task %d, discarding result", token, o.token)
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) run(token uint64, upload *types.Upload) {
	defer o.wg.Done()
	ctx := o.ctx

	if !o.commit(token, func() { o.status.State = StateResizing }) {
		return
	}
	resized, err := o.processor.ResizeToBounds(upload)
	if err != nil {
		o.fail(token, fmt.Errorf("resize: %w", err))
		return
	}
	o.logger.Info("task %d: resized to %dx%d", token, resized.Width, resized.Height)

	if !o.commit(token, func() { o.status.State = StateDetectingMock }) {
		return
	}
	boxes, err := o.detector.Detect(ctx, resized)
	if err != nil {
		o.fail(token, fmt.Errorf("detect: %w", err))
		return
	}
	for i := range boxes {
		boxes[i].Bounds = geometry.Normalize(boxes[i].Bounds)
	}
	o.logger.Info("task %d: detected %d boxes", token, len(boxes))
	drafts := o.seedDrafts(boxes)

	committed := o.commit(token, func() {
		o.resized = o.registry.Create(resized)
		o.store.SetUpload(&types.Upload{Name: upload.Name, MediaType: resized.MediaType, Data: resized.Data}, o.resized)
		o.store.SetDetectionBoxes(boxes)
		for _, b := range boxes {
			o.store.UpdateLabelDraft(b.ID, types.FullUpdate(drafts[b.ID]))
		}
		o.store.SetSaveStatus(types.SaveIdle)
		o.status = Status{
			State:      StateStyleGenerating,
			Note:       NoteGenerating,
			Generating: true,
			Width:      resized.Width,
			Height:     resized.Height,
			Token:      token,
			Preview:    o.resized,
		}
	})
	if !committed {
		return
	}

	note := ""
	styled, err := o.stylizer.Stylize(ctx, resized)
	if err != nil {
		o.logger.Warning("task %d: style model failed, using local filter: %v", token, err)
		if !o.commit(token, func() { o.status.State = StateStyleFallback }) {
			return
		}
		note = NoteFallback
		styled, err = o.fallback.Stylize(ctx, resized)
		if err != nil {
			o.fail(token, fmt.Errorf("fallback stylize: %w", err))
			return
		}
	}

	o.commit(token, func() {
		o.styled = o.registry.Create(styled)
		o.status.State = StateReady
		o.status.Note = note
		o.status.Generating = false
		o.status.Preview = o.styled
		o.logger.Info("task %d: ready", token)
	})
}

// fail moves a current task into the error state
func (o *Orchestrator) fail(token uint64, err error) {
	o.commit(token, func() {
		o.logger.Error("task %d: %v", token, err)
		o.store.SetDetectionBoxes(nil)
		o.store.SetSaveStatus(types.SaveIdle)
		o.status.State = StateError
		o.status.Error = MessageFailed
		o.status.Note = ""
		o.status.Generating = false
		o.status.Preview = o.displayedLocked()
	})
}

// seedDrafts builds the initial label draft of every box
func (o *Orchestrator) seedDrafts(boxes []types.DetectionBoxInput) map[string]types.LabelDraft {
	now := store.DefaultTime(o.now())
	drafts := make(map[string]types.LabelDraft, len(boxes))
	for i, b := range boxes {
		name, category, description := describe.Placeholder(i)
		drafts[b.ID] = types.LabelDraft{
			Name:        name,
			Category:    category,
			Description: description,
			Energy:      60 + o.rng.Intn(60),
			Health:      40 + o.rng.Intn(60),
			Time:        now,
			TagPosition: geometry.TagAnchor(b.Bounds),
			TagScale:    1,
		}
	}
	return drafts
}

// Save persists the selected box of the finished capture. The store save status moves through
// saving to success or error.
func (o *Orchestrator) Save(ctx context.Context, userID string) (string, error) {
	o.mu.Lock()
	snap := o.store.Snapshot()
	handle := o.displayedLocked()
	if len(snap.DetectionBoxes) == 0 || handle == "" || o.status.Generating {
		o.mu.Unlock()
		return "", ErrNothingToSave
	}
	draft, ok := snap.SelectedDraft()
	if !ok {
		o.mu.Unlock()
		return "", ErrNoSelection
	}
	box, _ := snap.Box(snap.SelectedBoxID)
	base, ok := o.registry.Get(handle)
	if !ok {
		o.mu.Unlock()
		return "", ErrNothingToSave
	}
	token := o.token
	o.store.SetSaveStatus(types.SaveSaving)
	o.mu.Unlock()

	id, err := o.persist(ctx, userID, base, box.Bounds, draft)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token != token {
		return id, err
	}
	if err != nil {
		o.logger.Error("save failed: %v", err)
		o.store.SetSaveStatus(types.SaveError)
		return "", err
	}
	o.store.SetSaveStatus(types.SaveSuccess)
	return id, nil
}

func (o *Orchestrator) persist(ctx context.Context, userID string, base preview.Blob, box types.NormalizedBounds, draft types.LabelDraft) (string, error) {
	if o.saver == nil {
		select {
		case <-time.After(o.saveDelay):
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	id, err := o.saver.SaveArtwork(ctx, userID, base, box, draft)
	if err != nil {
		return "", fmt.Errorf("save artwork: %w", err)
	}
	return id, nil
}
