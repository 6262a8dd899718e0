// Package store implements the capture session state container. Every command replaces state
// atomically and notifies subscribers at most once with a consistent snapshot.
package store

import (
	"sync"
	"time"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/types"
)

// Session is the complete state of one capture-and-annotate cycle.
// An empty PreviewURL or SelectedBoxID means none.
type Session struct {
	UploadFile     *types.Upload               `json:"uploadFile"`
	PreviewURL     string                      `json:"previewUrl"`
	DetectionBoxes []types.DetectionBox        `json:"detectionBoxes"`
	SelectedBoxID  string                      `json:"selectedBoxId"`
	LabelDrafts    map[string]types.LabelDraft `json:"labelDrafts"`
	SaveStatus     types.SaveStatus            `json:"saveStatus"`
}

// SelectedDraft returns the draft of the selected box
func (s Session) SelectedDraft() (types.LabelDraft, bool) {
	if s.SelectedBoxID == "" {
		return types.LabelDraft{}, false
	}
	d, ok := s.LabelDrafts[s.SelectedBoxID]
	return d, ok
}

// Box returns the detection box with the given id
func (s Session) Box(id string) (types.DetectionBox, bool) {
	for _, b := range s.DetectionBoxes {
		if b.ID == id {
			return b, true
		}
	}
	return types.DetectionBox{}, false
}

func (s Session) clone() Session {
	out := s
	if s.DetectionBoxes != nil {
		out.DetectionBoxes = make([]types.DetectionBox, len(s.DetectionBoxes))
		copy(out.DetectionBoxes, s.DetectionBoxes)
	}
	out.LabelDrafts = make(map[string]types.LabelDraft, len(s.LabelDrafts))
	for k, v := range s.LabelDrafts {
		out.LabelDrafts[k] = v
	}
	return out
}

func baseState() Session {
	return Session{
		DetectionBoxes: []types.DetectionBox{},
		LabelDrafts:    map[string]types.LabelDraft{},
		SaveStatus:     types.SaveIdle,
	}
}

// Observer receives a snapshot after each state change. Observers must not call mutating
// store methods synchronously.
type Observer func(Session)

// Store is the capture state container
type Store struct {
	mu        sync.Mutex
	state     Session
	observers map[int]Observer
	nextID    int
	now       func() time.Time

	// notifyMu keeps notifications in commit order
	notifyMu sync.Mutex
}

// New creates an empty store using the wall clock for default draft times
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store with a custom clock
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		state:     baseState(),
		observers: make(map[int]Observer),
		now:       now,
	}
}

// DefaultTime returns the label time for the given instant
func DefaultTime(t time.Time) types.TimeState {
	return types.TimeState{
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Month:  int(t.Month()),
		Day:    t.Day(),
	}
}

// EmptyDraft returns a draft with default values stamped at t
func EmptyDraft(t time.Time) types.LabelDraft {
	return types.LabelDraft{
		Time:        DefaultTime(t),
		TagPosition: types.TagPosition{XPercent: 0.5, YPercent: 0.5},
		TagScale:    1,
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers an observer and returns a function removing it
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// commit applies mutate under the lock and notifies observers if it reports a change
func (s *Store) commit(mutate func(st *Session) bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := s.state.clone()
	if !mutate(&next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	snapshot := next.clone()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// SetUpload replaces the upload slice. Boxes and drafts are untouched.
func (s *Store) SetUpload(file *types.Upload, previewURL string) {
	s.commit(func(st *Session) bool {
		st.UploadFile = file
		st.PreviewURL = previewURL
		return true
	})
}

// SetDetectionBoxes replaces the box set, selects the largest box and keeps drafts only for
// ids that are still present.
func (s *Store) SetDetectionBoxes(boxes []types.DetectionBoxInput) {
	now := s.now()
	s.commit(func(st *Session) bool {
		normalized := make([]types.DetectionBox, 0, len(boxes))
		for _, b := range boxes {
			normalized = append(normalized, types.DetectionBox{
				DetectionBoxInput: b,
				Area:              geometry.Area(b.Bounds),
			})
		}

		drafts := make(map[string]types.LabelDraft, len(normalized))
		for _, b := range normalized {
			if d, ok := st.LabelDrafts[b.ID]; ok {
				drafts[b.ID] = d
			} else {
				drafts[b.ID] = EmptyDraft(now)
			}
		}

		st.DetectionBoxes = normalized
		st.SelectedBoxID = largestBoxID(normalized)
		st.LabelDrafts = drafts
		return true
	})
}

// largestBoxID returns the id of the box with the largest area; the first one wins ties
func largestBoxID(boxes []types.DetectionBox) string {
	if len(boxes) == 0 {
		return ""
	}
	largest := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area > largest.Area {
			largest = b
		}
	}
	return largest.ID
}

// SelectBox selects id. Unknown ids leave the state unchanged and return false.
func (s *Store) SelectBox(id string) bool {
	selected := false
	s.commit(func(st *Session) bool {
		if _, ok := st.Box(id); !ok {
			return false
		}
		st.SelectedBoxID = id
		selected = true
		return true
	})
	return selected
}

// UpdateLabelDraft merges update onto the draft for id, creating a default draft first if needed
func (s *Store) UpdateLabelDraft(id string, update types.LabelDraftUpdate) {
	now := s.now()
	s.commit(func(st *Session) bool {
		existing, ok := st.LabelDrafts[id]
		if !ok {
			existing = EmptyDraft(now)
		}
		st.LabelDrafts[id] = update.Apply(existing)
		return true
	})
}

// SetSaveStatus replaces the save status
func (s *Store) SetSaveStatus(status types.SaveStatus) {
	s.commit(func(st *Session) bool {
		st.SaveStatus = status
		return true
	})
}

// Reset restores the empty baseline
func (s *Store) Reset() {
	s.commit(func(st *Session) bool {
		*st = baseState()
		return true
	})
}
