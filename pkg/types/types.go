package types

// NormalizedBounds represents a rectangle with coordinates in [0,1] fractions of the image size
type NormalizedBounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectionBoxInput is a detected region as reported by a detector
type DetectionBoxInput struct {
	ID         string           `json:"id"`
	Bounds     NormalizedBounds `json:"bounds"`
	Label      string           `json:"label,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// DetectionBox is a DetectionBoxInput with its derived area
type DetectionBox struct {
	DetectionBoxInput
	Area float64 `json:"area"`
}

// TimeState is the timestamp shown on a label card
type TimeState struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Month  int `json:"month"`
	Day    int `json:"day"`
}

// TagPosition is the centre of the label card in container-relative fractions
type TagPosition struct {
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
}

// LabelDraft contains the editable annotation for one detection box
type LabelDraft struct {
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Energy      int         `json:"energy"`
	Health      int         `json:"health"`
	Time        TimeState   `json:"time"`
	TagPosition TagPosition `json:"tagPosition"`
	TagScale    float64     `json:"tagScale"`
}

// LabelDraftUpdate is a partial LabelDraft. Nil fields are left untouched.
type LabelDraftUpdate struct {
	Name        *string      `json:"name,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Description *string      `json:"description,omitempty"`
	Energy      *int         `json:"energy,omitempty"`
	Health      *int         `json:"health,omitempty"`
	Time        *TimeState   `json:"time,omitempty"`
	TagPosition *TagPosition `json:"tagPosition,omitempty"`
	TagScale    *float64     `json:"tagScale,omitempty"`
}

// Apply merges the update onto d and returns the result
func (u LabelDraftUpdate) Apply(d LabelDraft) LabelDraft {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Category != nil {
		d.Category = *u.Category
	}
	if u.Description != nil {
		d.Description = *u.Description
	}
	if u.Energy != nil {
		d.Energy = *u.Energy
	}
	if u.Health != nil {
		d.Health = *u.Health
	}
	if u.Time != nil {
		d.Time = *u.Time
	}
	if u.TagPosition != nil {
		d.TagPosition = *u.TagPosition
	}
	if u.TagScale != nil {
		d.TagScale = *u.TagScale
	}
	return d
}

// FullUpdate returns an update that replaces every field of a draft with d
func FullUpdate(d LabelDraft) LabelDraftUpdate {
	return LabelDraftUpdate{
		Name:        Ptr(d.Name),
		Category:    Ptr(d.Category),
		Description: Ptr(d.Description),
		Energy:      Ptr(d.Energy),
		Health:      Ptr(d.Health),
		Time:        Ptr(d.Time),
		TagPosition: Ptr(d.TagPosition),
		TagScale:    Ptr(d.TagScale),
	}
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// SaveStatus tracks the save contract of a capture session
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SaveSaving  SaveStatus = "saving"
	SaveSuccess SaveStatus = "success"
	SaveError   SaveStatus = "error"
)

// Upload is a user supplied image file
type Upload struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"-"`
}

// Size returns the payload size in bytes
func (u *Upload) Size() int {
	if u == nil {
		return 0
	}
	return len(u.Data)
}
