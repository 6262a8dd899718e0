package workflow

import (
	"context"
	"fmt"
	"math"

	"github.com/menta2k/capture-studio/pkg/describe"
	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/store"
	"github.com/menta2k/capture-studio/pkg/types"
)

// Stat limits
const (
	MinStat = 0
	MaxStat = 200
)

// StatField names an editable stat
type StatField string

const (
	StatEnergy StatField = "energy"
	StatHealth StatField = "health"
)

// TimeField names an editable part of the label time
type TimeField string

const (
	TimeHour   TimeField = "hour"
	TimeMinute TimeField = "minute"
	TimeMonth  TimeField = "month"
	TimeDay    TimeField = "day"
)

// SelectBox selects a detection box. Unknown ids are ignored and reported as false.
func (o *Orchestrator) SelectBox(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.SelectBox(id)
}

// UpdateDraft applies a partial update to the draft of box id. Stats, time, position and scale
// are clamped to their ranges first.
func (o *Orchestrator) UpdateDraft(id string, update types.LabelDraftUpdate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.store.Snapshot().Box(id); !ok {
		return fmt.Errorf("unknown box %q", id)
	}
	o.store.UpdateLabelDraft(id, normalizeUpdate(update))
	return nil
}

// normalizeUpdate returns a copy of u with every set numeric field inside its range
func normalizeUpdate(u types.LabelDraftUpdate) types.LabelDraftUpdate {
	if u.Energy != nil {
		u.Energy = types.Ptr(clampStat(float64(*u.Energy)))
	}
	if u.Health != nil {
		u.Health = types.Ptr(clampStat(float64(*u.Health)))
	}
	if u.Time != nil {
		u.Time = types.Ptr(clampTime(*u.Time))
	}
	if u.TagPosition != nil {
		u.TagPosition = types.Ptr(geometry.ClampPosition(*u.TagPosition))
	}
	if u.TagScale != nil {
		u.TagScale = types.Ptr(geometry.ClampScale(*u.TagScale))
	}
	return u
}

func clampTime(t types.TimeState) types.TimeState {
	return types.TimeState{
		Hour:   geometry.ClampInt(t.Hour, 0, 23),
		Minute: geometry.ClampInt(t.Minute, 0, 59),
		Month:  geometry.ClampInt(t.Month, 1, 12),
		Day:    geometry.ClampInt(t.Day, 1, 31),
	}
}

// editSelected applies the update built by fn to the selected draft
func (o *Orchestrator) editSelected(fn func(d types.LabelDraft) (types.LabelDraftUpdate, error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.store.Snapshot()
	draft, ok := snap.SelectedDraft()
	if !ok {
		return ErrNoSelection
	}
	update, err := fn(draft)
	if err != nil {
		return err
	}
	o.store.UpdateLabelDraft(snap.SelectedBoxID, update)
	return nil
}

// SetName sets the item name of the selected box
func (o *Orchestrator) SetName(name string) error {
	return o.editSelected(func(types.LabelDraft) (types.LabelDraftUpdate, error) {
		return types.LabelDraftUpdate{Name: &name}, nil
	})
}

// SuggestName gives the selected box a random placeholder name
func (o *Orchestrator) SuggestName() (string, error) {
	name := o.describer.SuggestName()
	if err := o.SetName(name); err != nil {
		return "", err
	}
	return name, nil
}

// SetCategory sets the category of the selected box
func (o *Orchestrator) SetCategory(category string) error {
	return o.editSelected(func(types.LabelDraft) (types.LabelDraftUpdate, error) {
		return types.LabelDraftUpdate{Category: &category}, nil
	})
}

// SetDescription sets the description of the selected box
func (o *Orchestrator) SetDescription(description string) error {
	return o.editSelected(func(types.LabelDraft) (types.LabelDraftUpdate, error) {
		return types.LabelDraftUpdate{Description: &description}, nil
	})
}

// SetStat sets a stat of the selected box, rounded and clamped to [MinStat, MaxStat]
func (o *Orchestrator) SetStat(field StatField, value float64) error {
	return o.editSelected(func(types.LabelDraft) (types.LabelDraftUpdate, error) {
		return statUpdate(field, clampStat(value))
	})
}

// AdjustStat adds delta to a stat of the selected box
func (o *Orchestrator) AdjustStat(field StatField, delta int) error {
	return o.editSelected(func(d types.LabelDraft) (types.LabelDraftUpdate, error) {
		var current int
		switch field {
		case StatEnergy:
			current = d.Energy
		case StatHealth:
			current = d.Health
		default:
			return types.LabelDraftUpdate{}, fmt.Errorf("unknown stat %q", field)
		}
		return statUpdate(field, clampStat(float64(current+delta)))
	})
}

func clampStat(v float64) int {
	if math.IsNaN(v) {
		return MinStat
	}
	return geometry.ClampInt(int(math.Round(geometry.Clamp(v, MinStat, MaxStat))), MinStat, MaxStat)
}

func statUpdate(field StatField, v int) (types.LabelDraftUpdate, error) {
	switch field {
	case StatEnergy:
		return types.LabelDraftUpdate{Energy: &v}, nil
	case StatHealth:
		return types.LabelDraftUpdate{Health: &v}, nil
	}
	return types.LabelDraftUpdate{}, fmt.Errorf("unknown stat %q", field)
}

// SetTimeField sets one part of the label time of the selected box. Values are clamped to the
// field's calendar range.
func (o *Orchestrator) SetTimeField(field TimeField, value int) error {
	return o.editSelected(func(d types.LabelDraft) (types.LabelDraftUpdate, error) {
		t := d.Time
		switch field {
		case TimeHour:
			t.Hour = geometry.ClampInt(value, 0, 23)
		case TimeMinute:
			t.Minute = geometry.ClampInt(value, 0, 59)
		case TimeMonth:
			t.Month = geometry.ClampInt(value, 1, 12)
		case TimeDay:
			t.Day = geometry.ClampInt(value, 1, 31)
		default:
			return types.LabelDraftUpdate{}, fmt.Errorf("unknown time field %q", field)
		}
		return types.LabelDraftUpdate{Time: &t}, nil
	})
}

// SyncTime stamps the selected box with the current time
func (o *Orchestrator) SyncTime() error {
	t := store.DefaultTime(o.now())
	return o.editSelected(func(types.LabelDraft) (types.LabelDraftUpdate, error) {
		return types.LabelDraftUpdate{Time: &t}, nil
	})
}

// GenerateDescription writes a new description for the selected box. The result is dropped if
// the session changed while the describer was running.
func (o *Orchestrator) GenerateDescription(ctx context.Context) (string, describe.Source, error) {
	o.mu.Lock()
	snap := o.store.Snapshot()
	draft, ok := snap.SelectedDraft()
	token := o.token
	o.mu.Unlock()
	if !ok {
		return "", "", ErrNoSelection
	}

	text, source := o.describer.Describe(ctx, describe.Request{ObjectName: draft.Name, Category: draft.Category})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token != token {
		return text, source, nil
	}
	if _, ok := o.store.Snapshot().Box(snap.SelectedBoxID); ok {
		o.store.UpdateLabelDraft(snap.SelectedBoxID, types.LabelDraftUpdate{Description: &text})
	}
	return text, source, nil
}
