// Package plan edits and validates trade plans.
//
// Edits arrive as patches mirroring the form's field granularity. Applying a
// patch never validates and never rejects input: numeric fields keep whatever
// text the user typed so a half-typed value can be finished. Validation is a
// separate read-only pass.
package plan

import (
	"time"

	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// Patch is one user edit. Nil or zero fields are untouched.
type Patch struct {
	Instruments          map[models.InstrumentID]bool `json:"instruments,omitempty"`
	InitialLots          *string                      `json:"lots,omitempty"`
	MartingaleIncrement  *string                      `json:"martingaleIncrementSize,omitempty"`
	MaxTrades            *string                      `json:"maxTrades,omitempty"`
	ExitStrategy         *models.StrategyID           `json:"exitStrategy,omitempty"`
	SLMPercent           *string                      `json:"slmPercent,omitempty"`
	AutoSquareOffEnabled *bool                        `json:"isAutoSquareOffEnabled,omitempty"`
	SquareOffTime        *time.Time                   `json:"squareOffTime,omitempty"`
	RunNow               bool                         `json:"runNow,omitempty"`
	RunAt                *time.Time                   `json:"runAt,omitempty"`
	ClearRunAt           bool                         `json:"clearRunAt,omitempty"`
}

// Fields lists the plan fields the patch touches.
func (p Patch) Fields() []string {
	var fields []string
	for id := range p.Instruments {
		fields = append(fields, "instruments."+string(id))
	}
	if p.InitialLots != nil {
		fields = append(fields, FieldInitialLots)
	}
	if p.MartingaleIncrement != nil {
		fields = append(fields, FieldMartingaleIncrement)
	}
	if p.MaxTrades != nil {
		fields = append(fields, FieldMaxTrades)
	}
	if p.ExitStrategy != nil {
		fields = append(fields, FieldExitStrategy)
	}
	if p.SLMPercent != nil {
		fields = append(fields, FieldSLMPercent)
	}
	if p.AutoSquareOffEnabled != nil {
		fields = append(fields, FieldAutoSquareOff)
	}
	if p.SquareOffTime != nil {
		fields = append(fields, FieldSquareOffTime)
	}
	if p.RunNow {
		fields = append(fields, FieldRunNow)
	}
	if p.RunAt != nil || p.ClearRunAt {
		fields = append(fields, FieldRunAt)
	}
	return fields
}

// IsEmpty reports whether the patch touches nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Apply merges patch into current and returns the next plan.
// current is not modified.
func Apply(current models.TradePlan, patch Patch) models.TradePlan {
	next := current.Clone()

	// Keyed merge: untouched instruments keep their flags.
	for id, enabled := range patch.Instruments {
		next.Instruments[id] = enabled
	}

	if patch.InitialLots != nil {
		next.InitialLots = *patch.InitialLots
	}
	if patch.MartingaleIncrement != nil {
		next.MartingaleIncrement = *patch.MartingaleIncrement
	}
	if patch.MaxTrades != nil {
		next.MaxTrades = *patch.MaxTrades
	}
	if patch.ExitStrategy != nil {
		next.ExitStrategy = *patch.ExitStrategy
	}
	if patch.SLMPercent != nil {
		next.SLMPercent = *patch.SLMPercent
	}
	if patch.AutoSquareOffEnabled != nil {
		next.AutoSquareOff.Enabled = *patch.AutoSquareOffEnabled
	}
	if patch.SquareOffTime != nil {
		t := normalized(*patch.SquareOffTime)
		next.AutoSquareOff.Time = &t
	}

	if patch.ClearRunAt {
		next.RunAt = nil
	}
	if patch.RunAt != nil {
		t := normalized(*patch.RunAt)
		next.RunAt = &t
	}
	// RunNow is one-way; a false value never clears it.
	if patch.RunNow {
		next.RunNow = true
	}

	return next
}

// normalized converts t to IST. A malformed instant is kept as is so the
// validator can report it against its field.
func normalized(t time.Time) time.Time {
	if n, err := utils.Normalize(t); err == nil {
		return n
	}
	return t
}

// ToggleInstrument builds the patch a checkbox click produces.
func ToggleInstrument(current models.TradePlan, id models.InstrumentID) Patch {
	return Patch{Instruments: map[models.InstrumentID]bool{id: !current.Instruments[id]}}
}

// ToggleAutoSquareOff builds the patch the auto square-off checkbox produces.
func ToggleAutoSquareOff(current models.TradePlan) Patch {
	enabled := !current.AutoSquareOff.Enabled
	return Patch{AutoSquareOffEnabled: &enabled}
}
