package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradePlan is the editable configuration of an option-selling run.
// Numeric fields hold the raw text the user typed; they are parsed only
// when the plan is validated or submitted.
type TradePlan struct {
	Instruments         map[InstrumentID]bool `json:"instruments"`
	InitialLots         string                `json:"lots"`
	MartingaleIncrement string                `json:"martingaleIncrementSize"`
	MaxTrades           string                `json:"maxTrades"`
	ExitStrategy        StrategyID            `json:"exitStrategy"`
	SLMPercent          string                `json:"slmPercent"`
	AutoSquareOff       AutoSquareOff         `json:"autoSquareOff"`
	RunNow              bool                  `json:"runNow"`
	RunAt               *time.Time            `json:"runAt,omitempty"`
}

// AutoSquareOff is the forced close deadline of a run.
type AutoSquareOff struct {
	Enabled bool       `json:"enabled"`
	Time    *time.Time `json:"time,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p TradePlan) Clone() TradePlan {
	out := p
	out.Instruments = make(map[InstrumentID]bool, len(p.Instruments))
	for id, on := range p.Instruments {
		out.Instruments[id] = on
	}
	if p.RunAt != nil {
		t := *p.RunAt
		out.RunAt = &t
	}
	if p.AutoSquareOff.Time != nil {
		t := *p.AutoSquareOff.Time
		out.AutoSquareOff.Time = &t
	}
	return out
}

// SelectedInstruments returns the enabled instrument ids, sorted.
func (p TradePlan) SelectedInstruments() []InstrumentID {
	ids := make([]InstrumentID, 0, len(p.Instruments))
	for id, on := range p.Instruments {
		if on {
			ids = append(ids, id)
		}
	}
	return SortInstrumentIDs(ids)
}

// TriggerKind says when a submitted plan starts.
type TriggerKind string

const (
	TriggerImmediate TriggerKind = "IMMEDIATE"
	TriggerScheduled TriggerKind = "SCHEDULED"
)

// Trigger is the resolved start of a run.
type Trigger struct {
	Kind  TriggerKind `json:"kind"`
	RunAt time.Time   `json:"run_at"`
}

// ResolvedPlan is a validated plan with its text fields parsed.
type ResolvedPlan struct {
	Instruments         []InstrumentID  `json:"instruments"`
	InitialLots         int             `json:"initial_lots"`
	MartingaleIncrement int             `json:"martingale_increment"`
	MaxTrades           int             `json:"max_trades"`
	ExitStrategy        StrategyID      `json:"exit_strategy"`
	SLMPercent          decimal.Decimal `json:"slm_percent"`
	SquareOffAt         *time.Time      `json:"square_off_at,omitempty"`
}

// PlanStatus represents the status of a submitted plan.
type PlanStatus string

const (
	PlanScheduled        PlanStatus = "SCHEDULED"
	PlanRunning          PlanStatus = "RUNNING"
	PlanMaxTradesReached PlanStatus = "MAX_TRADES_REACHED"
	PlanCompleted        PlanStatus = "COMPLETED"
	PlanCancelled        PlanStatus = "CANCELLED"
)

// IsTerminal reports whether no further trades can be taken.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanMaxTradesReached || s == PlanCompleted || s == PlanCancelled
}

// SubmittedPlan is the read-only snapshot handed to the execution subsystem.
type SubmittedPlan struct {
	ID          string       `json:"id"`
	Plan        TradePlan    `json:"plan"`
	Resolved    ResolvedPlan `json:"resolved"`
	Trigger     Trigger      `json:"trigger"`
	Status      PlanStatus   `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
