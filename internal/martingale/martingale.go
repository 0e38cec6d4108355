// Package martingale sizes the trades of a run and decides when a run stops.
//
// After a stop-loss the next trade is taken with the last lot size plus the
// increment; any other close resets the size to the initial lots. maxTrades
// caps the total number of trades, where 0 means a single trade with no
// re-entry. Every decision is a pure function of the outcome history.
package martingale

import (
	"sync"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
)

// Params are the sizing inputs of a run.
type Params struct {
	InitialLots int
	Increment   int
	MaxTrades   int
}

// ParamsFrom extracts sizing parameters from a resolved plan.
func ParamsFrom(p models.ResolvedPlan) Params {
	return Params{
		InitialLots: p.InitialLots,
		Increment:   p.MartingaleIncrement,
		MaxTrades:   p.MaxTrades,
	}
}

// NextLotSize returns the lot size of the next trade.
func NextLotSize(history models.History, initialLots, increment int) int {
	last, ok := history.Last()
	if !ok || !last.IsStopLoss() {
		return initialLots
	}
	return last.Lots + increment
}

// ShouldContinue reports whether another trade may be taken.
func ShouldContinue(history models.History, maxTrades int) bool {
	if maxTrades <= 0 {
		return len(history) == 0
	}
	return len(history) < maxTrades
}

// State is the lifecycle position of a run.
type State string

const (
	NotStarted       State = "NOT_STARTED"
	InProgress       State = "IN_PROGRESS"
	MaxTradesReached State = "MAX_TRADES_REACHED"
	Completed        State = "COMPLETED"
)

// IsTerminal reports whether no further trades can be dispatched.
func (s State) IsTerminal() bool {
	return s == MaxTradesReached || s == Completed
}

// Replay derives the state of a run from its history alone.
// Completed is never derived: only the execution subsystem can end a run early.
func Replay(history models.History, p Params) State {
	switch {
	case len(history) == 0:
		return NotStarted
	case !ShouldContinue(history, p.MaxTrades):
		return MaxTradesReached
	default:
		return InProgress
	}
}

// Run tracks one plan's trades. Outcomes are appended one at a time and only
// for a trade that was dispatched and has not yet been closed.
type Run struct {
	mu      sync.Mutex
	params  Params
	history models.History
	state   State
	open    int // lots of the dispatched trade, 0 if none
}

// NewRun creates a run, optionally resuming from a recorded history.
func NewRun(p Params, history models.History) *Run {
	h := make(models.History, len(history))
	copy(h, history)
	return &Run{
		params:  p,
		history: h,
		state:   Replay(h, p),
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns a copy of the recorded outcomes.
func (r *Run) History() models.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := make(models.History, len(r.history))
	copy(h, r.history)
	return h
}

// Next dispatches the next trade and returns its lot size.
// ok is false once the run is finished.
func (r *Run) Next() (lots int, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.IsTerminal() {
		return 0, false, nil
	}
	if r.open > 0 {
		return 0, false, apperrors.ErrTradeOpen
	}
	if !ShouldContinue(r.history, r.params.MaxTrades) {
		r.state = MaxTradesReached
		return 0, false, nil
	}

	r.open = NextLotSize(r.history, r.params.InitialLots, r.params.Increment)
	r.state = InProgress
	return r.open, true, nil
}

// Record appends the outcome of the dispatched trade.
func (r *Run) Record(exit models.ExitReason, closedAt time.Time) (models.TradeOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.IsTerminal() {
		return models.TradeOutcome{}, apperrors.ErrRunFinished
	}
	if r.open == 0 {
		return models.TradeOutcome{}, apperrors.ErrNoOpenTrade
	}

	outcome := models.TradeOutcome{
		Seq:      len(r.history) + 1,
		Lots:     r.open,
		Exit:     exit,
		ClosedAt: closedAt,
	}
	r.history = append(r.history, outcome)
	r.open = 0

	if !ShouldContinue(r.history, r.params.MaxTrades) {
		r.state = MaxTradesReached
	}
	return outcome, nil
}

// Complete ends the run after a non stop-loss close.
func (r *Run) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open > 0 {
		return apperrors.ErrTradeOpen
	}
	if r.state != InProgress {
		return apperrors.ErrRunFinished
	}
	last, ok := r.history.Last()
	if !ok || last.IsStopLoss() {
		return apperrors.ErrStopLossPending
	}
	r.state = Completed
	return nil
}
