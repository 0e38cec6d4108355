// Package schedule decides how a submitted plan is triggered.
package schedule

import (
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// FieldNow names the evaluation instant in a decision error.
const FieldNow = "now"

// DefaultCutoff is the last trading-timezone time a run may be scheduled for the day.
var DefaultCutoff = utils.MarketClose

// Decision is the gate's verdict for a plan at a given instant.
type Decision struct {
	SchedulingAllowed bool                  `json:"scheduling_allowed"`
	Cutoff            time.Time             `json:"cutoff"`
	Trigger           *models.Trigger       `json:"trigger,omitempty"`
	RunAtIgnored      bool                  `json:"run_at_ignored"`
	Err               *apperrors.FieldError `json:"error,omitempty"`
}

// OK reports whether the decision resolved a trigger.
func (d Decision) OK() bool {
	return d.Err == nil && d.Trigger != nil
}

// Gate applies the daily scheduling cutoff. It holds no clock or timer state;
// callers pass the instant to evaluate.
type Gate struct {
	cutoff utils.Clock
}

// NewGate creates a gate with the given cutoff.
func NewGate(cutoff utils.Clock) *Gate {
	return &Gate{cutoff: cutoff}
}

// Cutoff returns the cutoff instant on the trading day of now.
func (g *Gate) Cutoff(now time.Time) time.Time {
	return g.cutoff.On(now)
}

// SchedulingAllowed reports whether now is at or before the cutoff.
// A malformed instant never allows scheduling.
func (g *Gate) SchedulingAllowed(now time.Time) bool {
	now, err := utils.Normalize(now)
	if err != nil {
		return false
	}
	return !now.After(g.Cutoff(now))
}

// Decide resolves the trigger of plan at now.
//
// RunNow always wins and starts the run at now. Otherwise the plan needs a
// runAt, which is only honored while now is at or before the cutoff; past the
// cutoff any chosen runAt is dropped rather than executed at a stale time.
// A malformed now resolves no trigger at all and fails on FieldNow.
func (g *Gate) Decide(now time.Time, plan models.TradePlan) Decision {
	now, err := utils.Normalize(now)
	if err != nil {
		return Decision{Err: apperrors.NewFieldError(FieldNow, apperrors.KindInvalidTime, "")}
	}
	d := Decision{
		SchedulingAllowed: g.SchedulingAllowed(now),
		Cutoff:            g.Cutoff(now),
	}

	if plan.RunNow {
		d.RunAtIgnored = plan.RunAt != nil
		d.Trigger = &models.Trigger{Kind: models.TriggerImmediate, RunAt: now}
		return d
	}

	if !d.SchedulingAllowed {
		d.RunAtIgnored = plan.RunAt != nil
		d.Err = apperrors.NewFieldError("runAt", apperrors.KindSchedulingClosed, "")
		return d
	}

	if plan.RunAt == nil {
		d.Err = apperrors.NewFieldError("runAt", apperrors.KindMissingRunAt, "")
		return d
	}

	runAt, err := utils.Normalize(*plan.RunAt)
	if err != nil {
		d.Err = apperrors.NewFieldError("runAt", apperrors.KindInvalidTime, "")
		return d
	}
	d.Trigger = &models.Trigger{Kind: models.TriggerScheduled, RunAt: runAt}
	return d
}

// DefaultRunAt proposes a run time for a fresh plan: the next whole minute
// after now, clamped to the cutoff. ok is false once scheduling has closed.
func (g *Gate) DefaultRunAt(now time.Time) (time.Time, bool) {
	now = utils.InIST(now)
	if !g.SchedulingAllowed(now) {
		return time.Time{}, false
	}
	next := now.Truncate(time.Minute).Add(time.Minute)
	if cutoff := g.Cutoff(now); next.After(cutoff) {
		next = cutoff
	}
	return next, true
}

// VisibleRunAt is the runAt the form should show: nil while scheduling is closed.
func (g *Gate) VisibleRunAt(now time.Time, plan models.TradePlan) *time.Time {
	if !g.SchedulingAllowed(now) || plan.RunAt == nil {
		return nil
	}
	t := utils.InIST(*plan.RunAt)
	return &t
}
