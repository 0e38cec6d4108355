package schedule

import (
	"testing"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

func istAt(h, m, s int) time.Time {
	return time.Date(2026, time.October, 16, h, m, s, 0, utils.IndiaLocation)
}

func TestDecide_CutoffIsInclusive(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	runAt := istAt(15, 45, 0)
	plan := models.TradePlan{RunAt: &runAt}

	d := gate.Decide(istAt(15, 30, 0), plan)
	if !d.SchedulingAllowed {
		t.Errorf("15:30:00 should allow scheduling")
	}

	d = gate.Decide(istAt(15, 30, 1), plan)
	if d.SchedulingAllowed {
		t.Errorf("15:30:01 should not allow scheduling")
	}
}

func TestDecide_MalformedNow(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	runAt := istAt(11, 0, 0)

	for _, plan := range []models.TradePlan{
		{RunNow: true},
		{RunAt: &runAt},
	} {
		d := gate.Decide(time.Time{}, plan)
		if d.Trigger != nil {
			t.Errorf("a zero clock must not resolve a trigger, got %+v", d.Trigger)
		}
		if d.SchedulingAllowed {
			t.Errorf("a zero clock must not allow scheduling")
		}
		if d.Err == nil || d.Err.Field != FieldNow || d.Err.Kind != apperrors.KindInvalidTime {
			t.Errorf("expected InvalidTime on now, got %v", d.Err)
		}
	}

	if gate.SchedulingAllowed(time.Time{}) {
		t.Errorf("SchedulingAllowed(zero) should be false")
	}
	if _, ok := gate.DefaultRunAt(time.Time{}); ok {
		t.Errorf("DefaultRunAt(zero) should not propose a run time")
	}
}

func TestDecide_MalformedRunAt(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	var zero time.Time

	d := gate.Decide(istAt(10, 0, 0), models.TradePlan{RunAt: &zero})
	if d.Trigger != nil {
		t.Fatalf("expected no trigger, got %+v", d.Trigger)
	}
	if d.Err == nil || d.Err.Field != "runAt" || d.Err.Kind != apperrors.KindInvalidTime {
		t.Errorf("expected InvalidTime on runAt, got %v", d.Err)
	}
}

func TestDecide_PastCutoffDropsRunAt(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	runAt := istAt(15, 50, 0)

	d := gate.Decide(istAt(15, 40, 0), models.TradePlan{RunAt: &runAt})
	if d.Trigger != nil {
		t.Fatalf("expected no trigger past cutoff, got %+v", d.Trigger)
	}
	if !d.RunAtIgnored {
		t.Errorf("expected runAt to be ignored")
	}
	if d.Err == nil || d.Err.Kind != apperrors.KindSchedulingClosed {
		t.Errorf("expected SchedulingClosed, got %v", d.Err)
	}
}

func TestDecide_RunNowTakesPrecedence(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	now := istAt(10, 0, 0)
	runAt := istAt(11, 0, 0)

	d := gate.Decide(now, models.TradePlan{RunNow: true, RunAt: &runAt})
	if !d.OK() {
		t.Fatalf("expected a trigger, got err %v", d.Err)
	}
	if d.Trigger.Kind != models.TriggerImmediate || !d.Trigger.RunAt.Equal(now) {
		t.Errorf("expected immediate trigger at now, got %+v", d.Trigger)
	}
	if !d.RunAtIgnored {
		t.Errorf("expected runAt to be reported as ignored")
	}

	// Past the cutoff RunNow is still honored.
	late := istAt(16, 10, 0)
	d = gate.Decide(late, models.TradePlan{RunNow: true})
	if !d.OK() || d.SchedulingAllowed {
		t.Errorf("expected immediate trigger with scheduling closed, got %+v", d)
	}
}

func TestDecide_MissingRunAt(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	d := gate.Decide(istAt(9, 20, 0), models.TradePlan{})
	if d.Err == nil || d.Err.Kind != apperrors.KindMissingRunAt {
		t.Fatalf("expected MissingRunAt, got %v", d.Err)
	}
}

func TestDecide_IndependentOfHostZone(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	ist := istAt(15, 30, 0)
	utc := ist.UTC()
	ny := ist.In(time.FixedZone("EDT", -4*60*60))

	for _, now := range []time.Time{ist, utc, ny} {
		if !gate.SchedulingAllowed(now) {
			t.Errorf("%v should be at the cutoff", now)
		}
	}
	if gate.SchedulingAllowed(utc.Add(time.Second)) {
		t.Errorf("one second past the cutoff in UTC should be closed")
	}
}

func TestDefaultRunAt(t *testing.T) {
	gate := NewGate(DefaultCutoff)

	got, ok := gate.DefaultRunAt(istAt(10, 14, 30))
	if !ok || !got.Equal(istAt(10, 15, 0)) {
		t.Errorf("expected 10:15, got %v (ok=%v)", got, ok)
	}

	got, ok = gate.DefaultRunAt(istAt(15, 29, 59))
	if !ok || !got.Equal(istAt(15, 30, 0)) {
		t.Errorf("expected clamp to 15:30, got %v", got)
	}

	if _, ok := gate.DefaultRunAt(istAt(15, 31, 0)); ok {
		t.Errorf("expected no default past cutoff")
	}
}

func TestVisibleRunAt(t *testing.T) {
	gate := NewGate(DefaultCutoff)
	runAt := istAt(15, 0, 0)
	plan := models.TradePlan{RunAt: &runAt}

	if got := gate.VisibleRunAt(istAt(14, 0, 0), plan); got == nil || !got.Equal(runAt) {
		t.Errorf("expected runAt visible before cutoff, got %v", got)
	}
	if got := gate.VisibleRunAt(istAt(15, 31, 0), plan); got != nil {
		t.Errorf("expected runAt hidden past cutoff, got %v", got)
	}
}
