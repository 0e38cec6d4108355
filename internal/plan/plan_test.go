package plan

import (
	"strconv"
	"testing"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/internal/schedule"
	"option-planner/pkg/utils"
)

const (
	strategySLM   models.StrategyID = "MIN_XPERCENT_OR_SUPERTREND"
	strategyTrail models.StrategyID = "SUPERTREND_TRAIL"
)

var testCatalog = models.Catalog{
	Instruments: []models.InstrumentDetail{
		{ID: models.NIFTY, DisplayName: "NIFTY 50", Exchange: models.NFO, LotSize: 75},
		{ID: models.BANKNIFTY, DisplayName: "BANKNIFTY", Exchange: models.NFO, LotSize: 35},
		{ID: models.FINNIFTY, DisplayName: "FINNIFTY", Exchange: models.NFO, LotSize: 65},
	},
	ExitStrategies: []models.ExitStrategyDetail{
		{ID: strategySLM, Label: "Min of X% SL or Supertrend", RequiresSLM: true},
		{ID: strategyTrail, Label: "Trail with Supertrend", RequiresSLM: false},
	},
}

func istAt(h, m, s int) time.Time {
	return time.Date(2026, time.October, 16, h, m, s, 0, utils.IndiaLocation)
}

func strp(s string) *string { return &s }

func newValidator() *Validator {
	return NewValidator(testCatalog, schedule.NewGate(schedule.DefaultCutoff))
}

func validPlan() models.TradePlan {
	runAt := istAt(11, 0, 0)
	squareOff := istAt(15, 20, 0)
	return models.TradePlan{
		Instruments:         map[models.InstrumentID]bool{models.NIFTY: true, models.BANKNIFTY: false, models.FINNIFTY: false},
		InitialLots:         "1",
		MartingaleIncrement: "1",
		MaxTrades:           "3",
		ExitStrategy:        strategySLM,
		SLMPercent:          "50",
		AutoSquareOff:       models.AutoSquareOff{Enabled: true, Time: &squareOff},
		RunAt:               &runAt,
	}
}

func TestApply_KeyedInstrumentMerge(t *testing.T) {
	current := validPlan()
	next := Apply(current, ToggleInstrument(current, models.BANKNIFTY))

	if !next.Instruments[models.BANKNIFTY] {
		t.Errorf("BANKNIFTY should be enabled")
	}
	if !next.Instruments[models.NIFTY] || next.Instruments[models.FINNIFTY] {
		t.Errorf("other instruments changed: %v", next.Instruments)
	}
	if current.Instruments[models.BANKNIFTY] {
		t.Errorf("Apply mutated the current plan")
	}
}

func TestApply_KeepsInProgressText(t *testing.T) {
	current := validPlan()

	next := Apply(current, Patch{InitialLots: strp("")})
	if next.InitialLots != "" {
		t.Errorf("empty text should be kept, got %q", next.InitialLots)
	}

	next = Apply(next, Patch{MartingaleIncrement: strp("-")})
	if next.MartingaleIncrement != "-" {
		t.Errorf("partial text should be kept, got %q", next.MartingaleIncrement)
	}
	if next.MaxTrades != current.MaxTrades {
		t.Errorf("untouched field changed")
	}
}

func TestApply_RunNowIsOneWay(t *testing.T) {
	current := validPlan()
	next := Apply(current, Patch{RunNow: true})
	if !next.RunNow {
		t.Fatalf("RunNow should be set")
	}
	if next.RunAt == nil {
		t.Errorf("RunAt should coexist with RunNow")
	}

	later := istAt(12, 0, 0)
	next = Apply(next, Patch{RunNow: false, RunAt: &later})
	if !next.RunNow {
		t.Errorf("RunNow must not be cleared by a later patch")
	}
	if !next.RunAt.Equal(istAt(12, 0, 0)) {
		t.Errorf("RunAt should be updated, got %v", next.RunAt)
	}
}

func TestApply_ClearRunAt(t *testing.T) {
	next := Apply(validPlan(), Patch{ClearRunAt: true})
	if next.RunAt != nil {
		t.Errorf("RunAt should be cleared")
	}
}

func TestApply_NormalizesTimes(t *testing.T) {
	utc := istAt(10, 0, 0).UTC()
	next := Apply(validPlan(), Patch{RunAt: &utc, SquareOffTime: &utc})
	if next.RunAt.Location() != utils.IndiaLocation {
		t.Errorf("runAt not normalized: %v", next.RunAt.Location())
	}
	if next.AutoSquareOff.Time.Location() != utils.IndiaLocation {
		t.Errorf("squareOffTime not normalized")
	}
}

func TestApply_MalformedTimesReachValidator(t *testing.T) {
	var zero time.Time
	p := Apply(validPlan(), Patch{RunAt: &zero, SquareOffTime: &zero})

	_, res := newValidator().ValidateSubmission(p, istAt(10, 0, 0))
	if !res.Has(FieldSquareOffTime, apperrors.KindInvalidTime) {
		t.Errorf("expected InvalidTime on square-off, got %v", res.Errors)
	}
	if !res.Has(FieldRunAt, apperrors.KindInvalidTime) {
		t.Errorf("expected InvalidTime on runAt, got %v", res.Errors)
	}
}

func TestValidateSubmission_MalformedClock(t *testing.T) {
	p := Apply(validPlan(), Patch{RunNow: true})

	d, res := newValidator().ValidateSubmission(p, time.Time{})
	if d.Trigger != nil {
		t.Fatalf("expected no trigger for a zero clock, got %+v", d.Trigger)
	}
	if !res.Has(schedule.FieldNow, apperrors.KindInvalidTime) {
		t.Errorf("expected InvalidTime on now, got %v", res.Errors)
	}
}

func TestValidate_ValidPlan(t *testing.T) {
	res := newValidator().Validate(validPlan(), istAt(10, 0, 0))
	if !res.Valid() {
		t.Fatalf("expected valid plan, got %v", res.Errors)
	}
}

func TestValidate_Numbers(t *testing.T) {
	v := newValidator()
	now := istAt(10, 0, 0)

	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"zero lots", Patch{InitialLots: strp("0")}, FieldInitialLots},
		{"empty lots", Patch{InitialLots: strp("")}, FieldInitialLots},
		{"fractional lots", Patch{InitialLots: strp("1.5")}, FieldInitialLots},
		{"negative increment", Patch{MartingaleIncrement: strp("-1")}, FieldMartingaleIncrement},
		{"dash increment", Patch{MartingaleIncrement: strp("-")}, FieldMartingaleIncrement},
		{"text max trades", Patch{MaxTrades: strp("three")}, FieldMaxTrades},
		{"huge lots", Patch{InitialLots: strp("10001")}, FieldInitialLots},
		{"overflowing increment", Patch{MartingaleIncrement: strp("9223372036854775807")}, FieldMartingaleIncrement},
		{"huge max trades", Patch{MaxTrades: strp("10001")}, FieldMaxTrades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(Apply(validPlan(), tt.patch), now)
			if !res.Has(tt.field, apperrors.KindOutOfRange) {
				t.Errorf("expected OutOfRange on %s, got %v", tt.field, res.Errors)
			}
		})
	}

	res := v.Validate(Apply(validPlan(), Patch{MartingaleIncrement: strp("0"), MaxTrades: strp("0")}), now)
	if !res.Valid() {
		t.Errorf("zero increment and zero max trades are valid, got %v", res.Errors)
	}

	top := strconv.Itoa(MaxCount)
	res = v.Validate(Apply(validPlan(), Patch{InitialLots: &top, MartingaleIncrement: &top, MaxTrades: &top}), now)
	if !res.Valid() {
		t.Errorf("counts at the cap are valid, got %v", res.Errors)
	}
}

func TestValidate_SLMRequiredByStrategy(t *testing.T) {
	v := newValidator()
	now := istAt(10, 0, 0)

	p := validPlan()
	p = Apply(p, Patch{InitialLots: strp("1"), MartingaleIncrement: strp("1"), MaxTrades: strp("3"), SLMPercent: strp("0")})
	res := v.Validate(p, now)
	if !res.Has(FieldSLMPercent, apperrors.KindRequired) {
		t.Fatalf("expected Required on slmPercent, got %v", res.Errors)
	}

	p = Apply(p, Patch{SLMPercent: strp("1.5")})
	if res := v.Validate(p, now); !res.Valid() {
		t.Errorf("expected slmPercent=1.5 to clear the error, got %v", res.Errors)
	}

	// A strategy that does not need SLM accepts an empty value.
	trail := strategyTrail
	p = Apply(p, Patch{ExitStrategy: &trail, SLMPercent: strp("")})
	if res := v.Validate(p, now); !res.Valid() {
		t.Errorf("expected trailing strategy to accept empty SLM, got %v", res.Errors)
	}

	p = Apply(p, Patch{SLMPercent: strp("abc")})
	if res := v.Validate(p, now); !res.Has(FieldSLMPercent, apperrors.KindOutOfRange) {
		t.Errorf("expected malformed SLM to be OutOfRange, got %v", res.Errors)
	}
}

func TestValidate_ExitStrategy(t *testing.T) {
	v := newValidator()
	now := istAt(10, 0, 0)

	empty := models.StrategyID("")
	res := v.Validate(Apply(validPlan(), Patch{ExitStrategy: &empty}), now)
	if !res.Has(FieldExitStrategy, apperrors.KindRequired) {
		t.Errorf("expected Required, got %v", res.Errors)
	}

	unknown := models.StrategyID("MOON")
	res = v.Validate(Apply(validPlan(), Patch{ExitStrategy: &unknown}), now)
	if !res.Has(FieldExitStrategy, apperrors.KindOutOfRange) {
		t.Errorf("expected OutOfRange, got %v", res.Errors)
	}
}

func TestValidate_UnknownInstrument(t *testing.T) {
	p := Apply(validPlan(), Patch{Instruments: map[models.InstrumentID]bool{"SENSEX": true}})
	res := newValidator().Validate(p, istAt(10, 0, 0))
	if !res.Has("instruments.SENSEX", apperrors.KindOutOfRange) {
		t.Errorf("expected OutOfRange on SENSEX, got %v", res.Errors)
	}
}

func TestValidate_RunAtFromYesterdayRejected(t *testing.T) {
	now := istAt(10, 0, 0)
	yesterday := now.AddDate(0, 0, -1).Add(time.Hour) // 11:00 yesterday
	p := Apply(validPlan(), Patch{RunAt: &yesterday})

	res := newValidator().Validate(p, now)
	if !res.Has(FieldRunAt, apperrors.KindPastRunAt) {
		t.Errorf("expected PastRunAt, got %v", res.Errors)
	}
}

func TestValidate_RunAtTomorrowRejected(t *testing.T) {
	now := istAt(10, 0, 0)
	tomorrow := now.AddDate(0, 0, 1)
	p := Apply(validPlan(), Patch{RunAt: &tomorrow})

	res := newValidator().Validate(p, now)
	if !res.Has(FieldRunAt, apperrors.KindOutOfRange) {
		t.Errorf("expected OutOfRange, got %v", res.Errors)
	}
}

func TestValidate_SquareOffAfterTrigger(t *testing.T) {
	v := newValidator()
	now := istAt(10, 0, 0)

	early := istAt(10, 30, 0)
	p := Apply(validPlan(), Patch{SquareOffTime: &early}) // runAt is 11:00
	if res := v.Validate(p, now); !res.Has(FieldSquareOffTime, apperrors.KindBeforeTrigger) {
		t.Errorf("expected BeforeTrigger for scheduled run, got %v", res.Errors)
	}

	// Immediate runs compare against now, and the picker's date is ignored.
	p = Apply(p, Patch{RunNow: true})
	if res := v.Validate(p, now); !res.Valid() {
		t.Errorf("expected square-off after now to be valid, got %v", res.Errors)
	}
	sameClockOtherDay := istAt(9, 0, 0).AddDate(0, 0, 3)
	p = Apply(p, Patch{SquareOffTime: &sameClockOtherDay})
	if res := v.Validate(p, now); !res.Has(FieldSquareOffTime, apperrors.KindBeforeTrigger) {
		t.Errorf("expected BeforeTrigger for 09:00 square-off, got %v", res.Errors)
	}

	off := false
	p = Apply(p, Patch{AutoSquareOffEnabled: &off})
	if res := v.Validate(p, now); !res.Valid() {
		t.Errorf("disabled square-off should not be checked, got %v", res.Errors)
	}
}

func TestValidateSubmission_TriggerErrors(t *testing.T) {
	v := newValidator()

	p := Apply(validPlan(), Patch{ClearRunAt: true})
	if res := v.Validate(p, istAt(10, 0, 0)); !res.Valid() {
		t.Errorf("field validation should not require runAt, got %v", res.Errors)
	}
	_, res := v.ValidateSubmission(p, istAt(10, 0, 0))
	if !res.Has(FieldRunAt, apperrors.KindMissingRunAt) {
		t.Errorf("expected MissingRunAt at submission, got %v", res.Errors)
	}

	late := istAt(15, 45, 0)
	lateRun := istAt(15, 50, 0)
	p = Apply(validPlan(), Patch{RunAt: &lateRun})
	d, res := v.ValidateSubmission(p, late)
	if d.SchedulingAllowed || !res.Has(FieldRunAt, apperrors.KindSchedulingClosed) {
		t.Errorf("expected SchedulingClosed past cutoff, got %v", res.Errors)
	}
}

func TestResolve(t *testing.T) {
	p := Apply(validPlan(), Patch{Instruments: map[models.InstrumentID]bool{models.BANKNIFTY: true}, SLMPercent: strp("1.5")})
	resolved, d, res := newValidator().Resolve(p, istAt(10, 0, 0))
	if !res.Valid() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if d.Trigger.Kind != models.TriggerScheduled {
		t.Errorf("expected scheduled trigger")
	}
	if len(resolved.Instruments) != 2 || resolved.InitialLots != 1 || resolved.MaxTrades != 3 {
		t.Errorf("unexpected resolved plan: %+v", resolved)
	}
	if resolved.SLMPercent.String() != "1.5" {
		t.Errorf("expected SLM 1.5, got %s", resolved.SLMPercent)
	}
	if resolved.SquareOffAt == nil || !resolved.SquareOffAt.Equal(istAt(15, 20, 0)) {
		t.Errorf("expected square-off at 15:20, got %v", resolved.SquareOffAt)
	}
}

func TestDecodePatch(t *testing.T) {
	ref := istAt(10, 0, 0)

	p, err := DecodePatch([]byte(`{"lots": 2, "slmPercent": "1.5", "instruments": {"NIFTY": false}, "runAt": "14:45"}`), ref)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *p.InitialLots != "2" || *p.SLMPercent != "1.5" {
		t.Errorf("unexpected numeric text: %q %q", *p.InitialLots, *p.SLMPercent)
	}
	if !p.RunAt.Equal(istAt(14, 45, 0)) {
		t.Errorf("expected 14:45 IST, got %v", p.RunAt)
	}
	if p.Instruments[models.NIFTY] {
		t.Errorf("expected NIFTY=false")
	}

	p, err = DecodePatch([]byte(`{"runAt": null}`), ref)
	if err != nil || !p.ClearRunAt {
		t.Errorf("null runAt should clear, got %+v err=%v", p, err)
	}

	p, err = DecodePatch([]byte(`{"runNow": true}`), ref)
	if err != nil || !p.RunNow || p.ClearRunAt {
		t.Errorf("unexpected patch %+v err=%v", p, err)
	}

	_, err = DecodePatch([]byte(`{"runAt": "half past two"}`), ref)
	var fe *apperrors.FieldError
	if !apperrors.As(err, &fe) || fe.Kind != apperrors.KindInvalidTime {
		t.Errorf("expected InvalidTime, got %v", err)
	}

	if _, err = DecodePatch([]byte(`{"bogus": 1}`), ref); !apperrors.Is(err, apperrors.ErrInputMalformed) {
		t.Errorf("expected malformed input error, got %v", err)
	}
}

func TestNew(t *testing.T) {
	now := istAt(9, 30, 0)
	runAt := istAt(9, 31, 0)
	p := New(Defaults{
		Instruments:   []models.InstrumentID{models.NIFTY, "SENSEX"},
		InitialLots:   1,
		MaxTrades:     3,
		ExitStrategy:  strategySLM,
		SLMPercent:    "50",
		SquareOffTime: utils.Clock{Hour: 15, Minute: 20},
	}, testCatalog, now, &runAt)

	if len(p.Instruments) != 3 || !p.Instruments[models.NIFTY] || p.Instruments[models.BANKNIFTY] {
		t.Errorf("unexpected instruments: %v", p.Instruments)
	}
	if _, ok := p.Instruments["SENSEX"]; ok {
		t.Errorf("instruments outside the catalog must not be seeded")
	}
	if p.MartingaleIncrement != "0" || p.InitialLots != "1" {
		t.Errorf("unexpected sizing text: %+v", p)
	}
	if res := newValidator().Validate(p, now); !res.Valid() {
		t.Errorf("default plan should be valid, got %v", res.Errors)
	}
}
