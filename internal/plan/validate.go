package plan

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/internal/schedule"
	"option-planner/pkg/utils"
)

// Field names used in validation results.
const (
	FieldInstruments         = "instruments"
	FieldInitialLots         = "initialLots"
	FieldMartingaleIncrement = "martingaleIncrement"
	FieldMaxTrades           = "maxTrades"
	FieldExitStrategy        = "exitStrategy"
	FieldSLMPercent          = "slmPercent"
	FieldAutoSquareOff       = "autoSquareOff.enabled"
	FieldSquareOffTime       = "autoSquareOff.time"
	FieldRunNow              = "runNow"
	FieldRunAt               = "runAt"
)

// ValidationResult is the ordered list of blocking field errors.
// An empty result means the plan is valid.
type ValidationResult struct {
	Errors []apperrors.FieldError `json:"errors"`
}

// Valid reports whether there are no errors.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Has reports whether field failed with kind.
func (r ValidationResult) Has(field string, kind apperrors.ErrorKind) bool {
	for _, e := range r.Errors {
		if e.Field == field && e.Kind == kind {
			return true
		}
	}
	return false
}

// For returns the errors of one field.
func (r ValidationResult) For(field string) []apperrors.FieldError {
	var out []apperrors.FieldError
	for _, e := range r.Errors {
		if e.Field == field {
			out = append(out, e)
		}
	}
	return out
}

func (r *ValidationResult) add(field string, kind apperrors.ErrorKind, value string) {
	r.Errors = append(r.Errors, apperrors.FieldError{Field: field, Kind: kind, Value: value})
}

// Validator checks plans against the collaborator-supplied catalog and the
// scheduling gate. It never reads a clock: every check that depends on the
// current time takes now explicitly.
type Validator struct {
	catalog models.Catalog
	gate    *schedule.Gate
}

// NewValidator creates a new validator.
func NewValidator(catalog models.Catalog, gate *schedule.Gate) *Validator {
	return &Validator{catalog: catalog, gate: gate}
}

// Catalog returns the lookup tables the validator checks against.
func (v *Validator) Catalog() models.Catalog {
	return v.catalog
}

// Validate checks the fields of p as they stand at now.
// Trigger resolution failures (no runAt, scheduling closed) are not reported
// here; see ValidateSubmission.
func (v *Validator) Validate(p models.TradePlan, now time.Time) ValidationResult {
	_, res := v.check(p, utils.InIST(now), v.gate.Decide(now, p))
	return res
}

// ValidateSubmission checks p as a submission at now, including the trigger.
func (v *Validator) ValidateSubmission(p models.TradePlan, now time.Time) (schedule.Decision, ValidationResult) {
	_, d, res := v.Resolve(p, now)
	return d, res
}

// Resolve validates p as a submission and parses its fields.
func (v *Validator) Resolve(p models.TradePlan, now time.Time) (models.ResolvedPlan, schedule.Decision, ValidationResult) {
	d := v.gate.Decide(now, p)
	resolved, res := v.check(p, utils.InIST(now), d)
	if d.Err != nil {
		res.Errors = append(res.Errors, *d.Err)
	}
	return resolved, d, res
}

func (v *Validator) check(p models.TradePlan, now time.Time, d schedule.Decision) (models.ResolvedPlan, ValidationResult) {
	var (
		res      ValidationResult
		resolved models.ResolvedPlan
	)

	// Instruments
	selected := p.SelectedInstruments()
	if len(selected) == 0 {
		res.add(FieldInstruments, apperrors.KindNoneSelected, "")
	}
	for _, id := range selected {
		if _, ok := v.catalog.Instrument(id); !ok {
			res.add(FieldInstruments+"."+string(id), apperrors.KindOutOfRange, string(id))
		}
	}
	resolved.Instruments = selected

	// Sizing
	if n, ok := parseCount(p.InitialLots, 1); ok {
		resolved.InitialLots = n
	} else {
		res.add(FieldInitialLots, apperrors.KindOutOfRange, p.InitialLots)
	}
	if n, ok := parseCount(p.MartingaleIncrement, 0); ok {
		resolved.MartingaleIncrement = n
	} else {
		res.add(FieldMartingaleIncrement, apperrors.KindOutOfRange, p.MartingaleIncrement)
	}
	if n, ok := parseCount(p.MaxTrades, 0); ok {
		resolved.MaxTrades = n
	} else {
		res.add(FieldMaxTrades, apperrors.KindOutOfRange, p.MaxTrades)
	}

	// Exit strategy and stop-loss
	strategy, known := v.catalog.Strategy(p.ExitStrategy)
	switch {
	case p.ExitStrategy == "":
		res.add(FieldExitStrategy, apperrors.KindRequired, "")
	case !known:
		res.add(FieldExitStrategy, apperrors.KindOutOfRange, string(p.ExitStrategy))
	}
	resolved.ExitStrategy = p.ExitStrategy

	slm, slmErr := decimal.NewFromString(strings.TrimSpace(p.SLMPercent))
	switch {
	case known && strategy.RequiresSLM && (slmErr != nil || !slm.IsPositive()):
		res.add(FieldSLMPercent, apperrors.KindRequired, p.SLMPercent)
	case strings.TrimSpace(p.SLMPercent) != "" && (slmErr != nil || slm.IsNegative()):
		res.add(FieldSLMPercent, apperrors.KindOutOfRange, p.SLMPercent)
	case slmErr == nil:
		resolved.SLMPercent = slm
	}

	// Trigger time
	triggerAt := now
	if d.Trigger != nil {
		triggerAt = d.Trigger.RunAt
		if d.Trigger.Kind == models.TriggerScheduled {
			runAt := d.Trigger.RunAt
			switch {
			case !runAt.After(now):
				res.add(FieldRunAt, apperrors.KindPastRunAt, runAt.Format(time.RFC3339))
			case !utils.SameTradingDay(runAt, now):
				res.add(FieldRunAt, apperrors.KindOutOfRange, runAt.Format(time.RFC3339))
			}
		}
	}

	// Auto square-off
	if p.AutoSquareOff.Enabled {
		if p.AutoSquareOff.Time == nil {
			res.add(FieldSquareOffTime, apperrors.KindRequired, "")
		} else if _, err := utils.Normalize(*p.AutoSquareOff.Time); err != nil {
			res.add(FieldSquareOffTime, apperrors.KindInvalidTime, "")
		} else {
			squareOff := utils.ClockOf(*p.AutoSquareOff.Time).On(triggerAt)
			if !squareOff.After(triggerAt) {
				res.add(FieldSquareOffTime, apperrors.KindBeforeTrigger, utils.ClockOf(squareOff).String())
			}
			resolved.SquareOffAt = &squareOff
		}
	}

	return resolved, res
}

// MaxCount bounds initial lots, the martingale increment and max trades so
// the lot ladder stays far from int overflow.
const MaxCount = 10000

// parseCount parses a whole number in [floor, MaxCount].
func parseCount(s string, floor int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < floor || n > MaxCount {
		return 0, false
	}
	return n, true
}
