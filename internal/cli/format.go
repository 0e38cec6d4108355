package cli

import (
	"fmt"
	"strings"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// FormatTrigger describes when a plan starts, e.g. "scheduled for 03:25pm".
func FormatTrigger(t models.Trigger) string {
	if t.Kind == models.TriggerImmediate {
		return "immediate at " + utils.FormatClock(t.RunAt)
	}
	return "scheduled for " + utils.FormatClock(t.RunAt)
}

// FormatStatus colors a plan status.
func (o *Output) FormatStatus(s models.PlanStatus) string {
	switch s {
	case models.PlanScheduled:
		return o.Yellow(string(s))
	case models.PlanRunning, models.PlanCompleted:
		return o.Green(string(s))
	case models.PlanMaxTradesReached, models.PlanCancelled:
		return o.Red(string(s))
	default:
		return string(s)
	}
}

// DescribeFieldError turns a field error into a sentence a form user can act on.
func DescribeFieldError(fe apperrors.FieldError) string {
	var msg string
	switch fe.Kind {
	case apperrors.KindNoneSelected:
		msg = "select at least one instrument"
	case apperrors.KindRequired:
		msg = "is required"
	case apperrors.KindOutOfRange:
		msg = "is out of range"
	case apperrors.KindInvalidTime:
		msg = "is not a valid time"
	case apperrors.KindBeforeTrigger:
		msg = "must be after the run starts"
	case apperrors.KindMissingRunAt:
		msg = "choose a run time or run now"
	case apperrors.KindPastRunAt:
		msg = "is already in the past"
	case apperrors.KindSchedulingClosed:
		msg = "scheduling is closed for today, run now instead"
	default:
		msg = string(fe.Kind)
	}
	if fe.Value != "" {
		return fmt.Sprintf("%s: %s (%q)", fe.Field, msg, fe.Value)
	}
	return fmt.Sprintf("%s: %s", fe.Field, msg)
}

// ParseExits parses a comma separated outcome list such as "SL,SL,TP".
// TP is accepted for TARGET and SQ for SQUARE_OFF.
func ParseExits(raw string) ([]models.ExitReason, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var exits []models.ExitReason
	for _, part := range strings.Split(raw, ",") {
		token := strings.ToUpper(strings.TrimSpace(part))
		switch token {
		case "TP":
			token = string(models.ExitTarget)
		case "SQ":
			token = string(models.ExitSquareOff)
		}
		exit := models.ExitReason(token)
		if !exit.Valid() {
			return nil, apperrors.Wrapf(apperrors.ErrInputMalformed, "unknown outcome %q", part)
		}
		exits = append(exits, exit)
	}
	return exits, nil
}
