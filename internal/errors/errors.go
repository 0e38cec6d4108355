// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrInvalidTime     = errors.New("invalid time")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrDraftNotFound   = errors.New("draft not found")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrPlanInvalid     = errors.New("plan failed validation")
	ErrPlanStarted     = errors.New("plan already started")
	ErrPlanNotDue      = errors.New("scheduled run time not reached")
	ErrRunFinished     = errors.New("run already finished")
	ErrNoOpenTrade     = errors.New("no trade awaiting an outcome")
	ErrTradeOpen       = errors.New("previous trade has no outcome yet")
	ErrStopLossPending = errors.New("last trade closed at stop-loss")
	ErrLotMismatch     = errors.New("lot size does not match the martingale sequence")
	ErrDatabaseError   = errors.New("database error")
	ErrInputMalformed  = errors.New("malformed input")
)

// ErrorKind classifies a field-scoped validation failure.
type ErrorKind string

const (
	KindInvalidTime      ErrorKind = "InvalidTime"
	KindOutOfRange       ErrorKind = "OutOfRange"
	KindRequired         ErrorKind = "Required"
	KindNoneSelected     ErrorKind = "NoneSelected"
	KindBeforeTrigger    ErrorKind = "BeforeTrigger"
	KindMissingRunAt     ErrorKind = "MissingRunAt"
	KindPastRunAt        ErrorKind = "PastRunAt"
	KindSchedulingClosed ErrorKind = "SchedulingClosed"
)

// FieldError is a single recoverable validation failure on a plan field.
type FieldError struct {
	Field string    `json:"field"`
	Kind  ErrorKind `json:"kind"`
	Value string    `json:"value,omitempty"`
}

func (e *FieldError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (%q)", e.Field, e.Kind, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Kind)
}

// NewFieldError creates a new FieldError.
func NewFieldError(field string, kind ErrorKind, value string) *FieldError {
	return &FieldError{
		Field: field,
		Kind:  kind,
		Value: value,
	}
}

// SubmissionError is returned when a plan is refused at submission.
// It carries every blocking field error.
type SubmissionError struct {
	DraftID string
	Fields  []FieldError
}

func (e *SubmissionError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for i := range e.Fields {
		parts = append(parts, e.Fields[i].Error())
	}
	return fmt.Sprintf("submission refused [%s]: %s", e.DraftID, strings.Join(parts, "; "))
}

func (e *SubmissionError) Unwrap() error {
	return ErrPlanInvalid
}

// NewSubmissionError creates a new SubmissionError.
func NewSubmissionError(draftID string, fields []FieldError) *SubmissionError {
	return &SubmissionError{
		DraftID: draftID,
		Fields:  fields,
	}
}

// TimeError represents malformed clock input.
type TimeError struct {
	Input string
	Err   error
}

func (e *TimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid time %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid time %q", e.Input)
}

func (e *TimeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidTime, e.Err}
	}
	return []error{ErrInvalidTime}
}

// NewTimeError creates a new TimeError.
func NewTimeError(input string, err error) *TimeError {
	return &TimeError{
		Input: input,
		Err:   err,
	}
}

// RunError represents an error advancing a plan's trade run.
type RunError struct {
	PlanID    string
	Operation string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run error [%s] %s: %v", e.PlanID, e.Operation, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError creates a new RunError.
func NewRunError(planID, operation string, err error) *RunError {
	return &RunError{
		PlanID:    planID,
		Operation: operation,
		Err:       err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
