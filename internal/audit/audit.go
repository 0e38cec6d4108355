// Package audit writes an append-only trail of plan submissions and run events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Submission events
	EventPlanSubmitted     EventType = "PLAN_SUBMITTED"
	EventSubmissionRefused EventType = "SUBMISSION_REFUSED"
	EventPlanCancelled     EventType = "PLAN_CANCELLED"

	// Run events
	EventOutcomeRecorded EventType = "OUTCOME_RECORDED"
	EventRunFinished     EventType = "RUN_FINISHED"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	DraftID   string                 `json:"draft_id,omitempty"`
	PlanID    string                 `json:"plan_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Logger handles audit logging for plan events.
type Logger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
}

// Config holds audit logger configuration.
type Config struct {
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365, // Keep audit logs for 1 year
		Compress:   true,
	}
}

// NewLogger creates a new audit logger writing to a rotated file.
func NewLogger(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewWithWriter(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// NewWithWriter creates an audit logger on an arbitrary writer.
func NewWithWriter(w io.WriteCloser) *Logger {
	return &Logger{
		writer:    w,
		sessionID: uuid.NewString(),
	}
}

// Log logs an audit event. A zero Timestamp is filled with the current time.
func (l *Logger) Log(ctx context.Context, event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	return nil
}

// LogSubmitted logs an accepted submission.
func (l *Logger) LogSubmitted(ctx context.Context, draftID string, plan *models.SubmittedPlan) error {
	return l.Log(ctx, Event{
		Timestamp: plan.SubmittedAt,
		EventType: EventPlanSubmitted,
		DraftID:   draftID,
		PlanID:    plan.ID,
		Success:   true,
		Details: map[string]interface{}{
			"trigger":      plan.Trigger.Kind,
			"run_at":       plan.Trigger.RunAt,
			"instruments":  plan.Resolved.Instruments,
			"initial_lots": plan.Resolved.InitialLots,
			"increment":    plan.Resolved.MartingaleIncrement,
			"max_trades":   plan.Resolved.MaxTrades,
			"exit":         plan.Resolved.ExitStrategy,
			"slm_percent":  plan.Resolved.SLMPercent.String(),
		},
	})
}

// LogRefused logs a submission rejected by validation.
func (l *Logger) LogRefused(ctx context.Context, at time.Time, draftID string, fields []apperrors.FieldError) error {
	kinds := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		kinds[f.Field] = f.Kind
	}
	return l.Log(ctx, Event{
		Timestamp: at,
		EventType: EventSubmissionRefused,
		DraftID:   draftID,
		Success:   false,
		ErrorMsg:  fmt.Sprintf("%d field error(s)", len(fields)),
		Details:   kinds,
	})
}

// LogCancelled logs the deletion of a scheduled plan.
func (l *Logger) LogCancelled(ctx context.Context, at time.Time, planID string) error {
	return l.Log(ctx, Event{
		Timestamp: at,
		EventType: EventPlanCancelled,
		PlanID:    planID,
		Success:   true,
	})
}

// LogOutcome logs a recorded trade outcome and the resulting plan status.
func (l *Logger) LogOutcome(ctx context.Context, planID string, outcome models.TradeOutcome, status models.PlanStatus) error {
	eventType := EventOutcomeRecorded
	if status.IsTerminal() {
		eventType = EventRunFinished
	}
	return l.Log(ctx, Event{
		Timestamp: outcome.ClosedAt,
		EventType: eventType,
		PlanID:    planID,
		Success:   true,
		Details: map[string]interface{}{
			"seq":    outcome.Seq,
			"lots":   outcome.Lots,
			"exit":   outcome.Exit,
			"status": status,
		},
	})
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.Close()
}
