// Package store provides persistence for submitted plans and their trade history.
package store

import (
	"context"
	"time"

	"option-planner/internal/models"
)

// PlanStore defines the interface for plan persistence.
type PlanStore interface {
	// Plans
	SavePlan(ctx context.Context, plan *models.SubmittedPlan) error
	GetPlan(ctx context.Context, id string) (*models.SubmittedPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]models.SubmittedPlan, error)
	UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus, at time.Time) error

	// Trade history
	AppendOutcome(ctx context.Context, planID string, outcome models.TradeOutcome) error
	GetHistory(ctx context.Context, planID string) (models.History, error)

	// Lifecycle
	Close() error
}

// PlanFilter represents filters for querying submitted plans.
type PlanFilter struct {
	Status models.PlanStatus
	Since  time.Time
	Limit  int
}

func (f PlanFilter) matches(p *models.SubmittedPlan) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && p.SubmittedAt.Before(f.Since) {
		return false
	}
	return true
}
