package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
)

// MemoryStore implements PlanStore in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	plans    map[string]models.SubmittedPlan
	outcomes map[string]models.History
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[string]models.SubmittedPlan),
		outcomes: make(map[string]models.History),
	}
}

// SavePlan inserts a submitted plan.
func (m *MemoryStore) SavePlan(ctx context.Context, plan *models.SubmittedPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[plan.ID]; ok {
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "plan %s already exists", plan.ID)
	}
	p := *plan
	p.Plan = plan.Plan.Clone()
	m.plans[plan.ID] = p
	return nil
}

// GetPlan retrieves a submitted plan by id.
func (m *MemoryStore) GetPlan(ctx context.Context, id string) (*models.SubmittedPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrPlanNotFound, id)
	}
	p.Plan = p.Plan.Clone()
	return &p, nil
}

// ListPlans retrieves submitted plans, newest first.
func (m *MemoryStore) ListPlans(ctx context.Context, filter PlanFilter) ([]models.SubmittedPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var plans []models.SubmittedPlan
	for _, p := range m.plans {
		if !filter.matches(&p) {
			continue
		}
		p.Plan = p.Plan.Clone()
		plans = append(plans, p)
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].SubmittedAt.After(plans[j].SubmittedAt)
	})
	if filter.Limit > 0 && len(plans) > filter.Limit {
		plans = plans[:filter.Limit]
	}
	return plans, nil
}

// UpdatePlanStatus updates the status of a submitted plan.
func (m *MemoryStore) UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok {
		return apperrors.Wrap(apperrors.ErrPlanNotFound, id)
	}
	p.Status = status
	p.UpdatedAt = at
	m.plans[id] = p
	return nil
}

// AppendOutcome appends one outcome to a plan's history.
func (m *MemoryStore) AppendOutcome(ctx context.Context, planID string, outcome models.TradeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[planID]; !ok {
		return apperrors.Wrap(apperrors.ErrPlanNotFound, planID)
	}
	history := m.outcomes[planID]
	if outcome.Seq != len(history)+1 {
		return apperrors.Wrapf(apperrors.ErrDatabaseError, "outcome seq %d out of order (history has %d)", outcome.Seq, len(history))
	}
	m.outcomes[planID] = append(history, outcome)
	return nil
}

// GetHistory retrieves the ordered outcome history of a plan.
func (m *MemoryStore) GetHistory(ctx context.Context, planID string) (models.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.outcomes[planID]
	out := make(models.History, len(history))
	copy(out, history)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
