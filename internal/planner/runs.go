package planner

import (
	"context"
	"sync"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/logging"
	"option-planner/internal/martingale"
	"option-planner/internal/metrics"
	"option-planner/internal/models"
	"option-planner/internal/store"
	"option-planner/pkg/utils"
)

// NextTrade is the sizing decision for a plan's next trade.
type NextTrade struct {
	PlanID   string            `json:"planId"`
	Status   models.PlanStatus `json:"status"`
	State    martingale.State  `json:"state"`
	Continue bool              `json:"continue"`
	Due      bool              `json:"due"`
	Lots     int               `json:"lots,omitempty"`
	Trades   int               `json:"trades"`
}

// PlanView is a submitted plan with its run progress.
type PlanView struct {
	models.SubmittedPlan
	History models.History `json:"history"`
	Next    NextTrade      `json:"next"`
}

// OutcomeInput is a closed trade reported by the execution subsystem.
// Lots of 0 accepts whatever size the sizer dispatched.
type OutcomeInput struct {
	Lots     int               `json:"lots"`
	Exit     models.ExitReason `json:"exit"`
	ClosedAt time.Time         `json:"closedAt"`
}

func (s *Service) runLock(planID string) *sync.Mutex {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	l, ok := s.runLocks[planID]
	if !ok {
		l = &sync.Mutex{}
		s.runLocks[planID] = l
	}
	return l
}

func nextTrade(p *models.SubmittedPlan, history models.History, now time.Time) NextTrade {
	params := martingale.ParamsFrom(p.Resolved)
	n := NextTrade{
		PlanID: p.ID,
		Status: p.Status,
		State:  martingale.Replay(history, params),
		Trades: len(history),
		Due:    !now.Before(p.Trigger.RunAt),
	}
	if p.Status == models.PlanCompleted {
		n.State = martingale.Completed
	}
	n.Continue = !p.Status.IsTerminal() && martingale.ShouldContinue(history, params.MaxTrades)
	if n.Continue {
		n.Lots = martingale.NextLotSize(history, params.InitialLots, params.Increment)
	}
	return n
}

// Plan returns a submitted plan with its history and next-trade decision.
func (s *Service) Plan(ctx context.Context, planID string, now time.Time) (*PlanView, error) {
	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetHistory(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &PlanView{SubmittedPlan: *p, History: history, Next: nextTrade(p, history, now)}, nil
}

// ListPlans lists submitted plans.
func (s *Service) ListPlans(ctx context.Context, filter store.PlanFilter) ([]models.SubmittedPlan, error) {
	return s.store.ListPlans(ctx, filter)
}

// NextTrade returns the lot size of the plan's next trade and whether the
// run may take it.
func (s *Service) NextTrade(ctx context.Context, planID string, now time.Time) (NextTrade, error) {
	v, err := s.Plan(ctx, planID, now)
	if err != nil {
		return NextTrade{}, err
	}
	return v.Next, nil
}

// RecordOutcome appends a closed trade to the plan's history. Appends for one
// plan are serialized; the reported lot size must match what the sizer
// dispatched for that position in the run.
func (s *Service) RecordOutcome(ctx context.Context, planID string, in OutcomeInput, now time.Time) (*PlanView, error) {
	if !in.Exit.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrInputMalformed, "exit reason %q", in.Exit)
	}
	closedAt := now
	if !in.ClosedAt.IsZero() {
		closedAt = in.ClosedAt
	}
	closedAt = utils.InIST(closedAt)

	lock := s.runLock(planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, apperrors.NewRunError(planID, "record", apperrors.ErrRunFinished)
	}
	if now.Before(p.Trigger.RunAt) {
		return nil, apperrors.NewRunError(planID, "record", apperrors.ErrPlanNotDue)
	}

	history, err := s.store.GetHistory(ctx, planID)
	if err != nil {
		return nil, err
	}

	run := martingale.NewRun(martingale.ParamsFrom(p.Resolved), history)
	lots, ok, err := run.Next()
	if err != nil {
		return nil, apperrors.NewRunError(planID, "record", err)
	}
	if !ok {
		return nil, apperrors.NewRunError(planID, "record", apperrors.ErrRunFinished)
	}
	if in.Lots != 0 && in.Lots != lots {
		return nil, apperrors.NewRunError(planID, "record",
			apperrors.Wrapf(apperrors.ErrLotMismatch, "reported %d lots, expected %d", in.Lots, lots))
	}

	outcome, err := run.Record(in.Exit, closedAt)
	if err != nil {
		return nil, apperrors.NewRunError(planID, "record", err)
	}
	if err := s.store.AppendOutcome(ctx, planID, outcome); err != nil {
		return nil, err
	}

	status := models.PlanRunning
	if run.State() == martingale.MaxTradesReached {
		status = models.PlanMaxTradesReached
	}
	if status != p.Status {
		if err := s.store.UpdatePlanStatus(ctx, planID, status, now); err != nil {
			return nil, err
		}
		p.Status = status
		p.UpdatedAt = now
	}

	metrics.Outcomes.WithLabelValues(string(outcome.Exit)).Inc()
	metrics.LotsDispatched.Observe(float64(outcome.Lots))
	if err := s.audit.LogOutcome(ctx, planID, outcome, status); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write audit event")
	}
	logging.LogOutcome(s.logger, planID, outcome.Seq, outcome.Lots, string(outcome.Exit), string(run.State()))

	h := run.History()
	return &PlanView{SubmittedPlan: *p, History: h, Next: nextTrade(p, h, now)}, nil
}

// CompleteRun ends a run early after a trade that did not close at its
// stop-loss. Replaying a history never yields Completed; only this call does.
func (s *Service) CompleteRun(ctx context.Context, planID string, now time.Time) (*PlanView, error) {
	lock := s.runLock(planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, apperrors.NewRunError(planID, "complete", apperrors.ErrRunFinished)
	}
	history, err := s.store.GetHistory(ctx, planID)
	if err != nil {
		return nil, err
	}

	run := martingale.NewRun(martingale.ParamsFrom(p.Resolved), history)
	if err := run.Complete(); err != nil {
		return nil, apperrors.NewRunError(planID, "complete", err)
	}
	if err := s.store.UpdatePlanStatus(ctx, planID, models.PlanCompleted, now); err != nil {
		return nil, err
	}
	p.Status = models.PlanCompleted
	p.UpdatedAt = now

	planLogger := logging.WithPlanID(s.logger, planID)
	planLogger.Info().Str("event", "complete").Msg("Run completed")
	return &PlanView{SubmittedPlan: *p, History: history, Next: nextTrade(p, history, now)}, nil
}

// DeleteScheduled cancels a scheduled plan. It is allowed only until the
// plan's run time.
func (s *Service) DeleteScheduled(ctx context.Context, planID string, now time.Time) error {
	lock := s.runLock(planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if p.Status != models.PlanScheduled || !now.Before(p.Trigger.RunAt) {
		return apperrors.NewRunError(planID, "delete", apperrors.ErrPlanStarted)
	}

	if err := s.store.UpdatePlanStatus(ctx, planID, models.PlanCancelled, now); err != nil {
		return err
	}
	if err := s.audit.LogCancelled(ctx, now, planID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write audit event")
	}
	planLogger := logging.WithPlanID(s.logger, planID)
	planLogger.Info().Str("event", "cancel").Msg("Scheduled plan cancelled")
	return nil
}
