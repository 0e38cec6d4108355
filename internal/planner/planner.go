// Package planner owns plan drafts and submitted plans.
//
// A draft has a single owner: every edit and the final submit of a draft run
// under that draft's lock, so no two edits ever interleave. Submitted plans
// are immutable snapshots; the only thing that grows afterwards is their
// outcome history, which is appended under a per-plan lock.
package planner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"option-planner/internal/audit"
	apperrors "option-planner/internal/errors"
	"option-planner/internal/logging"
	"option-planner/internal/metrics"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/internal/schedule"
	"option-planner/internal/store"
)

// Options configures a Service.
type Options struct {
	Validator *plan.Validator
	Gate      *schedule.Gate
	Defaults  plan.Defaults
	Store     store.PlanStore
	Audit     *audit.Logger // nil disables the audit trail
	Logger    zerolog.Logger
	NewID     func() string
}

// Service is the planner facade used by the API and the CLI.
type Service struct {
	validator *plan.Validator
	gate      *schedule.Gate
	defaults  plan.Defaults
	store     store.PlanStore
	audit     *audit.Logger
	logger    zerolog.Logger
	newID     func() string

	mu     sync.Mutex
	drafts map[string]*draft

	runMu    sync.Mutex
	runLocks map[string]*sync.Mutex
}

type draft struct {
	mu        sync.Mutex
	plan      models.TradePlan
	createdAt time.Time
	updatedAt time.Time
	submitted bool
}

// New creates a planner service.
func New(opts Options) *Service {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		validator: opts.Validator,
		gate:      opts.Gate,
		defaults:  opts.Defaults,
		store:     opts.Store,
		audit:     opts.Audit,
		logger:    opts.Logger,
		newID:     newID,
		drafts:    make(map[string]*draft),
		runLocks:  make(map[string]*sync.Mutex),
	}
}

// Catalog returns the instruments and exit strategies plans are checked against.
func (s *Service) Catalog() models.Catalog {
	return s.validator.Catalog()
}

// Gate returns the scheduling gate.
func (s *Service) Gate() *schedule.Gate {
	return s.gate
}

// DraftView is a draft as the form sees it at a given instant.
type DraftView struct {
	ID                string                `json:"id"`
	Plan              models.TradePlan      `json:"plan"`
	Validation        plan.ValidationResult `json:"validation"`
	SchedulingAllowed bool                  `json:"schedulingAllowed"`
	Cutoff            time.Time             `json:"cutoff"`
	Trigger           *models.Trigger       `json:"trigger,omitempty"`
	TriggerError      *apperrors.FieldError `json:"triggerError,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

func (s *Service) view(id string, d *draft, now time.Time) DraftView {
	decision := s.gate.Decide(now, d.plan)
	shown := d.plan.Clone()
	shown.RunAt = s.gate.VisibleRunAt(now, d.plan)

	return DraftView{
		ID:                id,
		Plan:              shown,
		Validation:        s.validator.Validate(d.plan, now),
		SchedulingAllowed: decision.SchedulingAllowed,
		Cutoff:            decision.Cutoff,
		Trigger:           decision.Trigger,
		TriggerError:      decision.Err,
		CreatedAt:         d.createdAt,
		UpdatedAt:         d.updatedAt,
	}
}

// NewDraft opens a draft seeded from the configured defaults. The run time
// defaults to the next minute while scheduling is open.
func (s *Service) NewDraft(now time.Time) DraftView {
	var runAt *time.Time
	if t, ok := s.gate.DefaultRunAt(now); ok {
		runAt = &t
	}

	id := s.newID()
	d := &draft{
		plan:      plan.New(s.defaults, s.Catalog(), now, runAt),
		createdAt: now,
		updatedAt: now,
	}

	s.mu.Lock()
	s.drafts[id] = d
	s.mu.Unlock()

	metrics.DraftsCreated.Inc()
	draftLogger := logging.WithDraftID(s.logger, id)
	draftLogger.Debug().Msg("Draft created")

	d.mu.Lock()
	defer d.mu.Unlock()
	return s.view(id, d, now)
}

func (s *Service) lookup(id string) (*draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrDraftNotFound, id)
	}
	return d, nil
}

// Draft returns the current state of a draft.
func (s *Service) Draft(id string, now time.Time) (DraftView, error) {
	d, err := s.lookup(id)
	if err != nil {
		return DraftView{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return DraftView{}, apperrors.Wrap(apperrors.ErrDraftNotFound, id)
	}
	return s.view(id, d, now), nil
}

// ApplyPatch applies one edit to a draft and returns the result.
func (s *Service) ApplyPatch(id string, patch plan.Patch, now time.Time) (DraftView, error) {
	d, err := s.lookup(id)
	if err != nil {
		return DraftView{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return DraftView{}, apperrors.Wrap(apperrors.ErrDraftNotFound, id)
	}

	d.plan = plan.Apply(d.plan, patch)
	d.updatedAt = now

	v := s.view(id, d, now)
	logging.LogPatch(s.logger, id, patch.Fields(), len(v.Validation.Errors))
	return v, nil
}

// DiscardDraft drops a draft without submitting it.
func (s *Service) DiscardDraft(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[id]; !ok {
		return apperrors.Wrap(apperrors.ErrDraftNotFound, id)
	}
	delete(s.drafts, id)
	return nil
}

// Submit validates a draft at now and, if it is clean, freezes it into a
// submitted plan. A refused submission leaves the draft untouched and
// returns a *apperrors.SubmissionError listing every blocking field.
func (s *Service) Submit(ctx context.Context, id string, now time.Time) (*models.SubmittedPlan, error) {
	d, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitted {
		return nil, apperrors.Wrap(apperrors.ErrDraftNotFound, id)
	}

	resolved, decision, res := s.validator.Resolve(d.plan, now)
	if !res.Valid() {
		subErr := apperrors.NewSubmissionError(id, res.Errors)
		metrics.Submissions.WithLabelValues("refused", "").Inc()
		for _, fe := range res.Errors {
			metrics.ValidationErrors.WithLabelValues(string(fe.Kind)).Inc()
		}
		if err := s.audit.LogRefused(ctx, now, id, res.Errors); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write audit event")
		}
		logging.LogSubmission(s.logger, id, "", "", time.Time{}, subErr)
		return nil, subErr
	}

	status := models.PlanScheduled
	if decision.Trigger.Kind == models.TriggerImmediate {
		status = models.PlanRunning
	}
	submitted := &models.SubmittedPlan{
		ID:          s.newID(),
		Plan:        d.plan.Clone(),
		Resolved:    resolved,
		Trigger:     *decision.Trigger,
		Status:      status,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if err := s.store.SavePlan(ctx, submitted); err != nil {
		return nil, err
	}

	d.submitted = true
	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()

	metrics.Submissions.WithLabelValues("accepted", string(submitted.Trigger.Kind)).Inc()
	if err := s.audit.LogSubmitted(ctx, id, submitted); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write audit event")
	}
	logging.LogSubmission(s.logger, id, submitted.ID, string(submitted.Trigger.Kind), submitted.Trigger.RunAt, nil)

	return submitted, nil
}
