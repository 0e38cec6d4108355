package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/internal/planner"
	"option-planner/internal/store"
	"option-planner/internal/stream"
	"option-planner/pkg/utils"
)

const maxBodyBytes = 64 << 10

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInputMalformed, err.Error())
	}
	return body, nil
}

// GetCatalog handles GET /api/v1/catalog.
func (s *Server) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.planner.Catalog())
}

// GetGate handles GET /api/v1/gate.
func (s *Server) GetGate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stream.StatusAt(s.planner.Gate(), s.now()))
}

// CreateDraft handles POST /api/v1/drafts. A non-empty body is applied as
// the draft's first patch.
func (s *Server) CreateDraft(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	var patch plan.Patch
	if len(bytes.TrimSpace(body)) > 0 {
		if patch, err = plan.DecodePatch(body, now); err != nil {
			fail(w, r, err)
			return
		}
	}

	view := s.planner.NewDraft(now)
	if !patch.IsEmpty() {
		if view, err = s.planner.ApplyPatch(view.ID, patch, now); err != nil {
			fail(w, r, err)
			return
		}
	}
	w.Header().Set("Location", "/api/v1/drafts/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

// GetDraft handles GET /api/v1/drafts/{draftID}.
func (s *Server) GetDraft(w http.ResponseWriter, r *http.Request) {
	view, err := s.planner.Draft(chi.URLParam(r, "draftID"), s.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PatchDraft handles PATCH /api/v1/drafts/{draftID}.
func (s *Server) PatchDraft(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	patch, err := plan.DecodePatch(body, now)
	if err != nil {
		fail(w, r, err)
		return
	}
	view, err := s.planner.ApplyPatch(chi.URLParam(r, "draftID"), patch, now)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DiscardDraft handles DELETE /api/v1/drafts/{draftID}.
func (s *Server) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.DiscardDraft(chi.URLParam(r, "draftID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDraft handles POST /api/v1/drafts/{draftID}/submit.
func (s *Server) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	submitted, err := s.planner.Submit(r.Context(), chi.URLParam(r, "draftID"), now)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.publish(stream.Event{Type: stream.EventPlanSubmitted, Time: now, PlanID: submitted.ID, Data: submitted})
	w.Header().Set("Location", "/api/v1/plans/"+submitted.ID)
	writeJSON(w, http.StatusCreated, submitted)
}

// ListPlans handles GET /api/v1/plans?status=&since=&limit=.
func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PlanFilter{Status: models.PlanStatus(strings.ToUpper(q.Get("status")))}

	if raw := q.Get("since"); raw != "" {
		since, err := utils.ParseInstant(raw, s.now())
		if err != nil {
			writeError(w, "invalid since: "+raw, http.StatusBadRequest)
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, "invalid limit: "+raw, http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	plans, err := s.planner.ListPlans(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	if plans == nil {
		plans = []models.SubmittedPlan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetPlan handles GET /api/v1/plans/{planID}.
func (s *Server) GetPlan(w http.ResponseWriter, r *http.Request) {
	view, err := s.planner.Plan(r.Context(), chi.URLParam(r, "planID"), s.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeletePlan handles DELETE /api/v1/plans/{planID}. Only scheduled plans that
// have not reached their run time can be deleted.
func (s *Server) DeletePlan(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	planID := chi.URLParam(r, "planID")
	if err := s.planner.DeleteScheduled(r.Context(), planID, now); err != nil {
		fail(w, r, err)
		return
	}
	s.publish(stream.Event{Type: stream.EventPlanCancelled, Time: now, PlanID: planID})
	w.WriteHeader(http.StatusNoContent)
}

// GetNextTrade handles GET /api/v1/plans/{planID}/next.
func (s *Server) GetNextTrade(w http.ResponseWriter, r *http.Request) {
	next, err := s.planner.NextTrade(r.Context(), chi.URLParam(r, "planID"), s.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// RecordOutcome handles POST /api/v1/plans/{planID}/outcomes.
func (s *Server) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	body, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in planner.OutcomeInput
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		fail(w, r, apperrors.Wrap(apperrors.ErrInputMalformed, err.Error()))
		return
	}
	in.Exit = models.ExitReason(strings.ToUpper(string(in.Exit)))

	view, err := s.planner.RecordOutcome(r.Context(), chi.URLParam(r, "planID"), in, now)
	if err != nil {
		fail(w, r, err)
		return
	}

	last, _ := view.History.Last()
	s.publish(stream.Event{Type: stream.EventOutcomeRecorded, Time: now, PlanID: view.ID, Data: last})
	if view.Status.IsTerminal() {
		s.publish(stream.Event{Type: stream.EventRunFinished, Time: now, PlanID: view.ID, Data: view.Next})
	}
	writeJSON(w, http.StatusCreated, view)
}

// CompleteRun handles POST /api/v1/plans/{planID}/complete.
func (s *Server) CompleteRun(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	view, err := s.planner.CompleteRun(r.Context(), chi.URLParam(r, "planID"), now)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.publish(stream.Event{Type: stream.EventRunFinished, Time: now, PlanID: view.ID, Data: view.Next})
	writeJSON(w, http.StatusOK, view)
}
