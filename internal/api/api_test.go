package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/internal/planner"
	"option-planner/internal/schedule"
	"option-planner/internal/store"
	"option-planner/internal/stream"
	"option-planner/pkg/utils"
)

var testCatalog = models.Catalog{
	Instruments: []models.InstrumentDetail{
		{ID: models.NIFTY, DisplayName: "NIFTY 50", Exchange: models.NFO, LotSize: 75},
		{ID: models.BANKNIFTY, DisplayName: "NIFTY BANK", Exchange: models.NFO, LotSize: 35},
	},
	ExitStrategies: []models.ExitStrategyDetail{
		{ID: "MIN_XPERCENT_OR_SUPERTREND", Label: "Min of X% SLM or Supertrend", RequiresSLM: true},
	},
}

func istAt(h, m, s int) time.Time {
	return time.Date(2026, time.October, 16, h, m, s, 0, utils.IndiaLocation)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testEnv struct {
	router http.Handler
	clock  *fakeClock
	hub    *stream.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gate := schedule.NewGate(schedule.DefaultCutoff)
	seq := 0
	var mu sync.Mutex
	svc := planner.New(planner.Options{
		Validator: plan.NewValidator(testCatalog, gate),
		Gate:      gate,
		Defaults: plan.Defaults{
			Instruments:         []models.InstrumentID{models.NIFTY},
			InitialLots:         2,
			MartingaleIncrement: 1,
			MaxTrades:           2,
			ExitStrategy:        "MIN_XPERCENT_OR_SUPERTREND",
			SLMPercent:          "50",
			AutoSquareOff:       true,
			SquareOffTime:       utils.Clock{Hour: 15, Minute: 15},
		},
		Store:  store.NewMemoryStore(),
		Logger: zerolog.Nop(),
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})

	hub := stream.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)
	t.Cleanup(cancel)

	clock := &fakeClock{now: istAt(10, 14, 30)}
	srv := NewServer(Options{Planner: svc, Hub: hub, Clock: clock.Now, Logger: zerolog.Nop()})
	return &testEnv{router: srv.Router(), clock: clock, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestHealthAndCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodGet, "/api/v1/catalog", "")
	expectStatus(t, w, http.StatusOK)
	cat := decode[models.Catalog](t, w)
	if len(cat.Instruments) != 2 || len(cat.ExitStrategies) != 1 {
		t.Errorf("unexpected catalog %+v", cat)
	}
}

func TestGetGate(t *testing.T) {
	env := newTestEnv(t)

	st := decode[stream.GateStatus](t, env.do(t, http.MethodGet, "/api/v1/gate", ""))
	if !st.SchedulingAllowed || st.Label != "Schedule for 10:15am" {
		t.Errorf("unexpected open gate %+v", st)
	}

	env.clock.Set(istAt(15, 31, 0))
	st = decode[stream.GateStatus](t, env.do(t, http.MethodGet, "/api/v1/gate", ""))
	if st.SchedulingAllowed || st.DefaultRunAt != nil || st.Label != "Schedule run" {
		t.Errorf("unexpected closed gate %+v", st)
	}
}

func TestDraftLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/drafts", `{"lots": 3}`)
	expectStatus(t, w, http.StatusCreated)
	draft := decode[planner.DraftView](t, w)
	if draft.Plan.InitialLots != "3" {
		t.Errorf("initial patch not applied: %+v", draft.Plan)
	}
	path := "/api/v1/drafts/" + draft.ID

	w = env.do(t, http.MethodPatch, path, `{"lots": "abc", "instruments": {"BANKNIFTY": true}}`)
	expectStatus(t, w, http.StatusOK)
	draft = decode[planner.DraftView](t, w)
	if draft.Validation.Valid() || !draft.Plan.Instruments[models.BANKNIFTY] {
		t.Errorf("expected invalid lots with BANKNIFTY selected, got %+v", draft)
	}

	w = env.do(t, http.MethodPost, path+"/submit", "")
	expectStatus(t, w, http.StatusUnprocessableEntity)
	refused := decode[errorResponse](t, w)
	if len(refused.Fields) != 1 || refused.Fields[0].Field != plan.FieldInitialLots {
		t.Errorf("unexpected refusal fields %+v", refused.Fields)
	}

	// The refused draft is still editable.
	expectStatus(t, env.do(t, http.MethodPatch, path, `{"lots": "2"}`), http.StatusOK)

	w = env.do(t, http.MethodPost, path+"/submit", "")
	expectStatus(t, w, http.StatusCreated)
	submitted := decode[models.SubmittedPlan](t, w)
	if submitted.Status != models.PlanScheduled || !submitted.Trigger.RunAt.Equal(istAt(10, 15, 0)) {
		t.Errorf("unexpected submitted plan %+v", submitted)
	}

	expectStatus(t, env.do(t, http.MethodGet, path, ""), http.StatusNotFound)
}

func TestPatchDraft_MalformedInput(t *testing.T) {
	env := newTestEnv(t)
	draft := decode[planner.DraftView](t, env.do(t, http.MethodPost, "/api/v1/drafts", ""))
	path := "/api/v1/drafts/" + draft.ID

	w := env.do(t, http.MethodPatch, path, `{"unknown": 1}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPatch, path, `{"runAt": "quarter past"}`)
	expectStatus(t, w, http.StatusBadRequest)
	resp := decode[errorResponse](t, w)
	if len(resp.Fields) != 1 || resp.Fields[0].Kind != apperrors.KindInvalidTime {
		t.Errorf("expected InvalidTime field error, got %+v", resp)
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/api/v1/drafts/missing", `{}`), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, path, ""), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodDelete, path, ""), http.StatusNotFound)
}

func TestRunNowPastCutoff(t *testing.T) {
	env := newTestEnv(t)
	env.clock.Set(istAt(15, 40, 0))

	draft := decode[planner.DraftView](t, env.do(t, http.MethodPost, "/api/v1/drafts", ""))
	if draft.SchedulingAllowed || draft.Plan.RunAt != nil {
		t.Fatalf("past the cutoff the draft should hide runAt, got %+v", draft)
	}
	path := "/api/v1/drafts/" + draft.ID

	w := env.do(t, http.MethodPost, path+"/submit", "")
	expectStatus(t, w, http.StatusUnprocessableEntity)
	resp := decode[errorResponse](t, w)
	closed := false
	for _, fe := range resp.Fields {
		closed = closed || fe.Kind == apperrors.KindSchedulingClosed
	}
	if !closed {
		t.Errorf("expected SchedulingClosed, got %+v", resp.Fields)
	}

	env.do(t, http.MethodPatch, path, `{"runNow": true, "isAutoSquareOffEnabled": false}`)
	w = env.do(t, http.MethodPost, path+"/submit", "")
	expectStatus(t, w, http.StatusCreated)
	submitted := decode[models.SubmittedPlan](t, w)
	if submitted.Trigger.Kind != models.TriggerImmediate || submitted.Status != models.PlanRunning {
		t.Errorf("unexpected immediate plan %+v", submitted)
	}
}

func submitDefaultPlan(t *testing.T, env *testEnv) models.SubmittedPlan {
	t.Helper()
	draft := decode[planner.DraftView](t, env.do(t, http.MethodPost, "/api/v1/drafts", ""))
	w := env.do(t, http.MethodPost, "/api/v1/drafts/"+draft.ID+"/submit", "")
	expectStatus(t, w, http.StatusCreated)
	return decode[models.SubmittedPlan](t, w)
}

func TestOutcomesFollowMartingale(t *testing.T) {
	env := newTestEnv(t)
	events := env.hub.Subscribe(stream.EventOutcomeRecorded, stream.EventRunFinished)
	submitted := submitDefaultPlan(t, env)
	path := "/api/v1/plans/" + submitted.ID

	w := env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "SL"}`)
	expectStatus(t, w, http.StatusConflict)

	env.clock.Set(istAt(10, 16, 0))
	next := decode[planner.NextTrade](t, env.do(t, http.MethodGet, path+"/next", ""))
	if !next.Due || !next.Continue || next.Lots != 2 {
		t.Fatalf("unexpected first decision %+v", next)
	}

	w = env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "sl"}`)
	expectStatus(t, w, http.StatusCreated)
	view := decode[planner.PlanView](t, w)
	if view.Status != models.PlanRunning || view.Next.Lots != 3 {
		t.Fatalf("after a stop-loss the next trade should be 3 lots, got %+v", view.Next)
	}

	w = env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "SL", "lots": 5}`)
	expectStatus(t, w, http.StatusConflict)

	w = env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "SL", "lots": 3}`)
	expectStatus(t, w, http.StatusCreated)
	view = decode[planner.PlanView](t, w)
	if view.Status != models.PlanMaxTradesReached || view.Next.Continue {
		t.Errorf("expected max trades reached, got %+v", view)
	}
	if len(view.History) != 2 || view.History[1].Lots != 3 {
		t.Errorf("unexpected history %+v", view.History)
	}

	expectStatus(t, env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "TARGET"}`), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, path+"/outcomes", `{"exit": "MAYBE"}`), http.StatusBadRequest)

	var types []stream.EventType
	for len(types) < 3 {
		select {
		case e := <-events.C:
			types = append(types, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	want := []stream.EventType{stream.EventOutcomeRecorded, stream.EventOutcomeRecorded, stream.EventRunFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestCompleteRun(t *testing.T) {
	env := newTestEnv(t)
	stopped := submitDefaultPlan(t, env)
	won := submitDefaultPlan(t, env)
	env.clock.Set(istAt(10, 20, 0))

	stoppedPath := "/api/v1/plans/" + stopped.ID
	expectStatus(t, env.do(t, http.MethodPost, stoppedPath+"/outcomes", `{"exit": "SL"}`), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, stoppedPath+"/complete", ""), http.StatusConflict)

	wonPath := "/api/v1/plans/" + won.ID
	expectStatus(t, env.do(t, http.MethodPost, wonPath+"/complete", ""), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, wonPath+"/outcomes", `{"exit": "TARGET", "lots": 2}`), http.StatusCreated)
	w := env.do(t, http.MethodPost, wonPath+"/complete", "")
	expectStatus(t, w, http.StatusOK)
	view := decode[planner.PlanView](t, w)
	if view.Status != models.PlanCompleted || view.Next.Continue {
		t.Errorf("expected a completed run, got %+v", view)
	}
	expectStatus(t, env.do(t, http.MethodPost, wonPath+"/outcomes", `{"exit": "TARGET"}`), http.StatusConflict)
}

func TestDeleteScheduledPlan(t *testing.T) {
	env := newTestEnv(t)
	first := submitDefaultPlan(t, env)
	second := submitDefaultPlan(t, env)

	expectStatus(t, env.do(t, http.MethodDelete, "/api/v1/plans/"+first.ID, ""), http.StatusNoContent)
	view := decode[planner.PlanView](t, env.do(t, http.MethodGet, "/api/v1/plans/"+first.ID, ""))
	if view.Status != models.PlanCancelled {
		t.Errorf("expected cancelled, got %s", view.Status)
	}

	env.clock.Set(istAt(10, 15, 0))
	expectStatus(t, env.do(t, http.MethodDelete, "/api/v1/plans/"+second.ID, ""), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/v1/plans/missing", ""), http.StatusNotFound)
}

func TestListPlans(t *testing.T) {
	env := newTestEnv(t)
	first := submitDefaultPlan(t, env)
	submitDefaultPlan(t, env)
	env.do(t, http.MethodDelete, "/api/v1/plans/"+first.ID, "")

	plans := decode[[]models.SubmittedPlan](t, env.do(t, http.MethodGet, "/api/v1/plans?status=scheduled", ""))
	if len(plans) != 1 || plans[0].ID == first.ID {
		t.Errorf("expected the one remaining scheduled plan, got %+v", plans)
	}

	plans = decode[[]models.SubmittedPlan](t, env.do(t, http.MethodGet, "/api/v1/plans?limit=1", ""))
	if len(plans) != 1 {
		t.Errorf("limit not applied, got %d plans", len(plans))
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/plans?limit=-1", ""), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/plans?since=yesterday", ""), http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewSubmissionError("d", nil), http.StatusUnprocessableEntity},
		{apperrors.NewFieldError("runAt", apperrors.KindInvalidTime, "x"), http.StatusBadRequest},
		{apperrors.Wrap(apperrors.ErrInputMalformed, "bad json"), http.StatusBadRequest},
		{apperrors.Wrap(apperrors.ErrPlanNotFound, "p"), http.StatusNotFound},
		{apperrors.NewRunError("p", "record", apperrors.ErrLotMismatch), http.StatusConflict},
		{apperrors.NewRunError("p", "delete", apperrors.ErrPlanStarted), http.StatusConflict},
		{apperrors.Wrap(apperrors.ErrDatabaseError, "disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMalformedClockIsRefused(t *testing.T) {
	env := newTestEnv(t)
	env.clock.Set(time.Time{})

	w := env.do(t, http.MethodGet, "/api/v1/gate", "")
	expectStatus(t, w, http.StatusServiceUnavailable)
	if resp := decode[errorResponse](t, w); resp.Error != "clock unavailable" {
		t.Errorf("unexpected error %q", resp.Error)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/drafts", ""), http.StatusServiceUnavailable)

	expectStatus(t, env.do(t, http.MethodGet, "/health", ""), http.StatusOK)

	env.clock.Set(istAt(10, 20, 0))
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/gate", ""), http.StatusOK)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/drafts/id-1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin on preflight, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPatch) {
		t.Errorf("expected PATCH to be allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/drafts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusCreated)
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "Location" {
		t.Errorf("expected Location to be exposed, got %q", got)
	}
}
