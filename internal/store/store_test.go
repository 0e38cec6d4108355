package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

func newTestStores(t *testing.T) map[string]PlanStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "planner.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]PlanStore{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func testPlan(id string, submittedAt time.Time) *models.SubmittedPlan {
	runAt := submittedAt.Add(time.Hour)
	squareOff := time.Date(submittedAt.Year(), submittedAt.Month(), submittedAt.Day(), 15, 15, 0, 0, utils.IndiaLocation)
	return &models.SubmittedPlan{
		ID: id,
		Plan: models.TradePlan{
			Instruments:         map[models.InstrumentID]bool{models.NIFTY: true, models.BANKNIFTY: false},
			InitialLots:         "2",
			MartingaleIncrement: "1",
			MaxTrades:           "3",
			ExitStrategy:        "MIN_XPERCENT_OR_SUPERTREND",
			SLMPercent:          "50",
			AutoSquareOff:       models.AutoSquareOff{Enabled: true, Time: &squareOff},
			RunAt:               &runAt,
		},
		Resolved: models.ResolvedPlan{
			Instruments:         []models.InstrumentID{models.NIFTY},
			InitialLots:         2,
			MartingaleIncrement: 1,
			MaxTrades:           3,
			ExitStrategy:        "MIN_XPERCENT_OR_SUPERTREND",
			SLMPercent:          decimal.NewFromInt(50),
			SquareOffAt:         &squareOff,
		},
		Trigger:     models.Trigger{Kind: models.TriggerScheduled, RunAt: runAt},
		Status:      models.PlanScheduled,
		SubmittedAt: submittedAt,
		UpdatedAt:   submittedAt,
	}
}

func TestStore_PlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, time.October, 16, 10, 0, 0, 0, utils.IndiaLocation)

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			want := testPlan("plan-1", at)
			if err := s.SavePlan(ctx, want); err != nil {
				t.Fatalf("SavePlan: %v", err)
			}
			if err := s.SavePlan(ctx, want); err == nil {
				t.Errorf("saving the same id twice should fail")
			}

			got, err := s.GetPlan(ctx, "plan-1")
			if err != nil {
				t.Fatalf("GetPlan: %v", err)
			}
			if got.Status != models.PlanScheduled || got.Trigger.Kind != models.TriggerScheduled {
				t.Errorf("unexpected plan %+v", got)
			}
			if !got.Trigger.RunAt.Equal(want.Trigger.RunAt) || !got.SubmittedAt.Equal(at) {
				t.Errorf("times changed: %v %v", got.Trigger.RunAt, got.SubmittedAt)
			}
			if got.Plan.InitialLots != "2" || !got.Plan.Instruments[models.NIFTY] || got.Plan.Instruments[models.BANKNIFTY] {
				t.Errorf("plan snapshot changed: %+v", got.Plan)
			}
			if !got.Resolved.SLMPercent.Equal(decimal.NewFromInt(50)) || got.Resolved.MaxTrades != 3 {
				t.Errorf("resolved plan changed: %+v", got.Resolved)
			}
			if got.Resolved.SquareOffAt == nil || !got.Resolved.SquareOffAt.Equal(*want.Resolved.SquareOffAt) {
				t.Errorf("square-off changed: %v", got.Resolved.SquareOffAt)
			}

			if _, err := s.GetPlan(ctx, "missing"); !apperrors.Is(err, apperrors.ErrPlanNotFound) {
				t.Errorf("expected ErrPlanNotFound, got %v", err)
			}
		})
	}
}

func TestStore_StatusAndList(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, time.October, 16, 9, 30, 0, 0, utils.IndiaLocation)

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				if err := s.SavePlan(ctx, testPlan(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("SavePlan: %v", err)
				}
			}
			if err := s.UpdatePlanStatus(ctx, "p1", models.PlanCancelled, base.Add(time.Hour)); err != nil {
				t.Fatalf("UpdatePlanStatus: %v", err)
			}
			if err := s.UpdatePlanStatus(ctx, "nope", models.PlanCancelled, base); !apperrors.Is(err, apperrors.ErrPlanNotFound) {
				t.Errorf("expected ErrPlanNotFound, got %v", err)
			}

			all, err := s.ListPlans(ctx, PlanFilter{})
			if err != nil || len(all) != 3 {
				t.Fatalf("ListPlans: %d plans, err %v", len(all), err)
			}
			if all[0].ID != "p2" {
				t.Errorf("expected newest first, got %s", all[0].ID)
			}

			cancelled, _ := s.ListPlans(ctx, PlanFilter{Status: models.PlanCancelled})
			if len(cancelled) != 1 || cancelled[0].ID != "p1" {
				t.Errorf("status filter failed: %+v", cancelled)
			}

			limited, _ := s.ListPlans(ctx, PlanFilter{Limit: 2})
			if len(limited) != 2 {
				t.Errorf("limit not applied: %d", len(limited))
			}
		})
	}
}

func TestStore_OutcomeHistory(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, time.October, 16, 10, 0, 0, 0, utils.IndiaLocation)

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.AppendOutcome(ctx, "ghost", models.TradeOutcome{Seq: 1}); !apperrors.Is(err, apperrors.ErrPlanNotFound) {
				t.Errorf("expected ErrPlanNotFound, got %v", err)
			}

			s.SavePlan(ctx, testPlan("run", at))

			exits := []models.ExitReason{models.ExitStopLoss, models.ExitStopLoss, models.ExitTarget}
			for i, exit := range exits {
				o := models.TradeOutcome{Seq: i + 1, Lots: 2 + i, Exit: exit, ClosedAt: at.Add(time.Duration(i+1) * 10 * time.Minute)}
				if err := s.AppendOutcome(ctx, "run", o); err != nil {
					t.Fatalf("AppendOutcome %d: %v", i+1, err)
				}
			}

			if err := s.AppendOutcome(ctx, "run", models.TradeOutcome{Seq: 2, Lots: 1, Exit: models.ExitTarget, ClosedAt: at}); err == nil {
				t.Errorf("out-of-order seq should be rejected")
			}

			history, err := s.GetHistory(ctx, "run")
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("expected 3 outcomes, got %d", len(history))
			}
			for i, o := range history {
				if o.Seq != i+1 || o.Exit != exits[i] || o.Lots != 2+i {
					t.Errorf("outcome %d mismatch: %+v", i, o)
				}
			}
			if !history[0].ClosedAt.Equal(at.Add(10 * time.Minute)) {
				t.Errorf("closed_at changed: %v", history[0].ClosedAt)
			}

			empty, err := s.GetHistory(ctx, "other")
			if err != nil || len(empty) != 0 {
				t.Errorf("expected empty history, got %v %v", empty, err)
			}
		})
	}
}

func TestMemoryStore_ConcurrentAppendsSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SavePlan(ctx, testPlan("c", time.Date(2026, time.October, 16, 10, 0, 0, 0, utils.IndiaLocation)))

	// Every writer races for the same slot; exactly one wins.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AppendOutcome(ctx, "c", models.TradeOutcome{Seq: 1, Lots: 1, Exit: models.ExitTarget}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful append, got %d", wins)
	}
}
