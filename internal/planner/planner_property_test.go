package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"option-planner/internal/martingale"
	"option-planner/internal/models"
)

// Property: concurrent outcome reports for one plan are serialized; the
// persisted history is gap-free and follows the martingale sizing.
func TestProperty_ConcurrentOutcomesSerialize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	now := istAt(10, 0, 0)

	properties.Property("serialized appends", prop.ForAll(
		func(stopLosses []bool) bool {
			svc, st := newTestService()
			ctx := context.Background()
			id := submitNow(t, svc, now)

			var wg sync.WaitGroup
			for _, sl := range stopLosses {
				exit := models.ExitTarget
				if sl {
					exit = models.ExitStopLoss
				}
				wg.Add(1)
				go func(exit models.ExitReason) {
					defer wg.Done()
					svc.RecordOutcome(ctx, id, OutcomeInput{Exit: exit}, now)
				}(exit)
			}
			wg.Wait()

			history, _ := st.GetHistory(ctx, id)
			want := len(stopLosses)
			if want > testDefaults.MaxTrades {
				want = testDefaults.MaxTrades
			}
			if len(history) != want {
				t.Logf("expected %d outcomes, got %d", want, len(history))
				return false
			}
			for i, o := range history {
				if o.Seq != i+1 {
					return false
				}
				if o.Lots != martingale.NextLotSize(history[:i], testDefaults.InitialLots, testDefaults.MartingaleIncrement) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
