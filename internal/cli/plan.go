package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/martingale"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/internal/store"
	"option-planner/internal/stream"
	"option-planner/pkg/utils"
)

// instantFlag reads an --at style flag, defaulting to the app clock.
func instantFlag(cmd *cobra.Command, app *App, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	now := app.now()
	if raw == "" {
		return now, nil
	}
	return utils.ParseInstant(raw, now)
}

func newGateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Show whether runs can still be scheduled",
		Example: `  planner gate
  planner gate --at 15:31
  planner gate --at 2026-10-16T09:15:00+05:30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			at, err := instantFlag(cmd, app, "at")
			if err != nil {
				return err
			}
			_, gate, err := app.validator()
			if err != nil {
				return err
			}

			st := stream.StatusAt(gate, at)
			if output.IsJSON() {
				return output.JSON(st)
			}

			output.Printf("Time:    %s\n", at.Format("2006-01-02 15:04:05 MST"))
			output.Printf("Cutoff:  %s\n", utils.FormatClock(st.Cutoff))
			if st.SchedulingAllowed {
				output.Success("Scheduling open")
				output.Printf("Next:    %s\n", st.Label)
			} else {
				output.Warning("Scheduling closed for today, only 'Execute now' is available")
			}
			if st.Weekend {
				output.Dim("Markets are closed on weekends; runs will wait for the next session")
			}
			return nil
		},
	}
	cmd.Flags().String("at", "", "evaluate at this time instead of now")
	return cmd
}

// ValidationReport is the result of validating a plan file.
type ValidationReport struct {
	Valid    bool                   `json:"valid"`
	At       time.Time              `json:"at"`
	Trigger  *models.Trigger        `json:"trigger,omitempty"`
	Resolved *models.ResolvedPlan   `json:"resolved,omitempty"`
	Errors   []apperrors.FieldError `json:"errors,omitempty"`
}

func newValidateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.toml>",
		Short: "Validate a plan file as if it were submitted",
		Long: `Validate a plan file against the configured catalog and defaults.

The plan is checked exactly as a form submission would be at the given time,
including the scheduling cutoff. The command exits non-zero when the plan
would be refused.`,
		Example: `  planner validate plan.toml
  planner validate plan.toml --at 15:20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			at, err := instantFlag(cmd, app, "at")
			if err != nil {
				return err
			}
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			validator, gate, err := app.validator()
			if err != nil {
				return err
			}

			patch, err := loadPlanFile(args[0], validator.Catalog(), at)
			if err != nil {
				return err
			}

			var runAt *time.Time
			if t, ok := gate.DefaultRunAt(at); ok {
				runAt = &t
			}
			p := plan.Apply(plan.New(cfg.PlanDefaults(), validator.Catalog(), at, runAt), patch)
			resolved, decision, res := validator.Resolve(p, at)

			report := ValidationReport{Valid: res.Valid(), At: at, Errors: res.Errors}
			if report.Valid {
				report.Trigger = decision.Trigger
				report.Resolved = &resolved
			}

			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
			} else {
				printReport(output, validator.Catalog(), report)
			}

			if !report.Valid {
				return apperrors.NewSubmissionError(args[0], res.Errors)
			}
			return nil
		},
	}
	cmd.Flags().String("at", "", "validate at this time instead of now")
	return cmd
}

func printReport(output *Output, catalog models.Catalog, r ValidationReport) {
	if !r.Valid {
		output.Error("✗ Plan would be refused")
		for _, fe := range r.Errors {
			output.Printf("  - %s\n", DescribeFieldError(fe))
		}
		return
	}

	output.Success("✓ Plan is valid")
	output.Printf("  Trigger:      %s\n", FormatTrigger(*r.Trigger))
	for _, id := range r.Resolved.Instruments {
		inst, _ := catalog.Instrument(id)
		output.Printf("  Instrument:   %s (%s)\n", inst.DisplayName, utils.FormatLots(r.Resolved.InitialLots, inst.LotSize))
	}
	output.Printf("  Martingale:   +%d lots after each stop-loss\n", r.Resolved.MartingaleIncrement)
	output.Printf("  Max Trades:   %d\n", r.Resolved.MaxTrades)
	output.Printf("  Exit:         %s (SLM %s%%)\n", r.Resolved.ExitStrategy, r.Resolved.SLMPercent.String())
	if r.Resolved.SquareOffAt != nil {
		output.Printf("  Square-off:   %s\n", utils.FormatClock(*r.Resolved.SquareOffAt))
	}
}

// SimulatedTrade is one row of a simulated run.
type SimulatedTrade struct {
	Seq   int               `json:"seq"`
	Lots  int               `json:"lots"`
	Qty   int               `json:"qty,omitempty"`
	Exit  models.ExitReason `json:"exit"`
	State martingale.State  `json:"state"`
}

// Simulate replays exits through the martingale sizer. Outcomes past the end
// of the run are ignored; the returned state is where the run stopped.
func Simulate(params martingale.Params, exits []models.ExitReason, lotSize int, at time.Time) ([]SimulatedTrade, martingale.State, error) {
	run := martingale.NewRun(params, nil)
	trades := make([]SimulatedTrade, 0, len(exits))
	for _, exit := range exits {
		lots, ok, err := run.Next()
		if err != nil {
			return nil, "", err
		}
		if !ok {
			break
		}
		outcome, err := run.Record(exit, at)
		if err != nil {
			return nil, "", err
		}
		trades = append(trades, SimulatedTrade{
			Seq:   outcome.Seq,
			Lots:  lots,
			Qty:   lots * lotSize,
			Exit:  exit,
			State: run.State(),
		})
	}
	return trades, run.State(), nil
}

func newSimulateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Show the lot sizes a sequence of outcomes would produce",
		Long: `Walk a martingale run through a list of trade outcomes.

After a stop-loss (SL) the next trade adds the increment to the last lot
size; a target (TP) or square-off (SQ) resets it to the initial lots. A max
trades of 0 allows a single trade.`,
		Example: `  planner simulate --initial 2 --increment 1 --max-trades 4 --outcomes SL,SL,TP,SL
  planner simulate --instrument BANKNIFTY --outcomes SL,SL,SL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			initial, _ := cmd.Flags().GetInt("initial")
			increment, _ := cmd.Flags().GetInt("increment")
			maxTrades, _ := cmd.Flags().GetInt("max-trades")
			rawOutcomes, _ := cmd.Flags().GetString("outcomes")
			instrument, _ := cmd.Flags().GetString("instrument")

			if initial < 1 || increment < 0 || maxTrades < 0 {
				return apperrors.Wrap(apperrors.ErrInputMalformed,
					"initial must be at least 1, increment and max-trades at least 0")
			}
			if initial > plan.MaxCount || increment > plan.MaxCount || maxTrades > plan.MaxCount {
				return apperrors.Wrapf(apperrors.ErrInputMalformed, "counts are limited to %d", plan.MaxCount)
			}
			exits, err := ParseExits(rawOutcomes)
			if err != nil {
				return err
			}

			lotSize := 0
			if instrument != "" {
				validator, _, err := app.validator()
				if err != nil {
					return err
				}
				inst, ok := validator.Catalog().Instrument(models.InstrumentID(strings.ToUpper(instrument)))
				if !ok {
					return apperrors.Wrapf(apperrors.ErrInputMalformed, "unknown instrument %q", instrument)
				}
				lotSize = inst.LotSize
			}

			params := martingale.Params{InitialLots: initial, Increment: increment, MaxTrades: maxTrades}
			trades, state, err := Simulate(params, exits, lotSize, app.now())
			if err != nil {
				return err
			}

			next := 0
			history := make(models.History, 0, len(trades))
			for _, t := range trades {
				history = append(history, models.TradeOutcome{Seq: t.Seq, Lots: t.Lots, Exit: t.Exit})
			}
			if martingale.ShouldContinue(history, maxTrades) {
				next = martingale.NextLotSize(history, initial, increment)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"trades":   trades,
					"state":    state,
					"nextLots": next,
					"ignored":  len(exits) - len(trades),
				})
			}

			table := NewTable(output, "#", "Lots", "Exit", "State")
			for _, t := range trades {
				lots := strconv.Itoa(t.Lots)
				if lotSize > 0 {
					lots = utils.FormatLots(t.Lots, lotSize)
				}
				table.AddRow(strconv.Itoa(t.Seq), lots, string(t.Exit), string(t.State))
			}
			table.Render()
			output.Println()
			if next > 0 {
				output.Info("Next trade: %d lots", next)
			} else {
				output.Warning("Run finished: %s", state)
			}
			if ignored := len(exits) - len(trades); ignored > 0 {
				output.Dim("%d outcome(s) past the end of the run ignored", ignored)
			}
			return nil
		},
	}
	cmd.Flags().Int("initial", 1, "initial lot size")
	cmd.Flags().Int("increment", 1, "lots added after each stop-loss")
	cmd.Flags().Int("max-trades", 3, "maximum trades in the run (0 = one trade)")
	cmd.Flags().String("outcomes", "", "comma separated outcomes: SL, TP, SQ")
	cmd.Flags().String("instrument", "", "show quantities using this instrument's lot size")
	return cmd
}

func newPlansCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Inspect submitted plans",
		Long:  "List and inspect plans submitted through the API, read from the configured store.",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List submitted plans",
		Example: `  planner plans list
  planner plans list --status scheduled --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			plans, err := st.ListPlans(ctx, store.PlanFilter{
				Status: models.PlanStatus(strings.ToUpper(status)),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(plans)
			}
			if len(plans) == 0 {
				output.Dim("No plans found")
				return nil
			}
			table := NewTable(output, "ID", "Status", "Trigger", "Instruments", "Lots")
			for _, p := range plans {
				ids := make([]string, 0, len(p.Resolved.Instruments))
				for _, id := range p.Resolved.Instruments {
					ids = append(ids, string(id))
				}
				table.AddRow(p.ID, string(p.Status), FormatTrigger(p.Trigger), strings.Join(ids, ","),
					fmt.Sprintf("%d (+%d)", p.Resolved.InitialLots, p.Resolved.MartingaleIncrement))
			}
			table.Render()
			return nil
		},
	}
	listCmd.Flags().String("status", "", "filter by status (scheduled, running, ...)")
	listCmd.Flags().Int("limit", 20, "maximum plans to show")

	showCmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with its trade history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := st.GetPlan(ctx, args[0])
			if err != nil {
				return err
			}
			history, err := st.GetHistory(ctx, p.ID)
			if err != nil {
				return err
			}

			params := martingale.ParamsFrom(p.Resolved)
			next := 0
			if !p.Status.IsTerminal() && martingale.ShouldContinue(history, params.MaxTrades) {
				next = martingale.NextLotSize(history, params.InitialLots, params.Increment)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"plan":     p,
					"history":  history,
					"nextLots": next,
				})
			}

			output.Bold("Plan %s", p.ID)
			output.Printf("  Status:     %s\n", output.FormatStatus(p.Status))
			output.Printf("  Trigger:    %s\n", FormatTrigger(p.Trigger))
			output.Printf("  Submitted:  %s\n", utils.InIST(p.SubmittedAt).Format("2006-01-02 15:04:05"))
			output.Println()
			if len(history) == 0 {
				output.Dim("No trades yet")
			} else {
				table := NewTable(output, "#", "Lots", "Exit", "Closed")
				for _, o := range history {
					table.AddRow(strconv.Itoa(o.Seq), strconv.Itoa(o.Lots), string(o.Exit), utils.FormatClock(o.ClosedAt))
				}
				table.Render()
			}
			if next > 0 {
				output.Info("Next trade: %d lots", next)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// openStore opens the configured store for read access from the CLI.
func (a *App) openStore() (store.PlanStore, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}
