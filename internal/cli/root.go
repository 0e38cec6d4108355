// Package cli provides the command-line interface for the option planner.
package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"option-planner/internal/config"
	"option-planner/internal/logging"
	"option-planner/internal/plan"
	"option-planner/internal/schedule"
	"option-planner/pkg/utils"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	// Clock is the time source for every command; tests replace it.
	Clock func() time.Time
}

// NewApp creates an App that logs with logger and reads the wall clock.
func NewApp(logger zerolog.Logger) *App {
	return &App{Logger: logger, Clock: time.Now}
}

// now returns the current instant in IST.
func (a *App) now() time.Time {
	return utils.InIST(a.Clock())
}

// loadConfig reads the configuration on first use.
func (a *App) loadConfig() (*config.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return nil, err
	}
	a.Config = cfg
	return cfg, nil
}

// validator builds the gate and validator from the loaded configuration.
func (a *App) validator() (*plan.Validator, *schedule.Gate, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	gate := schedule.NewGate(cfg.Cutoff())
	return plan.NewValidator(cfg.Catalog(), gate), gate, nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "planner",
		Short: "Option selling plan configuration and scheduling",
		Long: `planner validates and schedules martingale option-selling plans.

A plan picks the instruments to trade, the starting lot size, how much to add
after each stop-loss, the maximum number of trades, the exit strategy, and
when the run starts. Runs can be scheduled until the daily cutoff (15:30 IST);
after that they can only be started immediately.

Use 'planner serve' to run the HTTP API the planning form talks to.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				app.ConfigDir = dir
			}
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/option-planner)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newGateCmd(app))
	rootCmd.AddCommand(newValidateCmd(app))
	rootCmd.AddCommand(newSimulateCmd(app))
	rootCmd.AddCommand(newPlansCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Option Planner v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the planner configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.loadConfig(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Timezone:        %s\n", cfg.Trading.Timezone)
	output.Printf("  Cutoff:          %s\n", cfg.Trading.SchedulingCutoff)
	output.Println()

	output.Bold("Plan Defaults")
	output.Printf("  Instruments:     %v\n", cfg.Defaults.Instruments)
	output.Printf("  Initial Lots:    %d\n", cfg.Defaults.InitialLots)
	output.Printf("  Increment:       %d\n", cfg.Defaults.MartingaleIncrement)
	output.Printf("  Max Trades:      %d\n", cfg.Defaults.MaxTrades)
	output.Printf("  Exit Strategy:   %s\n", cfg.Defaults.ExitStrategy)
	output.Printf("  SLM %%:           %s\n", cfg.Defaults.SLMPercent)
	output.Printf("  Auto Square-off: %v at %s\n", cfg.Defaults.AutoSquareOff, cfg.Defaults.SquareOffTime)
	output.Println()

	output.Bold("Instruments")
	table := NewTable(output, "ID", "Name", "Exchange", "Lot", "Enabled")
	for _, inst := range cfg.Instruments {
		table.AddRow(inst.ID, inst.DisplayName, inst.Exchange, utils.FormatQuantity(int64(inst.LotSize)), boolLabel(inst.Enabled))
	}
	table.Render()
	output.Println()

	output.Bold("Exit Strategies")
	for _, s := range cfg.ExitStrategies {
		suffix := ""
		if s.RequiresSLM {
			suffix = " (requires SLM %)"
		}
		output.Printf("  %-28s %s%s\n", s.ID, s.Label, suffix)
	}
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Gate Poll:       %s\n", cfg.Server.GatePollInterval)
	output.Printf("  Store:           %s %s\n", cfg.Store.Driver, cfg.Store.Path)
	output.Printf("  Audit:           %v %s\n", cfg.Audit.Enabled, cfg.Audit.Path)
}

func boolLabel(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
