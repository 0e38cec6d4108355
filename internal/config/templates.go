package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Option Planner Configuration

[trading]
# Timezone every plan time is normalized to
timezone = "Asia/Kolkata"
# Last wall-clock time (HH:MM) at which a run may still be scheduled
scheduling_cutoff = "15:30"

[defaults]
# Instruments enabled on a fresh plan
instruments = ["NIFTY"]
# Lots for the first trade
initial_lots = 1
# Lots added after each stop-loss (0 disables martingale)
martingale_increment = 1
# Trades per day (0 means a single trade)
max_trades = 3
# Exit strategy id, see [[exit_strategies]]
exit_strategy = "MIN_XPERCENT_OR_SUPERTREND"
# Stop-loss-market percentage
slm_percent = "50"
# Close open positions at square_off_time
auto_square_off = true
square_off_time = "15:15"

[[instruments]]
id = "NIFTY"
display_name = "NIFTY 50"
exchange = "NFO"
lot_size = 75
enabled = true

[[instruments]]
id = "BANKNIFTY"
display_name = "NIFTY BANK"
exchange = "NFO"
lot_size = 35
enabled = true

[[instruments]]
id = "FINNIFTY"
display_name = "NIFTY FIN SERVICE"
exchange = "NFO"
lot_size = 65
enabled = true

[[exit_strategies]]
id = "MIN_XPERCENT_OR_SUPERTREND"
label = "Min of X% SLM or Supertrend"
requires_slm = true

[[exit_strategies]]
id = "SUPERTREND_TRAIL"
label = "Trail with Supertrend"
requires_slm = false

[server]
addr = ":8080"
read_timeout = "10s"
write_timeout = "10s"
# How often the gate watcher re-evaluates scheduling availability
gate_poll_interval = "1s"

[store]
# Storage driver: "sqlite" or "memory"
driver = "sqlite"
# Leave empty to use ~/.config/option-planner/planner.db
path = ""

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30

[audit]
# Append every submission and cancellation to a rotated audit log
enabled = true
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
