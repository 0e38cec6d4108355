// Package config provides configuration management for the planner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/logging"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Trading        TradingConfig    `mapstructure:"trading"`
	Defaults       DefaultsConfig   `mapstructure:"defaults"`
	Instruments    []InstrumentConf `mapstructure:"instruments"`
	ExitStrategies []StrategyConf   `mapstructure:"exit_strategies"`
	Server         ServerConfig     `mapstructure:"server"`
	Store          StoreConfig      `mapstructure:"store"`
	Logging        LoggingConfig    `mapstructure:"logging"`
	Audit          AuditConfig      `mapstructure:"audit"`
}

// TradingConfig holds market-session configuration.
type TradingConfig struct {
	Timezone         string `mapstructure:"timezone"`
	SchedulingCutoff string `mapstructure:"scheduling_cutoff"` // HH:MM IST
}

// DefaultsConfig seeds new drafts.
type DefaultsConfig struct {
	Instruments         []string `mapstructure:"instruments"`
	InitialLots         int      `mapstructure:"initial_lots"`
	MartingaleIncrement int      `mapstructure:"martingale_increment"`
	MaxTrades           int      `mapstructure:"max_trades"`
	ExitStrategy        string   `mapstructure:"exit_strategy"`
	SLMPercent          string   `mapstructure:"slm_percent"`
	AutoSquareOff       bool     `mapstructure:"auto_square_off"`
	SquareOffTime       string   `mapstructure:"square_off_time"` // HH:MM IST
}

// InstrumentConf is one row of the instrument table.
type InstrumentConf struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
	Exchange    string `mapstructure:"exchange"`
	LotSize     int    `mapstructure:"lot_size"`
	Enabled     bool   `mapstructure:"enabled"`
}

// StrategyConf is one row of the exit strategy table.
type StrategyConf struct {
	ID          string `mapstructure:"id"`
	Label       string `mapstructure:"label"`
	RequiresSLM bool   `mapstructure:"requires_slm"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	GatePollInterval time.Duration `mapstructure:"gate_poll_interval"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "memory"
	Path   string `mapstructure:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/option-planner"
	}
	return filepath.Join(home, ".config", "option-planner")
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Default returns the built-in configuration. It matches the template
// written on first run.
func Default() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Trading: TradingConfig{
			Timezone:         "Asia/Kolkata",
			SchedulingCutoff: "15:30",
		},
		Defaults: DefaultsConfig{
			Instruments:         []string{string(models.NIFTY)},
			InitialLots:         1,
			MartingaleIncrement: 1,
			MaxTrades:           3,
			ExitStrategy:        "MIN_XPERCENT_OR_SUPERTREND",
			SLMPercent:          "50",
			AutoSquareOff:       true,
			SquareOffTime:       "15:15",
		},
		Instruments: []InstrumentConf{
			{ID: string(models.NIFTY), DisplayName: "NIFTY 50", Exchange: string(models.NFO), LotSize: 75, Enabled: true},
			{ID: string(models.BANKNIFTY), DisplayName: "NIFTY BANK", Exchange: string(models.NFO), LotSize: 35, Enabled: true},
			{ID: string(models.FINNIFTY), DisplayName: "NIFTY FIN SERVICE", Exchange: string(models.NFO), LotSize: 65, Enabled: true},
		},
		ExitStrategies: []StrategyConf{
			{ID: "MIN_XPERCENT_OR_SUPERTREND", Label: "Min of X% SLM or Supertrend", RequiresSLM: true},
			{ID: "SUPERTREND_TRAIL", Label: "Trail with Supertrend", RequiresSLM: false},
		},
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     10 * time.Second,
			GatePollInterval: time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "planner.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			File:       true,
			FilePath:   filepath.Join(dir, "logs", "planner.log"),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "audit", "submissions.log"),
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is created from the template and then loaded.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	path := ConfigPath(configDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createTemplateConfig(configDir, "config"); err != nil {
			return nil, err
		}
	}

	return LoadFile(path)
}

// LoadFile loads configuration from a single TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := loadConfigFile(path, cfg); err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}

	applyPathDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	// Tables given in the file replace the built-in ones instead of
	// merging element by element.
	if v.IsSet("instruments") {
		cfg.Instruments = nil
	}
	if v.IsSet("exit_strategies") {
		cfg.ExitStrategies = nil
	}
	if v.IsSet("defaults.instruments") {
		cfg.Defaults.Instruments = nil
	}

	return v.Unmarshal(cfg)
}

// applyPathDefaults restores the default locations for paths left empty.
func applyPathDefaults(cfg *Config) {
	def := Default()
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = def.Logging.FilePath
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = def.Audit.Path
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLANNER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PLANNER_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PLANNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PLANNER_CUTOFF"); v != "" {
		cfg.Trading.SchedulingCutoff = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := utils.ParseClock(c.Trading.SchedulingCutoff); err != nil {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "scheduling_cutoff %q", c.Trading.SchedulingCutoff)
	}
	if c.Trading.Timezone != "" {
		if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
			return apperrors.Wrapf(apperrors.ErrConfigInvalid, "timezone %q", c.Trading.Timezone)
		}
	}

	instruments := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "instrument without id")
		}
		if instruments[inst.ID] {
			return apperrors.Wrapf(apperrors.ErrConfigInvalid, "duplicate instrument %s", inst.ID)
		}
		if inst.LotSize <= 0 {
			return apperrors.Wrapf(apperrors.ErrConfigInvalid, "instrument %s: lot_size must be positive", inst.ID)
		}
		instruments[inst.ID] = inst.Enabled
	}

	strategies := make(map[string]bool, len(c.ExitStrategies))
	for _, s := range c.ExitStrategies {
		if s.ID == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "exit strategy without id")
		}
		if strategies[s.ID] {
			return apperrors.Wrapf(apperrors.ErrConfigInvalid, "duplicate exit strategy %s", s.ID)
		}
		strategies[s.ID] = true
	}
	if len(strategies) == 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "at least one exit strategy is required")
	}

	d := c.Defaults
	for _, id := range d.Instruments {
		if !instruments[id] {
			return apperrors.Wrapf(apperrors.ErrConfigInvalid, "default instrument %s is unknown or disabled", id)
		}
	}
	if d.InitialLots < 1 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "initial_lots must be at least 1")
	}
	if d.MartingaleIncrement < 0 || d.MaxTrades < 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "martingale_increment and max_trades must be non-negative")
	}
	if d.ExitStrategy != "" && !strategies[d.ExitStrategy] {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "default exit strategy %s is unknown", d.ExitStrategy)
	}
	if _, err := utils.ParseClock(d.SquareOffTime); err != nil {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "square_off_time %q", d.SquareOffTime)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "store path is required for sqlite")
		}
	case "memory":
	default:
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "store driver %q (must be 'sqlite' or 'memory')", c.Store.Driver)
	}

	if c.Server.GatePollInterval <= 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "gate_poll_interval must be positive")
	}

	return nil
}

// Cutoff returns the scheduling cutoff clock.
func (c *Config) Cutoff() utils.Clock {
	clock, err := utils.ParseClock(c.Trading.SchedulingCutoff)
	if err != nil {
		return utils.MarketClose
	}
	return clock
}

// Catalog builds the lookup tables handed to the validator. Disabled
// instruments are left out.
func (c *Config) Catalog() models.Catalog {
	var catalog models.Catalog
	for _, inst := range c.Instruments {
		if !inst.Enabled {
			continue
		}
		catalog.Instruments = append(catalog.Instruments, models.InstrumentDetail{
			ID:          models.InstrumentID(strings.ToUpper(inst.ID)),
			DisplayName: inst.DisplayName,
			Exchange:    models.Exchange(inst.Exchange),
			LotSize:     inst.LotSize,
		})
	}
	for _, s := range c.ExitStrategies {
		catalog.ExitStrategies = append(catalog.ExitStrategies, models.ExitStrategyDetail{
			ID:          models.StrategyID(s.ID),
			Label:       s.Label,
			RequiresSLM: s.RequiresSLM,
		})
	}
	return catalog
}

// PlanDefaults converts the [defaults] section.
func (c *Config) PlanDefaults() plan.Defaults {
	d := c.Defaults
	ids := make([]models.InstrumentID, 0, len(d.Instruments))
	for _, id := range d.Instruments {
		ids = append(ids, models.InstrumentID(strings.ToUpper(id)))
	}
	squareOff, err := utils.ParseClock(d.SquareOffTime)
	if err != nil {
		squareOff = utils.Clock{Hour: 15, Minute: 15}
	}
	return plan.Defaults{
		Instruments:         ids,
		InitialLots:         d.InitialLots,
		MartingaleIncrement: d.MartingaleIncrement,
		MaxTrades:           d.MaxTrades,
		ExitStrategy:        models.StrategyID(d.ExitStrategy),
		SLMPercent:          d.SLMPercent,
		AutoSquareOff:       d.AutoSquareOff,
		SquareOffTime:       squareOff,
	}
}

// LogConfig converts the [logging] section.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}
