package cli

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/internal/plan"
	"option-planner/pkg/utils"
)

// loadPlanFile reads a plan description and turns it into a patch over a
// fresh plan. Keys left out of the file keep their configured defaults.
//
//	instruments          = ["NIFTY", "BANKNIFTY"]
//	lots                 = 2
//	martingale_increment = 1
//	max_trades           = 3
//	exit_strategy        = "MIN_XPERCENT_OR_SUPERTREND"
//	slm_percent          = "50"
//	auto_square_off      = true
//	square_off_time      = "15:15"
//	run_now              = false
//	run_at               = "10:30"
func loadPlanFile(path string, catalog models.Catalog, ref time.Time) (plan.Patch, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return plan.Patch{}, apperrors.Wrap(apperrors.ErrInputMalformed, err.Error())
	}

	var p plan.Patch

	if v.IsSet("instruments") {
		p.Instruments = make(map[models.InstrumentID]bool)
		for _, id := range catalog.InstrumentIDs() {
			p.Instruments[id] = false
		}
		for _, raw := range v.GetStringSlice("instruments") {
			p.Instruments[models.InstrumentID(strings.ToUpper(strings.TrimSpace(raw)))] = true
		}
	}

	text := func(key string) *string {
		if !v.IsSet(key) {
			return nil
		}
		s := v.GetString(key)
		return &s
	}
	p.InitialLots = text("lots")
	p.MartingaleIncrement = text("martingale_increment")
	p.MaxTrades = text("max_trades")
	p.SLMPercent = text("slm_percent")
	if s := text("exit_strategy"); s != nil {
		id := models.StrategyID(strings.ToUpper(*s))
		p.ExitStrategy = &id
	}

	if v.IsSet("auto_square_off") {
		on := v.GetBool("auto_square_off")
		p.AutoSquareOffEnabled = &on
	}
	if s := text("square_off_time"); s != nil {
		t, err := utils.ParseInstant(*s, ref)
		if err != nil {
			return plan.Patch{}, apperrors.NewFieldError(plan.FieldSquareOffTime, apperrors.KindInvalidTime, *s)
		}
		p.SquareOffTime = &t
	}

	p.RunNow = v.GetBool("run_now")
	if s := text("run_at"); s != nil {
		if strings.TrimSpace(*s) == "" {
			p.ClearRunAt = true
		} else {
			t, err := utils.ParseInstant(*s, ref)
			if err != nil {
				return plan.Patch{}, apperrors.NewFieldError(plan.FieldRunAt, apperrors.KindInvalidTime, *s)
			}
			p.RunAt = &t
		}
	}

	return p, nil
}
