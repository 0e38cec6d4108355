package plan

import (
	"strconv"
	"time"

	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// Defaults seed a fresh plan.
type Defaults struct {
	Instruments         []models.InstrumentID
	InitialLots         int
	MartingaleIncrement int
	MaxTrades           int
	ExitStrategy        models.StrategyID
	SLMPercent          string
	AutoSquareOff       bool
	SquareOffTime       utils.Clock
}

// New builds a fresh plan. Every catalog instrument gets an explicit flag so
// the form can render a checkbox for each; runAt may be nil.
func New(d Defaults, catalog models.Catalog, now time.Time, runAt *time.Time) models.TradePlan {
	p := models.TradePlan{
		Instruments:         make(map[models.InstrumentID]bool, len(catalog.Instruments)),
		InitialLots:         strconv.Itoa(d.InitialLots),
		MartingaleIncrement: strconv.Itoa(d.MartingaleIncrement),
		MaxTrades:           strconv.Itoa(d.MaxTrades),
		ExitStrategy:        d.ExitStrategy,
		SLMPercent:          d.SLMPercent,
	}
	for _, id := range catalog.InstrumentIDs() {
		p.Instruments[id] = false
	}
	for _, id := range d.Instruments {
		if _, ok := catalog.Instrument(id); ok {
			p.Instruments[id] = true
		}
	}

	squareOff := d.SquareOffTime.On(now)
	p.AutoSquareOff = models.AutoSquareOff{Enabled: d.AutoSquareOff, Time: &squareOff}

	if runAt != nil {
		t := utils.InIST(*runAt)
		p.RunAt = &t
	}
	return p
}
