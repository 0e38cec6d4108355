// Package models provides domain models for the trade planner.
package models

import "sort"

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
)

// InstrumentID identifies an underlying an option-selling run can trade.
type InstrumentID string

const (
	NIFTY     InstrumentID = "NIFTY"
	BANKNIFTY InstrumentID = "BANKNIFTY"
	FINNIFTY  InstrumentID = "FINNIFTY"
)

// InstrumentDetail is the display metadata of an instrument.
type InstrumentDetail struct {
	ID          InstrumentID `json:"id" mapstructure:"id"`
	DisplayName string       `json:"display_name" mapstructure:"display_name"`
	Exchange    Exchange     `json:"exchange" mapstructure:"exchange"`
	LotSize     int          `json:"lot_size" mapstructure:"lot_size"`
}

// StrategyID identifies an exit strategy.
type StrategyID string

// ExitStrategyDetail describes an exit strategy and what it needs from a plan.
type ExitStrategyDetail struct {
	ID          StrategyID `json:"id" mapstructure:"id"`
	Label       string     `json:"label" mapstructure:"label"`
	RequiresSLM bool       `json:"requires_slm" mapstructure:"requires_slm"`
}

// Catalog is the lookup table of selectable instruments and exit strategies.
// Order is the order the collaborator offers them in.
type Catalog struct {
	Instruments    []InstrumentDetail   `json:"instruments"`
	ExitStrategies []ExitStrategyDetail `json:"exit_strategies"`
}

// Instrument looks up an enabled instrument.
func (c Catalog) Instrument(id InstrumentID) (InstrumentDetail, bool) {
	for _, in := range c.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return InstrumentDetail{}, false
}

// Strategy looks up an exit strategy.
func (c Catalog) Strategy(id StrategyID) (ExitStrategyDetail, bool) {
	for _, s := range c.ExitStrategies {
		if s.ID == id {
			return s, true
		}
	}
	return ExitStrategyDetail{}, false
}

// InstrumentIDs returns the enabled instrument ids in offered order.
func (c Catalog) InstrumentIDs() []InstrumentID {
	ids := make([]InstrumentID, 0, len(c.Instruments))
	for _, in := range c.Instruments {
		ids = append(ids, in.ID)
	}
	return ids
}

// SortInstrumentIDs sorts ids in place and returns them.
func SortInstrumentIDs(ids []InstrumentID) []InstrumentID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
