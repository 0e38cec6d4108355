package models

import "time"

// ExitReason records how a trade closed.
type ExitReason string

const (
	ExitStopLoss  ExitReason = "SL"
	ExitTarget    ExitReason = "TARGET"
	ExitSquareOff ExitReason = "SQUARE_OFF"
)

// Valid reports whether r is a known exit reason.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopLoss, ExitTarget, ExitSquareOff:
		return true
	}
	return false
}

// TradeOutcome is one executed trade of a run.
type TradeOutcome struct {
	Seq      int        `json:"seq"`
	Lots     int        `json:"lots"`
	Exit     ExitReason `json:"exit"`
	ClosedAt time.Time  `json:"closed_at"`
}

// IsStopLoss reports whether the trade closed at its stop-loss.
func (o TradeOutcome) IsStopLoss() bool {
	return o.Exit == ExitStopLoss
}

// History is the ordered outcome list of a run.
type History []TradeOutcome

// Last returns the most recent outcome.
func (h History) Last() (TradeOutcome, bool) {
	if len(h) == 0 {
		return TradeOutcome{}, false
	}
	return h[len(h)-1], true
}
