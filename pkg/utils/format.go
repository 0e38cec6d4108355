// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatClock formats an instant as an IST "hh:mma" label, e.g. "03:25pm".
func FormatClock(t time.Time) string {
	return strings.ToLower(t.In(IndiaLocation).Format("03:04PM"))
}

// FormatScheduleLabel returns the label of the schedule action for a chosen run time.
func FormatScheduleLabel(runAt *time.Time, allowed bool) string {
	if !allowed || runAt == nil {
		return "Schedule run"
	}
	return "Schedule for " + FormatClock(*runAt)
}

// FormatQuantity formats a quantity in the Indian numbering system.
func FormatQuantity(qty int64) string {
	negative := qty < 0
	if negative {
		qty = -qty
	}
	s := formatIndianNumber(fmt.Sprintf("%d", qty))
	if negative {
		return "-" + s
	}
	return s
}

// FormatLots formats a lot count with the contract quantity it represents.
func FormatLots(lots, lotSize int) string {
	if lotSize <= 0 {
		return fmt.Sprintf("%d lots", lots)
	}
	return fmt.Sprintf("%d lots (%s qty)", lots, FormatQuantity(int64(lots*lotSize)))
}

// formatIndianNumber formats an integer string in Indian numbering system.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}
