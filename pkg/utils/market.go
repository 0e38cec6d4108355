package utils

import (
	"fmt"
	"strings"
	"time"

	apperrors "option-planner/internal/errors"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Normalize converts an instant into the trading timezone.
// The zero instant is treated as malformed clock input.
func Normalize(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, apperrors.NewTimeError("0001-01-01T00:00:00Z", nil)
	}
	return t.In(IndiaLocation), nil
}

// InIST converts t to the trading timezone without validation.
func InIST(t time.Time) time.Time {
	return t.In(IndiaLocation)
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant parses s into a trading-timezone instant.
//
// Zoned layouts keep their own offset before normalization. Layouts without a
// zone are read as IST wall-clock. A bare clock ("15:04", "15:04:05" or
// "03:04pm") is placed on the trading day of ref.
func ParseInstant(s string, ref time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, apperrors.NewTimeError(s, nil)
	}

	for i, layout := range instantLayouts {
		var (
			t   time.Time
			err error
		)
		if i < 2 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, IndiaLocation)
		}
		if err == nil {
			return t.In(IndiaLocation), nil
		}
	}

	clock, err := ParseClock(s)
	if err != nil {
		return time.Time{}, apperrors.NewTimeError(s, err)
	}
	if ref.IsZero() {
		return time.Time{}, apperrors.NewTimeError(s, fmt.Errorf("clock without reference day"))
	}
	return clock.On(ref), nil
}

// Clock is a time of day in the trading timezone.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04PM",
	"3:04 PM",
	"3:04:05PM",
}

// ParseClock parses "HH:MM", "HH:MM:SS" or the form's "hh:mma" ("03:25pm").
func ParseClock(s string) (Clock, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return Clock{}, apperrors.NewTimeError(s, nil)
}

// MustParseClock is like ParseClock but panics on malformed input.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the trading-timezone time of day of t.
func ClockOf(t time.Time) Clock {
	t = t.In(IndiaLocation)
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// On places the clock on the trading day of t.
func (c Clock) On(t time.Time) time.Time {
	t = t.In(IndiaLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, c.Second, 0, IndiaLocation)
}

// IsZero reports whether c is midnight.
func (c Clock) IsZero() bool {
	return c.Hour == 0 && c.Minute == 0 && c.Second == 0
}

func (c Clock) String() string {
	if c.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TradingDay returns midnight IST of the trading day containing t.
func TradingDay(t time.Time) time.Time {
	return Clock{}.On(t)
}

// SameTradingDay reports whether a and b fall on the same IST calendar day.
func SameTradingDay(a, b time.Time) bool {
	return TradingDay(a).Equal(TradingDay(b))
}

// MarketClose is the NSE equity/F&O close.
var MarketClose = MustParseClock("15:30")

// IsWeekend reports whether t falls on a Saturday or Sunday in IST.
func IsWeekend(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
