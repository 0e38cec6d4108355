package plan

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/models"
	"option-planner/pkg/utils"
)

// wirePatch is the JSON shape forms send. Numeric fields may arrive as
// strings or JSON numbers; times arrive as strings in any layout
// utils.ParseInstant accepts.
type wirePatch struct {
	Instruments          map[models.InstrumentID]bool `json:"instruments"`
	InitialLots          json.RawMessage              `json:"lots"`
	MartingaleIncrement  json.RawMessage              `json:"martingaleIncrementSize"`
	MaxTrades            json.RawMessage              `json:"maxTrades"`
	ExitStrategy         *models.StrategyID           `json:"exitStrategy"`
	SLMPercent           json.RawMessage              `json:"slmPercent"`
	AutoSquareOffEnabled *bool                        `json:"isAutoSquareOffEnabled"`
	SquareOffTime        *string                      `json:"squareOffTime"`
	RunNow               bool                         `json:"runNow"`
	RunAt                *string                      `json:"runAt"`
}

// DecodePatch parses a JSON patch. Bare clock times are placed on the trading
// day of ref. A null or empty runAt clears the chosen run time.
func DecodePatch(data []byte, ref time.Time) (Patch, error) {
	var w wirePatch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Patch{}, apperrors.Wrap(apperrors.ErrInputMalformed, err.Error())
	}

	p := Patch{
		Instruments:          w.Instruments,
		ExitStrategy:         w.ExitStrategy,
		AutoSquareOffEnabled: w.AutoSquareOffEnabled,
		RunNow:               w.RunNow,
	}

	var err error
	if p.InitialLots, err = decodeText(FieldInitialLots, w.InitialLots); err != nil {
		return Patch{}, err
	}
	if p.MartingaleIncrement, err = decodeText(FieldMartingaleIncrement, w.MartingaleIncrement); err != nil {
		return Patch{}, err
	}
	if p.MaxTrades, err = decodeText(FieldMaxTrades, w.MaxTrades); err != nil {
		return Patch{}, err
	}
	if p.SLMPercent, err = decodeText(FieldSLMPercent, w.SLMPercent); err != nil {
		return Patch{}, err
	}

	if w.SquareOffTime != nil && strings.TrimSpace(*w.SquareOffTime) != "" {
		t, err := utils.ParseInstant(*w.SquareOffTime, ref)
		if err != nil {
			return Patch{}, apperrors.NewFieldError(FieldSquareOffTime, apperrors.KindInvalidTime, *w.SquareOffTime)
		}
		p.SquareOffTime = &t
	}

	if hasKey(data, "runAt") {
		if w.RunAt == nil || strings.TrimSpace(*w.RunAt) == "" {
			p.ClearRunAt = true
		} else {
			t, err := utils.ParseInstant(*w.RunAt, ref)
			if err != nil {
				return Patch{}, apperrors.NewFieldError(FieldRunAt, apperrors.KindInvalidTime, *w.RunAt)
			}
			p.RunAt = &t
		}
	}

	return p, nil
}

// decodeText accepts a JSON string, number or null for a free-text numeric field.
func decodeText(field string, raw json.RawMessage) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if string(raw) == "null" {
		s := ""
		return &s, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		s = n.String()
		return &s, nil
	}
	return nil, apperrors.NewFieldError(field, apperrors.KindOutOfRange, string(raw))
}

func hasKey(data []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
