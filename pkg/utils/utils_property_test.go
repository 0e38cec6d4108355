package utils

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Normalize preserves the instant for every zone.
func TestProperty_NormalizePreservesInstant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("same instant, IST location", prop.ForAll(
		func(offsetMin int, sec int64) bool {
			in := base.Add(time.Duration(sec) * time.Second).In(time.FixedZone("X", offsetMin*60))
			out, err := Normalize(in)
			return err == nil && out.Equal(in) && out.Location() == IndiaLocation
		},
		gen.IntRange(-12*60, 14*60),
		gen.Int64Range(0, 365*86400),
	))

	properties.TestingRun(t)
}
