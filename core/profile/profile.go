// Package profile builds synthetic demand series from normalised daily shapes.
package profile

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/microgrid/core/model"
)

// HoursPerYear is the length of a non-leap hourly year.
const HoursPerYear = 8760

// Patterns holds the built-in 24-hour load shapes, normalised to a peak of 1.
var Patterns = map[string][]float64{
	// round-the-clock operation with a shallow night dip
	"continuous": {
		0.85, 0.82, 0.80, 0.78, 0.76, 0.78,
		0.85, 0.92, 0.98, 1.00, 1.00, 1.00,
		0.98, 0.95, 0.98, 1.00, 1.00, 0.98,
		0.95, 0.92, 0.90, 0.88, 0.87, 0.86,
	},
	// single day shift, low base load at night
	"day_shift": {
		0.45, 0.40, 0.35, 0.32, 0.30, 0.35,
		0.50, 0.70, 0.85, 0.95, 1.00, 1.00,
		0.98, 0.95, 0.98, 1.00, 0.95, 0.85,
		0.70, 0.60, 0.55, 0.52, 0.48, 0.46,
	},
}

// Names returns the built-in pattern names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Patterns))
	for n := range Patterns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Annual tiles the named daily pattern over steps hourly values and scales
// the result so it sums to totalKWh.
func Annual(pattern string, totalKWh float64, steps int) (model.Series, error) {
	shape, ok := Patterns[pattern]
	if !ok {
		return nil, fmt.Errorf("unknown load pattern %q", pattern)
	}
	return Tile(shape, totalKWh, steps)
}

// Tile repeats shape over steps values and scales it so the series sums to
// totalKWh.
func Tile(shape []float64, totalKWh float64, steps int) (model.Series, error) {
	if steps <= 0 {
		return nil, &model.ShapeMismatchError{Field: "profile.steps", Want: 1, Got: steps}
	}
	if len(shape) == 0 {
		return nil, &model.ShapeMismatchError{Field: "profile.shape", Want: 1, Got: 0}
	}
	if err := model.Series(shape).Validate("profile.shape"); err != nil {
		return nil, err
	}
	if totalKWh < 0 {
		return nil, &model.InvalidConfigurationError{Field: "profile.total_kwh", Value: totalKWh, Reason: "must be >= 0"}
	}
	out := make(model.Series, steps)
	for i := range out {
		out[i] = shape[i%len(shape)]
	}
	sum := out.Sum()
	if sum == 0 {
		return nil, &model.InvalidConfigurationError{Field: "profile.shape", Reason: "shape sums to zero"}
	}
	floats.Scale(totalKWh/sum, out)
	return out, nil
}

// Timestamps returns n instants starting at start, step apart.
func Timestamps(start time.Time, n int, step time.Duration) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * step)
	}
	return ts
}
