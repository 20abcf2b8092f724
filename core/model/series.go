package model

import (
	"math"
	"time"
)

// Series is a power time series in kW with one value per simulation step.
type Series []float64

// SourceSeries is the generation of a single renewable source.
type SourceSeries struct {
	Name   string
	Values Series
}

// ReservedNames are the flow node names a source may not use.
var ReservedNames = []string{"grid", "storage", "load", "grid_export"}

// IsReserved reports whether name is one of ReservedNames.
func IsReserved(name string) bool {
	for _, r := range ReservedNames {
		if name == r {
			return true
		}
	}
	return false
}

// Inputs groups the time-aligned series consumed by a simulation run. Index i
// in every series refers to the same instant.
type Inputs struct {
	Demand  Series
	Sources []SourceSeries
	// Timestamps is optional. When set it must have the same length as
	// Demand; it is carried into the ledger but never interpreted.
	Timestamps []time.Time
}

// Len returns the number of steps described by the inputs.
func (in Inputs) Len() int { return len(in.Demand) }

// SourceNames returns the source names in input order.
func (in Inputs) SourceNames() []string {
	names := make([]string, len(in.Sources))
	for i, s := range in.Sources {
		names[i] = s.Name
	}
	return names
}

// Validate checks lengths first, then values, so a shape error is always
// reported before any per-value problem.
func (in Inputs) Validate() error {
	n := len(in.Demand)
	if n == 0 {
		return &ShapeMismatchError{Field: "demand", Want: 1, Got: 0}
	}
	seen := make(map[string]bool, len(in.Sources))
	for _, s := range in.Sources {
		if s.Name == "" {
			return &InvalidConfigurationError{Field: "sources.name", Reason: "source name is required"}
		}
		if IsReserved(s.Name) {
			return &InvalidConfigurationError{Field: "sources." + s.Name, Reason: "name is reserved for a flow node"}
		}
		if seen[s.Name] {
			return &InvalidConfigurationError{Field: "sources." + s.Name, Reason: "duplicate source name"}
		}
		seen[s.Name] = true
		if len(s.Values) != n {
			return &ShapeMismatchError{Field: s.Name, Want: n, Got: len(s.Values)}
		}
	}
	if in.Timestamps != nil && len(in.Timestamps) != n {
		return &ShapeMismatchError{Field: "timestamps", Want: n, Got: len(in.Timestamps)}
	}
	if err := in.Demand.Validate("demand"); err != nil {
		return err
	}
	for _, s := range in.Sources {
		if err := s.Values.Validate(s.Name); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects negative and non-finite values, naming field in the error.
func (s Series) Validate(field string) error {
	for i, v := range s {
		if reason := nonNegativeFinite(v); reason != "" {
			return &InvalidInputError{Field: field, Step: i, Value: v, Reason: reason}
		}
	}
	return nil
}

func nonNegativeFinite(v float64) string {
	switch {
	case math.IsNaN(v):
		return "value is NaN"
	case math.IsInf(v, 0):
		return "value is infinite"
	case v < 0:
		return "value is negative"
	}
	return ""
}

// Sum returns the plain sum of the series.
func (s Series) Sum() float64 {
	var total float64
	for _, v := range s {
		total += v
	}
	return total
}
