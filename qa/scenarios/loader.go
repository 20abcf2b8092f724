// Package scenarios loads YAML simulation scenarios with expected results
// and checks them against the dispatch engine.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/core/profile"
)

type ProfileDef struct {
	Pattern   string  `yaml:"pattern"`
	AnnualKWh float64 `yaml:"annual_kwh"`
}

type SourceDef struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

// InputDef describes the series of a scenario. When Steps is set, explicit
// values are repeated cyclically up to Steps.
type InputDef struct {
	Steps         int         `yaml:"steps,omitempty"`
	Demand        []float64   `yaml:"demand,omitempty"`
	DemandProfile *ProfileDef `yaml:"demand_profile,omitempty"`
	Sources       []SourceDef `yaml:"sources"`
}

type FlowDef struct {
	Source      string  `yaml:"source"`
	Destination string  `yaml:"destination"`
	EnergyKWh   float64 `yaml:"energy_kwh"`
}

// Expected lists the checks of a scenario. Unset fields are not checked.
type Expected struct {
	// Error is the expected error kind, e.g. "shape_mismatch".
	Error        string    `yaml:"error,omitempty"`
	FinalSoCKWh  *float64  `yaml:"final_soc_kwh,omitempty"`
	MinSoCKWh    *float64  `yaml:"min_soc_kwh,omitempty"`
	MaxSoCKWh    *float64  `yaml:"max_soc_kwh,omitempty"`
	ImportKWh    *float64  `yaml:"import_kwh,omitempty"`
	ExportKWh    *float64  `yaml:"export_kwh,omitempty"`
	ChargeKWh    *float64  `yaml:"charge_kwh,omitempty"`
	DischargeKWh *float64  `yaml:"discharge_kwh,omitempty"`
	NetCost      *float64  `yaml:"net_cost,omitempty"`
	Flows        []FlowDef `yaml:"flows,omitempty"`
	// Absent lists flows that must not be reported.
	Absent    []FlowDef `yaml:"absent,omitempty"`
	Tolerance float64   `yaml:"tolerance,omitempty"`
}

type Scenario struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	StepHours   float64             `yaml:"step_hours,omitempty"`
	Storage     model.StorageConfig `yaml:"storage"`
	Economics   model.Economics     `yaml:"economics"`
	Inputs      InputDef            `yaml:"inputs"`
	Expected    Expected            `yaml:"expected"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}

// BuildInputs materialises the scenario series.
func (sc *Scenario) BuildInputs() (model.Inputs, error) {
	def := sc.Inputs
	var in model.Inputs
	switch {
	case def.DemandProfile != nil:
		steps := def.Steps
		if steps == 0 {
			steps = profile.HoursPerYear
		}
		d, err := profile.Annual(def.DemandProfile.Pattern, def.DemandProfile.AnnualKWh, steps)
		if err != nil {
			return model.Inputs{}, err
		}
		in.Demand = d
	default:
		in.Demand = repeat(def.Demand, def.Steps)
	}
	for _, s := range def.Sources {
		in.Sources = append(in.Sources, model.SourceSeries{Name: s.Name, Values: repeat(s.Values, def.Steps)})
	}
	return in, nil
}

func repeat(v []float64, steps int) model.Series {
	if steps <= 0 || len(v) == 0 || len(v) == steps {
		return model.Series(v)
	}
	out := make(model.Series, steps)
	for i := range out {
		out[i] = v[i%len(v)]
	}
	return out
}
