package config

import (
	"fmt"
	"runtime"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/model"
)

// SimulationConfig controls the run itself.
type SimulationConfig struct {
	// Name labels runs in sinks and the run store.
	Name string `json:"name"`
	// StepHours is the duration of one input row.
	StepHours float64 `json:"step_hours"`
	// Sources selects the generation columns read from the input. Empty
	// means every "<name>_kw" column.
	Sources []string `json:"sources"`
}

func (c *SimulationConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.StepHours == 0 {
		c.StepHours = 1
	}
}

func (c SimulationConfig) Validate() error {
	if err := model.ValidateStepHours(c.StepHours); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if model.IsReserved(s) {
			return &model.InvalidConfigurationError{Field: "simulation.sources", Reason: fmt.Sprintf("%q is a reserved name", s)}
		}
		if seen[s] {
			return &model.InvalidConfigurationError{Field: "simulation.sources", Reason: fmt.Sprintf("duplicate source %q", s)}
		}
		seen[s] = true
	}
	return nil
}

// AttributionConfig mirrors attribution.Options.
type AttributionConfig struct {
	Materiality float64 `json:"materiality"`
	// Workers bounds the goroutines used per run. Zero means one per CPU.
	Workers int  `json:"workers"`
	Hourly  bool `json:"hourly"`
}

func DefaultAttributionConfig() AttributionConfig {
	return AttributionConfig{Materiality: attribution.DefaultMateriality}
}

func (c *AttributionConfig) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

func (c AttributionConfig) Validate() error {
	if err := attribution.ValidateMateriality(c.Materiality); err != nil {
		return err
	}
	return nil
}

// Options converts the section to attributor options.
func (c AttributionConfig) Options() attribution.Options {
	return attribution.Options{Materiality: c.Materiality, Workers: c.Workers, Hourly: c.Hourly}
}

// InputConfig locates the input series.
type InputConfig struct {
	// Path of a CSV file with demand_kw and <source>_kw columns.
	Path string `json:"path"`
}

// OutputConfig selects where result files are written.
type OutputConfig struct {
	// Dir receives ledger, flows and kpi files. Empty disables file output.
	Dir string `json:"dir"`
	// Format is "csv" or "json". KPIs are always written as JSON.
	Format string `json:"format"`
}

func (c *OutputConfig) SetDefaults() {
	if c.Format == "" {
		c.Format = "csv"
	}
}

func (c OutputConfig) Validate() error {
	switch c.Format {
	case "csv", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %s", c.Format)
	}
}

// APIConfig defines the HTTP listener of the serve command.
type APIConfig struct {
	Addr string `json:"addr"`
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every /api request.
	Token string `json:"token"`
	// MaxBodyMB bounds uploaded input files.
	MaxBodyMB int `json:"max_body_mb"`
}

func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxBodyMB == 0 {
		c.MaxBodyMB = 32
	}
}

func (c APIConfig) Validate() error {
	if c.MaxBodyMB < 0 {
		return fmt.Errorf("api: max_body_mb must be positive, got %d", c.MaxBodyMB)
	}
	return nil
}
