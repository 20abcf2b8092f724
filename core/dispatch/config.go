package dispatch

import "github.com/kilianp07/microgrid/core/model"

// Config defines the parameters of a dispatch run.
type Config struct {
	Storage   model.StorageConfig
	Economics model.Economics
	// StepHours is the duration of one step. Zero means one hour.
	StepHours float64
}

// DefaultConfig returns hourly steps, the default tariff and a zero-sized
// storage device.
func DefaultConfig() Config {
	return Config{
		Storage:   model.DefaultStorageConfig(),
		Economics: model.DefaultEconomics(),
		StepHours: 1,
	}
}

func (c Config) stepHours() float64 {
	if c.StepHours == 0 {
		return 1
	}
	return c.StepHours
}

// validate checks everything that does not depend on the run length.
func (c Config) validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := model.ValidateStepHours(c.stepHours()); err != nil {
		return err
	}
	// Per-step prices are checked once the run length is known.
	flat := c.Economics
	flat.ImportPrices, flat.ExportPrices = nil, nil
	return flat.Validate(0)
}
