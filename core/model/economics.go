package model

import "fmt"

// Economics holds the unit prices applied to grid exchanges, per kWh.
//
// ImportPrices and ExportPrices are optional per-step overrides for
// time-of-use tariffs. When set they must match the input length and take
// precedence over the constant prices.
type Economics struct {
	ImportPrice  float64 `json:"import_price" yaml:"import_price"`
	ExportPrice  float64 `json:"export_price" yaml:"export_price"`
	ImportPrices Series  `json:"import_prices,omitempty" yaml:"import_prices,omitempty"`
	ExportPrices Series  `json:"export_prices,omitempty" yaml:"export_prices,omitempty"`
}

// DefaultEconomics returns the default flat tariff.
func DefaultEconomics() Economics {
	return Economics{ImportPrice: 0.15, ExportPrice: 0.05}
}

// Validate checks prices against a run of the given number of steps.
func (e Economics) Validate(steps int) error {
	if !finite(e.ImportPrice) || e.ImportPrice < 0 {
		return &InvalidConfigurationError{Field: "economics.import_price", Value: e.ImportPrice, Reason: "must be a finite value >= 0"}
	}
	if !finite(e.ExportPrice) || e.ExportPrice < 0 {
		return &InvalidConfigurationError{Field: "economics.export_price", Value: e.ExportPrice, Reason: "must be a finite value >= 0"}
	}
	if e.ImportPrices != nil {
		if len(e.ImportPrices) != steps {
			return &ShapeMismatchError{Field: "import_prices", Want: steps, Got: len(e.ImportPrices)}
		}
		if err := e.ImportPrices.Validate("import_prices"); err != nil {
			return err
		}
	}
	if e.ExportPrices != nil {
		if len(e.ExportPrices) != steps {
			return &ShapeMismatchError{Field: "export_prices", Want: steps, Got: len(e.ExportPrices)}
		}
		if err := e.ExportPrices.Validate("export_prices"); err != nil {
			return err
		}
	}
	return nil
}

// PricesAt returns the import and export price for step i.
func (e Economics) PricesAt(i int) (buy, sell float64) {
	buy, sell = e.ImportPrice, e.ExportPrice
	if e.ImportPrices != nil {
		buy = e.ImportPrices[i]
	}
	if e.ExportPrices != nil {
		sell = e.ExportPrices[i]
	}
	return buy, sell
}

// Advisories returns non-fatal remarks about the tariff.
func (e Economics) Advisories() []string {
	if e.ImportPrices == nil && e.ExportPrices == nil && e.ImportPrice < e.ExportPrice {
		return []string{fmt.Sprintf("import price %.4f is below export price %.4f", e.ImportPrice, e.ExportPrice)}
	}
	return nil
}

// ValidateStepHours checks the duration of one simulation step.
func ValidateStepHours(h float64) error {
	if !finite(h) || h <= 0 {
		return &InvalidConfigurationError{Field: "simulation.step_hours", Value: h, Reason: "must be a finite value > 0"}
	}
	return nil
}
