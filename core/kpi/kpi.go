// Package kpi derives run-level indicators from a dispatch ledger.
package kpi

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/model"
)

// DefaultEmissionFactor is the grid carbon intensity in kg CO2 per kWh.
const DefaultEmissionFactor = 0.58

// Config parameterises the indicators.
type Config struct {
	EmissionFactor float64 `json:"emission_factor"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.EmissionFactor == 0 {
		c.EmissionFactor = DefaultEmissionFactor
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if math.IsNaN(c.EmissionFactor) || math.IsInf(c.EmissionFactor, 0) || c.EmissionFactor < 0 {
		return &model.InvalidConfigurationError{Field: "kpi.emission_factor", Value: c.EmissionFactor, Reason: "must be a finite value >= 0"}
	}
	return nil
}

// Report holds the run indicators. Energies are in kWh, ratios in percent.
type Report struct {
	ConsumptionKWh float64            `json:"consumption_kwh"`
	GenerationKWh  map[string]float64 `json:"generation_kwh"`
	RenewableKWh   float64            `json:"renewable_kwh"`
	ImportKWh      float64            `json:"import_kwh"`
	ExportKWh      float64            `json:"export_kwh"`
	ChargeKWh      float64            `json:"charge_kwh"`
	DischargeKWh   float64            `json:"discharge_kwh"`

	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	NetCost      decimal.Decimal `json:"net_cost"`

	RenewablePenetration float64 `json:"renewable_penetration"`
	SelfConsumption      float64 `json:"self_consumption"`
	GridDependency       float64 `json:"grid_dependency"`
	BatteryEfficiency    float64 `json:"battery_efficiency"`
	AverageSoC           float64 `json:"average_soc"`
	FinalSoCKWh          float64 `json:"final_soc_kwh"`
	Cycles               float64 `json:"cycles"`
	CO2AvoidedTonnes     float64 `json:"co2_avoided_t"`
}

// Compute derives the indicators of l. An empty ledger yields a zero report.
func Compute(l *dispatch.Ledger, cfg Config) Report {
	rep := Report{GenerationKWh: map[string]float64{}}
	if l == nil || l.Len() == 0 {
		return rep
	}
	h := l.StepHours()
	energy := func(field string) float64 {
		return floats.Sum(l.MustColumn(field)) * h
	}

	rep.ConsumptionKWh = energy(dispatch.FieldDemand)
	for k, s := range l.Sources() {
		rep.GenerationKWh[s] = floats.Sum(l.Generation(k)) * h
	}
	rep.RenewableKWh = energy(dispatch.FieldRenewable)
	rep.ImportKWh = energy(dispatch.FieldImport)
	rep.ExportKWh = energy(dispatch.FieldExport)
	rep.ChargeKWh = energy(dispatch.FieldCharge)
	rep.DischargeKWh = energy(dispatch.FieldDischarge)

	rep.TotalCost = money(l.MustColumn(dispatch.FieldImportCost))
	rep.TotalRevenue = money(l.MustColumn(dispatch.FieldExportRevenue))
	rep.NetCost = rep.TotalCost.Sub(rep.TotalRevenue)

	rep.RenewablePenetration = percent(rep.RenewableKWh, rep.ConsumptionKWh)
	rep.SelfConsumption = percent(rep.RenewableKWh-rep.ExportKWh, rep.RenewableKWh)
	rep.GridDependency = percent(rep.ImportKWh, rep.ConsumptionKWh)
	rep.BatteryEfficiency = percent(rep.DischargeKWh, rep.ChargeKWh)

	soc := l.MustColumn(dispatch.FieldSoC)
	rep.AverageSoC = stat.Mean(l.MustColumn(dispatch.FieldSoCPercent), nil)
	rep.FinalSoCKWh = soc[len(soc)-1]
	if peak := floats.Max(soc); peak > 0 {
		rep.Cycles = rep.ChargeKWh / peak
	}
	rep.CO2AvoidedTonnes = rep.RenewableKWh * cfg.EmissionFactor / 1000
	return rep
}

// money sums per-step amounts exactly and rounds the total to cents.
func money(v []float64) decimal.Decimal {
	total := decimal.Zero
	for _, x := range v {
		total = total.Add(decimal.NewFromFloat(x))
	}
	return total.Round(2)
}

func percent(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den * 100
}
