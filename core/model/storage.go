package model

import (
	"fmt"
	"math"
)

// StorageConfig describes the static parameters of the storage device.
type StorageConfig struct {
	CapacityKWh float64 `json:"capacity_kwh" yaml:"capacity_kwh"` // usable energy capacity, >= 0
	MaxPowerKW  float64 `json:"max_power_kw" yaml:"max_power_kw"` // symmetric charge/discharge limit, >= 0
	// Efficiency is the round-trip efficiency in (0,1], applied on the charge
	// path only. Discharged energy is delivered 1:1.
	Efficiency float64 `json:"efficiency" yaml:"efficiency"`
	// InitialFraction is the state of charge at the start of a run as a
	// fraction of CapacityKWh.
	InitialFraction float64 `json:"initial_fraction" yaml:"initial_fraction"`
}

// DefaultStorageConfig returns a zero-sized device with the default
// efficiency and a half-full initial state.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{Efficiency: 0.85, InitialFraction: 0.5}
}

// InitialSoCKWh returns the configured starting energy.
func (c StorageConfig) InitialSoCKWh() float64 {
	return c.CapacityKWh * c.InitialFraction
}

// Validate checks the storage parameters.
func (c StorageConfig) Validate() error {
	if !finite(c.CapacityKWh) || c.CapacityKWh < 0 {
		return &InvalidConfigurationError{Field: "storage.capacity_kwh", Value: c.CapacityKWh, Reason: "must be a finite value >= 0"}
	}
	if !finite(c.MaxPowerKW) || c.MaxPowerKW < 0 {
		return &InvalidConfigurationError{Field: "storage.max_power_kw", Value: c.MaxPowerKW, Reason: "must be a finite value >= 0"}
	}
	if math.IsNaN(c.Efficiency) || c.Efficiency <= 0 || c.Efficiency > 1 {
		return &InvalidConfigurationError{Field: "storage.efficiency", Value: c.Efficiency, Reason: "must be in (0, 1]"}
	}
	if math.IsNaN(c.InitialFraction) || c.InitialFraction < 0 || c.InitialFraction > 1 {
		return &InvalidConfigurationError{Field: "storage.initial_fraction", Value: c.InitialFraction, Reason: "must be in [0, 1]"}
	}
	return nil
}

// Advisories returns non-fatal remarks about the sizing of the device.
func (c StorageConfig) Advisories() []string {
	if c.CapacityKWh <= 0 || c.MaxPowerKW <= 0 {
		return nil
	}
	rate := c.MaxPowerKW / c.CapacityKWh
	switch {
	case rate > 2:
		return []string{fmt.Sprintf("storage C-rate %.2f is above 2, power is high relative to capacity", rate)}
	case rate < 0.1:
		return []string{fmt.Sprintf("storage C-rate %.2f is below 0.1, the device may not regulate effectively", rate)}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
