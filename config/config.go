// Package config loads the microgrid configuration from a YAML or JSON file
// with MG_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/kpi"
	"github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/infra/monitoring"
	"github.com/kilianp07/microgrid/infra/mqtt"
)

// EnvPrefix marks environment variables that override file values. Nested
// keys are separated by a double underscore, e.g. MG_STORAGE__CAPACITY_KWH.
const EnvPrefix = "MG_"

type Config struct {
	Storage     model.StorageConfig  `json:"storage"`
	Economics   model.Economics      `json:"economics"`
	Simulation  SimulationConfig     `json:"simulation"`
	Attribution AttributionConfig    `json:"attribution"`
	KPI         kpi.Config           `json:"kpi"`
	Input       InputConfig          `json:"input"`
	Output      OutputConfig         `json:"output"`
	Metrics     metrics.Config       `json:"metrics"`
	Store       factory.ModuleConfig `json:"store"`
	Logging     logger.Config        `json:"logging"`
	Sentry      monitoring.Config    `json:"sentry"`
	// MQTT enables the results publisher when a broker is set.
	MQTT mqtt.Config `json:"mqtt"`
	API  APIConfig   `json:"api"`
}

// Default returns the configuration used for every key absent from the file
// and the environment.
func Default() Config {
	cfg := Config{
		Storage:     model.DefaultStorageConfig(),
		Economics:   model.DefaultEconomics(),
		Simulation:  SimulationConfig{StepHours: 1},
		Attribution: DefaultAttributionConfig(),
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills derived and empty fields.
func (c *Config) SetDefaults() {
	c.Simulation.SetDefaults()
	c.Attribution.SetDefaults()
	c.KPI.SetDefaults()
	c.Output.SetDefaults()
	c.Logging.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	flat := c.Economics
	flat.ImportPrices, flat.ExportPrices = nil, nil
	if err := flat.Validate(0); err != nil {
		return err
	}
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if err := c.Attribution.Validate(); err != nil {
		return err
	}
	if err := c.KPI.Validate(); err != nil {
		return err
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
