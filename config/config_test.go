package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/model"
)

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, "config.yaml", `storage:
  capacity_kwh: 500
  max_power_kw: 100
  efficiency: 0.92
  initial_fraction: 0
economics:
  import_price: 0.2
simulation:
  name: site-a
  step_hours: 0.25
  sources: [solar, wind]
attribution:
  materiality: 0
  workers: 4
  hourly: true
kpi:
  emission_factor: 0.3
input:
  path: data/input.csv
output:
  dir: out
  format: json
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: nop
    - type: influx
      conf:
        url: http://localhost:8086
store:
  type: sqlite
  conf:
    path: runs.db
logging:
  level: debug
  format: console
sentry:
  environment: test
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: plant
api:
  addr: ":9000"
  token: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"capacity", cfg.Storage.CapacityKWh, 500.0},
		{"efficiency", cfg.Storage.Efficiency, 0.92},
		{"initial_fraction", cfg.Storage.InitialFraction, 0.0},
		{"import_price", cfg.Economics.ImportPrice, 0.2},
		{"export_price default", cfg.Economics.ExportPrice, 0.05},
		{"name", cfg.Simulation.Name, "site-a"},
		{"step_hours", cfg.Simulation.StepHours, 0.25},
		{"sources", len(cfg.Simulation.Sources), 2},
		{"materiality", cfg.Attribution.Materiality, 0.0},
		{"workers", cfg.Attribution.Workers, 4},
		{"hourly", cfg.Attribution.Hourly, true},
		{"emission_factor", cfg.KPI.EmissionFactor, 0.3},
		{"input", cfg.Input.Path, "data/input.csv"},
		{"output", cfg.Output.Format, "json"},
		{"prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"sinks", len(cfg.Metrics.Sinks), 2},
		{"sink type", cfg.Metrics.Sinks[1].Type, "influx"},
		{"sink conf", cfg.Metrics.Sinks[1].Conf["url"], "http://localhost:8086"},
		{"store", cfg.Store.Type, "sqlite"},
		{"store path", cfg.Store.Conf["path"], "runs.db"},
		{"log level", cfg.Logging.Level, "debug"},
		{"sentry env", cfg.Sentry.Environment, "test"},
		{"mqtt prefix", cfg.MQTT.TopicPrefix, "plant"},
		{"api addr", cfg.API.Addr, ":9000"},
		{"api token", cfg.API.Token, "secret"},
		{"api body default", cfg.API.MaxBodyMB, 32},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := write(t, "config.json", `{"storage": {"capacity_kwh": 10, "max_power_kw": 5}, "simulation": {"name": "json"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Storage.CapacityKWh)
	assert.Equal(t, 0.85, cfg.Storage.Efficiency)
	assert.Equal(t, 0.5, cfg.Storage.InitialFraction)
	assert.Equal(t, "json", cfg.Simulation.Name)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultStorageConfig(), cfg.Storage)
	assert.Equal(t, 1.0, cfg.Simulation.StepHours)
	assert.Equal(t, "default", cfg.Simulation.Name)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, attribution.DefaultMateriality, cfg.Attribution.Materiality)
	assert.GreaterOrEqual(t, cfg.Attribution.Workers, 1)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Metrics.Sinks)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := write(t, "config.yaml", "storage:\n  capacity_kwh: 100\n  max_power_kw: 10\n")
	t.Setenv("MG_STORAGE__CAPACITY_KWH", "250")
	t.Setenv("MG_SIMULATION__NAME", "from-env")
	t.Setenv("MG_ECONOMICS__EXPORT_PRICE", "0.07")
	t.Setenv("MG_API__TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.Storage.CapacityKWh)
	assert.Equal(t, 10.0, cfg.Storage.MaxPowerKW)
	assert.Equal(t, "from-env", cfg.Simulation.Name)
	assert.Equal(t, 0.07, cfg.Economics.ExportPrice)
	assert.Equal(t, "tok", cfg.API.Token)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]struct {
		name string
		data string
	}{
		"format":          {"config.toml", "a = 1"},
		"efficiency":      {"c.yaml", "storage:\n  efficiency: 1.5\n"},
		"negative price":  {"c.yaml", "economics:\n  import_price: -1\n"},
		"step hours":      {"c.yaml", "simulation:\n  step_hours: -0.5\n"},
		"reserved source": {"c.yaml", "simulation:\n  sources: [grid]\n"},
		"duplicate":       {"c.yaml", "simulation:\n  sources: [pv, pv]\n"},
		"materiality":     {"c.yaml", "attribution:\n  materiality: -0.1\n"},
		"materiality nan": {"c.yaml", "attribution:\n  materiality: .nan\n"},
		"reserved load":   {"c.yaml", "simulation:\n  sources: [load]\n"},
		"output format":   {"c.yaml", "output:\n  format: xml\n"},
		"log level":       {"c.yaml", "logging:\n  level: loud\n"},
		"mqtt qos":        {"c.yaml", "mqtt:\n  broker: tcp://x:1883\n  qos: 3\n"},
		"api body":        {"c.yaml", "api:\n  max_body_mb: -1\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, tc.name, tc.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_ErrorKinds(t *testing.T) {
	_, err := Load(write(t, "c.yaml", "storage:\n  max_power_kw: -1\n"))
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}
