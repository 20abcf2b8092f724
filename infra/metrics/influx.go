package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/microgrid/core/dispatch"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/infra/logger"
)

// InfluxConfig holds the connection settings of an InfluxSink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Ledger enables one point per simulated step.
	Ledger bool `json:"ledger"`
	// BatchSize bounds the number of points sent per write request.
	BatchSize int `json:"batch_size"`
}

// InfluxSink writes run summaries and ledgers to an InfluxDB instance using
// the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	ledger   bool
	batch    int
	now      func() time.Time
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5000
	}
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
		ledger:   cfg.Ledger,
		batch:    batch,
		now:      time.Now,
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordRun writes the run summary and one point per reported flow.
func (s *InfluxSink) RecordRun(r coremetrics.RunReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	k := r.KPIs
	ts := r.Time
	if ts.IsZero() {
		ts = s.now()
	}
	points := []*write.Point{
		write.NewPointWithMeasurement("microgrid_run").
			AddTag("run_id", r.RunID).
			AddTag("name", r.Name).
			AddField("steps", r.Steps).
			AddField("consumption_kwh", round3(k.ConsumptionKWh)).
			AddField("renewable_kwh", round3(k.RenewableKWh)).
			AddField("import_kwh", round3(k.ImportKWh)).
			AddField("export_kwh", round3(k.ExportKWh)).
			AddField("charge_kwh", round3(k.ChargeKWh)).
			AddField("discharge_kwh", round3(k.DischargeKWh)).
			AddField("total_cost", k.TotalCost.InexactFloat64()).
			AddField("total_revenue", k.TotalRevenue.InexactFloat64()).
			AddField("net_cost", k.NetCost.InexactFloat64()).
			AddField("renewable_penetration", round3(k.RenewablePenetration)).
			AddField("self_consumption", round3(k.SelfConsumption)).
			AddField("grid_dependency", round3(k.GridDependency)).
			AddField("co2_avoided_t", round3(k.CO2AvoidedTonnes)).
			AddField("duration_ms", r.Duration.Milliseconds()).
			SetTime(ts),
	}
	for _, f := range r.Flows {
		points = append(points, write.NewPointWithMeasurement("microgrid_flow").
			AddTag("run_id", r.RunID).
			AddTag("name", r.Name).
			AddTag("source", f.Source).
			AddTag("destination", f.Destination).
			AddField("energy_kwh", round3(f.EnergyKWh)).
			SetTime(ts))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordLedger writes one point per step when ledger export is enabled.
// Steps without a timestamp are placed StepHours apart from the current time.
func (s *InfluxSink) RecordLedger(runID string, l *dispatch.Ledger) error {
	if !s.ledger || l == nil || l.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fields := l.Fields()
	cols := make([][]float64, len(fields))
	for j, f := range fields {
		col, err := l.Column(f)
		if err != nil {
			return err
		}
		cols[j] = col
	}
	ts := l.Timestamps()
	base := s.now().Truncate(time.Second)
	step := time.Duration(l.StepHours() * float64(time.Hour))

	batch := make([]*write.Point, 0, min(s.batch, l.Len()))
	for i := 0; i < l.Len(); i++ {
		at := base.Add(time.Duration(i) * step)
		if ts != nil {
			at = ts[i]
		}
		p := write.NewPointWithMeasurement("microgrid_step").
			AddTag("run_id", runID).
			AddTag("outcome", l.At(i).Outcome.Kind().String()).
			AddField("step", i).
			SetTime(at)
		for j, f := range fields {
			p.AddField(f, round3(cols[j][i]))
		}
		batch = append(batch, p)
		if len(batch) == s.batch {
			if err := s.writeAPI.WritePoint(ctx, batch...); err != nil {
				return fmt.Errorf("write ledger: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.writeAPI.WritePoint(ctx, batch...); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
	}
	return nil
}

// RecordFailure records a rejected run.
func (s *InfluxSink) RecordFailure(ev coremetrics.FailureEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("microgrid_run_failure").
		AddTag("name", ev.Name).
		AddTag("kind", ev.Kind).
		AddField("error", ev.Err).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
