package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/microgrid/core/dispatch"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
)

// PromSink exposes run results as Prometheus metrics.
type PromSink struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	energy     *prometheus.GaugeVec
	indicators *prometheus.GaugeVec
	money      *prometheus.GaugeVec
	flows      *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
	soc        prometheus.Histogram
}

// NewPromSink registers the simulation metrics on the default registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_runs_total",
			Help: "Number of completed simulation runs",
		}, []string{"name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microgrid_run_failures_total",
			Help: "Number of simulation runs rejected before execution",
		}, []string{"kind"}),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microgrid_energy_kwh",
			Help: "Energy totals of the last run",
		}, []string{"name", "quantity"}),
		indicators: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microgrid_indicator_percent",
			Help: "Performance ratios of the last run",
		}, []string{"name", "indicator"}),
		money: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microgrid_grid_money",
			Help: "Grid cost, revenue and net cost of the last run",
		}, []string{"name", "component"}),
		flows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microgrid_flow_kwh",
			Help: "Attributed energy per source and destination of the last run",
		}, []string{"name", "source", "destination"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microgrid_run_duration_seconds",
			Help:    "Wall time of a simulation run",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
		soc: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "microgrid_soc_percent",
			Help:    "Distribution of the storage state of charge over all recorded steps",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
	}
	var err error
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	if s.failures, err = register(reg, s.failures); err != nil {
		return nil, err
	}
	if s.energy, err = register(reg, s.energy); err != nil {
		return nil, err
	}
	if s.indicators, err = register(reg, s.indicators); err != nil {
		return nil, err
	}
	if s.money, err = register(reg, s.money); err != nil {
		return nil, err
	}
	if s.flows, err = register(reg, s.flows); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.soc, err = register(reg, s.soc); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRun updates the gauges of the run name and counts the run.
func (s *PromSink) RecordRun(r coremetrics.RunReport) error {
	k := r.KPIs
	s.runs.WithLabelValues(r.Name).Inc()
	s.duration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())

	for q, v := range map[string]float64{
		"consumption": k.ConsumptionKWh,
		"renewable":   k.RenewableKWh,
		"import":      k.ImportKWh,
		"export":      k.ExportKWh,
		"charge":      k.ChargeKWh,
		"discharge":   k.DischargeKWh,
	} {
		s.energy.WithLabelValues(r.Name, q).Set(v)
	}
	for ind, v := range map[string]float64{
		"renewable_penetration": k.RenewablePenetration,
		"self_consumption":      k.SelfConsumption,
		"grid_dependency":       k.GridDependency,
		"battery_efficiency":    k.BatteryEfficiency,
		"average_soc":           k.AverageSoC,
	} {
		s.indicators.WithLabelValues(r.Name, ind).Set(v)
	}
	s.money.WithLabelValues(r.Name, "cost").Set(k.TotalCost.InexactFloat64())
	s.money.WithLabelValues(r.Name, "revenue").Set(k.TotalRevenue.InexactFloat64())
	s.money.WithLabelValues(r.Name, "net").Set(k.NetCost.InexactFloat64())

	s.flows.DeletePartialMatch(prometheus.Labels{"name": r.Name})
	for _, f := range r.Flows {
		s.flows.WithLabelValues(r.Name, f.Source, f.Destination).Set(f.EnergyKWh)
	}
	return nil
}

// RecordLedger observes the state of charge of every step.
func (s *PromSink) RecordLedger(_ string, l *dispatch.Ledger) error {
	if l == nil {
		return nil
	}
	soc, err := l.Column(dispatch.FieldSoCPercent)
	if err != nil {
		return err
	}
	for _, v := range soc {
		s.soc.Observe(v)
	}
	return nil
}

// RecordFailure counts a rejected run by error kind.
func (s *PromSink) RecordFailure(ev coremetrics.FailureEvent) error {
	s.failures.WithLabelValues(ev.Kind).Inc()
	return nil
}
