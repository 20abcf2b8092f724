// Package app wires the dispatch engine, the flow attributor and the result
// sinks into a simulation service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/microgrid/config"
	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/kpi"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
	corestore "github.com/kilianp07/microgrid/core/store"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/infra/metrics"
	"github.com/kilianp07/microgrid/infra/mqtt"
	_ "github.com/kilianp07/microgrid/infra/store"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

// Result is the outcome of a successful simulation.
type Result struct {
	RunID    string
	Name     string
	Ledger   *dispatch.Ledger
	Flows    *attribution.Flows
	KPIs     kpi.Report
	Duration time.Duration
}

// Service runs simulations and forwards their results to the configured
// sinks and run store. It is safe for concurrent use.
type Service struct {
	engine     *dispatch.Engine
	attributor *attribution.Attributor
	kpi        kpi.Config
	storage    model.StorageConfig
	economics  model.Economics
	sink       coremetrics.MetricsSink
	store      corestore.Store
	log        logger.Logger
	bus        *eventbus.Bus[RunEvent]
	now        func() time.Time
	promAddr   string
}

// Option customises a Service.
type Option func(*Service)

// WithSink replaces the sinks built from the configuration.
func WithSink(s coremetrics.MetricsSink) Option { return func(svc *Service) { svc.sink = s } }

// WithStore replaces the run store built from the configuration.
func WithStore(s corestore.Store) Option { return func(svc *Service) { svc.store = s } }

// WithLogger replaces the service logger.
func WithLogger(l logger.Logger) Option { return func(svc *Service) { svc.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	engine, err := dispatch.NewEngine(dispatch.Config{
		Storage:   cfg.Storage,
		Economics: cfg.Economics,
		StepHours: cfg.Simulation.StepHours,
	}, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}
	svc := &Service{
		engine:     engine,
		attributor: attribution.New(cfg.Attribution.Options()),
		kpi:        cfg.KPI,
		storage:    cfg.Storage,
		economics:  cfg.Economics,
		bus:        eventbus.New[RunEvent](0),
		now:        time.Now,
		promAddr:   cfg.Metrics.PrometheusAddr,
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.log == nil {
		svc.log = logger.New("service")
	}
	if svc.sink == nil {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, err
		}
		svc.sink = sink
	}
	if svc.store == nil {
		st, err := corestore.NewStore(cfg.Store)
		if err != nil {
			_ = closeSink(svc.sink)
			return nil, fmt.Errorf("run store: %w", err)
		}
		svc.store = st
	}
	for _, a := range append(cfg.Storage.Advisories(), cfg.Economics.Advisories()...) {
		svc.log.Warnf("configuration advisory: %s", a)
	}
	return svc, nil
}

func newSink(cfg *config.Config) (coremetrics.MetricsSink, error) {
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	if cfg.MQTT.Broker == "" {
		return sink, nil
	}
	pub, err := mqtt.NewPublisher(cfg.MQTT)
	if err != nil {
		_ = closeSink(sink)
		return nil, fmt.Errorf("mqtt publisher: %w", err)
	}
	return coremetrics.NewMultiSink(sink, pub), nil
}

// Events subscribes to run lifecycle events. The channel is closed by Close
// or Unsubscribe.
func (s *Service) Events() <-chan RunEvent { return s.bus.Subscribe() }

// Unsubscribe stops delivery to ch.
func (s *Service) Unsubscribe(ch <-chan RunEvent) { s.bus.Unsubscribe(ch) }

// Simulate runs dispatch, attribution and KPIs over in, then records the
// result. Sink and store failures are logged and reported but do not fail
// the run.
func (s *Service) Simulate(ctx context.Context, name string, in model.Inputs) (*Result, error) {
	runID := uuid.NewString()
	start := s.now()
	s.bus.Publish(RunEvent{State: RunStarted, RunID: runID, Name: name, Time: start})

	ledger, err := s.engine.Run(in)
	if err != nil {
		return nil, s.fail(runID, name, fmt.Errorf("dispatch: %w", err))
	}
	flows, err := s.attributor.Attribute(ledger)
	if err != nil {
		return nil, s.fail(runID, name, fmt.Errorf("attribution: %w", err))
	}
	rep := kpi.Compute(ledger, s.kpi)
	res := &Result{
		RunID:    runID,
		Name:     name,
		Ledger:   ledger,
		Flows:    flows,
		KPIs:     rep,
		Duration: s.now().Sub(start),
	}
	s.log.Infof("run %s (%s): %d steps, import %.2f kWh, export %.2f kWh, net cost %s",
		name, runID, ledger.Len(), rep.ImportKWh, rep.ExportKWh, rep.NetCost.StringFixed(2))

	s.record(ctx, res, start)
	s.bus.Publish(RunEvent{State: RunCompleted, RunID: runID, Name: name, Time: s.now()})
	return res, nil
}

func (s *Service) record(ctx context.Context, res *Result, start time.Time) {
	report := coremetrics.RunReport{
		RunID:     res.RunID,
		Name:      res.Name,
		Time:      start,
		Steps:     res.Ledger.Len(),
		StepHours: res.Ledger.StepHours(),
		KPIs:      res.KPIs,
		Flows:     res.Flows.Totals,
		Duration:  res.Duration,
	}
	if err := s.sink.RecordRun(report); err != nil {
		s.report(err, "metrics", res.Name)
	}
	if lr, ok := s.sink.(coremetrics.LedgerRecorder); ok {
		if err := lr.RecordLedger(res.RunID, res.Ledger); err != nil {
			s.report(err, "metrics", res.Name)
		}
	}
	rec := corestore.RunRecord{
		ID:        res.RunID,
		Name:      res.Name,
		Timestamp: start,
		Steps:     res.Ledger.Len(),
		StepHours: res.Ledger.StepHours(),
		Sources:   res.Ledger.Sources(),
		Storage:   s.storage,
		Economics: s.economics,
		KPIs:      res.KPIs,
		Flows:     res.Flows.Totals,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.report(err, "store", res.Name)
	}
}

func (s *Service) report(err error, module, run string) {
	s.log.Errorf("%s: %v", module, err)
	coremon.CaptureException(err, map[string]string{"module": module, "run": run})
}

func (s *Service) fail(runID, name string, err error) error {
	kind := model.ErrorKind(err)
	s.log.Errorf("run %s rejected (%s): %v", name, kind, err)
	if fr, ok := s.sink.(coremetrics.FailureRecorder); ok {
		if rerr := fr.RecordFailure(coremetrics.FailureEvent{Name: name, Kind: kind, Err: err.Error(), Time: s.now()}); rerr != nil {
			s.log.Errorf("metrics: %v", rerr)
		}
	}
	coremon.CaptureRunError(err, name)
	s.bus.Publish(RunEvent{State: RunFailed, RunID: runID, Name: name, Time: s.now(), Err: err})
	return err
}

// History queries the run store.
func (s *Service) History(ctx context.Context, q corestore.RunQuery) ([]corestore.RunRecord, error) {
	return s.store.Query(ctx, q)
}

// ServeMetrics exposes the Prometheus endpoint until ctx is canceled. It
// returns immediately when no address is configured.
func (s *Service) ServeMetrics(ctx context.Context) error {
	if s.promAddr == "" {
		return nil
	}
	return metrics.StartPromServer(ctx, s.promAddr)
}

// Close flushes and releases the sinks and the store.
func (s *Service) Close() error {
	s.bus.Close()
	return errors.Join(closeSink(s.sink), s.store.Close())
}

func closeSink(sink coremetrics.MetricsSink) error {
	if c, ok := sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
