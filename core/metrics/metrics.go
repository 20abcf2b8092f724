package metrics

import (
	"time"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/kpi"
)

// RunReport summarises a completed simulation run.
type RunReport struct {
	RunID     string             `json:"run_id"`
	Name      string             `json:"name"`
	Time      time.Time          `json:"time"`
	Steps     int                `json:"steps"`
	StepHours float64            `json:"step_hours"`
	KPIs      kpi.Report         `json:"kpis"`
	Flows     []attribution.Flow `json:"flows"`
	Duration  time.Duration      `json:"duration"`
}

// MetricsSink records run summaries for observability purposes.
type MetricsSink interface {
	RecordRun(r RunReport) error
}

// LedgerRecorder records the per-step ledger of a run.
type LedgerRecorder interface {
	RecordLedger(runID string, l *dispatch.Ledger) error
}

// FailureEvent describes a run rejected before any step executed.
type FailureEvent struct {
	Name string
	Kind string
	Err  string
	Time time.Time
}

// FailureRecorder records failed runs.
type FailureRecorder interface {
	RecordFailure(ev FailureEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRun(RunReport) error                   { return nil }
func (NopSink) RecordLedger(string, *dispatch.Ledger) error { return nil }
func (NopSink) RecordFailure(FailureEvent) error            { return nil }
