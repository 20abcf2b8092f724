package metrics

import (
	"errors"

	"github.com/kilianp07/microgrid/core/dispatch"
)

// MultiSink fans records out to several sinks. A failing sink does not stop
// the others; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRun forwards the report to all sinks.
func (m *MultiSink) RecordRun(r RunReport) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordRun(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordLedger forwards the ledger to sinks implementing LedgerRecorder.
func (m *MultiSink) RecordLedger(runID string, l *dispatch.Ledger) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(LedgerRecorder); ok {
			if err := rec.RecordLedger(runID, l); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordFailure forwards the event to sinks implementing FailureRecorder.
func (m *MultiSink) RecordFailure(ev FailureEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(FailureRecorder); ok {
			if err := rec.RecordFailure(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink implementing io.Closer.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
