// Package store defines the run history: one record per completed
// simulation, queryable by time range and run name.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/kpi"
	"github.com/kilianp07/microgrid/core/model"
)

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Timestamp time.Time           `json:"timestamp"`
	Steps     int                 `json:"steps"`
	StepHours float64             `json:"step_hours"`
	Sources   []string            `json:"sources"`
	Storage   model.StorageConfig `json:"storage"`
	Economics model.Economics     `json:"economics"`
	KPIs      kpi.Report          `json:"kpis"`
	Flows     []attribution.Flow  `json:"flows"`
}

// RunQuery filters records. Zero values disable a filter. Limit keeps the
// most recent records.
type RunQuery struct {
	Start time.Time
	End   time.Time
	Name  string
	Limit int
}

// Match reports whether r passes the time and name filters.
func (q RunQuery) Match(r RunRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	return q.Name == "" || r.Name == q.Name
}

// Finish orders records by timestamp, oldest first, and applies Limit.
func (q RunQuery) Finish(recs []RunRecord) []RunRecord {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[len(recs)-q.Limit:]
	}
	return recs
}

// Store persists RunRecords and supports querying.
type Store interface {
	Append(ctx context.Context, rec RunRecord) error
	Query(ctx context.Context, q RunQuery) ([]RunRecord, error)
	Close() error
}

// NopStore keeps nothing.
type NopStore struct{}

func (NopStore) Append(context.Context, RunRecord) error              { return nil }
func (NopStore) Query(context.Context, RunQuery) ([]RunRecord, error) { return nil, nil }
func (NopStore) Close() error                                         { return nil }

var registry = factory.NewRegistry[Store]()

// RegisterStore adds a store factory identified by name.
func RegisterStore(name string, f factory.Factory[Store]) error {
	return registry.Register(name, f)
}

// Backends lists the registered store types.
func Backends() []string { return registry.Names() }

// NewStore creates a Store from its module configuration. An empty type
// disables persistence.
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" || cfg.Type == "none" {
		return NopStore{}, nil
	}
	return registry.Create(cfg)
}
