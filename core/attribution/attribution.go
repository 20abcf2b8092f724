// Package attribution reconstructs source-to-destination energy flows from a
// dispatch ledger.
package attribution

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/model"
)

// Node names used for the non-renewable ends of a flow.
const (
	NodeGrid       = "grid"
	NodeStorage    = "storage"
	NodeLoad       = "load"
	NodeGridExport = "grid_export"
)

// DefaultMateriality is the smallest total energy reported for a pair.
const DefaultMateriality = 0.01

// Options tune the attributor.
type Options struct {
	// Materiality is the total energy, in kWh over the whole ledger, a pair
	// must exceed to be reported. Zero reports every pair with a positive
	// total.
	Materiality float64
	// Workers bounds the goroutines used for the per-step apportionment.
	// Values below one mean one.
	Workers int
	// Hourly keeps the per-step energy series of every reported pair.
	Hourly bool
}

// DefaultOptions returns the default materiality and a single worker.
func DefaultOptions() Options {
	return Options{Materiality: DefaultMateriality, Workers: 1}
}

// ValidateMateriality rejects negative and non-finite thresholds.
func ValidateMateriality(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return &model.InvalidConfigurationError{Field: "attribution.materiality", Value: v, Reason: "must be finite and >= 0"}
	}
	return nil
}

// Pair identifies a flow from Source to Destination.
type Pair struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Flow is the energy carried by a pair over the whole ledger.
type Flow struct {
	Pair
	EnergyKWh float64 `json:"energy_kwh"`
}

// Flows is the result of an attribution.
type Flows struct {
	Sources []string
	// Totals holds the reported pairs in a fixed order: each source to load,
	// storage and grid_export, then grid to load, then storage to load.
	Totals []Flow
	// Hourly is only populated when Options.Hourly is set.
	Hourly map[Pair][]float64
}

// Get returns the total of a pair and whether it was reported.
func (f *Flows) Get(p Pair) (float64, bool) {
	for _, fl := range f.Totals {
		if fl.Pair == p {
			return fl.EnergyKWh, true
		}
	}
	return 0, false
}

// IntoDestination sums every reported flow into dest.
func (f *Flows) IntoDestination(dest string) float64 {
	var total float64
	for _, fl := range f.Totals {
		if fl.Destination == dest {
			total += fl.EnergyKWh
		}
	}
	return total
}

// Attributor apportions aggregate flows among renewable sources.
type Attributor struct {
	opts Options
}

// New returns an Attributor using opts.
func New(opts Options) *Attributor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Attributor{opts: opts}
}

// pairs lists the matrix columns for the given sources.
func pairs(sources []string) []Pair {
	out := make([]Pair, 0, 3*len(sources)+2)
	for _, s := range sources {
		out = append(out,
			Pair{Source: s, Destination: NodeLoad},
			Pair{Source: s, Destination: NodeStorage},
			Pair{Source: s, Destination: NodeGridExport},
		)
	}
	return append(out,
		Pair{Source: NodeGrid, Destination: NodeLoad},
		Pair{Source: NodeStorage, Destination: NodeLoad},
	)
}

// Attribute computes the per-pair totals of l. An empty ledger yields an
// empty result.
func (a *Attributor) Attribute(l *dispatch.Ledger) (*Flows, error) {
	if l == nil {
		return nil, &model.ShapeMismatchError{Field: "ledger", Want: 1, Got: 0}
	}
	if err := ValidateMateriality(a.opts.Materiality); err != nil {
		return nil, err
	}
	sources := l.Sources()
	out := &Flows{Sources: sources, Totals: []Flow{}}
	if a.opts.Hourly {
		out.Hourly = map[Pair][]float64{}
	}
	n := l.Len()
	if n == 0 {
		return out, nil
	}

	cols := pairs(sources)
	m := mat.NewDense(n, len(cols), nil)
	if err := a.fill(m, l); err != nil {
		return nil, err
	}

	col := make([]float64, n)
	for j, p := range cols {
		mat.Col(col, j, m)
		total := pairwiseSum(col)
		if total <= a.opts.Materiality {
			continue
		}
		out.Totals = append(out.Totals, Flow{Pair: p, EnergyKWh: total})
		if a.opts.Hourly {
			out.Hourly[p] = append([]float64(nil), col...)
		}
	}
	return out, nil
}

// fill writes each step's contributions into its row of m. Rows are split
// into contiguous chunks, one per worker; no two workers touch the same row.
func (a *Attributor) fill(m *mat.Dense, l *dispatch.Ledger) error {
	n := l.Len()
	workers := a.opts.Workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				apportion(m, i, l.At(i), l.StepHours())
			}
			return nil
		})
	}
	return g.Wait()
}

// apportion computes row i of m from a single ledger record.
func apportion(m *mat.Dense, i int, r dispatch.Record, hours float64) {
	k := len(r.GenerationKW)
	m.Set(i, 3*k, r.ImportKW()*hours)
	m.Set(i, 3*k+1, r.DischargeKW()*hours)

	renewable := r.RenewableKW
	if renewable <= 0 {
		return
	}
	toLoad := min(renewable, r.DemandKW)
	rest := renewable - toLoad
	toStorage := min(rest, r.ChargeKW())
	toExport := min(rest-toStorage, r.ExportKW())
	for s, g := range r.GenerationKW {
		if g == 0 {
			continue
		}
		share := g / renewable * hours
		m.Set(i, 3*s, toLoad*share)
		m.Set(i, 3*s+1, toStorage*share)
		m.Set(i, 3*s+2, toExport*share)
	}
}

// pairwiseSum adds v by recursive halving. The split points depend only on
// len(v), so the result is the same however the values were produced.
func pairwiseSum(v []float64) float64 {
	const base = 8
	if len(v) <= base {
		var s float64
		for _, x := range v {
			s += x
		}
		return s
	}
	h := len(v) / 2
	return pairwiseSum(v[:h]) + pairwiseSum(v[h:])
}

// Sorted returns the totals ordered by descending energy, ties broken by
// pair names.
func (f *Flows) Sorted() []Flow {
	out := append([]Flow(nil), f.Totals...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EnergyKWh != out[j].EnergyKWh {
			return out[i].EnergyKWh > out[j].EnergyKWh
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}
