package dispatch

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/model"
)

const tol = 1e-9

func single(demand, gen float64) model.Inputs {
	return model.Inputs{
		Demand:  model.Series{demand},
		Sources: []model.SourceSeries{{Name: "solar", Values: model.Series{gen}}},
	}
}

// Grid-only system: the whole deficit is imported and billed.
func TestRun_GridOnlyDeficit(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{CapacityKWh: 0, MaxPowerKW: 0, Efficiency: 1},
		Economics: model.Economics{ImportPrice: 0.1},
	}
	l, err := Run(single(100, 0), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	r := l.At(0)
	assert.Equal(t, KindDeficit, r.Outcome.Kind())
	assert.InDelta(t, 100, r.ImportKW(), tol)
	assert.InDelta(t, 10, r.ImportCost, tol)
	assert.Zero(t, r.ExportKW())
	assert.Zero(t, r.DischargeKW())
	assert.Zero(t, r.SoCKWh)
	assert.Zero(t, r.SoCPercent)
}

// Surplus is absorbed by storage with the charge-side efficiency applied.
func TestRun_SurplusChargesWithEfficiency(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{CapacityKWh: 100, MaxPowerKW: 100, Efficiency: 0.9, InitialFraction: 0},
		Economics: model.DefaultEconomics(),
	}
	l, err := Run(single(50, 80), cfg)
	require.NoError(t, err)
	r := l.At(0)
	assert.InDelta(t, -30, r.NetLoadKW, tol)
	assert.InDelta(t, 30, r.ChargeKW(), tol)
	assert.InDelta(t, 27, r.SoCKWh, tol)
	assert.InDelta(t, 27, r.SoCPercent, tol)
	assert.Zero(t, r.ExportKW())
	assert.Zero(t, r.ExportRevenue)
}

// An idle system keeps its state of charge without drift.
func TestRun_IdleNoDrift(t *testing.T) {
	in := model.Inputs{
		Demand:  make(model.Series, 24),
		Sources: []model.SourceSeries{{Name: "solar", Values: make(model.Series, 24)}},
	}
	cfg := Config{Storage: model.StorageConfig{CapacityKWh: 10, MaxPowerKW: 5, Efficiency: 0.85, InitialFraction: 0.5}}
	l, err := Run(in, cfg)
	require.NoError(t, err)
	for i := 0; i < l.Len(); i++ {
		if got := l.At(i).SoCKWh; got != 5 {
			t.Fatalf("step %d: expected soc 5 got %v", i, got)
		}
	}
}

func TestRun_DeficitDrawsStorageFirst(t *testing.T) {
	cfg := Config{Storage: model.StorageConfig{CapacityKWh: 20, MaxPowerKW: 8, Efficiency: 1, InitialFraction: 0.5}}
	in := model.Inputs{
		Demand:  model.Series{15, 15, 15},
		Sources: []model.SourceSeries{{Name: "wind", Values: model.Series{5, 5, 5}}},
	}
	l, err := Run(in, cfg)
	require.NoError(t, err)

	// power limited: 8 of 10 from storage, 2 imported
	assert.InDelta(t, 8, l.At(0).DischargeKW(), tol)
	assert.InDelta(t, 2, l.At(0).ImportKW(), tol)
	assert.InDelta(t, 2, l.At(0).SoCKWh, tol)
	// energy limited: only 2 kWh left
	assert.InDelta(t, 2, l.At(1).DischargeKW(), tol)
	assert.InDelta(t, 8, l.At(1).ImportKW(), tol)
	assert.Zero(t, l.At(1).SoCKWh)
	// empty
	assert.Zero(t, l.At(2).DischargeKW())
	assert.InDelta(t, 10, l.At(2).ImportKW(), tol)
}

func TestRun_FullStorageExports(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{CapacityKWh: 10, MaxPowerKW: 50, Efficiency: 0.8, InitialFraction: 0.9},
		Economics: model.Economics{ImportPrice: 0.2, ExportPrice: 0.05},
	}
	l, err := Run(single(0, 20), cfg)
	require.NoError(t, err)
	r := l.At(0)
	// headroom 1 kWh needs 1.25 kW of surplus at 80% efficiency
	assert.InDelta(t, 1.25, r.ChargeKW(), tol)
	assert.Equal(t, 10.0, r.SoCKWh)
	assert.InDelta(t, 18.75, r.ExportKW(), tol)
	assert.InDelta(t, 18.75*0.05, r.ExportRevenue, tol)
	assert.InDelta(t, -18.75*0.05, r.NetCost(), tol)
}

func TestRun_ZeroNetLoadIsSurplus(t *testing.T) {
	l, err := Run(single(40, 40), DefaultConfig())
	require.NoError(t, err)
	r := l.At(0)
	assert.Equal(t, KindSurplus, r.Outcome.Kind())
	assert.Zero(t, r.ChargeKW())
	assert.Zero(t, r.ExportKW())
}

func TestRun_FractionalSteps(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{CapacityKWh: 10, MaxPowerKW: 20, Efficiency: 1, InitialFraction: 0.5},
		Economics: model.Economics{ImportPrice: 1},
		StepHours: 0.25,
	}
	l, err := Run(single(30, 0), cfg)
	require.NoError(t, err)
	r := l.At(0)
	// 20 kW for 15 minutes draws 5 kWh
	assert.InDelta(t, 20, r.DischargeKW(), tol)
	assert.InDelta(t, 10, r.ImportKW(), tol)
	assert.InDelta(t, 0, r.SoCKWh, tol)
	assert.InDelta(t, 2.5, r.ImportCost, tol)
	assert.Equal(t, 0.25, l.StepHours())
}

func TestRun_TimeOfUsePrices(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{Efficiency: 1},
		Economics: model.Economics{ImportPrice: 1, ImportPrices: model.Series{0.1, 0.3}},
	}
	in := model.Inputs{Demand: model.Series{10, 10}}
	l, err := Run(in, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 1, l.At(0).ImportCost, tol)
	assert.InDelta(t, 3, l.At(1).ImportCost, tol)

	cfg.Economics.ImportPrices = model.Series{0.1}
	_, err = Run(in, cfg)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestRun_Errors(t *testing.T) {
	good := Config{Storage: model.StorageConfig{CapacityKWh: 10, MaxPowerKW: 5, Efficiency: 0.9}}
	cases := []struct {
		name string
		in   model.Inputs
		cfg  Config
		want error
	}{
		{"empty", model.Inputs{}, good, model.ErrShapeMismatch},
		{"length", model.Inputs{Demand: model.Series{1, 2}, Sources: []model.SourceSeries{{Name: "pv", Values: model.Series{1}}}}, good, model.ErrShapeMismatch},
		{"negative", model.Inputs{Demand: model.Series{1, -2}}, good, model.ErrInvalidInput},
		{"nan", model.Inputs{Demand: model.Series{math.NaN()}}, good, model.ErrInvalidInput},
		{"capacity", single(1, 1), Config{Storage: model.StorageConfig{CapacityKWh: -1, Efficiency: 1}}, model.ErrInvalidConfiguration},
		{"power", single(1, 1), Config{Storage: model.StorageConfig{MaxPowerKW: -1, Efficiency: 1}}, model.ErrInvalidConfiguration},
		{"efficiency", single(1, 1), Config{Storage: model.StorageConfig{Efficiency: 1.2}}, model.ErrInvalidConfiguration},
		{"step", single(1, 1), Config{Storage: model.StorageConfig{Efficiency: 1}, StepHours: -1}, model.ErrInvalidConfiguration},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, err := Run(c.in, c.cfg)
			assert.Nil(t, l)
			assert.True(t, errors.Is(err, c.want), "got %v", err)
		})
	}
}

func TestRun_InvalidInputCarriesStep(t *testing.T) {
	in := model.Inputs{
		Demand:  model.Series{1, 2, 3},
		Sources: []model.SourceSeries{{Name: "wind", Values: model.Series{0, 0, -4}}},
	}
	_, err := Run(in, DefaultConfig())
	var ie *model.InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "wind", ie.Field)
	assert.Equal(t, 2, ie.Step)
}

func randomInputs(seed int64, n int) model.Inputs {
	rng := rand.New(rand.NewSource(seed))
	in := model.Inputs{
		Demand: make(model.Series, n),
		Sources: []model.SourceSeries{
			{Name: "solar", Values: make(model.Series, n)},
			{Name: "wind", Values: make(model.Series, n)},
		},
	}
	for i := 0; i < n; i++ {
		in.Demand[i] = 40 + 60*rng.Float64()
		if h := i % 24; h >= 6 && h <= 18 {
			in.Sources[0].Values[i] = 120 * rng.Float64()
		}
		in.Sources[1].Values[i] = 50 * rng.Float64()
	}
	return in
}

func TestRun_Invariants(t *testing.T) {
	cfg := Config{
		Storage:   model.StorageConfig{CapacityKWh: 200, MaxPowerKW: 40, Efficiency: 0.85, InitialFraction: 0.5},
		Economics: model.DefaultEconomics(),
		StepHours: 1,
	}
	in := randomInputs(7, 24*30)
	l, err := Run(in, cfg)
	require.NoError(t, err)
	require.Equal(t, in.Len(), l.Len())

	prev := cfg.Storage.InitialSoCKWh()
	for i := 0; i < l.Len(); i++ {
		r := l.At(i)
		if r.SoCKWh < 0 || r.SoCKWh > cfg.Storage.CapacityKWh {
			t.Fatalf("step %d: soc %v out of bounds", i, r.SoCKWh)
		}
		if r.ChargeKW() > cfg.Storage.MaxPowerKW || r.DischargeKW() > cfg.Storage.MaxPowerKW {
			t.Fatalf("step %d: power limit exceeded", i)
		}
		assert.Zero(t, r.ChargeKW()*r.DischargeKW(), "step %d", i)
		assert.Zero(t, r.ImportKW()*r.ExportKW(), "step %d", i)

		supply := r.RenewableKW + r.DischargeKW() + r.ImportKW() - r.ChargeKW() - r.ExportKW()
		assert.InDelta(t, r.DemandKW, supply, 1e-9, "conservation at step %d", i)

		delta := (r.ChargeKW()*cfg.Storage.Efficiency - r.DischargeKW()) * cfg.StepHours
		assert.InDelta(t, prev+delta, r.SoCKWh, 1e-9, "soc balance at step %d", i)
		prev = r.SoCKWh
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := Config{Storage: model.StorageConfig{CapacityKWh: 150, MaxPowerKW: 30, Efficiency: 0.9, InitialFraction: 0.2}}
	in := randomInputs(11, 500)
	a, err := Run(in, cfg)
	require.NoError(t, err)
	b, err := Run(in, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Records(), b.Records())
}

func TestEngine_SharedAcrossRuns(t *testing.T) {
	e, err := NewEngine(Config{Storage: model.StorageConfig{CapacityKWh: 10, MaxPowerKW: 10, Efficiency: 1, InitialFraction: 1}}, nil)
	require.NoError(t, err)
	first, err := e.Run(single(4, 0))
	require.NoError(t, err)
	second, err := e.Run(single(4, 0))
	require.NoError(t, err)
	assert.InDelta(t, 6, first.At(0).SoCKWh, tol)
	assert.InDelta(t, 6, second.At(0).SoCKWh, tol)
}

func TestLedger_Columns(t *testing.T) {
	ts := []time.Time{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 1, 1, 1, 0, 0, 0, time.UTC)}
	in := model.Inputs{
		Demand:     model.Series{10, 1},
		Sources:    []model.SourceSeries{{Name: "solar", Values: model.Series{2, 6}}, {Name: "wind", Values: model.Series{3, 0}}},
		Timestamps: ts,
	}
	l, err := Run(in, Config{Storage: model.StorageConfig{Efficiency: 1}, Economics: model.Economics{ImportPrice: 1, ExportPrice: 0.5}})
	require.NoError(t, err)

	assert.Equal(t, []string{"solar", "wind"}, l.Sources())
	assert.Equal(t, ts, l.Timestamps())
	assert.Contains(t, l.Fields(), "wind_kw")

	wind, err := l.Column("wind_kw")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 0}, wind)
	assert.Equal(t, []float64{2, 6}, l.Generation(0))
	assert.Equal(t, []float64{5, 0}, l.MustColumn(FieldImport))
	assert.Equal(t, []float64{0, 5}, l.MustColumn(FieldExport))
	assert.Equal(t, []float64{5, -2.5}, l.MustColumn(FieldNetCost))

	for _, f := range l.Fields() {
		col, err := l.Column(f)
		require.NoError(t, err, f)
		assert.Len(t, col, 2)
	}
	_, err = l.Column("missing")
	assert.Error(t, err)
}

func TestLedger_ZeroFirstTimestamp(t *testing.T) {
	ts := []time.Time{{}, time.Unix(3600, 0).UTC()}
	in := model.Inputs{Demand: model.Series{1, 1}, Timestamps: ts}
	l, err := Run(in, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, ts, l.Timestamps())
}

func TestRun_ReservedSourceRejectedBeforeLoop(t *testing.T) {
	in := model.Inputs{Demand: model.Series{1}, Sources: []model.SourceSeries{{Name: "storage", Values: model.Series{1}}}}
	l, err := Run(in, DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	assert.Nil(t, l)
}

func TestLedger_AtReturnsCopy(t *testing.T) {
	l, err := Run(single(1, 2), DefaultConfig())
	require.NoError(t, err)
	r := l.At(0)
	r.GenerationKW[0] = 99
	assert.Equal(t, 2.0, l.At(0).GenerationKW[0])
	assert.Nil(t, l.Timestamps())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "deficit", KindDeficit.String())
	assert.Equal(t, "surplus", KindSurplus.String())
	assert.Equal(t, "unknown", Kind(7).String())
}
