package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/kpi"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/model"
)

// sampleRun simulates two steps: a deficit covered by the grid, then a
// surplus exported.
func sampleRun(t *testing.T) (coremetrics.RunReport, *dispatch.Ledger) {
	t.Helper()
	in := model.Inputs{
		Demand:  model.Series{10, 2},
		Sources: []model.SourceSeries{{Name: "solar", Values: model.Series{4, 6}}},
	}
	l, err := dispatch.Run(in, dispatch.Config{
		Storage:   model.StorageConfig{Efficiency: 1},
		Economics: model.Economics{ImportPrice: 0.2, ExportPrice: 0.1},
	})
	require.NoError(t, err)
	flows, err := attribution.New(attribution.DefaultOptions()).Attribute(l)
	require.NoError(t, err)
	return coremetrics.RunReport{
		RunID:     "run-1",
		Name:      "site",
		Time:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Steps:     l.Len(),
		StepHours: l.StepHours(),
		KPIs:      kpi.Compute(l, kpi.Config{EmissionFactor: kpi.DefaultEmissionFactor}),
		Flows:     flows.Totals,
		Duration:  20 * time.Millisecond,
	}, l
}
