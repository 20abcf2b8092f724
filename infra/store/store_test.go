package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/kpi"
	"github.com/kilianp07/microgrid/core/model"
	corestore "github.com/kilianp07/microgrid/core/store"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func record(id, name string, at time.Time) corestore.RunRecord {
	return corestore.RunRecord{
		ID:        id,
		Name:      name,
		Timestamp: at,
		Steps:     24,
		StepHours: 1,
		Sources:   []string{"solar", "wind"},
		Storage:   model.StorageConfig{CapacityKWh: 100, MaxPowerKW: 50, Efficiency: 0.9, InitialFraction: 0.5},
		Economics: model.DefaultEconomics(),
		KPIs: kpi.Report{
			ConsumptionKWh: 1200,
			GenerationKWh:  map[string]float64{"solar": 700, "wind": 300},
			NetCost:        decimal.RequireFromString("12.34"),
		},
		Flows: []attribution.Flow{{Pair: attribution.Pair{Source: "solar", Destination: "load"}, EnergyKWh: 650}},
	}
}

// exercise runs the behaviour every backend must share.
func exercise(t *testing.T, s corestore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("b", "site", t0.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, record("a", "site", t0)))
	require.NoError(t, s.Append(ctx, record("c", "lab", t0.Add(2*time.Hour))))

	all, err := s.Query(ctx, corestore.RunQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	got := all[0]
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, 0.9, got.Storage.Efficiency)
	assert.Equal(t, 700.0, got.KPIs.GenerationKWh["solar"])
	assert.True(t, got.KPIs.NetCost.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, "load", got.Flows[0].Destination)

	site, err := s.Query(ctx, corestore.RunQuery{Name: "site"})
	require.NoError(t, err)
	assert.Len(t, site, 2)

	window, err := s.Query(ctx, corestore.RunQuery{Start: t0.Add(30 * time.Minute), End: t0.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].ID)

	latest, err := s.Query(ctx, corestore.RunQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "c", latest[0].ID)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(JSONLConfig{Path: filepath.Join(t.TempDir(), "hist", "runs.jsonl")})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exercise(t, s)
}

func TestJSONLStore_QueryAcrossRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	s, err := NewJSONLStore(JSONLConfig{Path: path, MaxBackups: 3})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("old", "site", t0)))
	require.NoError(t, s.logger.Rotate())
	require.NoError(t, s.Append(ctx, record("new", "site", t0.Add(time.Hour))))

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(path), "runs-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	recs, err := s.Query(ctx, corestore.RunQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "old", recs[0].ID)
	assert.Equal(t, "new", recs[1].ID)
}

func TestJSONLStore_EmptyQuery(t *testing.T) {
	s, err := NewJSONLStore(JSONLConfig{Path: filepath.Join(t.TempDir(), "runs.jsonl")})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	recs, err := s.Query(context.Background(), corestore.RunQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestJSONLStore_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	s, err := NewJSONLStore(JSONLConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("a", "site", t0)))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.Query(ctx, corestore.RunQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runs.jsonl:2: unmarshal record")
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exercise(t, s)
}

func TestSQLiteStore_ReplaceByID(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, record("a", "site", t0)))
	require.NoError(t, s.Append(ctx, record("a", "renamed", t0)))
	recs, err := s.Query(ctx, corestore.RunQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "renamed", recs[0].Name)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()
	for _, cfg := range []factory.ModuleConfig{
		{Type: "jsonl", Conf: map[string]any{"path": filepath.Join(dir, "a.jsonl"), "max_size_mb": 5}},
		{Type: "sqlite", Conf: map[string]any{"path": filepath.Join(dir, "a.db")}},
	} {
		s, err := corestore.NewStore(cfg)
		require.NoError(t, err, cfg.Type)
		require.NoError(t, s.Close())
	}
	assert.Subset(t, corestore.Backends(), []string{"jsonl", "sqlite"})
}
