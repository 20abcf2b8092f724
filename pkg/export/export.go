// Package export writes simulation results as CSV or JSON files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/kpi"
)

// LedgerRow is the JSON shape of one ledger record.
type LedgerRow struct {
	Step          int                `json:"step"`
	Timestamp     *time.Time         `json:"timestamp,omitempty"`
	Kind          string             `json:"kind"`
	DemandKW      float64            `json:"demand_kw"`
	GenerationKW  map[string]float64 `json:"generation_kw"`
	RenewableKW   float64            `json:"renewable_kw"`
	NetLoadKW     float64            `json:"net_load_kw"`
	ChargeKW      float64            `json:"charge_kw"`
	DischargeKW   float64            `json:"discharge_kw"`
	ImportKW      float64            `json:"import_kw"`
	ExportKW      float64            `json:"export_kw"`
	SoCKWh        float64            `json:"soc_kwh"`
	SoCPercent    float64            `json:"soc_percent"`
	ImportCost    float64            `json:"import_cost"`
	ExportRevenue float64            `json:"export_revenue"`
}

// LedgerRows converts the ledger into its JSON rows.
func LedgerRows(l *dispatch.Ledger) []LedgerRow {
	sources := l.Sources()
	stamps := l.Timestamps()
	rows := make([]LedgerRow, l.Len())
	for i, r := range l.Records() {
		gen := make(map[string]float64, len(sources))
		for k, s := range sources {
			gen[s] = r.GenerationKW[k]
		}
		row := LedgerRow{
			Step:          r.Step,
			Kind:          r.Outcome.Kind().String(),
			DemandKW:      r.DemandKW,
			GenerationKW:  gen,
			RenewableKW:   r.RenewableKW,
			NetLoadKW:     r.NetLoadKW,
			ChargeKW:      r.ChargeKW(),
			DischargeKW:   r.DischargeKW(),
			ImportKW:      r.ImportKW(),
			ExportKW:      r.ExportKW(),
			SoCKWh:        r.SoCKWh,
			SoCPercent:    r.SoCPercent,
			ImportCost:    r.ImportCost,
			ExportRevenue: r.ExportRevenue,
		}
		if stamps != nil {
			row.Timestamp = &stamps[i]
		}
		rows[i] = row
	}
	return rows
}

// WriteLedgerJSON writes the ledger to w as a JSON array.
func WriteLedgerJSON(w io.Writer, l *dispatch.Ledger) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(LedgerRows(l))
}

// WriteLedgerCSV writes one row per step with the columns of l.Fields(),
// preceded by step, timestamp and kind.
func WriteLedgerCSV(w io.Writer, l *dispatch.Ledger) error {
	cw := csv.NewWriter(w)
	fields := l.Fields()
	header := append([]string{"step", "timestamp", "kind"}, fields...)
	if err := cw.Write(header); err != nil {
		return err
	}
	stamps := l.Timestamps()
	cols := make([][]float64, len(fields))
	for j, f := range fields {
		cols[j] = l.MustColumn(f)
	}
	for i, r := range l.Records() {
		rec := make([]string, 0, len(header))
		rec = append(rec, strconv.Itoa(r.Step), fmtTime(stamps, i), r.Outcome.Kind().String())
		for j := range fields {
			rec = append(rec, fmtFloat(cols[j][i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFlowsJSON writes the flow totals, largest first.
func WriteFlowsJSON(w io.Writer, f *attribution.Flows) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f.Sorted())
}

// WriteFlowsCSV writes source, destination and energy per reported pair.
func WriteFlowsCSV(w io.Writer, f *attribution.Flows) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source", "destination", "energy_kwh"}); err != nil {
		return err
	}
	for _, fl := range f.Sorted() {
		if err := cw.Write([]string{fl.Source, fl.Destination, fmtFloat(fl.EnergyKWh)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteKPIJSON writes the KPI report.
func WriteKPIJSON(w io.Writer, r kpi.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func fmtTime(stamps []time.Time, i int) string {
	if stamps == nil {
		return ""
	}
	return stamps[i].Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
