package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// Record is the full energy-flow record of one step.
type Record struct {
	Step      int
	Timestamp time.Time // zero when the inputs carried no timestamps

	DemandKW     float64
	GenerationKW []float64 // per source, in Ledger.Sources order
	RenewableKW  float64
	NetLoadKW    float64 // demand minus renewable generation, may be negative

	Outcome Outcome

	SoCKWh     float64
	SoCPercent float64

	ImportPrice   float64
	ExportPrice   float64
	ImportCost    float64
	ExportRevenue float64
}

// ChargeKW returns the storage charge power, zero on deficit steps.
func (r Record) ChargeKW() float64 {
	if s, ok := r.Outcome.(Surplus); ok {
		return s.ChargeKW
	}
	return 0
}

// DischargeKW returns the storage discharge power, zero on surplus steps.
func (r Record) DischargeKW() float64 {
	if d, ok := r.Outcome.(Deficit); ok {
		return d.DischargeKW
	}
	return 0
}

// ImportKW returns the grid import power, zero on surplus steps.
func (r Record) ImportKW() float64 {
	if d, ok := r.Outcome.(Deficit); ok {
		return d.ImportKW
	}
	return 0
}

// ExportKW returns the grid export power, zero on deficit steps.
func (r Record) ExportKW() float64 {
	if s, ok := r.Outcome.(Surplus); ok {
		return s.ExportKW
	}
	return 0
}

// NetCost returns import cost minus export revenue.
func (r Record) NetCost() float64 { return r.ImportCost - r.ExportRevenue }

// Column names accepted by Ledger.Column. Source generation is addressed as
// "<source>_kw".
const (
	FieldDemand        = "demand_kw"
	FieldRenewable     = "renewable_kw"
	FieldNetLoad       = "net_load_kw"
	FieldCharge        = "charge_kw"
	FieldDischarge     = "discharge_kw"
	FieldSoC           = "soc_kwh"
	FieldSoCPercent    = "soc_percent"
	FieldImport        = "import_kw"
	FieldExport        = "export_kw"
	FieldImportCost    = "import_cost"
	FieldExportRevenue = "export_revenue"
	FieldNetCost       = "net_cost"
)

var fieldGetters = map[string]func(Record) float64{
	FieldDemand:        func(r Record) float64 { return r.DemandKW },
	FieldRenewable:     func(r Record) float64 { return r.RenewableKW },
	FieldNetLoad:       func(r Record) float64 { return r.NetLoadKW },
	FieldCharge:        Record.ChargeKW,
	FieldDischarge:     Record.DischargeKW,
	FieldSoC:           func(r Record) float64 { return r.SoCKWh },
	FieldSoCPercent:    func(r Record) float64 { return r.SoCPercent },
	FieldImport:        Record.ImportKW,
	FieldExport:        Record.ExportKW,
	FieldImportCost:    func(r Record) float64 { return r.ImportCost },
	FieldExportRevenue: func(r Record) float64 { return r.ExportRevenue },
	FieldNetCost:       Record.NetCost,
}

// Ledger is the ordered, read-only output of a dispatch run.
type Ledger struct {
	sources     []string
	stepHours   float64
	capacityKWh float64
	records     []Record

	// hasTimestamps is set when the inputs carried timestamps, which may
	// include the zero time.
	hasTimestamps bool
}

// Len returns the number of steps.
func (l *Ledger) Len() int { return len(l.records) }

// Sources returns the renewable source names in column order.
func (l *Ledger) Sources() []string { return append([]string(nil), l.sources...) }

// StepHours returns the duration of one step.
func (l *Ledger) StepHours() float64 { return l.stepHours }

// CapacityKWh returns the storage capacity the ledger was produced with.
func (l *Ledger) CapacityKWh() float64 { return l.capacityKWh }

// At returns a copy of the record for step i. It panics when i is out of range.
func (l *Ledger) At(i int) Record {
	r := l.records[i]
	r.GenerationKW = append([]float64(nil), r.GenerationKW...)
	return r
}

// Records returns a copy of every record.
func (l *Ledger) Records() []Record {
	out := make([]Record, len(l.records))
	for i := range l.records {
		out[i] = l.At(i)
	}
	return out
}

// Timestamps returns the step timestamps, or nil when none were supplied.
func (l *Ledger) Timestamps() []time.Time {
	if len(l.records) == 0 || !l.hasTimestamps {
		return nil
	}
	ts := make([]time.Time, len(l.records))
	for i, r := range l.records {
		ts[i] = r.Timestamp
	}
	return ts
}

// Fields lists every column name, fixed fields first, then one per source.
func (l *Ledger) Fields() []string {
	fields := []string{FieldDemand}
	for _, s := range l.sources {
		fields = append(fields, s+"_kw")
	}
	return append(fields,
		FieldRenewable, FieldNetLoad, FieldCharge, FieldDischarge,
		FieldSoC, FieldSoCPercent, FieldImport, FieldExport,
		FieldImportCost, FieldExportRevenue, FieldNetCost,
	)
}

// Column returns the named field for every step. Fixed fields take
// precedence over source columns with the same name.
func (l *Ledger) Column(name string) ([]float64, error) {
	col := make([]float64, len(l.records))
	if get, ok := fieldGetters[name]; ok {
		for i, r := range l.records {
			col[i] = get(r)
		}
		return col, nil
	}
	if src, ok := strings.CutSuffix(name, "_kw"); ok {
		for k, s := range l.sources {
			if s != src {
				continue
			}
			for i, r := range l.records {
				col[i] = r.GenerationKW[k]
			}
			return col, nil
		}
	}
	return nil, fmt.Errorf("unknown ledger field %q", name)
}

// MustColumn is Column for field names known to exist. It panics otherwise.
func (l *Ledger) MustColumn(name string) []float64 {
	col, err := l.Column(name)
	if err != nil {
		panic(err)
	}
	return col
}

// Generation returns the generation column of source k.
func (l *Ledger) Generation(k int) []float64 {
	col := make([]float64, len(l.records))
	for i, r := range l.records {
		col[i] = r.GenerationKW[k]
	}
	return col
}
