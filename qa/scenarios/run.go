package scenarios

import (
	"fmt"
	"math"

	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/dispatch"
	"github.com/kilianp07/microgrid/core/kpi"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/infra/logger"
)

const defaultTolerance = 1e-6

// Outcome is what a scenario run produced. Err holds a simulation error, in
// which case the other fields are nil.
type Outcome struct {
	Ledger *dispatch.Ledger
	Flows  *attribution.Flows
	KPIs   kpi.Report
	Err    error
}

// Run simulates the scenario. The returned error reports a malformed
// scenario; simulation failures are carried in Outcome.Err.
func (sc *Scenario) Run() (Outcome, error) {
	in, err := sc.BuildInputs()
	if err != nil {
		return Outcome{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	cfg := dispatch.Config{Storage: sc.Storage, Economics: sc.Economics, StepHours: sc.StepHours}
	ledger, err := dispatch.Run(in, cfg)
	if err != nil {
		return Outcome{Err: err}, nil
	}
	opts := attribution.DefaultOptions()
	opts.Workers = 4
	flows, err := attribution.New(opts).Attribute(ledger)
	if err != nil {
		return Outcome{Err: err}, nil
	}
	var kc kpi.Config
	kc.SetDefaults()
	return Outcome{Ledger: ledger, Flows: flows, KPIs: kpi.Compute(ledger, kc)}, nil
}

// Check compares o with the expectations and returns one message per
// mismatch.
func (sc *Scenario) Check(o Outcome) []string {
	exp := sc.Expected
	tol := exp.Tolerance
	if tol == 0 {
		tol = defaultTolerance
	}
	if exp.Error != "" || o.Err != nil {
		if got := model.ErrorKind(o.Err); got != exp.Error {
			return []string{fmt.Sprintf("error: want %q, got %q (%v)", exp.Error, got, o.Err)}
		}
		return nil
	}

	var fails []string
	check := func(name string, want *float64, got float64) {
		if want != nil && math.Abs(*want-got) > tol {
			fails = append(fails, fmt.Sprintf("%s: want %g, got %g", name, *want, got))
		}
	}
	soc := o.Ledger.MustColumn(dispatch.FieldSoC)
	check("final_soc_kwh", exp.FinalSoCKWh, o.KPIs.FinalSoCKWh)
	for i, v := range soc {
		if exp.MinSoCKWh != nil && v < *exp.MinSoCKWh-tol {
			fails = append(fails, fmt.Sprintf("soc[%d]=%g below %g", i, v, *exp.MinSoCKWh))
		}
		if exp.MaxSoCKWh != nil && v > *exp.MaxSoCKWh+tol {
			fails = append(fails, fmt.Sprintf("soc[%d]=%g above %g", i, v, *exp.MaxSoCKWh))
		}
	}
	check("import_kwh", exp.ImportKWh, o.KPIs.ImportKWh)
	check("export_kwh", exp.ExportKWh, o.KPIs.ExportKWh)
	check("charge_kwh", exp.ChargeKWh, o.KPIs.ChargeKWh)
	check("discharge_kwh", exp.DischargeKWh, o.KPIs.DischargeKWh)
	check("net_cost", exp.NetCost, o.KPIs.NetCost.InexactFloat64())

	for _, f := range exp.Flows {
		pair := attribution.Pair{Source: f.Source, Destination: f.Destination}
		got, ok := o.Flows.Get(pair)
		if !ok {
			fails = append(fails, fmt.Sprintf("flow %s->%s not reported", f.Source, f.Destination))
			continue
		}
		want := f.EnergyKWh
		check(fmt.Sprintf("flow %s->%s", f.Source, f.Destination), &want, got)
	}
	for _, f := range exp.Absent {
		if v, ok := o.Flows.Get(attribution.Pair{Source: f.Source, Destination: f.Destination}); ok {
			fails = append(fails, fmt.Sprintf("flow %s->%s reported with %g", f.Source, f.Destination, v))
		}
	}
	return fails
}

// Result is the verdict for one scenario.
type Result struct {
	Name     string
	Failures []string
	Err      error
}

// Passed reports whether the scenario ran and met every expectation.
func (r Result) Passed() bool { return r.Err == nil && len(r.Failures) == 0 }

// RunFiles loads, runs and checks every file in order.
func RunFiles(paths []string, log logger.Logger) []Result {
	if log == nil {
		log = logger.NopLogger{}
	}
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			results = append(results, Result{Name: p, Err: err})
			continue
		}
		o, err := sc.Run()
		res := Result{Name: sc.Name, Err: err}
		if err == nil {
			res.Failures = sc.Check(o)
		}
		if res.Passed() {
			log.Infof("scenario %s passed", sc.Name)
		} else {
			log.Errorf("scenario %s failed: %v %v", sc.Name, res.Err, res.Failures)
		}
		results = append(results, res)
	}
	return results
}
