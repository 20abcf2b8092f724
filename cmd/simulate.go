package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/microgrid/app"
	"github.com/kilianp07/microgrid/config"
	"github.com/kilianp07/microgrid/infra/input"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/pkg/export"
)

var simulateOpts struct {
	input  string
	out    string
	format string
	name   string
	serve  bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a dispatch simulation over an input CSV",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVarP(&simulateOpts.input, "input", "i", "", "input CSV (overrides input.path)")
	f.StringVarP(&simulateOpts.out, "out", "o", "", "output directory (overrides output.dir)")
	f.StringVar(&simulateOpts.format, "format", "", "output format: csv or json (overrides output.format)")
	f.StringVarP(&simulateOpts.name, "name", "n", "", "run name (overrides simulation.name)")
	f.BoolVar(&simulateOpts.serve, "serve", false, "keep serving Prometheus metrics after the run")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simulateOpts.input != "" {
		cfg.Input.Path = simulateOpts.input
	}
	if simulateOpts.out != "" {
		cfg.Output.Dir = simulateOpts.out
	}
	if simulateOpts.format != "" {
		cfg.Output.Format = simulateOpts.format
		if err := cfg.Output.Validate(); err != nil {
			return err
		}
	}
	if simulateOpts.name != "" {
		cfg.Simulation.Name = simulateOpts.name
	}
	if cfg.Input.Path == "" {
		return fmt.Errorf("no input: set input.path or --input")
	}

	f, err := os.Open(cfg.Input.Path)
	if err != nil {
		return err
	}
	in, err := input.ReadCSV(f, cfg.Simulation.Sources)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.Input.Path, err)
	}

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	log := logger.New("simulate")
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()

	res, err := svc.Simulate(ctx, cfg.Simulation.Name, in)
	if err != nil {
		return err
	}
	if cfg.Output.Dir != "" {
		if err := writeOutputs(cfg.Output, res); err != nil {
			return err
		}
		log.Infof("results written to %s", cfg.Output.Dir)
	}
	printSummary(cmd.OutOrStdout(), res)

	if simulateOpts.serve {
		if cfg.Metrics.PrometheusAddr == "" {
			return fmt.Errorf("--serve requires metrics.prometheus_addr")
		}
		return svc.ServeMetrics(ctx)
	}
	return nil
}

func writeOutputs(out config.OutputConfig, res *app.Result) error {
	if err := os.MkdirAll(out.Dir, 0o755); err != nil {
		return err
	}
	ledgerW, flowsW := export.WriteLedgerCSV, export.WriteFlowsCSV
	if out.Format == "json" {
		ledgerW, flowsW = export.WriteLedgerJSON, export.WriteFlowsJSON
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"ledger." + out.Format, func(w io.Writer) error { return ledgerW(w, res.Ledger) }},
		{"flows." + out.Format, func(w io.Writer) error { return flowsW(w, res.Flows) }},
		{"kpi.json", func(w io.Writer) error { return export.WriteKPIJSON(w, res.KPIs) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(out.Dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

func printSummary(w io.Writer, res *app.Result) {
	k := res.KPIs
	fmt.Fprintf(w, "run %s (%s): %d steps\n", res.Name, res.RunID, res.Ledger.Len())
	fmt.Fprintf(w, "  consumption  %10.2f kWh\n", k.ConsumptionKWh)
	fmt.Fprintf(w, "  renewable    %10.2f kWh (%.1f%%)\n", k.RenewableKWh, k.RenewablePenetration)
	fmt.Fprintf(w, "  import       %10.2f kWh\n", k.ImportKWh)
	fmt.Fprintf(w, "  export       %10.2f kWh\n", k.ExportKWh)
	fmt.Fprintf(w, "  net cost     %10s\n", k.NetCost.StringFixed(2))
	for _, f := range res.Flows.Sorted() {
		fmt.Fprintf(w, "  %s -> %s: %.2f kWh\n", f.Source, f.Destination, f.EnergyKWh)
	}
}
