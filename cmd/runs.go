package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	corestore "github.com/kilianp07/microgrid/core/store"
	_ "github.com/kilianp07/microgrid/infra/store"
)

var runsOpts struct {
	name  string
	since time.Duration
	limit int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Run history commands",
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded runs",
	RunE:  runRunsLs,
}

func init() {
	f := runsLsCmd.Flags()
	f.StringVar(&runsOpts.name, "name", "", "only runs with this name")
	f.DurationVar(&runsOpts.since, "since", 0, "only runs newer than this, e.g. 24h")
	f.IntVar(&runsOpts.limit, "limit", 20, "most recent runs to show, 0 for all")
	runsCmd.AddCommand(runsLsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsLs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Type == "" || cfg.Store.Type == "none" {
		return fmt.Errorf("no run store configured")
	}
	st, err := corestore.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	q := corestore.RunQuery{Name: runsOpts.name, Limit: runsOpts.limit}
	if runsOpts.since > 0 {
		q.Start = time.Now().Add(-runsOpts.since)
	}
	recs, err := st.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tNAME\tSTEPS\tIMPORT_KWH\tEXPORT_KWH\tNET_COST")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\n",
			r.ID, r.Timestamp.Format(time.RFC3339), r.Name, r.Steps,
			r.KPIs.ImportKWh, r.KPIs.ExportKWh, r.KPIs.NetCost.StringFixed(2))
	}
	return tw.Flush()
}
