// v0
// cmd/housebrain/instances.go
package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/store"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List the persisted instance records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(propertiesPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s, err := store.Open(cfg.InstancesPath)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tURL\tDIALECT\tSENSORS\tZONES\tINTERVAL")
		for _, rec := range s.List() {
			dialect := rec.Dialect
			if dialect == "" {
				dialect = "structured"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%ds\n",
				rec.ID, rec.URL, dialect, strings.Join(rec.Sensors, ","), len(rec.ActionMappings), rec.PollingInterval)
		}
		return tw.Flush()
	},
}
