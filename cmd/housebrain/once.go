// v0
// cmd/housebrain/once.go
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var onceInstance string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single decision cycle and print the cycle reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, _, cleanup, err := newApplication(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer cleanup()

		reports, err := application.Manager().ForceUpdate(ctx, onceInstance)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	},
}

func init() {
	onceCmd.Flags().StringVar(&onceInstance, "instance", "", "instance id (default: every instance)")
}
