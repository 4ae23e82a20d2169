// v0
// cmd/housebrain/main.go
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var propertiesPath string

var rootCmd = &cobra.Command{
	Use:           "housebrain",
	Short:         "LLM-driven home automation decision loop",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&propertiesPath, "properties", "", "path to the properties file (default $HOUSEBRAIN_PROPERTIES_PATH or housebrain.properties)")
	rootCmd.AddCommand(serveCmd, onceCmd, instancesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		bootstrap.Error("command_failed", slog.Any("err", err))
		os.Exit(1)
	}
}
