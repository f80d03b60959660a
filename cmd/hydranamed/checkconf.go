package main

import (
	"fmt"

	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/server"
	"github.com/spf13/cobra"
)

var checkconfCmd = &cobra.Command{
	Use:   "checkconf",
	Short: "Check the configuration without serving",
	Long: `Parse the configuration and build every view and zone exactly as a
reload would, then discard the result. Zone data is not loaded.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath(cmd)
		logger := setupLogging(cmd, config.LoggingConfig{Level: "WARN"})

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := server.CheckConfig(cmd.Context(), cfg, logger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", displayPath(path))
		return nil
	},
}

func displayPath(p string) string {
	if p == "" {
		return "(built-in defaults)"
	}
	return p
}
