// Package cmd assembles the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracewild/camtrap-go/cmd/detect"
	"github.com/tracewild/camtrap-go/cmd/ingest"
	"github.com/tracewild/camtrap-go/cmd/serve"
	"github.com/tracewild/camtrap-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camtrap",
		Short: "Camera-trap photo processing CLI",
		Long:  "Ingest camera-trap photographs, group them into capture events and run wildlife detection over them.",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		ingest.Command(settings),
		detect.Command(settings),
	)

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Ingest.MediaRoot, "mediaroot", viper.GetString("ingest.mediaroot"), "Root directory for stored media")
	cmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "dbpath", viper.GetString("output.sqlite.path"), "Path to the SQLite database")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding root flags: %w", err)
	}
	return nil
}
