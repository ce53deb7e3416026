// Package ingest implements the one-shot ingest command.
package ingest

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/ingest"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// Command creates the ingest command.
func Command(settings *conf.Settings) *cobra.Command {
	var projectID uint
	var analysisFolder string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest photographs into a project",
		Long:  "Extract metadata from the given photographs, store them under the media root and group them into capture events.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(settings, projectID, analysisFolder, args)
		},
	}

	cmd.Flags().UintVar(&projectID, "project", 0, "Project ID to ingest into")
	cmd.Flags().StringVar(&analysisFolder, "folder", "", "Analysis folder name (defaults to a timestamp)")
	_ = cmd.MarkFlagRequired("project")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

func runIngest(settings *conf.Settings, projectID uint, analysisFolder string, paths []string) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics()
	pipeline := ingest.New(&settings.Ingest, store, metrics.Ingest)

	result, err := pipeline.Ingest(context.Background(), projectID, analysisFolder, paths)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d images into %d capture events", result.Ingested, result.Events)
	if result.ThumbnailFailures > 0 {
		fmt.Printf(" (%d thumbnails failed)", result.ThumbnailFailures)
	}
	fmt.Println()
	return nil
}
