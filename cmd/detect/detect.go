// Package detect implements the one-shot detection command.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/detection"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// pollInterval is how often job progress is printed.
const pollInterval = 500 * time.Millisecond

// Command creates the detect command.
func Command(settings *conf.Settings) *cobra.Command {
	var imageIDs []uint

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run wildlife detection over stored images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(settings, imageIDs)
		},
	}

	cmd.Flags().UintSliceVar(&imageIDs, "ids", nil, "Image IDs to process")
	cmd.Flags().StringVar(&settings.Detection.ModelPath, "model", viper.GetString("detection.modelpath"), "Path to the detection model")
	cmd.Flags().StringVar(&settings.Detection.LabelPath, "labels", viper.GetString("detection.labelpath"), "Path to the species label file")
	_ = cmd.MarkFlagRequired("ids")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

func runDetect(settings *conf.Settings, imageIDs []uint) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	labels, err := detection.LoadLabels(settings.Detection.LabelPath)
	if err != nil {
		return err
	}

	detector, err := detection.NewTFLiteDetector(&settings.Detection, labels)
	if err != nil {
		return err
	}
	defer detector.Close()

	metrics := observability.NewMetrics()
	tracker := detection.NewTracker(store, settings.Detection.JobRetention)
	orchestrator := detection.NewOrchestrator(&settings.Detection, store, detector, labels, tracker, metrics.Detection, nil)

	ctx := context.Background()
	jobID, err := orchestrator.StartJob(ctx, imageIDs)
	if err != nil {
		return err
	}
	fmt.Printf("Detection job %s started over %d images\n", jobID, len(imageIDs))

	for {
		time.Sleep(pollInterval)

		job, err := tracker.Get(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Printf("progress: %d%% (%d/%d images)\n", job.Progress, job.ProcessedImages, job.TotalImages)
		if job.Progress >= 100 {
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return orchestrator.Shutdown(shutdownCtx)
}
