// Package serve implements the long-running server command.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracewild/camtrap-go/internal/api"
	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/detection"
	"github.com/tracewild/camtrap-go/internal/ingest"
	"github.com/tracewild/camtrap-go/internal/logging"
	"github.com/tracewild/camtrap-go/internal/mqtt"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with the full processing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP port to listen on")
	cmd.Flags().StringVar(&settings.Detection.ModelPath, "model", viper.GetString("detection.modelpath"), "Path to the detection model")
	cmd.Flags().StringVar(&settings.Detection.LabelPath, "labels", viper.GetString("detection.labelpath"), "Path to the species label file")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding serve flags: %w", err)
	}
	return nil
}

func runServer(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	// Jobs the previous process left mid-run have no worker anymore, flag
	// them before accepting new ones so pollers are not left waiting.
	interrupted, err := store.MarkInterruptedJobs(context.Background())
	if err != nil {
		return fmt.Errorf("marking interrupted jobs: %w", err)
	}
	if interrupted > 0 {
		logger.Warn("flagged detection jobs interrupted by restart", "jobs", interrupted)
	}

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

	var publisher detection.EventPublisher
	if settings.MQTT.Enabled {
		client := mqtt.NewClient(settings)
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := client.Connect(connectCtx)
		cancel()
		if err != nil {
			// Eventing is optional, the pipeline works without a broker.
			logger.Warn("mqtt connect failed, continuing without eventing", "error", err)
		} else {
			publisher = client
			defer client.Disconnect()
		}
	}

	orchestrator := detection.NewOrchestrator(&settings.Detection, store, detector, labels, tracker, metrics.Detection, publisher)
	pipeline := ingest.New(&settings.Ingest, store, metrics.Ingest)
	server := api.New(settings, store, pipeline, orchestrator, tracker, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("detection workers did not stop cleanly", "error", err)
	}

	return serveErr
}
