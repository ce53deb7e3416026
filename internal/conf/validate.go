// conf/validate.go settings validation
package conf

import (
	"fmt"
	"time"
)

// ValidateSettings checks the loaded settings for values the application
// cannot run with. It normalizes recoverable problems and errors on the rest.
func ValidateSettings(settings *Settings) error {
	if settings.Ingest.BatchSize <= 0 {
		settings.Ingest.BatchSize = 100
	}
	if settings.Ingest.ExifTool.Timeout <= 0 {
		settings.Ingest.ExifTool.Timeout = 30 * time.Second
	}
	if settings.Ingest.Clustering.GapThreshold <= 0 {
		settings.Ingest.Clustering.GapThreshold = 5 * time.Minute
	}
	if settings.Ingest.MediaRoot == "" {
		return fmt.Errorf("ingest.mediaroot must not be empty")
	}

	if settings.Detection.Threshold < 0 || settings.Detection.Threshold > 1 {
		return fmt.Errorf("detection.threshold must be between 0.0 and 1.0, got %v", settings.Detection.Threshold)
	}
	if settings.Detection.InputSize <= 0 {
		settings.Detection.InputSize = 640
	}
	if settings.Detection.JobRetention <= 0 {
		settings.Detection.JobRetention = 24 * time.Hour
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("no database output enabled, enable output.sqlite or output.mysql")
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path must not be empty when sqlite output is enabled")
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty when MQTT is enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn must not be empty when Sentry is enabled")
	}

	return nil
}
