package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tracewild/camtrap-go/cmd"
	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, settings.Main.Name, level, logging.FileRotation{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			logging.Warn("file logging unavailable, using console only", "error", err)
		} else {
			slog.SetDefault(fileLogger)
			defer closeLog()
		}
	}

	if settings.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: settings.Sentry.DSN}); err != nil {
			logging.Warn("sentry initialization failed, continuing without telemetry", "error", err)
		} else {
			errors.SetTelemetryReporter(errors.NewSentryReporter(true))
			defer sentry.Flush(2 * time.Second)
		}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
