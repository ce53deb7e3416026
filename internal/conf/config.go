// config.go: This file contains the configuration for the camtrap-go application.
// It defines the settings struct and functions to load and save the settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// IngestSettings contains settings for the upload ingestion pipeline.
type IngestSettings struct {
	MediaRoot string // root directory for stored media, paths are scoped per project below this
	BatchSize int    // number of files passed to exiftool per invocation

	ExifTool struct {
		Path    string        // path to the exiftool binary
		Timeout time.Duration // hard limit for one batch invocation
	}

	Clustering struct {
		GapThreshold time.Duration // max gap between shots that still belong to one capture event
	}

	Thumbnail struct {
		Enabled bool // true to generate thumbnails at ingest
		MaxPx   int  // longest edge of generated thumbnails
	}
}

// DetectionSettings contains settings for the object detection pipeline.
type DetectionSettings struct {
	ModelPath    string        // path to the TFLite detection model
	LabelPath    string        // path to the species label file (yaml)
	Threshold    float32       // minimum confidence for a detection to be kept
	InputSize    int           // model input edge length in pixels
	ClosedSet    bool          // true to reject classes not present in the label file
	JobRetention time.Duration // how long completed job records stay cached for polling
}

// MQTTSettings contains settings for publishing detection events.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT event publishing
	Broker   string // MQTT broker URL, e.g. tcp://localhost:1883
	Topic    string // base topic for published events
	Username string // MQTT username
	Password string // MQTT password
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting
	DSN     string // Sentry project DSN
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled    bool   // true to enable this log
	Path       string // path to the log file
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // number of rotated files to keep
	MaxAgeDays int    // days to retain rotated files
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main struct {
		Name string    // instance name, used in logs and MQTT client id
		Log  LogConfig // main application log
	}

	Ingest    IngestSettings    // ingestion pipeline settings
	Detection DetectionSettings // detection pipeline settings
	MQTT      MQTTSettings      // MQTT eventing settings
	Sentry    SentrySettings    // error telemetry settings

	WebServer struct {
		Enabled bool   // true to enable the HTTP API
		Port    string // port for the HTTP API
	}

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable sqlite output
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool   // true to enable mysql output
			Username string // username for mysql database
			Password string // password for mysql database
			Database string // database name for mysql database
			Host     string // host for mysql database
			Port     string // port for mysql database
		}
	}
}

var settingsMutex sync.RWMutex

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets up viper with config paths, defaults and environment binding.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("CAMTRAP")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults plus env cover the minimal setup.
	}

	return nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	v, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = v
	}
	return ok
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order: working directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error resolving user config dir: %w", err)
	}
	paths = append(paths, filepath.Join(configDir, "camtrap"))

	return paths, nil
}
