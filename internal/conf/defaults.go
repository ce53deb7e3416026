// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "CamTrap-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "camtrap.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("ingest.mediaroot", "mnt/")
	viper.SetDefault("ingest.batchsize", 100)
	viper.SetDefault("ingest.exiftool.path", "exiftool")
	viper.SetDefault("ingest.exiftool.timeout", 30*time.Second)
	viper.SetDefault("ingest.clustering.gapthreshold", 5*time.Minute)
	viper.SetDefault("ingest.thumbnail.enabled", true)
	viper.SetDefault("ingest.thumbnail.maxpx", 320)

	viper.SetDefault("detection.modelpath", "models/camtrap.tflite")
	viper.SetDefault("detection.labelpath", "models/labels.yaml")
	viper.SetDefault("detection.threshold", 0.8)
	viper.SetDefault("detection.inputsize", 640)
	viper.SetDefault("detection.closedset", true)
	viper.SetDefault("detection.jobretention", 24*time.Hour)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "camtrap")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "camtrap.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "camtrap")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "camtrap")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
