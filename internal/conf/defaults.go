// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers the zero-deployment defaults (demo
// profile, loopback-friendly radio params, auto classifier mode) so the
// gateway runs out of the box with no config.yaml or environment
// variables present.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("radio.frequencymhz", 915.0)
	viper.SetDefault("radio.bandwidth", 125000)
	viper.SetDefault("radio.spreadfactor", 10)
	viper.SetDefault("radio.codingrate", 5)
	viper.SetDefault("radio.syncword", 0x12)
	viper.SetDefault("radio.txpowerdbm", 14)

	viper.SetDefault("anomaly.profile", "demo")
	viper.SetDefault("anomaly.consecutivehits", 4)
	viper.SetDefault("anomaly.txcooldownms", 10000)

	viper.SetDefault("node.id", "GUARDIAN_001")
	viper.SetDefault("node.heartbeatms", 30000)
	viper.SetDefault("node.pcmwindowsamples", 16000)

	viper.SetDefault("session.timeouts", 30)
	viper.SetDefault("session.maxconcurrent", 32)

	viper.SetDefault("classifier.mode", "auto")
	viper.SetDefault("classifier.local.modelpath", "models/anomaly.onnx")
	viper.SetDefault("classifier.local.onnxlibpath", "")
	viper.SetDefault("classifier.local.confidencemin", 40)
	viper.SetDefault("classifier.fastcloud.timeouts", 5)
	viper.SetDefault("classifier.fastcloud.cachettls", 120)
	viper.SetDefault("classifier.deepcloud.timeouts", 8)
	viper.SetDefault("classifier.deepcloud.ratelimit", 5)
	viper.SetDefault("classifier.deepcloud.ratewindows", 900)

	viper.SetDefault("hub.httpaddr", ":8080")
	viper.SetDefault("hub.databasepath", "forest_guardian.db")
	viper.SetDefault("hub.spectrogramdir", "spectrograms")
	viper.SetDefault("hub.syncqueuedir", "sync_queue")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic", "forestguardian/alerts")

	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.servicename", "Forest Guardian Hub")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.path", "logs/forest-guardian.log")
	viper.SetDefault("log.maxsizemb", 50)
	viper.SetDefault("log.maxagedays", 30)
	viper.SetDefault("log.maxbackups", 5)
	viper.SetDefault("log.compress", true)
}
