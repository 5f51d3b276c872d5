package conf

import "github.com/spf13/viper"

// setDefaultConfig sets viper defaults for every configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "camgate")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/camgate.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// Camera
	viper.SetDefault("camera.host", "")
	viper.SetDefault("camera.port", 80)
	viper.SetDefault("camera.cgiport", 80)
	viper.SetDefault("camera.username", "")
	viper.SetDefault("camera.password", "")
	viper.SetDefault("camera.streamurl", "")
	viper.SetDefault("camera.snapshoturl", "")
	viper.SetDefault("camera.discoverytimeout", 5)
	viper.SetDefault("camera.timeout", 10)
	viper.SetDefault("camera.ptz.backend", "auto")
	viper.SetDefault("camera.ptz.channel", 0)
	viper.SetDefault("camera.ptz.speed", 0.5)

	// Stream
	viper.SetDefault("stream.ffmpegpath", "ffmpeg")
	viper.SetDefault("stream.ffprobepath", "ffprobe")
	viper.SetDefault("stream.outputpath", "hls")
	viper.SetDefault("stream.width", 1280)
	viper.SetDefault("stream.height", 720)
	viper.SetDefault("stream.bitratekbps", 2000)
	viper.SetDefault("stream.framerate", 25)
	viper.SetDefault("stream.preset", "veryfast")
	viper.SetDefault("stream.audio", false)
	viper.SetDefault("stream.segmentseconds", 2)
	viper.SetDefault("stream.playlistsize", 6)
	viper.SetDefault("stream.restartbackoff", 5)
	viper.SetDefault("stream.relay.enabled", false)
	viper.SetDefault("stream.relay.path", "go2rtc")
	viper.SetDefault("stream.relay.config", "")

	// Tunnel
	viper.SetDefault("tunnel.mode", "")
	viper.SetDefault("tunnel.path", "cloudflared")
	viper.SetDefault("tunnel.token", "")
	viper.SetDefault("tunnel.hostname", "")
	viper.SetDefault("tunnel.establishtimeout", 30)

	// Recording
	viper.SetDefault("recording.path", "clips")
	viper.SetDefault("recording.cooldownms", 30000)
	viper.SetDefault("recording.prebufferseconds", 5)
	viper.SetDefault("recording.postbufferseconds", 10)
	viper.SetDefault("recording.maxconcurrent", 1)
	viper.SetDefault("recording.useprebuffer", false)
	viper.SetDefault("recording.chunkseconds", 2)
	viper.SetDefault("recording.snapshot", true)
	viper.SetDefault("recording.retention.maxclips", 100)
	viper.SetDefault("recording.retention.maxstorage", "1GB")
	viper.SetDefault("recording.retention.maxagedays", 30)
	viper.SetDefault("recording.retention.sweepminutes", 60)

	// Notification
	viper.SetDefault("notification.enabled", true)
	viper.SetDefault("notification.onmotion", true)
	viper.SetDefault("notification.ondetection", true)
	viper.SetDefault("notification.onmanual", false)
	viper.SetDefault("notification.quiethours.enabled", false)
	viper.SetDefault("notification.quiethours.start", "22:00")
	viper.SetDefault("notification.quiethours.end", "07:00")
	viper.SetDefault("notification.ratelimit.maxperhour", 20)
	viper.SetDefault("notification.ratelimit.minintervalseconds", 60)
	viper.SetDefault("notification.channels.shoutrrr", []string{})
	viper.SetDefault("notification.channels.webhook", []string{})
	viper.SetDefault("notification.channels.scriptpath", "")
	viper.SetDefault("notification.channels.mqtttopic", "")
	viper.SetDefault("notification.rarespecies", []string{})
	viper.SetDefault("notification.ignoredspecies", []string{})

	// MQTT
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.triggertopic", "")
}
