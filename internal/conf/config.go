// Package conf loads and owns the gateway configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MainSettings holds application-wide settings.
type MainSettings struct {
	Name string    `yaml:"name"` // node name, used as client id and log attribute
	Log  LogConfig `yaml:"log"`
}

// LogConfig defines the file logging configuration.
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxsizemb"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAgeDays int    `yaml:"maxagedays"`
}

// PTZSettings selects and tunes the PTZ backend.
type PTZSettings struct {
	// Backend is one of "auto", "onvif" or "cgi". With "auto" the backend is
	// chosen once at construction time from the discovered manufacturer and
	// model strings.
	Backend string  `yaml:"backend"`
	Channel int     `yaml:"channel"` // CGI channel number, usually 0
	Speed   float64 `yaml:"speed"`   // movement speed scale 0..1
}

// CameraSettings identifies and authenticates the camera.
type CameraSettings struct {
	Host             string      `yaml:"host"`
	Port             int         `yaml:"port"`    // ONVIF service port, usually 80 or 8000
	CGIPort          int         `yaml:"cgiport"` // vendor CGI port, usually 80
	Username         string      `yaml:"username"`
	Password         string      `yaml:"password"`
	StreamURL        string      `yaml:"streamurl"` // direct RTSP URL, skips ONVIF resolution when set
	SnapshotURL      string      `yaml:"snapshoturl"`
	DiscoveryTimeout int         `yaml:"discoverytimeout"` // seconds, multicast listen window
	Timeout          int         `yaml:"timeout"`          // seconds, per protocol call
	PTZ              PTZSettings `yaml:"ptz"`
}

// RelaySettings configures the optional low-latency relay process.
type RelaySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // relay binary, e.g. go2rtc or mediamtx
	Config  string `yaml:"config"`
}

// StreamSettings configures the HLS transcode session.
type StreamSettings struct {
	FfmpegPath      string        `yaml:"ffmpegpath"`
	FfprobePath     string        `yaml:"ffprobepath"`
	OutputPath      string        `yaml:"outputpath"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	BitrateKbps     int           `yaml:"bitratekbps"`
	FrameRate       int           `yaml:"framerate"`
	Preset          string        `yaml:"preset"`
	Audio           bool          `yaml:"audio"`
	SegmentSeconds  int           `yaml:"segmentseconds"`
	PlaylistSize    int           `yaml:"playlistsize"`
	RestartBackoffS int           `yaml:"restartbackoff"` // seconds between restart attempts
	Relay           RelaySettings `yaml:"relay"`
}

// TunnelSettings configures the public tunnel process.
type TunnelSettings struct {
	Mode            string `yaml:"mode"` // "", "named" or "quick"
	Path            string `yaml:"path"` // tunnel binary, e.g. cloudflared
	Token           string `yaml:"token"`
	Hostname        string `yaml:"hostname"` // pre-configured public hostname for named mode
	EstablishTimeoutS int  `yaml:"establishtimeout"` // seconds
}

// RetentionSettings bounds stored clips.
type RetentionSettings struct {
	MaxClips     int    `yaml:"maxclips"`
	MaxStorage   string `yaml:"maxstorage"` // e.g. "500MB", "2GB"
	MaxAgeDays   int    `yaml:"maxagedays"`
	SweepMinutes int    `yaml:"sweepminutes"` // age sweep interval
}

// RecordingSettings configures the motion recording pipeline.
type RecordingSettings struct {
	Path              string            `yaml:"path"`
	CooldownMs        int               `yaml:"cooldownms"`
	PreBufferSeconds  int               `yaml:"prebufferseconds"`
	PostBufferSeconds int               `yaml:"postbufferseconds"`
	MaxConcurrent     int               `yaml:"maxconcurrent"`
	UsePreBuffer      bool              `yaml:"useprebuffer"`
	ChunkSeconds      int               `yaml:"chunkseconds"` // rolling pre-buffer chunk length
	Snapshot          bool              `yaml:"snapshot"`
	Retention         RetentionSettings `yaml:"retention"`
}

// QuietHoursSettings suppresses non-urgent notifications inside a daily
// window. Start after End means the window wraps over midnight.
type QuietHoursSettings struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"` // "22:00"
	End     string `yaml:"end"`   // "07:00"
}

// RateLimitSettings bounds outbound notification volume.
type RateLimitSettings struct {
	MaxPerHour         int `yaml:"maxperhour"`
	MinIntervalSeconds int `yaml:"minintervalseconds"`
}

// ChannelSettings configures notification delivery channels.
type ChannelSettings struct {
	Shoutrrr   []string `yaml:"shoutrrr"` // shoutrrr service URLs
	Webhook    []string `yaml:"webhook"`  // webhook endpoint URLs
	ScriptPath string   `yaml:"scriptpath"`
	MQTTTopic  string   `yaml:"mqtttopic"`
}

// NotificationSettings gates and routes outbound alerts.
type NotificationSettings struct {
	Enabled        bool               `yaml:"enabled"`
	OnMotion       bool               `yaml:"onmotion"`
	OnDetection    bool               `yaml:"ondetection"`
	OnManual       bool               `yaml:"onmanual"`
	QuietHours     QuietHoursSettings `yaml:"quiethours"`
	RateLimit      RateLimitSettings  `yaml:"ratelimit"`
	Channels       ChannelSettings    `yaml:"channels"`
	RareSpecies    []string           `yaml:"rarespecies"`
	IgnoredSpecies []string           `yaml:"ignoredspecies"`
}

// MQTTSettings configures the broker connection used for the MQTT channel
// and the optional inbound trigger feed.
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TriggerTopic string `yaml:"triggertopic"` // inbound detection feed, empty disables
}

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main         MainSettings         `yaml:"main"`
	Camera       CameraSettings       `yaml:"camera"`
	Stream       StreamSettings       `yaml:"stream"`
	Tunnel       TunnelSettings       `yaml:"tunnel"`
	Recording    RecordingSettings    `yaml:"recording"`
	Notification NotificationSettings `yaml:"notification"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the active configuration.
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

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
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

	viper.SetEnvPrefix("camgate")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine, defaults plus env apply.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the config search paths in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "camgate"))
	}
	paths = append(paths, "/etc/camgate")
	return paths, nil
}

// Setting returns the active settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetTestSettings installs a settings instance directly. Intended for tests.
func SetTestSettings(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	once.Do(func() {})
	settingsInstance = settings
}

// SaveSettings writes the active settings back to the given YAML config path.
func SaveSettings(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configPath, err)
	}
	return nil
}
