package conf

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateSettings checks cross-field constraints that viper cannot express.
func ValidateSettings(settings *Settings) error {
	switch settings.Camera.PTZ.Backend {
	case "auto", "onvif", "cgi":
	default:
		return fmt.Errorf("camera.ptz.backend must be one of auto, onvif, cgi, got %q", settings.Camera.PTZ.Backend)
	}

	if s := settings.Camera.PTZ.Speed; s < 0 || s > 1 {
		return fmt.Errorf("camera.ptz.speed must be within [0,1], got %v", s)
	}

	switch settings.Tunnel.Mode {
	case "", "named", "quick":
	default:
		return fmt.Errorf("tunnel.mode must be one of named, quick or empty, got %q", settings.Tunnel.Mode)
	}
	if settings.Tunnel.Mode == "named" && settings.Tunnel.Token == "" {
		return fmt.Errorf("tunnel.mode named requires tunnel.token")
	}

	if settings.Recording.CooldownMs < 0 {
		return fmt.Errorf("recording.cooldownms must not be negative")
	}
	if settings.Recording.MaxConcurrent < 1 {
		return fmt.Errorf("recording.maxconcurrent must be at least 1")
	}
	// An empty storage bound disables byte-based retention.
	if s := settings.Recording.Retention.MaxStorage; s != "" {
		if _, err := ParseStorageSize(s); err != nil {
			return fmt.Errorf("recording.retention.maxstorage: %w", err)
		}
	}

	if qh := settings.Notification.QuietHours; qh.Enabled {
		for _, v := range []string{qh.Start, qh.End} {
			if _, _, err := ParseClock(v); err != nil {
				return fmt.Errorf("notification.quiethours: %w", err)
			}
		}
	}

	return nil
}

// ParseStorageSize converts a human readable size such as "500MB" or "2GB"
// into bytes. A bare number is taken as bytes.
func ParseStorageSize(value string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	if s == "" {
		return 0, fmt.Errorf("empty storage size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1 << 40
		s = strings.TrimSuffix(s, "TB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid storage size %q", value)
	}
	return int64(n * float64(multiplier)), nil
}

// ParseClock parses a "HH:MM" clock value into hour and minute.
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q, expected HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in clock value %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in clock value %q", value)
	}
	return hour, minute, nil
}
