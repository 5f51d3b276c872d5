// Package stream owns the HLS transcode session: it builds the encode
// arguments from settings, supervises the external transcoder with
// restart-on-crash, and exposes live progress stats. An optional relay
// process runs alongside in its own failure domain.
package stream

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/process"
)

// SessionState mirrors the supervised process lifecycle plus idle.
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateStarting SessionState = "starting"
	StateRunning  SessionState = "running"
	StateCrashed  SessionState = "crashed"
	StateStopped  SessionState = "stopped"
)

// Stats carries the transcoder's live progress counters. Frozen at their
// last values when the process crashes.
type Stats struct {
	FPS         float64
	BitrateKbps float64
	Frames      int64
	TimeMark    time.Duration
	UpdatedAt   time.Time
}

// Supervisor runs one transcode session per camera. Start resets the output
// directory and spawns the transcoder; unexpected exits are restarted by
// the process layer, never faster than the configured backoff.
type Supervisor struct {
	settings  conf.StreamSettings
	sourceURL string
	logger    *slog.Logger

	mu       sync.Mutex
	proc     *process.Supervised
	relay    *process.Supervised
	stats    Stats
	frozen   bool
	started  bool
	stopped  bool
	restarts int
}

// Health summarizes the session for status reporting.
type Health struct {
	State        SessionState
	Restarts     int
	LastProgress time.Time
}

// NewSupervisor binds the transcoder settings to a resolved camera source.
func NewSupervisor(settings conf.StreamSettings, sourceURL string) *Supervisor {
	return &Supervisor{
		settings:  settings,
		sourceURL: sourceURL,
		logger:    logging.ForService("stream"),
	}
}

// PlaylistPath returns the manifest location inside the output directory.
func (s *Supervisor) PlaylistPath() string {
	return filepath.Join(s.settings.OutputPath, "stream.m3u8")
}

// Start resets the output directory and launches the transcoder, plus the
// relay when configured. Relay spawn failure is non-fatal.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.Newf("stream session already started").
			Component("stream").
			Category(errors.CategoryState).
			Context("operation", "start").
			Build()
	}

	if err := s.resetOutputDir(); err != nil {
		return err
	}

	backoff := time.Duration(s.settings.RestartBackoffS) * time.Second
	s.proc = process.New(process.Config{
		Name:           "transcoder",
		Path:           s.settings.FfmpegPath,
		Args:           s.buildTranscodeArgs(),
		RestartBackoff: backoff,
		OnStart:        s.thawOnProgress,
		OnStdoutLine:   s.handleProgressLine,
		OnStderrLine: func(line string) {
			s.logger.Debug("transcoder stderr", "line", line)
		},
		OnExit: s.handleExit,
	})
	if err := s.proc.Start(); err != nil {
		s.proc = nil
		return err
	}
	s.started = true
	s.stopped = false
	s.logger.Info("transcode session started",
		"source", redactURL(s.sourceURL),
		"output", s.settings.OutputPath,
		"operation", "start")

	if s.settings.Relay.Enabled && s.settings.Relay.Path != "" {
		s.startRelayLocked(backoff)
	}
	return nil
}

// startRelayLocked spawns the relay in its own failure domain. The HLS path
// keeps serving when the relay dies.
func (s *Supervisor) startRelayLocked(backoff time.Duration) {
	var args []string
	if s.settings.Relay.Config != "" {
		args = append(args, "-config", s.settings.Relay.Config)
	}
	s.relay = process.New(process.Config{
		Name:           "relay",
		Path:           s.settings.Relay.Path,
		Args:           args,
		RestartBackoff: backoff,
		OnExit: func(err error) {
			s.logger.Warn("relay exited, live path falls back to transcoded stream",
				"error", err,
				"operation", "relay")
		},
	})
	if err := s.relay.Start(); err != nil {
		s.logger.Warn("relay failed to start, continuing without it",
			"error", err,
			"operation", "start")
		s.relay = nil
	}
}

// Stop terminates the transcoder and relay cooperatively so in-flight
// segments finalize.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	proc, relay := s.proc, s.relay
	s.proc, s.relay = nil, nil
	if s.started {
		s.stopped = true
	}
	s.started = false
	s.mu.Unlock()

	if relay != nil {
		relay.Stop()
	}
	if proc != nil {
		proc.Stop()
	}
}

// State reports the session state.
func (s *Supervisor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		if s.stopped {
			return StateStopped
		}
		if s.started {
			return StateStarting
		}
		return StateIdle
	}
	switch s.proc.State() {
	case process.Starting:
		return StateStarting
	case process.Running:
		return StateRunning
	case process.Crashed:
		return StateCrashed
	case process.Stopped:
		return StateStopped
	default:
		return StateIdle
	}
}

// GetStats returns a copy of the latest progress counters.
func (s *Supervisor) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// GetHealth reports the session state together with the restart count and
// the time of the last progress report.
func (s *Supervisor) GetHealth() Health {
	state := s.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		State:        state,
		Restarts:     s.restarts,
		LastProgress: s.stats.UpdatedAt,
	}
}

func (s *Supervisor) resetOutputDir() error {
	if s.settings.OutputPath == "" {
		return errors.Newf("stream output path not configured").
			Component("stream").
			Category(errors.CategoryConfiguration).
			Context("operation", "reset_output").
			Build()
	}
	if err := os.RemoveAll(s.settings.OutputPath); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryFileIO).
			Context("operation", "reset_output").
			Build()
	}
	if err := os.MkdirAll(s.settings.OutputPath, 0o755); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryFileIO).
			Context("operation", "reset_output").
			Build()
	}
	return nil
}

// buildTranscodeArgs assembles the encode command line from settings:
// resolution, bitrate, frame-rate cap, preset, audio toggle, segment
// duration and playlist window. Progress counters stream over stdout.
func (s *Supervisor) buildTranscodeArgs() []string {
	st := s.settings
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
	}
	if strings.HasPrefix(s.sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", s.sourceURL,
		"-c:v", "libx264",
		"-preset", st.Preset,
		"-b:v", fmt.Sprintf("%dk", st.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", st.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", st.BitrateKbps*2),
	)
	if st.Width > 0 && st.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", st.Width, st.Height))
	}
	if st.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(st.FrameRate))
	}
	if st.Audio {
		args = append(args, "-c:a", "aac", "-b:a", "64k")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(st.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(st.PlaylistSize),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(st.OutputPath, "segment_%05d.ts"),
		filepath.Join(st.OutputPath, "stream.m3u8"),
	)
	return args
}

// handleProgressLine folds one key=value progress line into the stats.
// Lines arrive in blocks terminated by a "progress=" line.
func (s *Supervisor) handleProgressLine(line string) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	switch key {
	case "fps":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			s.stats.FPS = v
		}
	case "bitrate":
		if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64); err == nil {
			s.stats.BitrateKbps = v
		}
	case "frame":
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			s.stats.Frames = v
		}
	case "out_time_us":
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			s.stats.TimeMark = time.Duration(v) * time.Microsecond
		}
	case "progress":
		s.stats.UpdatedAt = time.Now()
	}
}

// handleExit freezes the stats at their last values until the restarted
// process reports fresh progress.
func (s *Supervisor) handleExit(err error) {
	s.mu.Lock()
	s.frozen = true
	s.restarts++
	s.mu.Unlock()
	s.logger.Warn("transcoder exited unexpectedly",
		"error", err,
		"operation", "supervise")
}

// thawOnProgress unfreezes stats when a new transcoder attempt spawns.
func (s *Supervisor) thawOnProgress() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// redactURL strips embedded credentials for logging.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
