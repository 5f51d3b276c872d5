// Package tunnel manages the external tunnel binary that exposes the local
// stream publicly. Named mode runs with a persistent credential and a
// pre-configured hostname; quick mode runs credential-less and scans the
// process output for the generated public URL. Tunnel failure is always
// non-fatal: callers fall back to the local address.
package tunnel

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/process"
)

// State is the tunnel lifecycle phase.
type State string

const (
	StateDisabled     State = "disabled"
	StateEstablishing State = "establishing"
	StateEstablished  State = "established"
	StateFailed       State = "failed"
)

const (
	ModeNamed = "named"
	ModeQuick = "quick"

	// DefaultEstablishTimeout bounds the wait for readiness. Named mode
	// falls back to the configured hostname when it elapses.
	DefaultEstablishTimeout = 30 * time.Second

	// connectionMarker appears in the process output once a named tunnel
	// has registered with the edge.
	connectionMarker = "Registered tunnel connection"
)

// quickURLPattern matches the generated public URL a quick tunnel prints.
var quickURLPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// Manager supervises one tunnel process and tracks its public URL. The URL
// is cleared whenever the process exits.
type Manager struct {
	settings conf.TunnelSettings
	localURL string
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	publicURL string
	proc      *process.Supervised
	readyOnce sync.Once
	ready     chan struct{}
}

// NewManager binds the tunnel settings to the local address it exposes.
func NewManager(settings conf.TunnelSettings, localURL string) *Manager {
	state := StateDisabled
	if settings.Mode == ModeNamed || settings.Mode == ModeQuick {
		state = StateEstablishing
	}
	return &Manager{
		settings: settings,
		localURL: localURL,
		logger:   logging.ForService("tunnel").With("mode", settings.Mode),
		state:    state,
		ready:    make(chan struct{}),
	}
}

// Enabled reports whether a tunnel mode is configured.
func (m *Manager) Enabled() bool {
	return m.settings.Mode == ModeNamed || m.settings.Mode == ModeQuick
}

// State returns the current tunnel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PublicURL returns the established public URL, empty while establishing
// or after the process exited.
func (m *Manager) PublicURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publicURL
}

// Ready closes once the tunnel declares readiness.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Start spawns the tunnel process and arms the establish timeout. A spawn
// failure marks the tunnel failed and is returned for logging; callers
// treat it as non-fatal.
func (m *Manager) Start() error {
	if !m.Enabled() {
		return nil
	}

	args, err := m.buildArgs()
	if err != nil {
		m.setFailed()
		return err
	}

	m.proc = process.New(process.Config{
		Name:         "tunnel",
		Path:         m.settings.Path,
		Args:         args,
		OnStdoutLine: m.handleLine,
		OnStderrLine: m.handleLine,
		OnExit:       m.handleExit,
	})
	if err := m.proc.Start(); err != nil {
		m.setFailed()
		return err
	}

	go m.armEstablishTimeout()
	m.logger.Info("tunnel process started", "operation", "start")
	return nil
}

// Stop terminates the tunnel process and clears the public URL.
func (m *Manager) Stop() {
	if m.proc != nil {
		m.proc.Stop()
	}
	m.mu.Lock()
	m.publicURL = ""
	if m.state != StateDisabled {
		m.state = StateFailed
	}
	m.mu.Unlock()
}

func (m *Manager) buildArgs() ([]string, error) {
	switch m.settings.Mode {
	case ModeNamed:
		if m.settings.Token == "" {
			return nil, errors.Newf("named tunnel requires a token").
				Component("tunnel").
				Category(errors.CategoryConfiguration).
				Context("operation", "build_args").
				Build()
		}
		return []string{"tunnel", "--no-autoupdate", "run", "--token", m.settings.Token}, nil
	case ModeQuick:
		return []string{"tunnel", "--no-autoupdate", "--url", m.localURL}, nil
	default:
		return nil, errors.Newf("unknown tunnel mode %q", m.settings.Mode).
			Component("tunnel").
			Category(errors.CategoryConfiguration).
			Context("operation", "build_args").
			Build()
	}
}

// handleLine scans process output for readiness signals.
func (m *Manager) handleLine(line string) {
	switch m.settings.Mode {
	case ModeNamed:
		if strings.Contains(line, connectionMarker) {
			m.establish(m.hostnameURL())
		}
	case ModeQuick:
		if url := quickURLPattern.FindString(line); url != "" {
			m.establish(url)
		}
	}
}

// armEstablishTimeout declares the named tunnel ready from its configured
// hostname after the bounded wait, or fails the session when no readiness
// signal arrived in time.
func (m *Manager) armEstablishTimeout() {
	timeout := time.Duration(m.settings.EstablishTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = DefaultEstablishTimeout
	}
	select {
	case <-m.ready:
		return
	case <-time.After(timeout):
	}

	if m.settings.Mode == ModeNamed && m.settings.Hostname != "" {
		m.establish(m.hostnameURL())
		return
	}

	m.setFailed()
	m.logger.Warn("tunnel did not establish in time, falling back to local address",
		"timeout", timeout.String(),
		"operation", "establish")
}

func (m *Manager) hostnameURL() string {
	hostname := m.settings.Hostname
	if hostname == "" {
		return ""
	}
	if !strings.Contains(hostname, "://") {
		hostname = "https://" + hostname
	}
	return hostname
}

func (m *Manager) establish(url string) {
	m.mu.Lock()
	m.state = StateEstablished
	m.publicURL = url
	m.mu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("tunnel established",
		"public_url", url,
		"operation", "establish")
}

func (m *Manager) setFailed() {
	m.mu.Lock()
	m.state = StateFailed
	m.publicURL = ""
	m.mu.Unlock()
}

// handleExit clears the public URL; the supervisor restarts the process
// and a fresh readiness signal re-establishes it.
func (m *Manager) handleExit(err error) {
	m.mu.Lock()
	m.publicURL = ""
	if m.state == StateEstablished {
		m.state = StateEstablishing
	}
	m.mu.Unlock()
	m.logger.Warn("tunnel process exited",
		"error", err,
		"operation", "supervise")
}
