// Package ptz provides pan/tilt/zoom control behind a single backend
// interface with two implementations: the standard SOAP protocol and a
// vendor CGI dialect. The backend is chosen once at construction time and
// never re-evaluated mid-session.
package ptz

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/wildnest/camgate/internal/logging"
)

// Kind tags the protocol family a backend speaks.
type Kind int

const (
	// StandardProtocol drives the camera through its SOAP PTZ service.
	StandardProtocol Kind = iota
	// VendorCGI drives the camera through a ptz.cgi-style HTTP endpoint.
	VendorCGI
)

func (k Kind) String() string {
	switch k {
	case StandardProtocol:
		return "standard"
	case VendorCGI:
		return "cgi"
	default:
		return "unknown"
	}
}

// Capabilities reports what motion primitives a camera supports. Cached for
// the controller lifetime after the first probe.
type Capabilities struct {
	Supported      bool
	AbsoluteMove   bool
	RelativeMove   bool
	ContinuousMove bool
	Presets        bool
	Home           bool
}

// Preset identifies a stored position: an opaque token on the standard
// protocol, a numeric slot on CGI vendors.
type Preset struct {
	Token string
	Name  string
}

// Backend is the strategy interface both protocol families implement.
// Velocities are normalized: pan/tilt in [-1,1], zoom in [-1,1].
type Backend interface {
	Kind() Kind
	ContinuousMove(ctx context.Context, pan, tilt, zoom float64) error
	Stop(ctx context.Context) error
	RelativeMove(ctx context.Context, pan, tilt, zoom float64) error
	ListPresets(ctx context.Context) ([]Preset, error)
	GotoPreset(ctx context.Context, token string) error
	SetPreset(ctx context.Context, name string) (string, error)
	GotoHome(ctx context.Context) error
	SetHome(ctx context.Context) error
}

// cgiVendors maps lowercase manufacturer/model substrings to the CGI
// dialect. Everything else defaults to the standard protocol.
var cgiVendors = []string{"dahua", "amcrest", "lorex", "imou"}

// SelectKind resolves the backend choice once. An explicit configuration
// value wins; "auto" falls back to matching the device identity strings
// against known CGI vendors.
func SelectKind(configured, manufacturer, model string) Kind {
	switch strings.ToLower(strings.TrimSpace(configured)) {
	case "onvif", "standard":
		return StandardProtocol
	case "cgi":
		return VendorCGI
	}

	identity := strings.ToLower(manufacturer + " " + model)
	for _, vendor := range cgiVendors {
		if strings.Contains(identity, vendor) {
			return VendorCGI
		}
	}
	return StandardProtocol
}

// Controller wraps a backend with capability caching. Capability detection
// does not trust a dedicated status query; it issues a harmless stop and
// infers support from the outcome. The probe runs at most once, concurrent
// callers share the result.
type Controller struct {
	backend Backend
	logger  *slog.Logger

	probeOnce sync.Once
	caps      Capabilities
}

// NewController wraps a backend.
func NewController(backend Backend) *Controller {
	return &Controller{
		backend: backend,
		logger:  logging.ForService("ptz").With("backend", backend.Kind().String()),
	}
}

// Backend exposes the wrapped backend.
func (c *Controller) Backend() Backend {
	return c.backend
}

// GetCapabilities probes the camera on first call and returns the cached
// result afterwards.
func (c *Controller) GetCapabilities(ctx context.Context) Capabilities {
	c.probeOnce.Do(func() {
		if err := c.backend.Stop(ctx); err != nil {
			c.logger.Warn("capability probe failed, marking PTZ unsupported",
				"error", err,
				"operation", "get_capabilities")
			c.caps = Capabilities{}
			return
		}
		c.caps = Capabilities{
			Supported:      true,
			ContinuousMove: true,
			RelativeMove:   true,
			Presets:        true,
			Home:           true,
			// Only the standard protocol exposes true absolute positioning.
			AbsoluteMove: c.backend.Kind() == StandardProtocol,
		}
		c.logger.Info("PTZ capabilities probed",
			"supported", true,
			"operation", "get_capabilities")
	})
	return c.caps
}
