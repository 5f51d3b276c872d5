package ptz

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/httpclient"
	"github.com/wildnest/camgate/internal/logging"
)

const (
	cgiPath = "/cgi-bin/ptz.cgi"

	// Vendor speed range. arg2 carries the scaled value.
	cgiMinSpeed = 1
	cgiMaxSpeed = 8

	// Numeric preset slots enumerated by convention.
	cgiPresetSlots = 10

	// moveThreshold is the dead zone below which an axis does not
	// contribute to the direction code.
	moveThreshold = 0.1
)

// Eight-way direction codes plus zoom, as the CGI dialect names them.
var allDirectionCodes = []string{
	"Up", "Down", "Left", "Right",
	"LeftUp", "RightUp", "LeftDown", "RightDown",
	"ZoomTele", "ZoomWide",
}

// CGIBackend drives PTZ through a ptz.cgi-style HTTP endpoint with
// action/channel/code/arg1..arg3 query parameters, authenticated via HTTP
// Digest. The last issued direction code is remembered so stop can target
// it; when unknown, stop covers every known code.
type CGIBackend struct {
	baseURL string
	channel int
	speed   float64
	http    *httpclient.Client
	logger  *slog.Logger

	mu       sync.Mutex
	lastCode string
}

// CGIOption configures a CGIBackend.
type CGIOption func(*cgiConfig)

type cgiConfig struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// WithCGITransport replaces the inner HTTP transport. Used by tests; the
// digest layer still wraps it.
func WithCGITransport(rt http.RoundTripper) CGIOption {
	return func(c *cgiConfig) { c.transport = rt }
}

// WithCGITimeout sets the per-request timeout, default 10s.
func WithCGITimeout(timeout time.Duration) CGIOption {
	return func(c *cgiConfig) { c.timeout = timeout }
}

// NewCGIBackend builds a CGI backend for host:port. speed is normalized
// (0,1] and scaled to the vendor's 1..8 range per command.
func NewCGIBackend(host string, port int, username, password string, channel int, speed float64, opts ...CGIOption) *CGIBackend {
	cfg := cgiConfig{timeout: httpclient.DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if speed <= 0 || speed > 1 {
		speed = 0.5
	}

	return &CGIBackend{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		channel: channel,
		speed:   speed,
		http:    httpclient.NewWithTransport(newDigestTransport(username, password, cfg.transport), cfg.timeout),
		logger:  logging.ForService("ptz").With("backend", "cgi", "host", host),
	}
}

func (b *CGIBackend) Kind() Kind { return VendorCGI }

// command issues one ptz.cgi call. Vendors answer 200 with "OK" or "Error"
// in the body; a non-OK body or status is a PTZ error.
func (b *CGIBackend) command(ctx context.Context, action, code string, arg1, arg2, arg3 int) error {
	query := url.Values{}
	query.Set("action", action)
	query.Set("channel", strconv.Itoa(b.channel))
	query.Set("code", code)
	query.Set("arg1", strconv.Itoa(arg1))
	query.Set("arg2", strconv.Itoa(arg2))
	query.Set("arg3", strconv.Itoa(arg3))

	resp, err := b.http.Get(ctx, b.baseURL+cgiPath+"?"+query.Encode())
	if err != nil {
		return errors.New(fmt.Errorf("cgi command failed: %w", err)).
			Component("ptz").
			Category(errors.CategoryNetwork).
			Context("operation", "cgi_command").
			Context("code", code).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		// Some firmwares answer an empty body on success, so only a
		// present body is held to the sentinel.
		if reply := strings.TrimSpace(string(body)); reply != "" && !strings.EqualFold(reply, "ok") {
			return errors.Newf("cgi command rejected: %s", reply).
				Component("ptz").
				Category(errors.CategoryPTZ).
				Context("operation", "cgi_command").
				Context("code", code).
				Build()
		}
		return nil
	case http.StatusUnauthorized:
		return errors.Newf("camera rejected digest credentials").
			Component("ptz").
			Category(errors.CategoryAuthentication).
			Context("operation", "cgi_command").
			Build()
	default:
		return errors.Newf("cgi command returned status %d", resp.StatusCode).
			Component("ptz").
			Category(errors.CategoryPTZ).
			Context("operation", "cgi_command").
			Context("code", code).
			Context("status", resp.StatusCode).
			Build()
	}
}

// directionCode maps a velocity vector to the vendor's 8-way direction
// codes, or a zoom code when pan/tilt are inside the dead zone.
func directionCode(pan, tilt, zoom float64) string {
	horizontal := ""
	vertical := ""
	if pan > moveThreshold {
		horizontal = "Right"
	} else if pan < -moveThreshold {
		horizontal = "Left"
	}
	if tilt > moveThreshold {
		vertical = "Up"
	} else if tilt < -moveThreshold {
		vertical = "Down"
	}

	switch {
	case horizontal != "" && vertical != "":
		return horizontal + vertical
	case horizontal != "":
		return horizontal
	case vertical != "":
		return vertical
	case zoom > moveThreshold:
		return "ZoomTele"
	case zoom < -moveThreshold:
		return "ZoomWide"
	default:
		return ""
	}
}

// scaledSpeed converts the normalized configured speed into the vendor
// range, weighted by the largest axis magnitude of the request.
func (b *CGIBackend) scaledSpeed(mag float64) int {
	v := int(math.Round(b.speed * mag * cgiMaxSpeed))
	if v < cgiMinSpeed {
		v = cgiMinSpeed
	}
	if v > cgiMaxSpeed {
		v = cgiMaxSpeed
	}
	return v
}

// ContinuousMove stops in-flight motion, resolves the direction code and
// starts moving. A zero vector degenerates to a stop.
func (b *CGIBackend) ContinuousMove(ctx context.Context, pan, tilt, zoom float64) error {
	if err := b.Stop(ctx); err != nil {
		return err
	}

	code := directionCode(clampUnit(pan), clampUnit(tilt), clampUnit(zoom))
	if code == "" {
		return nil
	}

	if err := b.command(ctx, "start", code, 0, b.scaledSpeed(magnitude(pan, tilt, zoom)), 0); err != nil {
		return err
	}

	b.mu.Lock()
	b.lastCode = code
	b.mu.Unlock()
	return nil
}

// Stop halts motion. With a known in-flight direction only that code is
// stopped; otherwise every known code is stopped as an idempotent safety
// net.
func (b *CGIBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	code := b.lastCode
	b.lastCode = ""
	b.mu.Unlock()

	if code != "" {
		return b.command(ctx, "stop", code, 0, 0, 0)
	}

	var firstErr error
	for _, c := range allDirectionCodes {
		if err := b.command(ctx, "stop", c, 0, 0, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RelativeMove has no native CGI primitive; it is approximated as a
// continuous move with an auto-scheduled stop proportional to the requested
// magnitude. Uncalibrated by design of the dialect.
func (b *CGIBackend) RelativeMove(ctx context.Context, pan, tilt, zoom float64) error {
	if err := b.ContinuousMove(ctx, sign(pan), sign(tilt), sign(zoom)); err != nil {
		return err
	}
	scheduleStop(b, magnitude(pan, tilt, zoom))
	return nil
}

// ListPresets enumerates the conventional numeric slots. The dialect has no
// reliable preset listing, so the slots are reported unconditionally.
func (b *CGIBackend) ListPresets(_ context.Context) ([]Preset, error) {
	presets := make([]Preset, 0, cgiPresetSlots)
	for i := 1; i <= cgiPresetSlots; i++ {
		slot := strconv.Itoa(i)
		presets = append(presets, Preset{Token: slot, Name: "Preset " + slot})
	}
	return presets, nil
}

func (b *CGIBackend) GotoPreset(ctx context.Context, token string) error {
	slot, err := presetSlot(token)
	if err != nil {
		return err
	}
	return b.command(ctx, "start", "GotoPreset", 0, slot, 0)
}

// SetPreset stores the current position. The name must be a numeric slot;
// the dialect has no named presets.
func (b *CGIBackend) SetPreset(ctx context.Context, name string) (string, error) {
	slot, err := presetSlot(name)
	if err != nil {
		return "", err
	}
	if err := b.command(ctx, "start", "SetPreset", 0, slot, 0); err != nil {
		return "", err
	}
	return strconv.Itoa(slot), nil
}

// GotoHome moves to preset slot 1, the conventional home position.
func (b *CGIBackend) GotoHome(ctx context.Context) error {
	return b.GotoPreset(ctx, "1")
}

// SetHome stores the current position in preset slot 1.
func (b *CGIBackend) SetHome(ctx context.Context) error {
	_, err := b.SetPreset(ctx, "1")
	return err
}

func presetSlot(token string) (int, error) {
	slot, err := strconv.Atoi(token)
	if err != nil || slot < 1 {
		return 0, errors.Newf("invalid preset slot %q, expected a positive number", token).
			Component("ptz").
			Category(errors.CategoryValidation).
			Context("operation", "preset_slot").
			Build()
	}
	return slot, nil
}
