package onvif

import (
	"context"
	"net/url"

	"github.com/wildnest/camgate/internal/errors"
)

// MediaProfile describes one media configuration on the device.
type MediaProfile struct {
	Token     string
	Name      string
	Width     int
	Height    int
	StreamURI string
}

// PixelArea returns the pixel count used to rank profiles.
func (p *MediaProfile) PixelArea() int {
	return p.Width * p.Height
}

// Device holds the identity and profiles resolved during Connect. Immutable
// after a successful connect.
type Device struct {
	Host            string
	Port            int
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	Profiles        []MediaProfile
}

// Connect performs the startup sequence against the camera: unauthenticated
// clock probing, device identification and media profile resolution. Clock
// probe failure is non-fatal; identification and profile failures are not.
func (c *Client) Connect(ctx context.Context) (*Device, error) {
	if _, err := c.ProbeClock(ctx); err != nil {
		c.logger.Warn("clock probe failed, assuming zero offset",
			"error", err,
			"operation", "connect")
	}

	device, err := c.GetDeviceInformation(ctx)
	if err != nil {
		return nil, err
	}

	profiles, err := c.GetProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		uri, err := c.GetStreamURI(ctx, profiles[i].Token)
		if err != nil {
			// A profile without a resolvable URI is kept, just unusable for
			// streaming. Selection skips it.
			c.logger.Warn("failed to resolve stream URI for profile",
				"profile", profiles[i].Token,
				"error", err,
				"operation", "connect")
			continue
		}
		profiles[i].StreamURI = uri
	}
	device.Profiles = profiles
	device.Host = c.host
	device.Port = c.port

	c.logger.Info("connected to camera",
		"manufacturer", device.Manufacturer,
		"model", device.Model,
		"profiles", len(device.Profiles),
		"operation", "connect")

	return device, nil
}

// GetDeviceInformation queries manufacturer, model, firmware and serial.
func (c *Client) GetDeviceInformation(ctx context.Context) (*Device, error) {
	tree, err := c.call(ctx, devicePath, `<tds:GetDeviceInformation/>`, true)
	if err != nil {
		return nil, err
	}
	return &Device{
		Manufacturer:    tree.Text("Manufacturer"),
		Model:           tree.Text("Model"),
		FirmwareVersion: tree.Text("FirmwareVersion"),
		SerialNumber:    tree.Text("SerialNumber"),
	}, nil
}

// BestProfile returns the profile with the largest pixel area that has a
// usable stream URI, or nil when none qualifies.
func (d *Device) BestProfile() *MediaProfile {
	var best *MediaProfile
	for i := range d.Profiles {
		p := &d.Profiles[i]
		if p.StreamURI == "" {
			continue
		}
		if best == nil || p.PixelArea() > best.PixelArea() {
			best = p
		}
	}
	return best
}

// GetBestStreamURL selects the highest-resolution profile and returns its
// RTSP URI. When embedCredentials is set and the client has credentials,
// they are injected into the URI's authority component.
func (c *Client) GetBestStreamURL(device *Device, embedCredentials bool) (string, error) {
	best := device.BestProfile()
	if best == nil {
		return "", errors.Newf("no media profile with a usable stream URI").
			Component("onvif").
			Category(errors.CategoryValidation).
			Context("operation", "get_best_stream_url").
			Context("profiles", len(device.Profiles)).
			Build()
	}

	if !embedCredentials || c.credentials.Username == "" {
		return best.StreamURI, nil
	}
	return injectCredentials(best.StreamURI, c.credentials)
}

// injectCredentials places username/password into the URI authority.
func injectCredentials(rawURI string, credentials Credentials) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", errors.New(err).
			Component("onvif").
			Category(errors.CategoryProtocolParse).
			Context("operation", "inject_credentials").
			Build()
	}
	u.User = url.UserPassword(credentials.Username, credentials.Password)
	return u.String(), nil
}
