// Package gateway wires the components into one camera instance: control
// client, PTZ controller, stream supervisor, tunnel, recording pipeline and
// notification dispatcher, all owned by an explicit context object instead
// of package-level state so multiple cameras can run per process.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/diskmanager"
	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/events"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/mqtt"
	"github.com/wildnest/camgate/internal/notification"
	"github.com/wildnest/camgate/internal/onvif"
	"github.com/wildnest/camgate/internal/ptz"
	"github.com/wildnest/camgate/internal/recording"
	"github.com/wildnest/camgate/internal/stream"
	"github.com/wildnest/camgate/internal/tunnel"
)

// Gateway owns every component instance for one camera. Built by New,
// started by Start, torn down by Shutdown.
type Gateway struct {
	settings *conf.Settings
	logger   *slog.Logger

	bus        *events.Bus
	control    *onvif.Client
	device     *onvif.Device
	ptzCtrl    *ptz.Controller
	stream     *stream.Supervisor
	tunnel     *tunnel.Manager
	recording  *recording.Pipeline
	dispatcher *notification.Dispatcher
	mqttClient mqtt.Client

	sourceURL string
}

// New builds an unstarted gateway from settings.
func New(settings *conf.Settings) *Gateway {
	return &Gateway{
		settings: settings,
		logger:   logging.ForService("gateway"),
		bus:      events.NewBus(nil),
	}
}

// Start brings the gateway up: camera source resolution, PTZ, stream,
// tunnel, recording, notifications. The single fatal condition is an
// unresolved camera source; every other failure degrades.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.resolveSource(ctx); err != nil {
		return err
	}

	g.initPTZ()

	g.stream = stream.NewSupervisor(g.settings.Stream, g.sourceURL)
	if err := g.stream.Start(); err != nil {
		return err
	}
	if info := g.stream.ProbeStream(ctx); info != nil {
		g.logger.Info("stream source probed",
			"codec", info.Codec,
			"width", info.Width,
			"height", info.Height,
			"fps", info.FrameRate,
			"operation", "start")
	}

	g.tunnel = tunnel.NewManager(g.settings.Tunnel, g.localStreamURL())
	if g.tunnel.Enabled() {
		if err := g.tunnel.Start(); err != nil {
			g.logger.Warn("tunnel unavailable, serving local address only",
				"error", err,
				"operation", "start")
		}
	}

	g.connectMQTT(ctx)

	if err := g.startRecording(); err != nil {
		return err
	}
	if err := g.startNotifications(); err != nil {
		g.logger.Warn("notification dispatcher disabled",
			"error", err,
			"operation", "start")
	}

	g.logger.Info("gateway started",
		"source", g.sourceURL != "",
		"tunnel", string(g.tunnel.State()),
		"operation", "start")
	return nil
}

// resolveSource picks the stream URL: direct configuration first, then the
// control protocol. No usable source refuses startup.
func (g *Gateway) resolveSource(ctx context.Context) error {
	camera := g.settings.Camera

	if camera.StreamURL != "" {
		g.sourceURL = camera.StreamURL
		g.logger.Info("using configured stream URL", "operation", "resolve_source")
		return nil
	}

	if camera.Host == "" {
		return fatalNoSource(fmt.Errorf("neither a stream URL nor a camera host is configured"))
	}

	g.control = onvif.NewClient(camera.Host, camera.Port,
		onvif.Credentials{Username: camera.Username, Password: camera.Password},
		onvif.WithTimeout(time.Duration(camera.Timeout)*time.Second))

	device, err := g.control.Connect(ctx)
	if err != nil {
		return fatalNoSource(err)
	}
	g.device = device

	url, err := g.control.GetBestStreamURL(device, true)
	if err != nil {
		return fatalNoSource(err)
	}
	g.sourceURL = url
	return nil
}

func fatalNoSource(err error) error {
	return errors.New(fmt.Errorf("no usable camera source: %w", err)).
		Component("gateway").
		Category(errors.CategoryConfiguration).
		Context("operation", "resolve_source").
		Build()
}

// initPTZ picks the backend once at construction time and wraps it in the
// capability-caching controller. PTZ is optional; without a control
// connection only the CGI backend is possible.
func (g *Gateway) initPTZ() {
	camera := g.settings.Camera
	manufacturer, model := "", ""
	if g.device != nil {
		manufacturer, model = g.device.Manufacturer, g.device.Model
	}

	kind := ptz.SelectKind(camera.PTZ.Backend, manufacturer, model)

	var backend ptz.Backend
	switch kind {
	case ptz.VendorCGI:
		port := camera.CGIPort
		if port == 0 {
			port = 80
		}
		backend = ptz.NewCGIBackend(camera.Host, port, camera.Username, camera.Password,
			camera.PTZ.Channel, camera.PTZ.Speed)
	default:
		if g.control == nil || g.device == nil || g.device.BestProfile() == nil {
			g.logger.Info("PTZ disabled, no control connection", "operation", "init_ptz")
			return
		}
		backend = ptz.NewStandardBackend(g.control, g.device.BestProfile().Token, camera.PTZ.Speed)
	}
	g.ptzCtrl = ptz.NewController(backend)
}

// connectMQTT opens the broker connection and the inbound trigger feed.
// Both are optional and non-fatal.
func (g *Gateway) connectMQTT(ctx context.Context) {
	if !g.settings.MQTT.Enabled {
		return
	}
	client, err := mqtt.NewClient(g.settings.MQTT)
	if err != nil {
		g.logger.Warn("MQTT disabled", "error", err, "operation", "connect_mqtt")
		return
	}
	if err := client.Connect(ctx); err != nil {
		g.logger.Warn("MQTT broker unreachable, continuing without it",
			"error", err,
			"operation", "connect_mqtt")
		return
	}
	g.mqttClient = client

	if err := mqtt.StartTriggerFeed(client, g.settings.MQTT, g.bus); err != nil {
		g.logger.Warn("MQTT trigger feed unavailable",
			"error", err,
			"operation", "connect_mqtt")
	}
}

func (g *Gateway) startRecording() error {
	policy, err := retentionPolicy(g.settings.Recording.Retention)
	if err != nil {
		return err
	}

	g.recording = recording.NewPipeline(g.settings.Recording,
		g.settings.Stream.FfmpegPath, g.sourceURL, g.settings.Camera.SnapshotURL, policy)
	if err := g.recording.Start(); err != nil {
		return err
	}
	return g.bus.Subscribe(g.recording)
}

func (g *Gateway) startNotifications() error {
	dispatcher, err := notification.NewDispatcher(g.settings.Notification, g.mqttClient)
	if err != nil {
		return err
	}
	g.dispatcher = dispatcher
	return g.bus.Subscribe(dispatcher)
}

func retentionPolicy(settings conf.RetentionSettings) (diskmanager.Policy, error) {
	var maxBytes int64
	if settings.MaxStorage != "" {
		var err error
		maxBytes, err = conf.ParseStorageSize(settings.MaxStorage)
		if err != nil {
			return diskmanager.Policy{}, err
		}
	}
	return diskmanager.Policy{
		MaxClips:        settings.MaxClips,
		MaxStorageBytes: maxBytes,
		MaxAgeDays:      settings.MaxAgeDays,
	}, nil
}

// localStreamURL is the address the tunnel exposes; serving the manifest
// is the out-of-scope HTTP layer's job, port 8080 by convention.
func (g *Gateway) localStreamURL() string {
	return "http://localhost:8080"
}

// OnMotion publishes a motion trigger from an external analyzer.
func (g *Gateway) OnMotion() {
	trigger := events.NewTrigger(events.SourceMotion)
	g.bus.TryPublish(trigger)
}

// OnDetection publishes a species detection from the external feed.
func (g *Gateway) OnDetection(species string, confidence float64, urgent bool) {
	trigger := events.NewDetection(species, confidence)
	trigger.Urgent = urgent
	g.bus.TryPublish(trigger)
}

// OnManual publishes a manual recording request.
func (g *Gateway) OnManual() {
	trigger := events.NewTrigger(events.SourceManual)
	trigger.Urgent = true
	g.bus.TryPublish(trigger)
}

// SourceURL returns the resolved camera source.
func (g *Gateway) SourceURL() string { return g.sourceURL }

// Device returns the connected device identity, nil without a control
// connection.
func (g *Gateway) Device() *onvif.Device { return g.device }

// PTZ returns the capability-caching PTZ controller, nil when PTZ is
// unavailable.
func (g *Gateway) PTZ() *ptz.Controller { return g.ptzCtrl }

// GetStreamStats returns the transcoder's live counters, zero before Start.
func (g *Gateway) GetStreamStats() stream.Stats {
	if g.stream == nil {
		return stream.Stats{}
	}
	return g.stream.GetStats()
}

// GetStreamHealth reports session state, restart count and last progress.
func (g *Gateway) GetStreamHealth() stream.Health {
	if g.stream == nil {
		return stream.Health{State: stream.StateIdle}
	}
	return g.stream.GetHealth()
}

// GetCapabilities probes (once) and returns the PTZ capabilities.
func (g *Gateway) GetCapabilities(ctx context.Context) ptz.Capabilities {
	if g.ptzCtrl == nil {
		return ptz.Capabilities{}
	}
	return g.ptzCtrl.GetCapabilities(ctx)
}

// ListClips returns the finalized clips, newest first.
func (g *Gateway) ListClips() ([]recording.Clip, error) {
	if g.recording == nil {
		return nil, nil
	}
	return g.recording.ListClips()
}

// GetStorageStats reports the clip directory usage.
func (g *Gateway) GetStorageStats() (diskmanager.StorageStats, error) {
	if g.recording == nil {
		return diskmanager.StorageStats{}, nil
	}
	return g.recording.GetStorageStats()
}

// PublicURL returns the tunnel URL, empty when unavailable.
func (g *Gateway) PublicURL() string {
	if g.tunnel == nil {
		return ""
	}
	return g.tunnel.PublicURL()
}

// Shutdown tears the components down in reverse start order.
func (g *Gateway) Shutdown() {
	if g.recording != nil {
		g.recording.Stop()
	}
	if g.tunnel != nil {
		g.tunnel.Stop()
	}
	if g.stream != nil {
		g.stream.Stop()
	}
	if err := g.bus.Shutdown(5 * time.Second); err != nil {
		g.logger.Warn("event bus drain timed out", "error", err, "operation", "shutdown")
	}
	// The dispatcher stops after the bus so its queue sees every delivered
	// trigger, and before the broker disconnect so the MQTT channel can
	// still publish.
	if g.dispatcher != nil {
		g.dispatcher.Stop()
	}
	if g.mqttClient != nil {
		g.mqttClient.Disconnect()
	}
	g.logger.Info("gateway stopped", "operation", "shutdown")
}
