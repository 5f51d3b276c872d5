// Package notification gates trigger events through enabled/quiet-hours/
// rate-limit checks and fans the surviving alerts out to the configured
// channels. A notification failure is logged and swallowed; it never
// reaches the live video path.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/events"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/mqtt"
)

const (
	sendTimeout       = 30 * time.Second
	deliveryQueueSize = 16
)

// queuedAlert pairs an alert with the rate-limit slot reserved for it.
type queuedAlert struct {
	alert *Alert
	at    time.Time
}

// Dispatcher consumes triggers from the event bus and delivers alerts.
// Gating runs on the bus worker; deliveries run on the dispatcher's own
// worker so a slow channel never delays other trigger consumers.
type Dispatcher struct {
	settings conf.NotificationSettings
	channels []Channel
	limiter  *rateLimiter
	species  *speciesTracker
	logger   *slog.Logger

	quietStart int
	quietEnd   int

	queue      chan queuedAlert
	pending    sync.WaitGroup
	running    atomic.Bool
	stopOnce   sync.Once
	stopChan   chan struct{}
	workerDone chan struct{}

	// now is replaceable for tests.
	now func() time.Time
}

// DispatcherOption overrides dispatcher internals.
type DispatcherOption func(*Dispatcher)

// WithClock replaces the dispatcher's time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithChannels replaces the channel set built from settings.
func WithChannels(channels ...Channel) DispatcherOption {
	return func(d *Dispatcher) { d.channels = channels }
}

// NewDispatcher builds the dispatcher and its channels from settings. The
// MQTT client may be nil when the MQTT channel is not configured.
func NewDispatcher(settings conf.NotificationSettings, mqttClient mqtt.Client, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		settings: settings,
		limiter:  newRateLimiter(settings.RateLimit.MaxPerHour, settings.RateLimit.MinIntervalSeconds),
		species:  newSpeciesTracker(settings.RareSpecies, settings.IgnoredSpecies),
		logger:   logging.ForService("notification"),
		now:      time.Now,
	}

	if settings.QuietHours.Enabled {
		startHour, startMin, err := conf.ParseClock(settings.QuietHours.Start)
		if err != nil {
			return nil, err
		}
		endHour, endMin, err := conf.ParseClock(settings.QuietHours.End)
		if err != nil {
			return nil, err
		}
		d.quietStart = startHour*60 + startMin
		d.quietEnd = endHour*60 + endMin
	}

	if len(settings.Channels.Shoutrrr) > 0 {
		ch, err := newShoutrrrChannel(settings.Channels.Shoutrrr)
		if err != nil {
			return nil, err
		}
		d.channels = append(d.channels, ch)
	}
	if len(settings.Channels.Webhook) > 0 {
		d.channels = append(d.channels, newWebhookChannel(settings.Channels.Webhook, nil))
	}
	if settings.Channels.ScriptPath != "" {
		d.channels = append(d.channels, newScriptChannel(settings.Channels.ScriptPath))
	}
	if settings.Channels.MQTTTopic != "" && mqttClient != nil {
		d.channels = append(d.channels, newMQTTChannel(mqttClient, settings.Channels.MQTTTopic))
	}

	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan queuedAlert, deliveryQueueSize)
	d.stopChan = make(chan struct{})
	d.workerDone = make(chan struct{})
	d.running.Store(true)
	go d.deliveryWorker()

	return d, nil
}

// Stop ends the delivery worker after flushing the queued alerts.
func (d *Dispatcher) Stop() {
	d.running.Store(false)
	d.stopOnce.Do(func() { close(d.stopChan) })
	<-d.workerDone
}

// Flush blocks until every queued alert has been attempted.
func (d *Dispatcher) Flush() {
	d.pending.Wait()
}

// Name implements events.Consumer.
func (d *Dispatcher) Name() string { return "notification" }

// ProcessTrigger implements events.Consumer. Gate order: global enabled
// flag, per-source toggle, species filter, quiet hours (urgent bypasses),
// rate limit. Surviving alerts are queued for asynchronous fan-out. Every
// suppression is a silent success from the bus's point of view.
func (d *Dispatcher) ProcessTrigger(trigger *events.Trigger) error {
	if !d.settings.Enabled || !d.sourceEnabled(trigger.Source) {
		return nil
	}

	if trigger.Species != "" && d.species.isIgnored(trigger.Species) {
		d.logger.Debug("alert suppressed for ignored species",
			"species", trigger.Species,
			"operation", "dispatch")
		return nil
	}

	now := d.now()
	if d.inQuietHours(now) && !trigger.Urgent {
		d.logger.Debug("alert suppressed by quiet hours",
			"trigger", trigger.ID,
			"operation", "dispatch")
		return nil
	}

	if !d.limiter.allow(now) {
		d.logger.Debug("alert suppressed by rate limit",
			"trigger", trigger.ID,
			"operation", "dispatch")
		return nil
	}

	// Reserve the rate-limit slot up front so triggers arriving while the
	// delivery is still in flight observe the spacing. A delivery that
	// fails on every channel gives the slot back.
	d.limiter.record(now)
	d.enqueue(queuedAlert{alert: d.buildAlert(trigger, now), at: now})
	return nil
}

// enqueue hands an alert to the delivery worker without blocking. A full
// queue drops the alert and releases its rate-limit slot.
func (d *Dispatcher) enqueue(qa queuedAlert) {
	if !d.running.Load() {
		d.limiter.release(qa.at)
		return
	}
	d.pending.Add(1)
	select {
	case d.queue <- qa:
	default:
		d.pending.Done()
		d.limiter.release(qa.at)
		d.logger.Warn("alert dropped, delivery queue full",
			"title", qa.alert.Title,
			"operation", "dispatch")
	}
}

func (d *Dispatcher) deliveryWorker() {
	defer close(d.workerDone)

	for {
		select {
		case <-d.stopChan:
			// Flush what was accepted before the stop.
			for {
				select {
				case qa := <-d.queue:
					d.send(qa)
				default:
					return
				}
			}
		case qa := <-d.queue:
			d.send(qa)
		}
	}
}

func (d *Dispatcher) send(qa queuedAlert) {
	defer d.pending.Done()
	if !d.fanOut(qa.alert) {
		d.limiter.release(qa.at)
	}
}

func (d *Dispatcher) sourceEnabled(source events.TriggerSource) bool {
	switch source {
	case events.SourceMotion:
		return d.settings.OnMotion
	case events.SourceDetection:
		return d.settings.OnDetection
	case events.SourceManual:
		return d.settings.OnManual
	default:
		return false
	}
}

func (d *Dispatcher) inQuietHours(now time.Time) bool {
	if !d.settings.QuietHours.Enabled {
		return false
	}
	return inQuietWindow(now, d.quietStart, d.quietEnd)
}

// buildAlert renders the trigger into a channel-agnostic alert, applying
// species priority escalation for detections.
func (d *Dispatcher) buildAlert(trigger *events.Trigger, now time.Time) *Alert {
	alert := &Alert{
		Source:    trigger.Source,
		Species:   trigger.Species,
		Urgent:    trigger.Urgent,
		Priority:  PriorityPlain,
		Timestamp: now,
	}

	switch trigger.Source {
	case events.SourceDetection:
		alert.Priority = d.species.classify(trigger.Species)
		switch alert.Priority {
		case PriorityNew:
			alert.Title = "New species detected"
		case PriorityRare:
			alert.Title = "Rare species detected"
		default:
			alert.Title = "Species detected"
		}
		alert.Message = fmt.Sprintf("%s (confidence %.0f%%)", trigger.Species, trigger.Confidence*100)
	case events.SourceManual:
		alert.Title = "Manual recording"
		alert.Message = "Recording started manually"
	default:
		alert.Title = "Motion detected"
		alert.Message = "Motion detected at " + now.Format("15:04:05")
	}
	return alert
}

// fanOut delivers to every channel; the overall result is sent when any
// channel succeeds.
func (d *Dispatcher) fanOut(alert *Alert) bool {
	if len(d.channels) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	sent := false
	for _, channel := range d.channels {
		if err := channel.Send(ctx, alert); err != nil {
			d.logger.Warn("channel delivery failed",
				"channel", channel.Name(),
				"error", err,
				"operation", "dispatch")
			continue
		}
		sent = true
	}

	if sent {
		d.logger.Info("alert sent",
			"title", alert.Title,
			"priority", string(alert.Priority),
			"operation", "dispatch")
	}
	return sent
}
