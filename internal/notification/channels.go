package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/events"
	"github.com/wildnest/camgate/internal/httpclient"
	"github.com/wildnest/camgate/internal/mqtt"
)

// Alert is the rendered notification payload handed to every channel.
type Alert struct {
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Source    events.TriggerSource `json:"source"`
	Species   string               `json:"species,omitempty"`
	Priority  Priority             `json:"priority"`
	Urgent    bool                 `json:"urgent"`
	Timestamp time.Time            `json:"timestamp"`
}

// Channel delivers an alert. Channels succeed or fail independently.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// shoutrrrChannel fans one alert out to every configured service URL
// through a single router.
type shoutrrrChannel struct {
	sender *router.ServiceRouter
}

func newShoutrrrChannel(urls []string) (*shoutrrrChannel, error) {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_shoutrrr_sender").
			Build()
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &shoutrrrChannel{sender: sender}, nil
}

func (c *shoutrrrChannel) Name() string { return "shoutrrr" }

func (c *shoutrrrChannel) Send(_ context.Context, alert *Alert) error {
	params := &types.Params{"title": alert.Title}
	for _, err := range c.sender.Send(alert.Message, params) {
		if err != nil {
			return sendError("shoutrrr", err)
		}
	}
	return nil
}

// webhookChannel posts the alert as JSON to each endpoint.
type webhookChannel struct {
	urls []string
	http *httpclient.Client
}

func newWebhookChannel(urls []string, hc *httpclient.Client) *webhookChannel {
	if hc == nil {
		hc = httpclient.New(nil)
	}
	return &webhookChannel{urls: urls, http: hc}
}

func (c *webhookChannel) Name() string { return "webhook" }

func (c *webhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return sendError("webhook", err)
	}

	var firstErr error
	for _, url := range c.urls {
		resp, err := c.http.Post(ctx, url, "application/json", payload)
		if err != nil {
			if firstErr == nil {
				firstErr = sendError("webhook", err)
			}
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 && firstErr == nil {
			firstErr = sendError("webhook", fmt.Errorf("endpoint %s returned status %d", url, resp.StatusCode))
		}
	}
	return firstErr
}

// scriptChannel invokes an external command with the alert in its
// environment.
type scriptChannel struct {
	path string
}

func newScriptChannel(path string) *scriptChannel {
	return &scriptChannel{path: path}
}

func (c *scriptChannel) Name() string { return "script" }

func (c *scriptChannel) Send(ctx context.Context, alert *Alert) error {
	cmd := exec.CommandContext(ctx, c.path)
	cmd.Env = append(cmd.Environ(),
		"CAMGATE_TITLE="+alert.Title,
		"CAMGATE_MESSAGE="+alert.Message,
		"CAMGATE_SOURCE="+string(alert.Source),
		"CAMGATE_SPECIES="+alert.Species,
		"CAMGATE_PRIORITY="+string(alert.Priority),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return sendError("script", fmt.Errorf("%w: %s", err, string(out)))
	}
	return nil
}

// mqttChannel publishes the alert as JSON to a broker topic.
type mqttChannel struct {
	client mqtt.Client
	topic  string
}

func newMQTTChannel(client mqtt.Client, topic string) *mqttChannel {
	return &mqttChannel{client: client, topic: topic}
}

func (c *mqttChannel) Name() string { return "mqtt" }

func (c *mqttChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return sendError("mqtt", err)
	}
	if err := c.client.Publish(ctx, c.topic, string(payload)); err != nil {
		return sendError("mqtt", err)
	}
	return nil
}

func sendError(channel string, err error) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("operation", "send").
		Context("channel", channel).
		Build()
}
