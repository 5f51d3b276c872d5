// Package mqtt connects the gateway to a broker: outbound notification
// publishing and an optional inbound detection feed that converts broker
// messages into recording triggers.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/events"
	"github.com/wildnest/camgate/internal/logging"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second

	disconnectQuiesceMs = 250
)

// Client is the broker connection used by the notification channel and the
// trigger feed.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect()
}

// client wraps the paho client with gateway defaults: clean session,
// auto-reconnect with retry, structured logging.
type client struct {
	settings conf.MQTTSettings
	clientID string
	logger   *slog.Logger
	paho     pahomqtt.Client
}

// NewClient builds a broker client from settings. The connection is opened
// by Connect.
func NewClient(settings conf.MQTTSettings) (Client, error) {
	if _, err := url.Parse(settings.Broker); err != nil || settings.Broker == "" {
		return nil, errors.Newf("invalid broker URL %q", settings.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("operation", "new_client").
			Build()
	}
	return &client{
		settings: settings,
		clientID: "camgate-" + uuid.New().String()[:8],
		logger:   logging.ForService("mqtt").With("broker", settings.Broker),
	}, nil
}

func (c *client) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.logger.Info("connected to broker", "operation", "connect")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("broker connection lost, auto-reconnect active",
			"error", err,
			"operation", "connect")
	})

	c.paho = pahomqtt.NewClient(opts)

	token := c.paho.Connect()
	timeout := connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return connError(fmt.Errorf("connection timeout after %s", timeout))
	}
	if err := token.Error(); err != nil {
		return connError(err)
	}
	return nil
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	if !c.IsConnected() {
		return errors.Newf("not connected to broker").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}

	token := c.paho.Publish(topic, 0, false, payload)
	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return errors.Newf("publish timeout for topic %s", topic).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	if !c.IsConnected() {
		return connError(fmt.Errorf("not connected to broker"))
	}
	token := c.paho.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return connError(fmt.Errorf("subscribe timeout for topic %s", topic))
	}
	return token.Error()
}

func (c *client) IsConnected() bool {
	return c.paho != nil && c.paho.IsConnected()
}

func (c *client) Disconnect() {
	if c.paho != nil {
		c.paho.Disconnect(disconnectQuiesceMs)
	}
}

func connError(err error) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTConnection).
		Context("operation", "connect").
		Build()
}

// triggerMessage is the inbound detection feed payload.
type triggerMessage struct {
	Source     string  `json:"source"`
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	Urgent     bool    `json:"urgent"`
}

// StartTriggerFeed subscribes to the configured trigger topic and converts
// each message into a bus trigger. Malformed payloads are skipped, not
// fatal.
func StartTriggerFeed(c Client, settings conf.MQTTSettings, bus *events.Bus) error {
	if settings.TriggerTopic == "" {
		return nil
	}
	logger := logging.ForService("mqtt")

	return c.Subscribe(settings.TriggerTopic, func(topic string, payload []byte) {
		var msg triggerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Debug("skipping malformed trigger payload",
				"topic", topic,
				"error", err,
				"operation", "trigger_feed")
			return
		}

		trigger := parseTrigger(&msg)
		if !bus.TryPublish(trigger) {
			logger.Warn("trigger dropped, bus full",
				"topic", topic,
				"operation", "trigger_feed")
		}
	})
}

func parseTrigger(msg *triggerMessage) events.Trigger {
	var trigger events.Trigger
	switch msg.Source {
	case "detection":
		trigger = events.NewDetection(msg.Species, msg.Confidence)
	case "manual":
		trigger = events.NewTrigger(events.SourceManual)
	default:
		trigger = events.NewTrigger(events.SourceMotion)
	}
	trigger.Urgent = msg.Urgent
	return trigger
}
