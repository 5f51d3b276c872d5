package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/events"
)

func TestNewClient_RejectsEmptyBroker(t *testing.T) {
	_, err := NewClient(conf.MQTTSettings{})
	assert.Error(t, err)
}

func TestNewClient_UniqueClientIDs(t *testing.T) {
	a, err := NewClient(conf.MQTTSettings{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	b, err := NewClient(conf.MQTTSettings{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	assert.NotEqual(t, a.(*client).clientID, b.(*client).clientID)
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient(conf.MQTTSettings{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())

	err = c.Publish(t.Context(), "camgate/alerts", "{}")
	assert.Error(t, err)
}

func TestParseTrigger(t *testing.T) {
	det := parseTrigger(&triggerMessage{
		Source:     "detection",
		Species:    "barred owl",
		Confidence: 0.8,
		Urgent:     true,
	})
	assert.Equal(t, events.SourceDetection, det.Source)
	assert.Equal(t, "barred owl", det.Species)
	assert.InDelta(t, 0.8, det.Confidence, 0.001)
	assert.True(t, det.Urgent)

	manual := parseTrigger(&triggerMessage{Source: "manual"})
	assert.Equal(t, events.SourceManual, manual.Source)

	motion := parseTrigger(&triggerMessage{Source: "anything-else"})
	assert.Equal(t, events.SourceMotion, motion.Source)
	assert.False(t, motion.Urgent)
}

// feedClient lets the trigger feed run without a broker.
type feedClient struct {
	handler func(topic string, payload []byte)
}

func (f *feedClient) Connect(context.Context) error             { return nil }
func (f *feedClient) Publish(context.Context, string, string) error { return nil }
func (f *feedClient) IsConnected() bool                         { return true }
func (f *feedClient) Disconnect()                               {}

func (f *feedClient) Subscribe(_ string, handler func(string, []byte)) error {
	f.handler = handler
	return nil
}

// chanConsumer forwards bus triggers into a channel.
type chanConsumer struct {
	ch chan *events.Trigger
}

func (c *chanConsumer) Name() string { return "test-consumer" }

func (c *chanConsumer) ProcessTrigger(trigger *events.Trigger) error {
	c.ch <- trigger
	return nil
}

func timeoutChan() <-chan time.Time {
	return time.After(500 * time.Millisecond)
}

func TestStartTriggerFeed(t *testing.T) {
	bus := events.NewBus(nil)
	defer func() { _ = bus.Shutdown(time.Second) }()

	received := make(chan *events.Trigger, 4)
	require.NoError(t, bus.Subscribe(&chanConsumer{ch: received}))

	fake := &feedClient{}
	require.NoError(t, StartTriggerFeed(fake, conf.MQTTSettings{TriggerTopic: "cam/triggers"}, bus))
	require.NotNil(t, fake.handler)

	fake.handler("cam/triggers", []byte(`{"source":"detection","species":"bobcat","confidence":0.7}`))
	select {
	case trig := <-received:
		assert.Equal(t, "bobcat", trig.Species)
	case <-timeoutChan():
		t.Fatal("trigger not delivered")
	}

	// Malformed payloads are skipped silently.
	fake.handler("cam/triggers", []byte("not json"))
	select {
	case <-received:
		t.Fatal("malformed payload must not produce a trigger")
	case <-timeoutChan():
	}
}

func TestStartTriggerFeed_DisabledWithoutTopic(t *testing.T) {
	bus := events.NewBus(nil)
	defer func() { _ = bus.Shutdown(time.Second) }()

	fake := &feedClient{}
	require.NoError(t, StartTriggerFeed(fake, conf.MQTTSettings{}, bus))
	assert.Nil(t, fake.handler, "no subscription without a topic")
}
