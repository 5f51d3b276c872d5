package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/events"
)

func TestResolveSource_DirectURL(t *testing.T) {
	settings := &conf.Settings{}
	settings.Camera.StreamURL = "rtsp://admin:pw@cam.local/main"

	g := New(settings)
	t.Cleanup(g.Shutdown)

	require.NoError(t, g.resolveSource(context.Background()))
	assert.Equal(t, "rtsp://admin:pw@cam.local/main", g.SourceURL())
}

func TestResolveSource_NothingConfiguredIsFatal(t *testing.T) {
	g := New(&conf.Settings{})
	t.Cleanup(g.Shutdown)

	err := g.resolveSource(context.Background())
	assert.Error(t, err, "an unresolved camera source refuses startup")
}

type captureConsumer struct {
	ch chan *events.Trigger
}

func (c *captureConsumer) Name() string { return "capture" }

func (c *captureConsumer) ProcessTrigger(trigger *events.Trigger) error {
	c.ch <- trigger
	return nil
}

func TestTriggerEntryPoints(t *testing.T) {
	g := New(&conf.Settings{})
	t.Cleanup(g.Shutdown)

	consumer := &captureConsumer{ch: make(chan *events.Trigger, 4)}
	require.NoError(t, g.bus.Subscribe(consumer))

	g.OnMotion()
	g.OnDetection("red fox", 0.85, true)
	g.OnManual()

	sources := make([]events.TriggerSource, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case trig := <-consumer.ch:
			sources = append(sources, trig.Source)
			if trig.Source == events.SourceDetection {
				assert.Equal(t, "red fox", trig.Species)
				assert.True(t, trig.Urgent)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("trigger not delivered")
		}
	}
	assert.Equal(t, []events.TriggerSource{
		events.SourceMotion, events.SourceDetection, events.SourceManual,
	}, sources, "arrival order is preserved")
}

func TestAccessorsBeforeStart(t *testing.T) {
	g := New(&conf.Settings{})
	t.Cleanup(g.Shutdown)

	assert.NotPanics(t, func() {
		assert.Zero(t, g.GetStreamStats())
		assert.Zero(t, g.GetStreamHealth().Restarts)
		assert.Empty(t, g.PublicURL())
		assert.Zero(t, g.GetCapabilities(context.Background()))

		clips, err := g.ListClips()
		assert.NoError(t, err)
		assert.Empty(t, clips)

		stats, err := g.GetStorageStats()
		assert.NoError(t, err)
		assert.Zero(t, stats)
	})
}

func TestRetentionPolicyFromSettings(t *testing.T) {
	policy, err := retentionPolicy(conf.RetentionSettings{
		MaxClips:   50,
		MaxStorage: "500MB",
		MaxAgeDays: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, policy.MaxClips)
	assert.Equal(t, int64(500)<<20, policy.MaxStorageBytes)
	assert.Equal(t, 14, policy.MaxAgeDays)

	// Empty storage bound disables it instead of failing.
	policy, err = retentionPolicy(conf.RetentionSettings{MaxClips: 10})
	require.NoError(t, err)
	assert.Zero(t, policy.MaxStorageBytes)

	_, err = retentionPolicy(conf.RetentionSettings{MaxStorage: "lots"})
	assert.Error(t, err)
}
