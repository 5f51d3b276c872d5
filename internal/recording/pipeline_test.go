package recording

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/diskmanager"
	"github.com/wildnest/camgate/internal/events"
)

func testPipeline(t *testing.T, settings conf.RecordingSettings, policy diskmanager.Policy, opts ...PipelineOption) *Pipeline {
	t.Helper()
	if settings.Path == "" {
		settings.Path = t.TempDir()
	}
	settings.Retention.SweepMinutes = 60

	base := []PipelineOption{
		WithCapture(func(_ context.Context, _, outPath string, _ time.Duration) error {
			return os.WriteFile(outPath, []byte("clip"), 0o644)
		}),
		WithSnapshot(func(_ context.Context, outPath string) error {
			return os.WriteFile(outPath, []byte("jpg"), 0o644)
		}),
	}
	p := NewPipeline(settings, "ffmpeg", "rtsp://cam.local/main", "", policy, append(base, opts...)...)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p
}

func trigger() *events.Trigger {
	t := events.NewTrigger(events.SourceMotion)
	return &t
}

func waitClip(t *testing.T, p *Pipeline) *Clip {
	t.Helper()
	select {
	case clip := <-p.ClipDone():
		return clip
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not finish")
		return nil
	}
}

func TestCooldownDropsRapidTriggers(t *testing.T) {
	var captures atomic.Int64
	p := testPipeline(t, conf.RecordingSettings{CooldownMs: 60000}, diskmanager.Policy{},
		WithCapture(func(_ context.Context, _, outPath string, _ time.Duration) error {
			captures.Add(1)
			return os.WriteFile(outPath, []byte("clip"), 0o644)
		}))

	require.NoError(t, p.ProcessTrigger(trigger()))
	require.NotNil(t, waitClip(t, p))

	// Inside the cooldown window: dropped without an attempt.
	require.NoError(t, p.ProcessTrigger(trigger()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), captures.Load())
}

func TestAcceptedTriggersRespectCooldownSpacing(t *testing.T) {
	const cooldown = 200 * time.Millisecond

	var mu sync.Mutex
	var accepted []time.Time
	p := testPipeline(t, conf.RecordingSettings{CooldownMs: 200, MaxConcurrent: 10}, diskmanager.Policy{},
		WithCapture(func(_ context.Context, _, outPath string, _ time.Duration) error {
			mu.Lock()
			accepted = append(accepted, time.Now())
			mu.Unlock()
			return os.WriteFile(outPath, []byte("clip"), 0o644)
		}))

	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = p.ProcessTrigger(trigger())
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, accepted)
	for i := 1; i < len(accepted); i++ {
		assert.GreaterOrEqual(t, accepted[i].Sub(accepted[i-1]), cooldown-30*time.Millisecond,
			"accepted recordings %d and %d are too close", i-1, i)
	}
}

func TestConcurrencyLimitDrops(t *testing.T) {
	block := make(chan struct{})
	var captures atomic.Int64
	p := testPipeline(t, conf.RecordingSettings{MaxConcurrent: 1}, diskmanager.Policy{},
		WithCapture(func(_ context.Context, _, outPath string, _ time.Duration) error {
			captures.Add(1)
			<-block
			return os.WriteFile(outPath, []byte("clip"), 0o644)
		}))

	require.NoError(t, p.ProcessTrigger(trigger()))
	require.Eventually(t, func() bool { return captures.Load() == 1 },
		time.Second, 10*time.Millisecond)

	// Second trigger arrives while the first clip is active.
	require.NoError(t, p.ProcessTrigger(trigger()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), captures.Load())

	close(block)
	require.NotNil(t, waitClip(t, p))
}

func TestActiveCountDecrementsOnFailure(t *testing.T) {
	p := testPipeline(t, conf.RecordingSettings{MaxConcurrent: 1}, diskmanager.Policy{},
		WithCapture(func(context.Context, string, string, time.Duration) error {
			return assert.AnError
		}))

	require.NoError(t, p.ProcessTrigger(trigger()))
	assert.Nil(t, waitClip(t, p), "failed attempt reports nil clip")

	p.mu.Lock()
	active := p.activeClips
	p.mu.Unlock()
	assert.Zero(t, active, "failed recording must release the slot")
}

func TestClipSidecarAndListing(t *testing.T) {
	settings := conf.RecordingSettings{Snapshot: true, PostBufferSeconds: 1}
	p := testPipeline(t, settings, diskmanager.Policy{})

	trig := events.NewDetection("great horned owl", 0.91)
	require.NoError(t, p.ProcessTrigger(&trig))
	clip := waitClip(t, p)
	require.NotNil(t, clip)

	assert.Equal(t, events.SourceDetection, clip.Trigger)
	assert.Equal(t, "great horned owl", clip.Species)
	assert.InDelta(t, 0.91, clip.Confidence, 0.001)
	assert.FileExists(t, clip.FilePath)
	assert.FileExists(t, clip.ThumbnailPath)
	assert.FileExists(t, sidecarPath(clip.FilePath))

	clips, err := p.ListClips()
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, clip.ID, clips[0].ID)
	assert.Equal(t, "great horned owl", clips[0].Species)
}

func TestRetentionEnforcedAfterInsertion(t *testing.T) {
	policy := diskmanager.Policy{MaxClips: 2}
	p := testPipeline(t, conf.RecordingSettings{MaxConcurrent: 1}, policy)

	for i := 0; i < 4; i++ {
		require.NoError(t, p.ProcessTrigger(trigger()))
		require.NotNil(t, waitClip(t, p))
		// Distinct mtimes for deterministic eviction order.
		time.Sleep(20 * time.Millisecond)
	}

	stats, err := p.GetStorageStats()
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.ClipCount, policy.MaxClips)
}

func TestBackdatedStart(t *testing.T) {
	settings := conf.RecordingSettings{PreBufferSeconds: 10, PostBufferSeconds: 5}
	p := testPipeline(t, settings, diskmanager.Policy{})

	trig := trigger()
	require.NoError(t, p.ProcessTrigger(trig))
	clip := waitClip(t, p)
	require.NotNil(t, clip)

	assert.WithinDuration(t, trig.Timestamp.Add(-10*time.Second), clip.StartedAt, time.Second,
		"startedAt is back-dated by the pre-buffer window")
}
