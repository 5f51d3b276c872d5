package recording

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/diskmanager"
	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/events"
	"github.com/wildnest/camgate/internal/httpclient"
	"github.com/wildnest/camgate/internal/logging"
)

// captureTimeoutMargin pads the capture context beyond the clip duration.
const captureTimeoutMargin = 30 * time.Second

// CaptureFunc records duration seconds of the source into outPath.
type CaptureFunc func(ctx context.Context, sourceURL, outPath string, duration time.Duration) error

// ConcatFunc joins buffered chunks into outPath.
type ConcatFunc func(ctx context.Context, chunks []string, outPath string) error

// SnapshotFunc grabs a single frame into outPath.
type SnapshotFunc func(ctx context.Context, outPath string) error

// Pipeline consumes trigger events and produces clips and snapshots. A
// trigger is dropped when it arrives inside the cooldown window or while
// the concurrent-clip limit is reached; drops are silent by contract, they
// must never disturb the live path.
type Pipeline struct {
	settings    conf.RecordingSettings
	ffmpegPath  string
	sourceURL   string
	snapshotURL string
	policy      diskmanager.Policy
	logger      *slog.Logger
	http        *httpclient.Client

	preBuffer *PreBuffer

	capture  CaptureFunc
	concat   ConcatFunc
	snapshot SnapshotFunc

	mu           sync.Mutex
	lastAccepted time.Time
	activeClips  int

	sweepStop chan struct{}
	sweepDone chan struct{}

	// clipDone signals each finished recording attempt; tests use it.
	clipDone chan *Clip
}

// PipelineOption overrides pipeline internals.
type PipelineOption func(*Pipeline)

// WithCapture replaces the clip capture implementation.
func WithCapture(fn CaptureFunc) PipelineOption {
	return func(p *Pipeline) { p.capture = fn }
}

// WithConcat replaces the chunk concatenation implementation.
func WithConcat(fn ConcatFunc) PipelineOption {
	return func(p *Pipeline) { p.concat = fn }
}

// WithSnapshot replaces the snapshot implementation.
func WithSnapshot(fn SnapshotFunc) PipelineOption {
	return func(p *Pipeline) { p.snapshot = fn }
}

// NewPipeline wires the recording settings to a resolved camera source.
// policy is derived from the retention settings by the caller.
func NewPipeline(settings conf.RecordingSettings, ffmpegPath, sourceURL, snapshotURL string, policy diskmanager.Policy, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		settings:    settings,
		ffmpegPath:  ffmpegPath,
		sourceURL:   sourceURL,
		snapshotURL: snapshotURL,
		policy:      policy,
		logger:      logging.ForService("recording"),
		http:        httpclient.New(nil),
		clipDone:    make(chan *Clip, 4),
	}
	p.capture = p.ffmpegCapture
	p.concat = p.ffmpegConcat
	p.snapshot = p.defaultSnapshot
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements events.Consumer.
func (p *Pipeline) Name() string { return "recording" }

// Start creates the clip directory, launches the rolling pre-buffer when
// configured and arms the periodic age sweep.
func (p *Pipeline) Start() error {
	if err := os.MkdirAll(p.settings.Path, 0o755); err != nil {
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "start").
			Build()
	}

	if p.settings.UsePreBuffer {
		p.preBuffer = NewPreBuffer(p.ffmpegPath, p.sourceURL,
			filepath.Join(p.settings.Path, ".buffer"),
			p.settings.ChunkSeconds,
			p.settings.PreBufferSeconds+p.settings.PostBufferSeconds)
		if err := p.preBuffer.Start(); err != nil {
			// Degrade to fixed-duration capture.
			p.logger.Warn("pre-buffer failed to start, falling back to fixed capture",
				"error", err,
				"operation", "start")
			p.preBuffer = nil
		}
	}

	p.startSweeper()
	return nil
}

// Stop halts the pre-buffer and the sweeper.
func (p *Pipeline) Stop() {
	if p.preBuffer != nil {
		p.preBuffer.Stop()
	}
	p.stopSweeper()
}

// ProcessTrigger implements events.Consumer. Gating is synchronous so
// accepted-trigger spacing is well defined; the capture itself runs in its
// own goroutine and never blocks the event bus.
func (p *Pipeline) ProcessTrigger(trigger *events.Trigger) error {
	cooldown := time.Duration(p.settings.CooldownMs) * time.Millisecond

	p.mu.Lock()
	if !p.lastAccepted.IsZero() && time.Since(p.lastAccepted) < cooldown {
		p.mu.Unlock()
		p.logger.Debug("trigger dropped inside cooldown window",
			"trigger", trigger.ID,
			"operation", "process_trigger")
		return nil
	}
	if p.activeClips >= p.maxConcurrent() {
		p.mu.Unlock()
		p.logger.Debug("trigger dropped, concurrent clip limit reached",
			"trigger", trigger.ID,
			"operation", "process_trigger")
		return nil
	}
	p.lastAccepted = time.Now()
	p.activeClips++
	p.mu.Unlock()

	go p.recordClip(trigger)
	return nil
}

func (p *Pipeline) maxConcurrent() int {
	if p.settings.MaxConcurrent <= 0 {
		return 1
	}
	return p.settings.MaxConcurrent
}

// recordClip runs one recording attempt. The active counter is decremented
// on every exit path so a failed attempt never blocks future triggers.
func (p *Pipeline) recordClip(trigger *events.Trigger) {
	defer func() {
		p.mu.Lock()
		p.activeClips--
		p.mu.Unlock()
	}()

	pre := time.Duration(p.settings.PreBufferSeconds) * time.Second
	post := time.Duration(p.settings.PostBufferSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), pre+post+captureTimeoutMargin)
	defer cancel()

	clipID := uuid.New().String()
	clipPath := filepath.Join(p.settings.Path, clipID+".mp4")

	// Snapshot first: cheap and independent of the clip outcome.
	var thumbnailPath string
	if p.settings.Snapshot {
		thumbnailPath = filepath.Join(p.settings.Path, clipID+".jpg")
		if err := p.snapshot(ctx, thumbnailPath); err != nil {
			p.logger.Warn("snapshot failed",
				"trigger", trigger.ID,
				"error", err,
				"operation", "record_clip")
			thumbnailPath = ""
		}
	}

	startedAt := trigger.Timestamp.Add(-pre)
	var err error
	if p.preBuffer != nil {
		err = p.assembleFromBuffer(ctx, startedAt, post, clipPath)
	} else {
		// No rolling buffer: fixed-duration capture starting now, with a
		// back-dated start time.
		err = p.capture(ctx, p.sourceURL, clipPath, pre+post)
	}
	if err != nil {
		p.logger.Warn("clip capture failed",
			"trigger", trigger.ID,
			"error", err,
			"operation", "record_clip")
		p.signalDone(nil)
		return
	}

	clip := &Clip{
		ID:            clipID,
		StartedAt:     startedAt,
		EndedAt:       time.Now(),
		FilePath:      clipPath,
		ThumbnailPath: thumbnailPath,
		Trigger:       trigger.Source,
		Species:       trigger.Species,
		Confidence:    trigger.Confidence,
	}
	clip.DurationMs = clip.EndedAt.Sub(clip.StartedAt).Milliseconds()
	if info, statErr := os.Stat(clipPath); statErr == nil {
		clip.SizeBytes = info.Size()
	}

	if err := writeSidecar(clip); err != nil {
		p.logger.Warn("failed to write clip sidecar",
			"clip", clipID,
			"error", err,
			"operation", "record_clip")
	}

	if _, err := diskmanager.EnforceBounds(p.settings.Path, p.policy); err != nil {
		p.logger.Warn("retention enforcement failed",
			"error", err,
			"operation", "record_clip")
	}

	p.logger.Info("clip recorded",
		"clip", clipID,
		"trigger", string(trigger.Source),
		"duration_ms", clip.DurationMs,
		"size_bytes", clip.SizeBytes,
		"operation", "record_clip")
	p.signalDone(clip)
}

// assembleFromBuffer waits out the post-trigger window, then concatenates
// the buffered chunks covering the clip span.
func (p *Pipeline) assembleFromBuffer(ctx context.Context, startedAt time.Time, post time.Duration, clipPath string) error {
	select {
	case <-time.After(post):
	case <-ctx.Done():
		return ctx.Err()
	}

	chunks := p.preBuffer.ChunksSince(startedAt)
	if len(chunks) == 0 {
		return errors.Newf("no buffered chunks cover the clip span").
			Component("recording").
			Category(errors.CategoryRecording).
			Context("operation", "assemble_clip").
			Build()
	}
	return p.concat(ctx, chunks, clipPath)
}

func (p *Pipeline) signalDone(clip *Clip) {
	select {
	case p.clipDone <- clip:
	default:
	}
}

// ClipDone exposes finished recording attempts; a nil clip means the
// attempt failed.
func (p *Pipeline) ClipDone() <-chan *Clip {
	return p.clipDone
}

// ListClips returns the finalized clips, newest first.
func (p *Pipeline) ListClips() ([]Clip, error) {
	return ListClips(p.settings.Path)
}

// GetStorageStats reports the clip directory usage.
func (p *Pipeline) GetStorageStats() (diskmanager.StorageStats, error) {
	return diskmanager.GetStorageStats(p.settings.Path)
}

// startSweeper arms the periodic age sweep.
func (p *Pipeline) startSweeper() {
	interval := time.Duration(p.settings.Retention.SweepMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	p.sweepStop = make(chan struct{})
	p.sweepDone = make(chan struct{})

	go func() {
		defer close(p.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.sweepStop:
				return
			case <-ticker.C:
				if _, err := diskmanager.AgeSweep(p.settings.Path, p.policy); err != nil {
					p.logger.Warn("age sweep failed",
						"error", err,
						"operation", "age_sweep")
				}
			}
		}
	}()
}

func (p *Pipeline) stopSweeper() {
	if p.sweepStop == nil {
		return
	}
	close(p.sweepStop)
	<-p.sweepDone
	p.sweepStop = nil
}

// ffmpegCapture is the default fixed-duration capture: stream copy from
// the source for the clip duration.
func (p *Pipeline) ffmpegCapture(ctx context.Context, sourceURL, outPath string, duration time.Duration) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if strings.HasPrefix(sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", sourceURL,
		"-t", fmt.Sprintf("%.0f", duration.Seconds()),
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", outPath,
	)
	if out, err := exec.CommandContext(ctx, p.ffmpegPath, args...).CombinedOutput(); err != nil {
		return errors.New(fmt.Errorf("capture failed: %w: %s", err, strings.TrimSpace(string(out)))).
			Component("recording").
			Category(errors.CategoryRecording).
			Context("operation", "capture").
			Build()
	}
	return nil
}

// ffmpegConcat joins chunks with the concat demuxer, stream-copied.
func (p *Pipeline) ffmpegConcat(ctx context.Context, chunks []string, outPath string) error {
	listPath := outPath + ".list"
	var sb strings.Builder
	for _, chunk := range chunks {
		fmt.Fprintf(&sb, "file '%s'\n", chunk)
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "concat").
			Build()
	}
	defer func() { _ = os.Remove(listPath) }()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", outPath,
	}
	if out, err := exec.CommandContext(ctx, p.ffmpegPath, args...).CombinedOutput(); err != nil {
		return errors.New(fmt.Errorf("concat failed: %w: %s", err, strings.TrimSpace(string(out)))).
			Component("recording").
			Category(errors.CategoryRecording).
			Context("operation", "concat").
			Build()
	}
	return nil
}

// defaultSnapshot prefers the camera's snapshot endpoint and falls back to
// a single-frame grab from the stream.
func (p *Pipeline) defaultSnapshot(ctx context.Context, outPath string) error {
	if p.snapshotURL != "" {
		resp, err := p.http.Get(ctx, p.snapshotURL)
		if err == nil {
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				_, err = io.Copy(f, resp.Body)
				return err
			}
		}
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if strings.HasPrefix(p.sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", p.sourceURL,
		"-frames:v", "1",
		"-q:v", "4",
		"-y", outPath,
	)
	if out, err := exec.CommandContext(ctx, p.ffmpegPath, args...).CombinedOutput(); err != nil {
		return errors.New(fmt.Errorf("snapshot failed: %w: %s", err, strings.TrimSpace(string(out)))).
			Component("recording").
			Category(errors.CategoryRecording).
			Context("operation", "snapshot").
			Build()
	}
	return nil
}
