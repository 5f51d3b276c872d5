package recording

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/process"
)

// PreBuffer maintains a rolling window of short stream-copied chunks so a
// clip can start before its trigger. The segmenter wraps over a fixed set
// of chunk files; modification times order them.
type PreBuffer struct {
	ffmpegPath   string
	sourceURL    string
	dir          string
	chunkSeconds int
	keepSeconds  int

	proc *process.Supervised
}

// NewPreBuffer configures a rolling buffer covering at least keepSeconds.
func NewPreBuffer(ffmpegPath, sourceURL, dir string, chunkSeconds, keepSeconds int) *PreBuffer {
	if chunkSeconds <= 0 {
		chunkSeconds = 2
	}
	return &PreBuffer{
		ffmpegPath:   ffmpegPath,
		sourceURL:    sourceURL,
		dir:          dir,
		chunkSeconds: chunkSeconds,
		keepSeconds:  keepSeconds,
	}
}

// Start launches the segmenter process.
func (b *PreBuffer) Start() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "prebuffer_start").
			Build()
	}

	wrap := b.keepSeconds/b.chunkSeconds + 2
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", b.sourceURL,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(b.chunkSeconds),
		"-segment_wrap", strconv.Itoa(wrap),
		"-reset_timestamps", "1",
		filepath.Join(b.dir, "chunk_%05d.ts"),
	}
	b.proc = process.New(process.Config{
		Name: "prebuffer",
		Path: b.ffmpegPath,
		Args: args,
	})
	return b.proc.Start()
}

// Stop terminates the segmenter.
func (b *PreBuffer) Stop() {
	if b.proc != nil {
		b.proc.Stop()
	}
}

// ChunksSince returns the chunk files modified at or after t, oldest first.
func (b *PreBuffer) ChunksSince(t time.Time) []string {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil
	}

	type chunk struct {
		path    string
		modTime time.Time
	}
	var chunks []chunk
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".ts" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(t) {
			continue
		}
		chunks = append(chunks, chunk{
			path:    filepath.Join(b.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].modTime.Before(chunks[j].modTime)
	})
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.path
	}
	return paths
}
