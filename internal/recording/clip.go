// Package recording turns trigger events into retained video clips and
// snapshots, under cooldown, concurrency and retention limits.
package recording

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/events"
)

// Clip is one finalized recording. Immutable once written.
type Clip struct {
	ID            string               `json:"id"`
	StartedAt     time.Time            `json:"started_at"`
	EndedAt       time.Time            `json:"ended_at"`
	DurationMs    int64                `json:"duration_ms"`
	FilePath      string               `json:"file_path"`
	ThumbnailPath string               `json:"thumbnail_path,omitempty"`
	Trigger       events.TriggerSource `json:"trigger"`
	Species       string               `json:"species,omitempty"`
	Confidence    float64              `json:"confidence,omitempty"`
	SizeBytes     int64                `json:"size_bytes"`
}

// sidecarPath is the metadata file stored next to the clip.
func sidecarPath(clipPath string) string {
	return strings.TrimSuffix(clipPath, filepath.Ext(clipPath)) + ".json"
}

// writeSidecar persists the clip metadata next to the media file.
func writeSidecar(clip *Clip) error {
	data, err := json.MarshalIndent(clip, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "write_sidecar").
			Build()
	}
	if err := os.WriteFile(sidecarPath(clip.FilePath), data, 0o644); err != nil {
		return errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "write_sidecar").
			Build()
	}
	return nil
}

// readSidecar loads clip metadata; returns nil when the sidecar is missing
// or malformed so a stray file never breaks listing.
func readSidecar(clipPath string) *Clip {
	data, err := os.ReadFile(sidecarPath(clipPath))
	if err != nil {
		return nil
	}
	var clip Clip
	if err := json.Unmarshal(data, &clip); err != nil {
		return nil
	}
	return &clip
}

// ListClips returns the finalized clips under dir, newest first. Clips
// without a sidecar are reconstructed from file metadata.
func ListClips(dir string) ([]Clip, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("operation", "list_clips").
			Build()
	}

	var clips []Clip
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp4" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if clip := readSidecar(path); clip != nil {
			clips = append(clips, *clip)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		clips = append(clips, Clip{
			ID:        strings.TrimSuffix(entry.Name(), ".mp4"),
			StartedAt: info.ModTime(),
			EndedAt:   info.ModTime(),
			FilePath:  path,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(clips, func(i, j int) bool {
		return clips[i].StartedAt.After(clips[j].StartedAt)
	})
	return clips, nil
}
